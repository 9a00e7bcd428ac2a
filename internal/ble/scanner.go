package ble

import (
	"context"
	"errors"
	"log/slog"
)

// ScanEvent is a value produced by Scanner.Scan: either PeripheralFound or
// ScanFailed.
type ScanEvent interface {
	scanEvent()
}

// PeripheralFound reports an advertisement.
type PeripheralFound struct {
	Peripheral PeripheralHandle
}

// ScanFailed is the terminal event of a scan that hit a radio error.
type ScanFailed struct {
	Err *ScanError
}

func (PeripheralFound) scanEvent() {}
func (ScanFailed) scanEvent()      {}

// Scanner discovers peripherals through an Adapter.
type Scanner struct {
	adapter Adapter
}

// NewScanner returns a scanner over adapter.
func NewScanner(adapter Adapter) *Scanner {
	return &Scanner{adapter: adapter}
}

// Scan starts a passive scan. The returned channel yields a PeripheralFound
// for every advertisement until ctx is cancelled, or a single ScanFailed if
// the radio fails. The channel is closed only after the adapter's scan has
// returned, so the radio listener is released once the channel drains.
func (s *Scanner) Scan(ctx context.Context) <-chan ScanEvent {
	events := make(chan ScanEvent)
	go func() {
		defer close(events)
		if err := s.adapter.Enable(); err != nil {
			sendScanEvent(ctx, events, ScanFailed{Err: &ScanError{Err: err}})
			return
		}
		err := s.adapter.Scan(ctx, func(p PeripheralHandle) {
			sendScanEvent(ctx, events, PeripheralFound{Peripheral: p})
		})
		if err != nil && ctx.Err() == nil {
			sendScanEvent(ctx, events, ScanFailed{Err: &ScanError{Err: err}})
		}
	}()
	return events
}

func sendScanEvent(ctx context.Context, events chan<- ScanEvent, ev ScanEvent) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

// errScanEnded is returned when the adapter stops scanning on its own.
var errScanEnded = errors.New("scan ended without a match")

// First scans until a peripheral advertising name is found, stops the scan
// and returns it. The scan is fully released before First returns.
func (s *Scanner) First(ctx context.Context, name string) (PeripheralHandle, error) {
	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := s.Scan(scanCtx)
	var (
		found PeripheralHandle
		err   error = errScanEnded
	)
	for ev := range events {
		switch ev := ev.(type) {
		case PeripheralFound:
			if ev.Peripheral.Name != name {
				continue
			}
			slog.Info("[BLE] found peripheral", "name", ev.Peripheral.Name, "address", ev.Peripheral.Address, "rssi", ev.Peripheral.RSSI)
			found, err = ev.Peripheral, nil
			cancel()
		case ScanFailed:
			err = ev.Err
		}
		if err == nil {
			// Drain until the adapter's scan returns.
			for range events {
			}
			break
		}
	}
	if err == nil {
		return found, nil
	}
	if ctx.Err() != nil {
		return PeripheralHandle{}, ctx.Err()
	}
	var scanErr *ScanError
	if errors.As(err, &scanErr) {
		return PeripheralHandle{}, scanErr
	}
	return PeripheralHandle{}, &ScanError{Err: err}
}
