package ble

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// MonitorEvent is a value produced by a Monitor: either Notification or
// MonitorFailed.
type MonitorEvent interface {
	monitorEvent()
}

// Notification carries one raw characteristic payload.
type Notification struct {
	Payload []byte
}

// MonitorFailed is the terminal event of a failed subscription.
type MonitorFailed struct {
	Err *MonitorError
}

func (Notification) monitorEvent()  {}
func (MonitorFailed) monitorEvent() {}

// ErrBacklog is reported when payloads arrive faster than they are consumed
// and the monitor's queue is full.
var ErrBacklog = errors.New("notification queue full")

// Monitor forwards notifications of one characteristic. It never retries:
// the first stream error is reported once and the subscription is torn down.
type Monitor struct {
	char  Characteristic
	ref   CharacteristicRef
	queue int

	mu     sync.Mutex
	events chan MonitorEvent
	closed bool
}

// Subscribe enables notifications on char and returns the active monitor.
// queue bounds the number of undelivered events.
func Subscribe(char Characteristic, ref CharacteristicRef, queue int) (*Monitor, error) {
	if queue <= 0 {
		queue = 64
	}
	m := &Monitor{
		char:   char,
		ref:    ref,
		queue:  queue,
		events: make(chan MonitorEvent, queue+1), // one slot reserved for MonitorFailed
	}
	if err := char.Subscribe(m.notify, m.fail); err != nil {
		return nil, fmt.Errorf("ble: subscribe to %s: %w", ref, err)
	}
	return m, nil
}

// Events returns the payload stream. It is closed after Unsubscribe or after
// a MonitorFailed has been delivered.
func (m *Monitor) Events() <-chan MonitorEvent {
	return m.events
}

func (m *Monitor) notify(data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if len(m.events) >= m.queue {
		m.mu.Unlock()
		m.fail(ErrBacklog)
		return
	}
	m.events <- Notification{Payload: cp}
	m.mu.Unlock()
}

func (m *Monitor) fail(err error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.events <- MonitorFailed{Err: &MonitorError{Err: err}}
	close(m.events)
	m.mu.Unlock()

	slog.Warn("[BLE] monitor failed", "characteristic", m.ref.String(), "error", err)
	if uerr := m.char.Unsubscribe(); uerr != nil {
		slog.Debug("[BLE] unsubscribe after failure", "error", uerr)
	}
}

// Unsubscribe disables notifications and closes the event stream. It is
// safe to call more than once and after a failure.
func (m *Monitor) Unsubscribe() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.events)
	m.mu.Unlock()

	if err := m.char.Unsubscribe(); err != nil {
		return fmt.Errorf("ble: unsubscribe from %s: %w", m.ref, err)
	}
	return nil
}
