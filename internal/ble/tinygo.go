package ble

import (
	"context"
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"
)

// TinyGoAdapter wraps tinygo-org/bluetooth.
// On macOS, BLE device addresses are CoreBluetooth UUIDs (not MAC addresses);
// PeripheralHandle.Address stores whichever form the platform reports.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter

	enableOnce sync.Once
	enableErr  error

	// mu protects the connections map.
	mu          sync.Mutex
	connections map[string]*tinyGoConnection // keyed by device address
}

// NewTinyGoAdapter creates a BLE adapter over the system default adapter.
func NewTinyGoAdapter() *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*tinyGoConnection),
	}
}

func (a *TinyGoAdapter) Enable() error {
	a.enableOnce.Do(func() {
		if err := a.adapter.Enable(); err != nil {
			a.enableErr = err
			return
		}

		// tinygo/bluetooth reports peripheral disconnects through the
		// adapter-level connect handler with connected=false.
		a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
			if connected {
				return
			}
			addr := device.Address.String()
			a.mu.Lock()
			conn, ok := a.connections[addr]
			delete(a.connections, addr)
			a.mu.Unlock()
			if ok {
				conn.fireDisconnect()
			}
		})
	})
	return a.enableErr
}

func (a *TinyGoAdapter) Scan(ctx context.Context, found func(PeripheralHandle)) error {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			a.adapter.StopScan()
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		found(PeripheralHandle{
			Address: result.Address.String(),
			Name:    result.LocalName(),
			RSSI:    int(result.RSSI),
		})
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (a *TinyGoAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(address)

	// tinygo/bluetooth's Connect blocks internally with its own timeout.
	// We wrap it to also respect our ctx cancellation.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		// The underlying Connect cannot be cancelled. If it succeeds later
		// the device is disconnected again so no session leaks.
		go func() {
			if result := <-ch; result.err == nil {
				_ = result.device.Disconnect()
			}
		}()
		return nil, ctx.Err()
	case result := <-ch:
		if result.err != nil {
			return nil, result.err
		}
		conn := &tinyGoConnection{device: result.device}

		// Track this connection so the adapter-level disconnect handler
		// can find it and fire its OnDisconnect callback.
		a.mu.Lock()
		a.connections[result.device.Address.String()] = conn
		a.mu.Unlock()

		return conn, nil
	}
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

type tinyGoConnection struct {
	device bluetooth.Device

	mu           sync.Mutex
	disconnectCb func()
}

func (c *tinyGoConnection) DiscoverCharacteristic(ctx context.Context, ref CharacteristicRef) (Characteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(ref.Service)
	if err != nil {
		return nil, err
	}
	charUUID, err := bluetooth.ParseUUID(ref.Characteristic)
	if err != nil {
		return nil, err
	}

	type discoverResult struct {
		char Characteristic
		err  error
	}
	ch := make(chan discoverResult, 1)
	go func() {
		svcs, err := c.device.DiscoverServices([]bluetooth.UUID{svcUUID})
		if err != nil {
			ch <- discoverResult{err: fmt.Errorf("discover services: %w", err)}
			return
		}
		if len(svcs) == 0 {
			ch <- discoverResult{err: fmt.Errorf("service %s not found", ref.Service)}
			return
		}
		chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{charUUID})
		if err != nil {
			ch <- discoverResult{err: fmt.Errorf("discover characteristics: %w", err)}
			return
		}
		if len(chars) == 0 {
			ch <- discoverResult{err: fmt.Errorf("characteristic %s not found", ref.Characteristic)}
			return
		}
		ch <- discoverResult{char: &tinyGoCharacteristic{char: chars[0]}}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-ch:
		return result.char, result.err
	}
}

func (c *tinyGoConnection) Disconnect() error {
	return c.device.Disconnect()
}

func (c *tinyGoConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

func (c *tinyGoConnection) fireDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type tinyGoCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

// Subscribe enables notifications. tinygo/bluetooth has no notification
// error path; stream loss surfaces as a disconnect instead.
func (c *tinyGoCharacteristic) Subscribe(onNotify func([]byte), _ func(error)) error {
	return c.char.EnableNotifications(onNotify)
}

func (c *tinyGoCharacteristic) Unsubscribe() error {
	return c.char.EnableNotifications(nil)
}
