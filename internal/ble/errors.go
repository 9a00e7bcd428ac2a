package ble

import "fmt"

// ScanError reports a radio or scan-level failure.
type ScanError struct {
	Err error
}

func (e *ScanError) Error() string { return fmt.Sprintf("ble: scan: %v", e.Err) }
func (e *ScanError) Unwrap() error { return e.Err }

// ConnectError reports a failure to establish a session with a peripheral.
type ConnectError struct {
	Address string
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("ble: connect to %s: %v", e.Address, e.Err)
}
func (e *ConnectError) Unwrap() error { return e.Err }

// DiscoveryError reports a failure to resolve or subscribe to the expected
// characteristic on a connected peripheral.
type DiscoveryError struct {
	Ref CharacteristicRef
	Err error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("ble: discover %s: %v", e.Ref, e.Err)
}
func (e *DiscoveryError) Unwrap() error { return e.Err }

// MonitorError reports the failure of an active characteristic subscription.
type MonitorError struct {
	Err error
}

func (e *MonitorError) Error() string { return fmt.Sprintf("ble: monitor: %v", e.Err) }
func (e *MonitorError) Unwrap() error { return e.Err }
