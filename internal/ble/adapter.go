// Package ble provides the connection lifecycle for the Step-Sense wearable:
// scanning by advertised name, connecting, resolving the measurement
// characteristic, monitoring notifications and reconnecting after an
// unsolicited disconnect.
package ble

import "context"

// TargetName is the advertised name of the Step-Sense peripheral.
const TargetName = "Step-Sense"

// Step-Sense GATT UUIDs
const (
	ServiceUUID      = "4fafc201-1fb5-459e-8fcc-c5c9c331914b"
	StepDataCharUUID = "beefcafe-36e1-4688-b7f5-00000000000b"
)

// CharacteristicRef identifies a characteristic within a service.
type CharacteristicRef struct {
	Service        string
	Characteristic string
}

// StepData is the measurement characteristic monitored by the Supervisor.
var StepData = CharacteristicRef{Service: ServiceUUID, Characteristic: StepDataCharUUID}

func (r CharacteristicRef) String() string {
	return r.Service + "/" + r.Characteristic
}

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Subscribe enables notifications. onNotify receives each payload in
	// receipt order; onError is called if the notification stream fails.
	Subscribe(onNotify func(data []byte), onError func(err error)) error
	// Unsubscribe disables notifications.
	Unsubscribe() error
}

// PeripheralHandle identifies a discovered peripheral.
type PeripheralHandle struct {
	Address string
	Name    string
	RSSI    int
}

func (p PeripheralHandle) String() string {
	return p.Name + " (" + p.Address + ")"
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(ctx context.Context, ref CharacteristicRef) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter is the peripheral access capability the Supervisor is built on.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan reports advertisements to found until ctx is cancelled, at which
	// point the scan is stopped and Scan returns nil. Radio failures are
	// returned as errors.
	Scan(ctx context.Context, found func(PeripheralHandle)) error
	// Connect establishes a connection to the peripheral at address.
	Connect(ctx context.Context, address string) (Connection, error)
}
