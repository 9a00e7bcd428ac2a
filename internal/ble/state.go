package ble

import "errors"

// State is the connection lifecycle state owned by the Supervisor.
type State int

const (
	// Stopped is the quiescent condition before Start and after Stop.
	Stopped State = iota
	Searching
	Connecting
	Discovering
	Monitoring
	Disconnected
	Reconnecting
	ConnectionFailed
)

var stateNames = [...]string{
	Stopped:          "Stopped",
	Searching:        "Searching",
	Connecting:       "Connecting",
	Discovering:      "Discovering",
	Monitoring:       "Monitoring",
	Disconnected:     "Disconnected",
	Reconnecting:     "Reconnecting",
	ConnectionFailed: "ConnectionFailed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "State(invalid)"
	}
	return stateNames[s]
}

// States lists every lifecycle state in declaration order.
func States() []State {
	return []State{Stopped, Searching, Connecting, Discovering, Monitoring, Disconnected, Reconnecting, ConnectionFailed}
}

// trigger is an input to the lifecycle state machine.
type trigger int

const (
	triggerFound trigger = iota
	triggerScanFailed
	triggerConnected
	triggerConnectFailed
	triggerResolved
	triggerResolveFailed
	triggerDisconnect
	triggerMonitorFailed
	triggerRetry
	triggerReconnected
	triggerReconnectFailed
)

var triggerNames = [...]string{
	triggerFound:           "peripheral found",
	triggerScanFailed:      "scan error",
	triggerConnected:       "session established",
	triggerConnectFailed:   "connect error",
	triggerResolved:        "characteristic resolved",
	triggerResolveFailed:   "resolution error",
	triggerDisconnect:      "disconnect signal",
	triggerMonitorFailed:   "monitor stream error",
	triggerRetry:           "retry",
	triggerReconnected:     "reconnect succeeded",
	triggerReconnectFailed: "reconnect failed",
}

func (t trigger) String() string { return triggerNames[t] }

type edge struct {
	from State
	on   trigger
}

var transitions = map[edge]State{
	{Searching, triggerFound}:              Connecting,
	{Searching, triggerScanFailed}:         ConnectionFailed,
	{Connecting, triggerConnected}:         Discovering,
	{Connecting, triggerConnectFailed}:     ConnectionFailed,
	{Discovering, triggerResolved}:         Monitoring,
	{Discovering, triggerResolveFailed}:    ConnectionFailed,
	{Discovering, triggerDisconnect}:       ConnectionFailed,
	{Monitoring, triggerDisconnect}:        Disconnected,
	{Monitoring, triggerMonitorFailed}:     Disconnected,
	{Disconnected, triggerRetry}:           Reconnecting,
	{Reconnecting, triggerReconnected}:     Discovering,
	{Reconnecting, triggerReconnectFailed}: ConnectionFailed,
}

// next returns the state reached from s on t. ok is false when t has no
// effect in s; the caller then drops the input.
func next(s State, t trigger) (to State, ok bool) {
	to, ok = transitions[edge{s, t}]
	return to, ok
}

// Status strings shown by the presentation layer.
const (
	StatusSearching       = "Searching..."
	StatusConnecting      = "Connecting..."
	StatusConnected       = "Connected"
	StatusDisconnected    = "Disconnected"
	StatusReconnecting    = "Reconnecting..."
	StatusScanFailed      = "Error searching for devices"
	StatusConnectFailed   = "Error in Connection"
	StatusReconnectFailed = "Reconnection failed"
)

// statusFor maps a state and the error that caused it to a status string.
// duringReconnect reports whether the failure ended a reconnect cycle.
func statusFor(s State, cause error, duringReconnect bool) string {
	switch s {
	case Searching:
		return StatusSearching
	case Connecting:
		return StatusConnecting
	case Discovering, Monitoring:
		return StatusConnected
	case Reconnecting:
		return StatusReconnecting
	case ConnectionFailed:
		var scanErr *ScanError
		switch {
		case errors.As(cause, &scanErr):
			return StatusScanFailed
		case duringReconnect:
			return StatusReconnectFailed
		default:
			return StatusConnectFailed
		}
	default:
		return StatusDisconnected
	}
}
