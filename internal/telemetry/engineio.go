package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Engine.IO v4 packet types.
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'
	eioNoop    = '6'
)

// Socket.IO v5 packet types, carried in Engine.IO message packets.
const (
	sioConnect      = '0'
	sioDisconnect   = '1'
	sioEvent        = '2'
	sioAck          = '3'
	sioConnectError = '4'
	sioBinaryEvent  = '5'
	sioBinaryAck    = '6'
)

// DefaultPath is the Socket.IO server's default mount point.
const DefaultPath = "/socket.io/"

// socketURL converts an http(s) or ws(s) endpoint into the websocket
// transport URL of a Socket.IO server.
func socketURL(endpoint, path string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("telemetry: parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("telemetry: unsupported endpoint scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("telemetry: endpoint %q has no host", endpoint)
	}
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// handshake is the body of the Engine.IO open packet.
type handshake struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"` // ms
	PingTimeout  int    `json:"pingTimeout"`  // ms
}

// liveness returns how long to wait for the next server frame.
func (h handshake) liveness() time.Duration {
	d := time.Duration(h.PingInterval+h.PingTimeout) * time.Millisecond
	if d <= 0 {
		return 45 * time.Second
	}
	return d
}

func parseOpen(msg []byte) (handshake, error) {
	var h handshake
	if len(msg) == 0 || msg[0] != eioOpen {
		return h, fmt.Errorf("telemetry: expected open packet, got %q", msg)
	}
	if err := json.Unmarshal(msg[1:], &h); err != nil {
		return h, fmt.Errorf("telemetry: parse open packet: %w", err)
	}
	return h, nil
}

// socketPacket is a decoded Socket.IO packet.
type socketPacket struct {
	typ       byte
	namespace string
	data      json.RawMessage
}

var errEmptyPacket = errors.New("telemetry: empty packet")

// parseSocketPacket decodes `<type>[<attachments>-][<namespace>,][<ack id>][data]`.
func parseSocketPacket(s string) (socketPacket, error) {
	if s == "" {
		return socketPacket{}, errEmptyPacket
	}
	p := socketPacket{typ: s[0], namespace: "/"}
	rest := s[1:]

	if p.typ == sioBinaryEvent || p.typ == sioBinaryAck {
		if i := strings.IndexByte(rest, '-'); i >= 0 {
			rest = rest[i+1:]
		}
	}
	if strings.HasPrefix(rest, "/") {
		i := strings.IndexByte(rest, ',')
		if i < 0 {
			p.namespace, rest = rest, ""
		} else {
			p.namespace, rest = rest[:i], rest[i+1:]
		}
	}
	// Skip the ack id.
	for rest != "" && rest[0] >= '0' && rest[0] <= '9' {
		rest = rest[1:]
	}
	if rest != "" {
		p.data = json.RawMessage(rest)
	}
	return p, nil
}

// eventArgs splits an event packet's data into its name and arguments.
func eventArgs(data json.RawMessage) (string, []json.RawMessage, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return "", nil, fmt.Errorf("telemetry: parse event: %w", err)
	}
	if len(parts) == 0 {
		return "", nil, fmt.Errorf("telemetry: event has no name")
	}
	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return "", nil, fmt.Errorf("telemetry: event name: %w", err)
	}
	return name, parts[1:], nil
}

// connectPacket returns the Socket.IO namespace connect message.
func connectPacket(namespace string) string {
	if namespace == "" || namespace == "/" {
		return string([]byte{eioMessage, sioConnect})
	}
	return string([]byte{eioMessage, sioConnect}) + namespace + ","
}
