package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultTopic is the event name carrying sensor records.
const DefaultTopic = "sensorData"

// ChannelOptions configures a Channel.
type ChannelOptions struct {
	Path             string        // Socket.IO mount point (default DefaultPath)
	Namespace        string        // Socket.IO namespace (default "/")
	Topic            string        // event name to ingest (default DefaultTopic)
	FieldCount       int           // fields per record (default DefaultFieldCount)
	BackoffBase      time.Duration // first reconnect delay (default 1s)
	BackoffMax       time.Duration // reconnect delay cap (default 30s)
	MaxRetries       int           // consecutive failed attempts before Run gives up; 0 retries forever
	HandshakeTimeout time.Duration // dial and Socket.IO handshake (default 10s)

	// OnEvent observes channel activity. It is called from Run's goroutine
	// and must not block.
	OnEvent func(ChannelEvent)
}

// DefaultChannelOptions returns sensible defaults.
func DefaultChannelOptions() ChannelOptions {
	return ChannelOptions{
		Path:             DefaultPath,
		Namespace:        "/",
		Topic:            DefaultTopic,
		FieldCount:       DefaultFieldCount,
		BackoffBase:      time.Second,
		BackoffMax:       30 * time.Second,
		HandshakeTimeout: 10 * time.Second,
	}
}

// ChannelEvent is a value reported to ChannelOptions.OnEvent: one of
// ChannelConnected, ChannelDisconnected, SampleReceived or PayloadDropped.
type ChannelEvent interface {
	channelEvent()
}

// ChannelConnected reports a completed Socket.IO handshake.
type ChannelConnected struct {
	SID string
}

// ChannelDisconnected reports the end of a session or a failed attempt.
type ChannelDisconnected struct {
	Err   *ChannelError
	Retry time.Duration // delay before the next attempt
}

// SampleReceived reports a sample appended to the buffer.
type SampleReceived struct {
	Sample SensorSample
}

// PayloadDropped reports a malformed record that was discarded.
type PayloadDropped struct {
	Err *DecodeError
}

func (ChannelConnected) channelEvent()    {}
func (ChannelDisconnected) channelEvent() {}
func (SampleReceived) channelEvent()      {}
func (PayloadDropped) channelEvent()      {}

// ChannelError reports a transport failure on the telemetry channel.
type ChannelError struct {
	Attempt int
	Err     error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("telemetry: attempt %d: %v", e.Attempt, e.Err)
}
func (e *ChannelError) Unwrap() error { return e.Err }

var (
	errServerClosed   = errors.New("server closed the session")
	errNamespaceClose = errors.New("server disconnected the namespace")
)

// Channel maintains a Socket.IO subscription and appends decoded sensor
// records to a Buffer. It reconnects on its own with capped exponential
// backoff.
type Channel struct {
	url     string
	buf     *Buffer
	opts    ChannelOptions
	decoder Decoder
	dialer  *websocket.Dialer
}

// NewChannel returns a channel for the Socket.IO server at endpoint
// (e.g. "http://localhost:8000").
func NewChannel(endpoint string, buf *Buffer, opts ChannelOptions) (*Channel, error) {
	def := DefaultChannelOptions()
	if opts.Path == "" {
		opts.Path = def.Path
	}
	if opts.Namespace == "" {
		opts.Namespace = def.Namespace
	}
	if opts.Topic == "" {
		opts.Topic = def.Topic
	}
	if opts.FieldCount <= 0 {
		opts.FieldCount = def.FieldCount
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = def.BackoffBase
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = def.BackoffMax
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = def.HandshakeTimeout
	}
	u, err := socketURL(endpoint, opts.Path)
	if err != nil {
		return nil, err
	}
	return &Channel{
		url:     u,
		buf:     buf,
		opts:    opts,
		decoder: Decoder{FieldCount: opts.FieldCount},
		dialer: &websocket.Dialer{
			HandshakeTimeout: opts.HandshakeTimeout,
		},
	}, nil
}

// URL returns the websocket URL the channel dials.
func (c *Channel) URL() string { return c.url }

// Run keeps the subscription alive until ctx is cancelled, then closes the
// socket and returns nil. It returns a *ChannelError only when MaxRetries
// consecutive attempts have failed.
func (c *Channel) Run(ctx context.Context) error {
	attempt := 0
	for {
		established, err := c.session(ctx)
		if ctx.Err() != nil {
			slog.Info("[TELEMETRY] stopped")
			return nil
		}
		if established {
			attempt = 0
		}
		cerr := &ChannelError{Attempt: attempt + 1, Err: err}
		if c.opts.MaxRetries > 0 && attempt+1 >= c.opts.MaxRetries {
			c.emit(ChannelDisconnected{Err: cerr})
			slog.Error("[TELEMETRY] giving up", "error", err, "attempts", attempt+1)
			return cerr
		}

		delay := backoffDelay(attempt, c.opts.BackoffBase, c.opts.BackoffMax)
		c.emit(ChannelDisconnected{Err: cerr, Retry: delay})
		slog.Warn("[TELEMETRY] disconnected, reconnecting", "error", err, "attempt", attempt+1, "delay", delay)
		attempt++

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			slog.Info("[TELEMETRY] stopped")
			return nil
		case <-t.C:
		}
	}
}

// session runs one websocket connection. established reports whether the
// Socket.IO handshake completed.
func (c *Channel) session(ctx context.Context) (established bool, err error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", c.url, err)
	}
	defer conn.Close()

	// Unblock reads when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	h, err := c.handshake(conn)
	if err != nil {
		return false, err
	}
	slog.Info("[TELEMETRY] connected", "url", c.url, "sid", h.SID)
	c.emit(ChannelConnected{SID: h.SID})

	for {
		if err := conn.SetReadDeadline(time.Now().Add(h.liveness())); err != nil {
			return true, err
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		if len(msg) == 0 {
			continue
		}
		switch msg[0] {
		case eioPing:
			if err := conn.WriteMessage(websocket.TextMessage, []byte{eioPong}); err != nil {
				return true, fmt.Errorf("pong: %w", err)
			}
		case eioClose:
			return true, errServerClosed
		case eioMessage:
			if err := c.handlePacket(string(msg[1:])); err != nil {
				return true, err
			}
		case eioNoop:
		default:
			slog.Debug("[TELEMETRY] ignoring frame", "frame", string(msg))
		}
	}
}

// handshake reads the Engine.IO open packet and joins the namespace.
func (c *Channel) handshake(conn *websocket.Conn) (handshake, error) {
	deadline := time.Now().Add(c.opts.HandshakeTimeout)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return handshake{}, err
	}
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return handshake{}, fmt.Errorf("read open packet: %w", err)
	}
	h, err := parseOpen(msg)
	if err != nil {
		return handshake{}, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(connectPacket(c.opts.Namespace))); err != nil {
		return handshake{}, fmt.Errorf("join namespace: %w", err)
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return handshake{}, fmt.Errorf("read connect ack: %w", err)
		}
		if len(msg) == 0 {
			continue
		}
		switch msg[0] {
		case eioPing:
			if err := conn.WriteMessage(websocket.TextMessage, []byte{eioPong}); err != nil {
				return handshake{}, fmt.Errorf("pong: %w", err)
			}
			continue
		case eioClose:
			return handshake{}, errServerClosed
		case eioMessage:
		default:
			continue
		}
		p, err := parseSocketPacket(string(msg[1:]))
		if err != nil || p.namespace != c.namespace() {
			continue
		}
		switch p.typ {
		case sioConnect:
			return h, nil
		case sioConnectError:
			slog.Error("[TELEMETRY] connect_error", "namespace", p.namespace, "detail", string(p.data))
			return handshake{}, fmt.Errorf("connect_error: %s", p.data)
		}
	}
}

func (c *Channel) namespace() string {
	if c.opts.Namespace == "" {
		return "/"
	}
	return c.opts.Namespace
}

// handlePacket processes one Socket.IO packet. Malformed records are dropped;
// only a namespace disconnect ends the session.
func (c *Channel) handlePacket(s string) error {
	p, err := parseSocketPacket(s)
	if err != nil {
		slog.Debug("[TELEMETRY] ignoring packet", "error", err)
		return nil
	}
	if p.namespace != c.namespace() {
		return nil
	}
	switch p.typ {
	case sioDisconnect:
		return errNamespaceClose
	case sioEvent:
	default:
		return nil
	}

	name, args, err := eventArgs(p.data)
	if err != nil {
		c.drop(&DecodeError{Payload: string(p.data), Err: err})
		return nil
	}
	if name != c.opts.Topic {
		return nil
	}
	if len(args) == 0 {
		c.drop(&DecodeError{Payload: string(p.data), Err: errors.New("event has no payload")})
		return nil
	}
	sample, err := c.decoder.Decode(args[0])
	if err != nil {
		var derr *DecodeError
		if !errors.As(err, &derr) {
			derr = &DecodeError{Payload: string(args[0]), Err: err}
		}
		c.drop(derr)
		return nil
	}
	c.buf.Append(sample)
	c.emit(SampleReceived{Sample: sample})
	return nil
}

func (c *Channel) drop(err *DecodeError) {
	slog.Warn("[TELEMETRY] dropping malformed record", "error", err)
	c.emit(PayloadDropped{Err: err})
}

func (c *Channel) emit(ev ChannelEvent) {
	if c.opts.OnEvent != nil {
		c.opts.OnEvent(ev)
	}
}
