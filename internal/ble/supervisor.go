package ble

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// SupervisorOptions configures the Supervisor.
type SupervisorOptions struct {
	Name            string            // advertised name to connect to (default TargetName)
	Characteristic  CharacteristicRef // characteristic to monitor (default StepData)
	ConnectTimeout  time.Duration     // per connect or reconnect attempt (default 10s)
	DiscoverTimeout time.Duration     // characteristic resolution (default 10s)
	NotifyQueue     int               // undelivered payloads before the monitor fails (default 64)

	// OnPayload receives every raw notification payload, in receipt order,
	// while the supervisor is Monitoring. It must not block.
	OnPayload func(payload []byte)
	// OnTransition is called from the supervisor's event loop after every
	// state change. It must not block.
	OnTransition func(Transition)
}

// DefaultSupervisorOptions returns sensible defaults.
func DefaultSupervisorOptions() SupervisorOptions {
	return SupervisorOptions{
		Name:            TargetName,
		Characteristic:  StepData,
		ConnectTimeout:  10 * time.Second,
		DiscoverTimeout: 10 * time.Second,
		NotifyQueue:     64,
	}
}

// Transition records one state change.
type Transition struct {
	From, To State
	Cause    error
	At       time.Time
}

var errDisconnected = errors.New("peripheral disconnected")

// event is a request queued to the supervisor's loop. Only fields relevant
// to kind are set.
type event struct {
	kind    trigger
	session uint64
	handle  PeripheralHandle
	conn    Connection
	char    Characteristic
	err     error
}

// Supervisor owns the connection state machine. All mutations of the state
// and the current PeripheralHandle happen on a single loop goroutine which
// drains queued events one at a time.
type Supervisor struct {
	adapter Adapter
	scanner *Scanner
	opts    SupervisorOptions

	// lifecycle serializes Start, Stop and Reset.
	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}

	// mu guards the fields read by State, Status, Peripheral and LastError.
	mu              sync.Mutex
	state           State
	handle          *PeripheralHandle
	cause           error
	duringReconnect bool

	// Owned by the loop goroutine.
	events    chan event
	session   uint64
	conn      Connection
	monitor   *Monitor
	opCancel  context.CancelFunc
	ops       sync.WaitGroup
	forwarder sync.WaitGroup
}

// NewSupervisor creates a supervisor over adapter. It does nothing until
// Start is called.
func NewSupervisor(adapter Adapter, opts SupervisorOptions) *Supervisor {
	def := DefaultSupervisorOptions()
	if opts.Name == "" {
		opts.Name = def.Name
	}
	if opts.Characteristic == (CharacteristicRef{}) {
		opts.Characteristic = def.Characteristic
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.DiscoverTimeout <= 0 {
		opts.DiscoverTimeout = def.DiscoverTimeout
	}
	if opts.NotifyQueue <= 0 {
		opts.NotifyQueue = def.NotifyQueue
	}
	return &Supervisor{
		adapter: adapter,
		scanner: NewScanner(adapter),
		opts:    opts,
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the presentation status string for the current state.
func (s *Supervisor) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return statusFor(s.state, s.cause, s.duringReconnect)
}

// Peripheral returns the current peripheral handle, if one has been found.
func (s *Supervisor) Peripheral() (PeripheralHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return PeripheralHandle{}, false
	}
	return *s.handle, true
}

// LastError returns the error behind the most recent failure transition.
func (s *Supervisor) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Start begins scanning. It is a no-op while the supervisor is active and
// restarts it from Searching after ConnectionFailed.
func (s *Supervisor) Start() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.done != nil {
		if s.State() != ConnectionFailed {
			return
		}
		s.halt()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.events = make(chan event, 16)
	go s.run(ctx, s.done)
}

// Stop cancels any in-flight operation, unsubscribes the monitor, closes the
// session and waits for all of it to finish. The supervisor ends Stopped.
// The current peripheral handle is retained.
func (s *Supervisor) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.halt()
}

// Reset stops the supervisor and discards the current peripheral handle.
func (s *Supervisor) Reset() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.halt()
	s.mu.Lock()
	s.handle = nil
	s.cause = nil
	s.mu.Unlock()
}

// halt stops the loop (caller must hold lifecycle).
func (s *Supervisor) halt() {
	if s.done == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel, s.done = nil, nil
	s.setState(Stopped, nil)
}

func (s *Supervisor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.teardown()

	s.session++
	s.mu.Lock()
	s.cause = nil
	s.duringReconnect = false
	s.mu.Unlock()
	s.setState(Searching, nil)
	s.enter(ctx, Searching)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			s.handleEvent(ctx, ev)
		}
	}
}

// post queues ev for a loop. It reports false once ctx is done, in which
// case the caller still owns any resource carried by ev.
func post(ctx context.Context, events chan<- event, ev event) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Supervisor) handleEvent(ctx context.Context, ev event) {
	if ev.session != s.session {
		slog.Debug("[BLE] dropping stale event", "event", ev.kind.String(), "session", ev.session, "current", s.session)
		s.release(ev)
		return
	}

	from := s.State()
	to, ok := next(from, ev.kind)
	if !ok {
		slog.Debug("[BLE] ignoring event", "event", ev.kind.String(), "state", from.String())
		s.release(ev)
		return
	}

	switch ev.kind {
	case triggerFound:
		h := ev.handle
		s.mu.Lock()
		s.handle = &h
		s.mu.Unlock()
	case triggerConnected, triggerReconnected:
		s.conn = ev.conn
		s.watchDisconnect(ctx, ev.conn)
	case triggerResolved:
		mon, err := Subscribe(ev.char, s.opts.Characteristic, s.opts.NotifyQueue)
		if err != nil {
			ev.err = &DiscoveryError{Ref: s.opts.Characteristic, Err: err}
			to, _ = next(from, triggerResolveFailed)
			break
		}
		s.monitor = mon
	case triggerDisconnect:
		if from == Discovering {
			ev.err = &DiscoveryError{Ref: s.opts.Characteristic, Err: errDisconnected}
		}
	}

	s.setState(to, ev.err)
	s.enter(ctx, to)
}

// enter performs the side effects of arriving in state.
func (s *Supervisor) enter(ctx context.Context, state State) {
	switch state {
	case Searching:
		s.launch(ctx, func(opCtx context.Context, post func(event) bool) {
			h, err := s.scanner.First(opCtx, s.opts.Name)
			if err != nil {
				if opCtx.Err() == nil {
					post(event{kind: triggerScanFailed, err: err})
				}
				return
			}
			post(event{kind: triggerFound, handle: h})
		})

	case Connecting, Reconnecting:
		h, _ := s.Peripheral()
		ok, failed := triggerConnected, triggerConnectFailed
		if state == Reconnecting {
			ok, failed = triggerReconnected, triggerReconnectFailed
		}
		s.session++
		s.launch(ctx, func(opCtx context.Context, post func(event) bool) {
			connCtx, cancel := context.WithTimeout(opCtx, s.opts.ConnectTimeout)
			defer cancel()
			slog.Info("[BLE] connecting", "peripheral", h.String(), "reconnect", state == Reconnecting)
			conn, err := s.adapter.Connect(connCtx, h.Address)
			if err != nil {
				if opCtx.Err() == nil {
					post(event{kind: failed, err: &ConnectError{Address: h.Address, Err: err}})
				}
				return
			}
			if opCtx.Err() != nil || !post(event{kind: ok, conn: conn}) {
				_ = conn.Disconnect()
			}
		})

	case Discovering:
		conn := s.conn
		ref := s.opts.Characteristic
		s.launch(ctx, func(opCtx context.Context, post func(event) bool) {
			discCtx, cancel := context.WithTimeout(opCtx, s.opts.DiscoverTimeout)
			defer cancel()
			char, err := conn.DiscoverCharacteristic(discCtx, ref)
			if opCtx.Err() != nil {
				return
			}
			if err != nil {
				post(event{kind: triggerResolveFailed, err: &DiscoveryError{Ref: ref, Err: err}})
				return
			}
			post(event{kind: triggerResolved, char: char})
		})

	case Monitoring:
		s.cancelOp()
		s.mu.Lock()
		s.duringReconnect = false
		s.cause = nil
		s.mu.Unlock()
		slog.Info("[BLE] monitoring", "characteristic", s.opts.Characteristic.String())
		s.forward(ctx, s.monitor)

	case Disconnected:
		s.closeSession()
		s.mu.Lock()
		s.duringReconnect = true
		s.mu.Unlock()
		to, _ := next(Disconnected, triggerRetry)
		s.setState(to, nil)
		s.enter(ctx, to)

	case ConnectionFailed:
		s.closeSession()
		s.session++
		slog.Error("[BLE] connection failed", "error", s.LastError())
	}
}

// launch cancels the previous operation and runs op on its own goroutine.
// op reports its outcome through post, tagged with the current session.
func (s *Supervisor) launch(ctx context.Context, op func(opCtx context.Context, post func(event) bool)) {
	s.cancelOp()
	opCtx, cancel := context.WithCancel(ctx)
	s.opCancel = cancel
	s.ops.Add(1)
	go func(post func(event) bool) {
		defer s.ops.Done()
		op(opCtx, post)
	}(s.poster(ctx))
}

// poster returns a function queueing events for the current loop, tagged
// with the current session. It must be called on the loop goroutine.
func (s *Supervisor) poster(ctx context.Context) func(event) bool {
	events, session := s.events, s.session
	return func(ev event) bool {
		ev.session = session
		return post(ctx, events, ev)
	}
}

func (s *Supervisor) cancelOp() {
	if s.opCancel != nil {
		s.opCancel()
		s.opCancel = nil
	}
}

// watchDisconnect routes the connection's disconnect callback into the
// event queue. The callback never touches supervisor state directly.
func (s *Supervisor) watchDisconnect(ctx context.Context, conn Connection) {
	session, send := s.session, s.poster(ctx)
	conn.OnDisconnect(func() {
		slog.Warn("[BLE] disconnected", "session", session)
		send(event{kind: triggerDisconnect})
	})
}

// forward delivers monitor events until the monitor's stream closes.
func (s *Supervisor) forward(ctx context.Context, mon *Monitor) {
	send := s.poster(ctx)
	s.forwarder.Add(1)
	go func() {
		defer s.forwarder.Done()
		for ev := range mon.Events() {
			switch ev := ev.(type) {
			case Notification:
				if s.opts.OnPayload != nil {
					s.opts.OnPayload(ev.Payload)
				}
			case MonitorFailed:
				send(event{kind: triggerMonitorFailed, err: ev.Err})
			}
		}
	}()
}

// closeSession unsubscribes the monitor and disconnects the session.
func (s *Supervisor) closeSession() {
	s.cancelOp()
	if s.monitor != nil {
		if err := s.monitor.Unsubscribe(); err != nil {
			slog.Warn("[BLE] unsubscribe failed", "error", err)
		}
		s.monitor = nil
	}
	if s.conn != nil {
		if err := s.conn.Disconnect(); err != nil {
			slog.Debug("[BLE] disconnect", "error", err)
		}
		s.conn = nil
	}
}

// release frees resources carried by a dropped event.
func (s *Supervisor) release(ev event) {
	if ev.conn != nil {
		_ = ev.conn.Disconnect()
	}
}

// teardown runs on the loop goroutine after ctx is cancelled. Every
// operation has returned and the session is closed when it finishes.
func (s *Supervisor) teardown() {
	s.cancelOp()
	s.ops.Wait()
	s.closeSession()
	s.forwarder.Wait()
	for {
		select {
		case ev := <-s.events:
			s.release(ev)
		default:
			return
		}
	}
}

func (s *Supervisor) setState(to State, cause error) {
	s.mu.Lock()
	from := s.state
	s.state = to
	if cause != nil {
		s.cause = cause
	}
	s.mu.Unlock()

	if from == to {
		return
	}
	slog.Info("[BLE] state", "from", from.String(), "to", to.String())
	if s.opts.OnTransition != nil {
		s.opts.OnTransition(Transition{From: from, To: to, Cause: cause, At: time.Now()})
	}
}
