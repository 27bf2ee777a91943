// Package transport owns the one persistent WebSocket between a room client
// and the room server.
//
// A Conn dials, keeps the socket alive with pings, and reconnects after an
// unexpected drop using a bounded, fixed-delay retry budget. It exposes a
// single current State, decoded server frames, and correlated
// request/response exchanges keyed by a per-request ID.
package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	apperrors "github.com/codetogether/roomsync/internal/errors"
	"github.com/codetogether/roomsync/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next message or pong from the peer.
	pongWait = 60 * time.Second

	// Send pings at this interval. Must be less than pongWait.
	pingInterval = 30 * time.Second

	// Maximum frame size accepted from the server.
	maxMessageSize = 512 * 1024

	// Outbound frames buffered per socket before Send starts failing.
	sendBuffer = 256
)

// Defaults for Options fields left zero.
const (
	DefaultHandshakeTimeout = 20 * time.Second
	DefaultMaxAttempts      = 5
	DefaultRetryDelay       = time.Second
)

// Options configures a Conn.
type Options struct {
	// URL is the server's WebSocket endpoint (ws:// or wss://).
	URL string

	// HandshakeTimeout bounds each dial including the upgrade.
	HandshakeTimeout time.Duration

	// MaxAttempts is the number of reconnection attempts after a failure
	// before the Conn gives up and enters Failed.
	MaxAttempts int

	// RetryDelay is the fixed delay before each reconnection attempt.
	RetryDelay time.Duration
}

func (o *Options) applyDefaults() {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
}

// ResponseFunc receives the correlated response to a request, or the error
// that prevented one (connection lost or closed).
type ResponseFunc func(resp protocol.Message, err error)

// Conn is one room visit's connection to the server.
// All methods are safe for concurrent use. Handlers are invoked from the
// connection's own goroutines and must not block.
type Conn struct {
	opts   Options
	dialer *websocket.Dialer
	logger *log.Logger

	mu            sync.Mutex
	state         State
	changed       chan struct{} // closed and replaced on every state change
	id            string        // server-assigned connection id
	link          *link         // current socket, nil when not connected
	started       bool
	stopped       bool
	stop          chan struct{}
	stateHandlers []func(State)
	frameHandler  func(protocol.Message)
	pending       map[string]ResponseFunc
}

// link is one physical socket and its pumps.
type link struct {
	ws       *websocket.Conn
	send     chan []byte
	done     chan struct{}
	doneOnce sync.Once
}

// close safely signals the pumps to shut down exactly once.
func (l *link) close() {
	l.doneOnce.Do(func() {
		close(l.done)
	})
}

// New creates a Conn. It does not dial until Start or Connect is called.
func New(opts Options) *Conn {
	opts.applyDefaults()
	return &Conn{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		logger:  log.WithPrefix("transport"),
		state:   State{Kind: Disconnected},
		changed: make(chan struct{}),
		stop:    make(chan struct{}),
		pending: make(map[string]ResponseFunc),
	}
}

// URL returns the endpoint this Conn dials.
func (c *Conn) URL() string {
	return c.opts.URL
}

// HandshakeTimeout returns the per-dial timeout in effect.
func (c *Conn) HandshakeTimeout() time.Duration {
	return c.opts.HandshakeTimeout
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ID returns the connection identifier assigned by the server, or "" if the
// connected frame has not arrived yet.
func (c *Conn) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// OnStateChange registers fn to be called on every state transition.
func (c *Conn) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateHandlers = append(c.stateHandlers, fn)
}

// OnFrame sets the handler for server frames that are not responses.
func (c *Conn) OnFrame(fn func(protocol.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frameHandler = fn
}

// DetachHandlers removes all state and frame handlers.
func (c *Conn) DetachHandlers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateHandlers = nil
	c.frameHandler = nil
}

// Start begins connecting in the background. It returns immediately;
// progress is reported through OnStateChange. Calling Start again, or after
// Disconnect, has no effect.
func (c *Conn) Start() {
	c.mu.Lock()
	if c.started || c.stopped {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	go c.supervise()
}

// Connect starts the Conn and waits until it is Connected.
// It returns the ConnectionFailed error if the retry budget is exhausted
// first, or ctx's error if ctx ends first. The Conn keeps running in the
// background after Connect returns.
func (c *Conn) Connect(ctx context.Context) error {
	c.Start()
	for {
		c.mu.Lock()
		st, changed, stopped := c.state, c.changed, c.stopped
		c.mu.Unlock()

		switch {
		case st.Kind == Connected:
			return nil
		case st.Kind == Failed:
			return st.Err
		case stopped:
			return apperrors.ConnectionClosed()
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Disconnect closes the socket and stops reconnecting. Pending requests are
// rejected. Safe to call multiple times.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	close(c.stop)
	l := c.link
	c.link = nil
	c.id = ""
	c.mu.Unlock()

	if l != nil {
		l.close()
	}
	c.rejectPending(apperrors.ConnectionClosed())
	c.setState(State{Kind: Disconnected})
	c.logger.Debug("disconnected", "url", c.opts.URL)
}

// Send queues a one-way frame for the server.
func (c *Conn) Send(msg protocol.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return apperrors.Internal("encode "+string(msg.Type), err)
	}

	c.mu.Lock()
	l := c.link
	connected := c.state.Kind == Connected
	c.mu.Unlock()

	if l == nil || !connected {
		return apperrors.NotConnected()
	}

	select {
	case <-l.done:
		return apperrors.NotConnected()
	default:
	}

	select {
	case l.send <- data:
		return nil
	default:
		return apperrors.Internal("send buffer full", nil)
	}
}

// RequestFunc sends msg and arranges for fn to receive the correlated
// response. msg must carry an ID (see protocol.NewRequest). If RequestFunc
// returns an error, fn is never called.
func (c *Conn) RequestFunc(msg protocol.Message, fn ResponseFunc) error {
	if msg.ID == "" {
		return apperrors.Internal("request "+string(msg.Type)+" has no id", nil)
	}

	c.mu.Lock()
	c.pending[msg.ID] = fn
	c.mu.Unlock()

	if err := c.Send(msg); err != nil {
		if c.takePending(msg.ID) == nil {
			// Already rejected by a concurrent disconnect; fn has the error.
			return nil
		}
		return err
	}
	return nil
}

// Request sends msg and waits for its correlated response.
func (c *Conn) Request(ctx context.Context, msg protocol.Message) (protocol.Message, error) {
	type result struct {
		msg protocol.Message
		err error
	}
	ch := make(chan result, 1)

	err := c.RequestFunc(msg, func(resp protocol.Message, err error) {
		ch <- result{resp, err}
	})
	if err != nil {
		return protocol.Message{}, err
	}

	select {
	case r := <-ch:
		return r.msg, r.err
	case <-ctx.Done():
		c.takePending(msg.ID)
		return protocol.Message{}, ctx.Err()
	}
}

func (c *Conn) takePending(id string) ResponseFunc {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn := c.pending[id]
	delete(c.pending, id)
	return fn
}

// rejectPending fails every outstanding request with err.
func (c *Conn) rejectPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]ResponseFunc)
	c.mu.Unlock()

	for id, fn := range pending {
		c.logger.Debug("rejecting pending request", "id", id, "err", err)
		fn(protocol.Message{}, err)
	}
}

// setState records s and notifies handlers. Once stopped, only the final
// Disconnected state is accepted.
func (c *Conn) setState(s State) {
	c.mu.Lock()
	if c.stopped && s.Kind != Disconnected {
		c.mu.Unlock()
		return
	}
	c.state = s
	close(c.changed)
	c.changed = make(chan struct{})
	handlers := make([]func(State), len(c.stateHandlers))
	copy(handlers, c.stateHandlers)
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(s)
	}
}

func (c *Conn) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// supervise dials, serves, and reconnects until the retry budget is spent
// or Disconnect is called.
func (c *Conn) supervise() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(c.opts.RetryDelay), uint64(c.opts.MaxAttempts))
	attempt := 0

	c.setState(State{Kind: Connecting})
	for {
		ws, err := c.dial(ctx)
		if err == nil {
			policy.Reset()
			attempt = 0
			err = c.serve(ws)
		}
		if c.isStopped() {
			return
		}
		c.rejectPending(apperrors.ConnectionLost(err))

		next := policy.NextBackOff()
		if next == backoff.Stop {
			c.logger.Error("giving up", "url", c.opts.URL, "attempts", c.opts.MaxAttempts, "err", err)
			c.setState(State{Kind: Failed, Attempt: attempt, Err: apperrors.ConnectionFailed(c.opts.MaxAttempts, err)})
			return
		}

		attempt++
		c.logger.Warn("connection lost, retrying", "attempt", attempt, "max", c.opts.MaxAttempts, "err", err)
		c.setState(State{Kind: Reconnecting, Attempt: attempt, Err: err})

		select {
		case <-c.stop:
			return
		case <-time.After(next):
		}
	}
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()

	ws, _, err := c.dialer.DialContext(dctx, c.opts.URL, nil)
	if err != nil {
		return nil, apperrors.DialFailed(c.opts.URL, err)
	}
	return ws, nil
}

// serve runs the pumps for one socket and returns when it drops.
func (c *Conn) serve(ws *websocket.Conn) error {
	l := &link{
		ws:   ws,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		ws.Close()
		return apperrors.ConnectionClosed()
	}
	c.link = l
	c.mu.Unlock()

	c.logger.Info("connected", "url", c.opts.URL)
	go c.writePump(l)
	c.setState(State{Kind: Connected})

	err := c.readPump(l)
	l.close()

	c.mu.Lock()
	if c.link == l {
		c.link = nil
		c.id = ""
	}
	c.mu.Unlock()

	return err
}
