// Package realtime maintains an optional websocket event channel for the
// client. The channel owns its reconnection logic: a reconciliation check
// compares whether the connection should exist against whether it does, and
// opens or tears it down to match, retrying on a fixed interval after
// failures. Incoming frames are namespaced events; a reserved "sys"
// namespace carries channel metadata and is never forwarded to application
// subscribers.
package realtime

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iudanet/apikit/pubsub"
)

// SystemNamespace is reserved for channel metadata frames.
const SystemNamespace = "sys"

const defaultRetryInterval = 2 * time.Second

// Config describes where and how to connect.
type Config struct {
	// Dialer defaults to websocket.DefaultDialer
	Dialer *websocket.Dialer
	// Header is sent with the websocket handshake
	Header http.Header
	// Protocol selects the websocket subprotocol, consulted per connection
	Protocol func() string
	// Logger defaults to slog.Default()
	Logger *slog.Logger

	Domain    string // required, e.g. "events.example.com"
	Namespace string // optional path, e.g. "ws"
	Port      int
	Secure    bool // true selects wss

	// RetryInterval between reconciliation retries, default 2s
	RetryInterval time.Duration
}

// URL returns the composed websocket endpoint.
func (c Config) URL() string {
	scheme := "ws"
	if c.Secure {
		scheme = "wss"
	}

	u := fmt.Sprintf("%s://%s", scheme, c.Domain)
	if c.Port != 0 {
		u = fmt.Sprintf("%s:%d", u, c.Port)
	}
	if c.Namespace != "" {
		u = u + "/" + c.Namespace
	}
	return u
}

// State is the observable connection state. ReconnectionCount starts at -1
// ("never connected") and increments only on a successful (re)connection.
type State struct {
	Version           string
	ReconnectionCount int
	HasError          bool
	IsClosing         bool
	IsConnecting      bool
	IsConnected       bool
}

// Event is one application event received from the channel.
type Event struct {
	Data      json.RawMessage
	Namespace string
	Event     string
}

// frame is the wire format of channel messages.
type frame struct {
	Data      json.RawMessage `json:"data,omitempty"`
	Namespace string          `json:"ns"`
	Event     string          `json:"event"`
}

// Channel wraps one websocket connection with reconnection and typed
// event dispatch.
type Channel struct {
	cfg         Config
	log         *slog.Logger
	shouldExist func() bool

	mu        sync.Mutex
	writeMu   sync.Mutex
	conn      *websocket.Conn
	state     State
	retryStop chan struct{}
	closed    bool

	stateSubs *pubsub.Registry[State]
	eventsMu  sync.Mutex
	events    map[string]*pubsub.Registry[Event]
}

// New creates a channel. shouldExist is the existence predicate consulted by
// every reconciliation; the channel connects only while it returns true.
// No connection is attempted until the first Reconcile call.
func New(cfg Config, shouldExist func() bool) *Channel {
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if shouldExist == nil {
		shouldExist = func() bool { return true }
	}

	return &Channel{
		cfg:         cfg,
		log:         cfg.Logger,
		shouldExist: shouldExist,
		state:       State{ReconnectionCount: -1},
		stateSubs:   pubsub.New[State](),
		events:      make(map[string]*pubsub.Registry[Event]),
	}
}

// State returns the current connection state snapshot.
func (ch *Channel) State() State {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

// OnStateChange subscribes to connection state changes.
func (ch *Channel) OnStateChange(fn func(State)) func() {
	return ch.stateSubs.Subscribe(fn)
}

// OnEvent subscribes to application events of one namespace.
// Events of the reserved system namespace are never delivered.
func (ch *Channel) OnEvent(namespace string, fn func(Event)) func() {
	return ch.registry(namespace).Subscribe(fn)
}

// Reconcile compares the desired existence of the connection with reality
// and opens or tears down the connection to match. Safe to call from any
// goroutine, any number of times.
func (ch *Channel) Reconcile() {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}

	want := ch.shouldExist()
	pending := ch.conn != nil || ch.state.IsConnecting

	switch {
	case want && !pending:
		ch.state.IsConnecting = true
		snapshot := ch.state
		ch.mu.Unlock()

		ch.stateSubs.Publish(snapshot)
		go ch.connect()

	case !want && ch.conn != nil:
		conn := ch.conn
		ch.conn = nil
		ch.state.IsClosing = true
		snapshot := ch.state
		ch.stopRetryLocked()
		ch.mu.Unlock()

		ch.stateSubs.Publish(snapshot)
		_ = conn.Close()

		ch.mu.Lock()
		ch.state.IsClosing = false
		ch.state.IsConnected = false
		ch.state.HasError = false
		snapshot = ch.state
		ch.mu.Unlock()
		ch.stateSubs.Publish(snapshot)

	case !want && ch.conn == nil && !ch.state.IsConnecting:
		// Нечего поддерживать: гасим retry цикл, если он еще работает
		ch.stopRetryLocked()
		ch.mu.Unlock()

	default:
		ch.mu.Unlock()
	}
}

// Send publishes one event frame over the open connection.
func (ch *Channel) Send(namespace, event string, data any) error {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}
		raw = encoded
	}

	payload, err := json.Marshal(frame{Namespace: namespace, Event: event, Data: raw})
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	ch.mu.Lock()
	conn := ch.conn
	ch.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("channel is not connected")
	}

	// gorilla допускает только одного конкурентного писателя
	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("failed to send frame: %w", err)
	}
	return nil
}

// Close tears the channel down permanently. Subsequent Reconcile calls are
// no-ops.
func (ch *Channel) Close() error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return nil
	}
	ch.closed = true
	conn := ch.conn
	ch.conn = nil
	ch.stopRetryLocked()
	ch.state.IsConnected = false
	ch.state.IsConnecting = false
	snapshot := ch.state
	ch.mu.Unlock()

	ch.stateSubs.Publish(snapshot)

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (ch *Channel) connect() {
	dialer := ch.cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if ch.cfg.Protocol != nil {
		copied := *dialer
		copied.Subprotocols = []string{ch.cfg.Protocol()}
		dialer = &copied
	}

	conn, resp, err := dialer.Dial(ch.cfg.URL(), ch.cfg.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	ch.mu.Lock()
	if err != nil {
		ch.state.IsConnecting = false
		ch.state.HasError = true
		snapshot := ch.state
		ch.ensureRetryLocked()
		ch.mu.Unlock()

		ch.log.Warn("websocket connection failed", "url", ch.cfg.URL(), "error", err)
		ch.stateSubs.Publish(snapshot)
		return
	}

	// Желание могло измениться, пока шел handshake
	if ch.closed || !ch.shouldExist() {
		ch.state.IsConnecting = false
		ch.mu.Unlock()
		_ = conn.Close()
		return
	}

	ch.conn = conn
	ch.state.IsConnecting = false
	ch.state.IsConnected = true
	ch.state.HasError = false
	ch.state.ReconnectionCount++
	snapshot := ch.state
	ch.stopRetryLocked()
	ch.mu.Unlock()

	ch.log.Debug("websocket connected", "url", ch.cfg.URL(), "reconnections", snapshot.ReconnectionCount)
	ch.stateSubs.Publish(snapshot)

	go ch.readLoop(conn)
}

func (ch *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			ch.handleDisconnect(conn, err)
			return
		}
		ch.dispatch(data)
	}
}

// handleDisconnect reacts to an unexpected close or transport error by
// scheduling reconciliation retries until a connection is re-established.
func (ch *Channel) handleDisconnect(conn *websocket.Conn, err error) {
	ch.mu.Lock()
	if ch.conn != conn {
		// Плановый teardown уже снял это соединение
		ch.mu.Unlock()
		return
	}

	ch.conn = nil
	ch.state.IsConnected = false
	ch.state.HasError = true
	snapshot := ch.state
	ch.ensureRetryLocked()
	ch.mu.Unlock()

	_ = conn.Close()
	ch.log.Warn("websocket connection lost", "error", err)
	ch.stateSubs.Publish(snapshot)
}

// dispatch parses one frame and forwards it to namespace subscribers.
// Malformed frames are logged and dropped, they never crash the channel.
func (ch *Channel) dispatch(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil || f.Namespace == "" {
		ch.log.Warn("dropping malformed frame", "error", err, "size", len(data))
		return
	}

	if f.Namespace == SystemNamespace {
		ch.handleSystemFrame(f)
		return
	}

	ch.registry(f.Namespace).Publish(Event{
		Namespace: f.Namespace,
		Event:     f.Event,
		Data:      f.Data,
	})
}

func (ch *Channel) handleSystemFrame(f frame) {
	switch f.Event {
	case "version":
		var version string
		if err := json.Unmarshal(f.Data, &version); err != nil {
			ch.log.Warn("dropping malformed system frame", "event", f.Event, "error", err)
			return
		}

		ch.mu.Lock()
		ch.state.Version = version
		snapshot := ch.state
		ch.mu.Unlock()
		ch.stateSubs.Publish(snapshot)
	default:
		ch.log.Debug("ignoring system frame", "event", f.Event)
	}
}

// ensureRetryLocked starts the fixed-interval reconciliation loop if it is
// not already running. Callers hold ch.mu.
func (ch *Channel) ensureRetryLocked() {
	if ch.retryStop != nil || ch.closed {
		return
	}

	stop := make(chan struct{})
	ch.retryStop = stop

	go func() {
		ticker := time.NewTicker(ch.cfg.RetryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ch.Reconcile()
			case <-stop:
				return
			}
		}
	}()
}

// stopRetryLocked cancels the retry loop. Callers hold ch.mu.
func (ch *Channel) stopRetryLocked() {
	if ch.retryStop != nil {
		close(ch.retryStop)
		ch.retryStop = nil
	}
}

func (ch *Channel) registry(namespace string) *pubsub.Registry[Event] {
	ch.eventsMu.Lock()
	defer ch.eventsMu.Unlock()

	reg, ok := ch.events[namespace]
	if !ok {
		reg = pubsub.New[Event]()
		ch.events[namespace] = reg
	}
	return reg
}
