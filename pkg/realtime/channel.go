// Package realtime keeps one websocket channel open for the logged-in user
// and delivers server-pushed events to registered handlers.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/huddlehq/huddle/pkg/domain"
)

// Events the client emits.
const (
	EventJoinUserRoom  = "join-user-room"
	EventJoinTeamRoom  = "join-team-room"
	EventLeaveTeamRoom = "leave-team-room"
	EventPing          = "ping"
	EventPong          = "pong"
)

// Defaults for Config.
const (
	DefaultDialTimeout          = 10 * time.Second
	DefaultMaxReconnectAttempts = 3
	DefaultReconnectDelay       = 2 * time.Second

	writeWait = 5 * time.Second
)

// ErrNotConnected is returned by Emit when no connection is open.
var ErrNotConnected = errors.New("realtime: not connected")

// errSuperseded means a newer Bind or Close replaced the connection being dialed.
var errSuperseded = errors.New("realtime: superseded")

// State is the connection state shown by the UI.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Envelope is one frame on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handler receives an event's payload. Handlers run on the connection's
// read goroutine; they must not call Bind or Close.
type Handler func(data json.RawMessage)

// Config configures a Channel.
type Config struct {
	URL                  string
	DialTimeout          time.Duration
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration

	// Token, when set, supplies a bearer token for the handshake.
	Token  func() string
	Dialer *websocket.Dialer
	Clock  clockwork.Clock
	Logger *zap.Logger
}

type conn struct {
	ws     *websocket.Conn
	gen    uint64
	userID string
	wmu    sync.Mutex
	done   chan struct{}
}

func (c *conn) write(env Envelope) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(env)
}

// Channel is the realtime session channel. At most one connection is live,
// and it always belongs to the user most recently passed to Bind.
type Channel struct {
	cfg    Config
	logger *zap.Logger

	hmu      sync.RWMutex
	handlers map[string][]Handler
	watchers []func(State)

	// dispatchMu orders event delivery against connection switches: once
	// the generation moves on, no event of the old one is delivered.
	dispatchMu sync.Mutex

	mu       sync.Mutex
	gen      uint64
	conn     *conn
	userID   string
	state    State
	closed   bool
	attempts int
	retry    clockwork.Timer

	notifyMu sync.Mutex
}

// New returns a disconnected Channel.
func New(cfg Config) *Channel {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Channel{
		cfg:      cfg,
		logger:   logger.Named("realtime"),
		handlers: make(map[string][]Handler),
	}
}

// On registers h for event.
func (c *Channel) On(event string, h Handler) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
}

// OnStatus registers fn to observe state changes.
func (c *Channel) OnStatus(fn func(State)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.watchers = append(c.watchers, fn)
}

// Status returns the current state.
func (c *Channel) Status() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// UserID returns the user the channel is bound to, or "".
func (c *Channel) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Bind connects the channel for userID. It is a no-op when already connected
// for that user. Any other connection is torn down completely before the new
// one is dialed.
func (c *Channel) Bind(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("realtime.Bind: empty user id")
	}

	c.dispatchMu.Lock()
	c.mu.Lock()
	if !c.closed && c.userID == userID && c.state == Connected {
		c.mu.Unlock()
		c.dispatchMu.Unlock()
		return nil
	}
	old := c.detachLocked()
	c.closed = false
	c.userID = userID
	gen := c.gen
	c.state = Connecting
	c.unlockAndNotify()
	c.dispatchMu.Unlock()

	c.teardown(old)
	if err := c.connect(ctx, gen, userID); err != nil && !errors.Is(err, errSuperseded) {
		return fmt.Errorf("realtime.Bind: %w", err)
	}
	return nil
}

// Close tears down the connection and cancels any pending reconnect. The
// channel stays down until the next Bind.
func (c *Channel) Close() {
	c.dispatchMu.Lock()
	c.mu.Lock()
	old := c.detachLocked()
	c.closed = true
	c.userID = ""
	c.state = Disconnected
	c.unlockAndNotify()
	c.dispatchMu.Unlock()

	c.teardown(old)
}

// Emit sends event with data on the live connection.
func (c *Channel) Emit(event string, data any) error {
	c.mu.Lock()
	cn := c.conn
	c.mu.Unlock()
	if cn == nil {
		return ErrNotConnected
	}
	env := Envelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("realtime.Emit %s: %w", event, err)
		}
		env.Data = raw
	}
	if err := cn.write(env); err != nil {
		return fmt.Errorf("realtime.Emit %s: %w", event, err)
	}
	return nil
}

// JoinTeamRoom subscribes to a team's broadcast events.
func (c *Channel) JoinTeamRoom(teamID string) error {
	return c.Emit(EventJoinTeamRoom, teamID)
}

// LeaveTeamRoom unsubscribes from a team's broadcast events.
func (c *Channel) LeaveTeamRoom(teamID string) error {
	return c.Emit(EventLeaveTeamRoom, teamID)
}

// detachLocked retires the current connection and any pending reconnect.
// The returned connection must be passed to teardown after unlocking.
func (c *Channel) detachLocked() *conn {
	c.gen++
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.attempts = 0
	old := c.conn
	c.conn = nil
	return old
}

// teardown closes cn and waits for its read loop to exit.
func (c *Channel) teardown(cn *conn) {
	if cn == nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	cn.wmu.Lock()
	cn.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	cn.wmu.Unlock()
	cn.ws.Close()
	<-cn.done
	c.logger.Debug("connection torn down", zap.String("user_id", cn.userID), zap.Uint64("gen", cn.gen))
}

func (c *Channel) connect(ctx context.Context, gen uint64, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	header := http.Header{}
	if c.cfg.Token != nil {
		if tok := c.cfg.Token(); tok != "" {
			header.Set("Authorization", "Bearer "+tok)
		}
	}
	ws, _, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		c.mu.Lock()
		if c.gen == gen {
			c.state = Disconnected
			c.unlockAndNotify()
		} else {
			c.mu.Unlock()
		}
		return err
	}

	cn := &conn{ws: ws, gen: gen, userID: userID, done: make(chan struct{})}
	c.mu.Lock()
	if c.gen != gen || c.closed {
		c.mu.Unlock()
		ws.Close()
		return errSuperseded
	}
	c.conn = cn
	c.attempts = 0
	c.state = Connected
	c.unlockAndNotify()

	if err := cn.write(Envelope{Event: EventJoinUserRoom, Data: mustJSON(userID)}); err != nil {
		c.logger.Warn("join user room", zap.Error(err))
	}
	go c.readLoop(cn)
	c.logger.Info("connected", zap.String("user_id", userID), zap.Uint64("gen", gen))
	return nil
}

func (c *Channel) readLoop(cn *conn) {
	defer close(cn.done)
	for {
		_, raw, err := cn.ws.ReadMessage()
		if err != nil {
			c.dropped(cn, err)
			return
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			c.logger.Warn("dropping malformed frame", zap.Int("bytes", len(raw)))
			continue
		}

		switch env.Event {
		case EventPing:
			if err := cn.write(Envelope{Event: EventPong}); err != nil {
				c.logger.Debug("pong", zap.Error(err))
			}
			continue
		case domain.EventConnectionRejected:
			c.dispatch(cn, env)
			c.rejected(cn, env)
			return
		}
		c.dispatch(cn, env)
	}
}

// dispatch delivers env if cn is still the current connection.
func (c *Channel) dispatch(cn *conn, env Envelope) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	c.mu.Lock()
	current := c.gen == cn.gen && c.conn == cn
	c.mu.Unlock()
	if !current {
		return
	}

	c.hmu.RLock()
	hs := append([]Handler(nil), c.handlers[env.Event]...)
	c.hmu.RUnlock()
	for _, h := range hs {
		h(env.Data)
	}
}

// rejected stops the channel without reconnecting.
func (c *Channel) rejected(cn *conn, env Envelope) {
	c.mu.Lock()
	if c.conn != cn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = Disconnected
	c.unlockAndNotify()
	cn.ws.Close()
	c.logger.Warn("connection rejected by server", zap.ByteString("data", env.Data))
}

// dropped handles a read error on cn.
func (c *Channel) dropped(cn *conn, err error) {
	c.mu.Lock()
	if c.conn != cn {
		// Torn down on purpose.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	cn.ws.Close()

	if websocket.IsCloseError(err, websocket.CloseNormalClosure) || c.closed {
		c.state = Disconnected
		c.unlockAndNotify()
		c.logger.Info("server closed the connection", zap.String("user_id", cn.userID))
		return
	}
	c.logger.Warn("connection lost", zap.String("user_id", cn.userID), zap.Error(err))
	c.scheduleLocked(cn.gen, cn.userID)
}

// scheduleLocked arranges the next reconnect attempt, or gives up. It is
// entered with c.mu held and releases it.
func (c *Channel) scheduleLocked(gen uint64, userID string) {
	c.state = Disconnected
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		c.unlockAndNotify()
		c.logger.Warn("giving up reconnecting", zap.Int("attempts", c.cfg.MaxReconnectAttempts))
		return
	}
	c.attempts++
	attempt := c.attempts
	c.retry = c.cfg.Clock.AfterFunc(c.cfg.ReconnectDelay, func() { c.reconnect(gen, userID) })
	c.unlockAndNotify()
	c.logger.Info("reconnecting",
		zap.Int("attempt", attempt),
		zap.Int("max", c.cfg.MaxReconnectAttempts),
		zap.Duration("delay", c.cfg.ReconnectDelay))
}

func (c *Channel) reconnect(gen uint64, userID string) {
	c.mu.Lock()
	if c.gen != gen || c.closed {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	c.state = Connecting
	c.unlockAndNotify()

	err := c.connect(context.Background(), gen, userID)
	if err == nil || errors.Is(err, errSuperseded) {
		return
	}
	c.logger.Warn("reconnect failed", zap.Error(err))

	c.mu.Lock()
	if c.gen != gen || c.closed {
		c.mu.Unlock()
		return
	}
	c.scheduleLocked(gen, userID)
}

// unlockAndNotify is entered with c.mu held. Watchers see states in order.
func (c *Channel) unlockAndNotify() {
	state := c.state
	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()

	c.hmu.RLock()
	ws := slices.Clone(c.watchers)
	c.hmu.RUnlock()
	for _, fn := range ws {
		fn(state)
	}
}

func mustJSON(v any) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}
