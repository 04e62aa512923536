// Package bootstrap assembles the client: it owns every long-lived
// component, wires them together, and tears them down in reverse order.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/huddlehq/huddle/internal/config"
	"github.com/huddlehq/huddle/internal/storage"
	"github.com/huddlehq/huddle/pkg/client"
	"github.com/huddlehq/huddle/pkg/realtime"
	"github.com/huddlehq/huddle/pkg/session"
	"github.com/huddlehq/huddle/pkg/token"
	"github.com/huddlehq/huddle/pkg/workspace"
)

// EventKind tells the UI what changed.
type EventKind int

const (
	// EventSessionChanged carries a new session snapshot.
	EventSessionChanged EventKind = iota
	// EventSessionEnded means the session was forcibly ended; show login.
	EventSessionEnded
	// EventSocketStatus carries a realtime connection state.
	EventSocketStatus
	// EventNotice carries a toast for the user.
	EventNotice
	// EventWorkspaceChanged means teams, channels or notifications changed.
	EventWorkspaceChanged
)

// Event is one message from the runtime to the UI.
type Event struct {
	Kind    EventKind
	Session session.Session
	Socket  realtime.State
	Notice  workspace.Notice
	Err     error
}

const eventBuffer = 64

// Options replaces components, mostly for tests.
type Options struct {
	// Storage persists the session. Defaults to a bbolt file in the data dir.
	Storage session.Storage
	Logger  *zap.Logger
	Clock   clockwork.Clock
	// Transport is the base HTTP transport for both APIs.
	Transport http.RoundTripper
	Dialer    *websocket.Dialer
}

type hook struct {
	name string
	fn   func() error
}

// Runtime is the application context. Everything the UI and CLI need
// hangs off it; nothing is reached through globals.
type Runtime struct {
	Config    *config.Config
	Logger    *zap.Logger
	Store     *session.Store
	Gate      *session.Gate
	Lifecycle *session.Lifecycle
	Auth      *session.Authenticator
	AuthAPI   *client.AuthAPI
	API       *client.Client
	Socket    *realtime.Channel
	Workspace *workspace.State

	syncer *realtime.Syncer
	events chan Event

	mu       sync.Mutex
	hooks    []hook
	started  bool
	closed   bool
	lastUser string
}

// New builds a Runtime from cfg. Nothing runs until Start.
func New(cfg *config.Config, opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	r := &Runtime{
		Config: cfg,
		Logger: logger,
		events: make(chan Event, eventBuffer),
	}

	store := opts.Storage
	if store == nil {
		db, err := storage.OpenBolt(cfg.SessionPath(), "")
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		r.onClose("session storage", db.Close)
		store = db
	}

	codec := token.NewCodec(clock)
	r.Store = session.NewStore(store, codec, logger.Named("session"))
	r.AuthAPI = client.NewAuthAPI(cfg.APIURL, opts.Transport)
	r.Gate = session.NewGate(r.Store, r.AuthAPI, codec, session.GateConfig{
		Buffer:  cfg.Session.RenewBuffer,
		Timeout: cfg.Session.RefreshTimeout,
	}, logger.Named("gate"))
	r.Lifecycle = session.NewLifecycle(r.Store, r.Gate, codec, clock, session.LifecycleConfig{
		Lead:          cfg.Session.RenewBuffer,
		SweepInterval: cfg.Session.SweepInterval,
	}, logger.Named("lifecycle"))
	r.Auth = session.NewAuthenticator(r.AuthAPI, r.Store, r.Gate, logger.Named("auth"))
	r.API = client.New(cfg.APIURL, session.NewTransport(r.Gate, opts.Transport, logger.Named("transport")))

	r.Socket = realtime.New(realtime.Config{
		URL:                  cfg.SocketURL,
		DialTimeout:          cfg.Realtime.DialTimeout,
		MaxReconnectAttempts: cfg.Realtime.MaxReconnectAttempts,
		ReconnectDelay:       cfg.Realtime.ReconnectDelay,
		Token:                func() string { return r.Store.Get().AccessToken },
		Dialer:               opts.Dialer,
		Clock:                clock,
		Logger:               logger,
	})
	r.syncer = realtime.NewSyncer(r.Socket, logger.Named("realtime"))

	r.Workspace = workspace.New(clock, workspace.NotifierFunc(func(n workspace.Notice) {
		r.emit(Event{Kind: EventNotice, Notice: n})
	}), logger.Named("workspace"))
	r.Workspace.Attach(r.Socket)

	r.wire()
	return r, nil
}

func (r *Runtime) wire() {
	r.Gate.OnSessionEnded(func(cause error) {
		r.Logger.Info("session ended", zap.Error(cause))
		r.emit(Event{Kind: EventSessionEnded, Err: cause})
	})

	unsubscribe := r.Store.Subscribe(r.onSession)
	r.onClose("session subscription", func() error { unsubscribe(); return nil })

	r.Socket.OnStatus(func(st realtime.State) {
		r.emit(Event{Kind: EventSocketStatus, Socket: st})
	})

	unwatch := r.Workspace.Subscribe(func(workspace.Snapshot) {
		r.emit(Event{Kind: EventWorkspaceChanged})
	})
	r.onClose("workspace subscription", func() error { unwatch(); return nil })
}

// onSession follows login changes: the realtime channel is rebound, and the
// workspace is cleared when a different user logs in.
func (r *Runtime) onSession(s session.Session) {
	switch {
	case s.AccessToken == "":
		r.syncer.Update("")
	case s.IsAuthenticated:
		r.syncer.Update(s.UserID())
	}

	r.mu.Lock()
	userChanged := s.UserID() != r.lastUser && (s.UserID() != "" || s.AccessToken == "")
	if userChanged {
		r.lastUser = s.UserID()
	}
	r.mu.Unlock()
	if userChanged {
		r.Workspace.Reset()
	}

	r.emit(Event{Kind: EventSessionChanged, Session: s})
}

// Events is the stream the UI listens on. Sends never block: when the UI
// falls behind, events are dropped and the UI re-reads state on the next one.
func (r *Runtime) Events() <-chan Event {
	return r.events
}

func (r *Runtime) emit(e Event) {
	select {
	case r.events <- e:
	default:
		r.Logger.Debug("event dropped", zap.Int("kind", int(e.Kind)))
	}
}

// Start restores the persisted session and starts background renewal and
// the realtime channel.
func (r *Runtime) Start(ctx context.Context) (session.Session, error) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return r.Store.Get(), nil
	}
	r.started = true
	r.mu.Unlock()

	r.syncer.Start(ctx)
	r.onClose("realtime", func() error { r.syncer.Stop(); return nil })

	snap, err := r.Auth.Restore(ctx)
	if err != nil {
		r.Logger.Warn("session restore failed", zap.Error(err))
	}

	r.Lifecycle.Start(ctx)
	r.onClose("token lifecycle", func() error { r.Lifecycle.Stop(); return nil })

	r.Logger.Info("runtime started",
		zap.Bool("authenticated", snap.IsAuthenticated),
		zap.String("api_url", r.Config.APIURL))
	return snap, err
}

// Close stops every component in reverse order of start.
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	hooks := r.hooks
	r.hooks = nil
	r.mu.Unlock()

	var result error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		if err := h.fn(); err != nil {
			r.Logger.Error("shutdown hook failed", zap.String("component", h.name), zap.Error(err))
			result = errors.Join(result, err)
			continue
		}
		r.Logger.Debug("component stopped", zap.String("component", h.name))
	}
	_ = r.Logger.Sync()
	return result
}

func (r *Runtime) onClose(name string, fn func() error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook{name: name, fn: fn})
}
