package session

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/huddlehq/huddle/pkg/token"
)

// LifecycleState is the proactive renewal state.
type LifecycleState int

const (
	StateIdle LifecycleState = iota
	StateScheduled
	StateRenewing
)

func (s LifecycleState) String() string {
	switch s {
	case StateScheduled:
		return "scheduled"
	case StateRenewing:
		return "renewing"
	default:
		return "idle"
	}
}

// LifecycleConfig tunes a Lifecycle.
type LifecycleConfig struct {
	// Lead is how long before expiry the precise timer fires.
	Lead time.Duration
	// MinDelay floors the precise timer so near-expired tokens cannot cause
	// a refresh storm.
	MinDelay time.Duration
	// SweepInterval is the period of the zero-buffer expiry check.
	SweepInterval time.Duration
}

// LifecycleStatus is a point-in-time view for diagnostics.
type LifecycleStatus struct {
	Running  bool
	State    LifecycleState
	HasSweep bool
	HasTimer bool
	// LastErr is the most recent renewal failure. A failed renewal leaves
	// the loop Idle; it is not retried.
	LastErr error
}

// Lifecycle renews the session proactively so it survives idle periods.
// It schedules a precise timer ahead of expiry and runs a periodic sweep as
// a safety net for missed timers (suspended process, system sleep).
type Lifecycle struct {
	store  *Store
	gate   *Gate
	codec  token.Codec
	clock  clockwork.Clock
	cfg    LifecycleConfig
	logger *zap.Logger

	mu          sync.Mutex
	running     bool
	state       LifecycleState
	ctx         context.Context
	cancel      context.CancelFunc
	lastErr     error
	ticker      clockwork.Ticker
	timer       clockwork.Timer
	timerFor    string
	unsubscribe func()
	done        chan struct{}
	wg          sync.WaitGroup
}

// NewLifecycle returns a stopped Lifecycle.
func NewLifecycle(store *Store, gate *Gate, codec token.Codec, clock clockwork.Clock, cfg LifecycleConfig, logger *zap.Logger) *Lifecycle {
	if cfg.Lead <= 0 {
		cfg.Lead = token.DefaultBuffer
	}
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lifecycle{
		store:  store,
		gate:   gate,
		codec:  codec,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
}

// Start begins the sweep and schedules renewal for the current token.
// Calling Start on a running Lifecycle does nothing.
func (l *Lifecycle) Start(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.lastErr = nil
	l.done = make(chan struct{})
	l.ticker = l.clock.NewTicker(l.cfg.SweepInterval)
	l.unsubscribe = l.store.Subscribe(l.onSession)

	l.wg.Add(1)
	go l.sweepLoop(l.ctx, l.ticker, l.done)
	l.mu.Unlock()

	l.logger.Info("token lifecycle started", zap.Duration("sweep_interval", l.cfg.SweepInterval))
	l.check()
}

// Stop cancels the sweep, any pending timer, and the store subscription.
// Calling Stop on a stopped Lifecycle does nothing.
func (l *Lifecycle) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	l.cancel()
	l.ticker.Stop()
	l.ticker = nil
	l.stopTimerLocked()
	l.unsubscribe()
	l.unsubscribe = nil
	close(l.done)
	l.state = StateIdle
	l.mu.Unlock()

	l.wg.Wait()
	l.logger.Info("token lifecycle stopped")
}

// Status reports whether the loop runs and which timers are armed.
func (l *Lifecycle) Status() LifecycleStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LifecycleStatus{
		Running:  l.running,
		State:    l.state,
		HasSweep: l.ticker != nil,
		HasTimer: l.timer != nil,
		LastErr:  l.lastErr,
	}
}

func (l *Lifecycle) sweepLoop(ctx context.Context, ticker clockwork.Ticker, done <-chan struct{}) {
	defer l.wg.Done()
	for {
		select {
		case <-ticker.Chan():
			l.check()
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// check is the sweep body: renew immediately if the token has actually
// expired (zero buffer), otherwise make sure a precise timer is armed.
func (l *Lifecycle) check() {
	s := l.store.Get()
	switch {
	case s.AccessToken == "" && s.RefreshToken == "":
		l.idle()
	case l.codec.IsExpired(s.AccessToken, 0):
		if s.RefreshToken != "" {
			l.logger.Info("access token expired, renewing now")
			l.renew()
		}
	default:
		l.schedule(s.AccessToken)
	}
}

func (l *Lifecycle) onSession(s Session) {
	if s.AccessToken == "" {
		l.idle()
		return
	}
	if s.IsAuthenticated {
		l.schedule(s.AccessToken)
	}
}

// schedule arms the precise timer for tok unless it is already armed for it.
func (l *Lifecycle) schedule(tok string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running || l.state == StateRenewing {
		return
	}
	if l.timer != nil && l.timerFor == tok {
		return
	}
	if l.store.Get().AccessToken != tok {
		// A newer token is installed and brings its own notification.
		return
	}
	l.stopTimerLocked()

	remaining := l.codec.TimeUntilExpiration(tok)
	if remaining <= 0 {
		// Already expired; the sweep renews it.
		l.state = StateIdle
		return
	}
	delay := remaining - l.cfg.Lead
	if delay < l.cfg.MinDelay {
		delay = l.cfg.MinDelay
	}
	l.timer = l.clock.AfterFunc(delay, func() { l.fire(tok) })
	l.timerFor = tok
	l.state = StateScheduled
	l.logger.Debug("token renewal scheduled", zap.Duration("in", delay))
}

func (l *Lifecycle) fire(tok string) {
	l.mu.Lock()
	if !l.running || l.timerFor != tok {
		l.mu.Unlock()
		return
	}
	l.timer = nil
	l.timerFor = ""
	l.mu.Unlock()

	s := l.store.Get()
	if s.RefreshToken == "" || !l.gate.Stale(s.AccessToken) {
		l.check()
		return
	}
	l.renew()
}

// renew starts one renewal through the gate. Failure leaves the loop idle:
// the gate has already cleared the session, so there is nothing to retry.
func (l *Lifecycle) renew() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running || l.state == StateRenewing {
		return
	}
	l.stopTimerLocked()
	l.state = StateRenewing

	l.wg.Add(1)
	go l.runRenewal(l.ctx)
}

func (l *Lifecycle) runRenewal(ctx context.Context) {
	defer l.wg.Done()

	_, err := l.gate.EnsureFresh(ctx)

	l.mu.Lock()
	if l.state == StateRenewing {
		l.state = StateIdle
	}
	if err != nil && ctx.Err() == nil {
		l.lastErr = err
	}
	l.mu.Unlock()

	if err != nil {
		if ctx.Err() == nil {
			l.logger.Warn("proactive renewal failed", zap.Error(err))
		}
		return
	}
	if s := l.store.Get(); s.IsAuthenticated {
		l.schedule(s.AccessToken)
	}
}

func (l *Lifecycle) idle() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopTimerLocked()
	if l.state != StateRenewing {
		l.state = StateIdle
	}
}

func (l *Lifecycle) stopTimerLocked() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.timerFor = ""
}
