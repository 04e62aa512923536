package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/huddlehq/huddle/pkg/domain"
	"github.com/huddlehq/huddle/pkg/token"
)

// DefaultRenewTimeout bounds a single refresh call.
const DefaultRenewTimeout = 10 * time.Second

// Refresher exchanges a refresh token for new tokens.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error)
}

// EndedFunc is told that the session was forcibly ended. Implementations
// redirect to the login entry point and must be idempotent.
type EndedFunc func(cause error)

// GateConfig tunes a Gate.
type GateConfig struct {
	// Buffer is how close to expiry a token may get before it is renewed.
	Buffer time.Duration
	// Timeout bounds each refresh call.
	Timeout time.Duration
}

type renewal struct {
	token string
	err   error
}

// Gate guarantees at most one refresh call in flight. Callers arriving
// while a renewal runs are queued and settled together when it completes.
type Gate struct {
	store     *Store
	refresher Refresher
	codec     token.Codec
	cfg       GateConfig
	logger    *zap.Logger

	mu      sync.Mutex
	busy    bool
	waiters []chan renewal
	onEnded []EndedFunc

	calls atomic.Int64
}

// NewGate returns a Gate renewing through refresher.
func NewGate(store *Store, refresher Refresher, codec token.Codec, cfg GateConfig, logger *zap.Logger) *Gate {
	if cfg.Buffer <= 0 {
		cfg.Buffer = token.DefaultBuffer
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRenewTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		store:     store,
		refresher: refresher,
		codec:     codec,
		cfg:       cfg,
		logger:    logger,
	}
}

// OnSessionEnded registers fn to run whenever the gate ends the session.
func (g *Gate) OnSessionEnded(fn EndedFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onEnded = append(g.onEnded, fn)
}

// Calls returns how many refresh calls the gate has made.
func (g *Gate) Calls() int64 {
	return g.calls.Load()
}

// InFlight reports whether a renewal is running.
func (g *Gate) InFlight() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.busy
}

// Stale reports whether tok is within the renewal buffer of its expiry.
func (g *Gate) Stale(tok string) bool {
	return g.codec.IsExpired(tok, g.cfg.Buffer)
}

// EnsureFresh returns a usable access token, renewing it first when it is
// missing or about to expire.
func (g *Gate) EnsureFresh(ctx context.Context) (string, error) {
	return g.acquire(ctx, func(s Session) bool {
		return s.AccessToken == "" || g.Stale(s.AccessToken)
	})
}

// Renew renews after the server refused rejected. If the stored token has
// already moved on, the newer token is returned without a call. An empty
// rejected forces a renewal.
func (g *Gate) Renew(ctx context.Context, rejected string) (string, error) {
	return g.acquire(ctx, func(s Session) bool {
		return rejected == "" || s.AccessToken == rejected || s.AccessToken == "" || g.Stale(s.AccessToken)
	})
}

func (g *Gate) acquire(ctx context.Context, needs func(Session) bool) (string, error) {
	ch := make(chan renewal, 1)

	g.mu.Lock()
	if g.busy {
		g.waiters = append(g.waiters, ch)
		g.mu.Unlock()
		return wait(ctx, ch)
	}

	s, epoch := g.store.current()
	if !needs(s) {
		g.mu.Unlock()
		return s.AccessToken, nil
	}
	if s.RefreshToken == "" {
		g.mu.Unlock()
		err := fmt.Errorf("%w: %w", ErrSessionEnded, ErrNoRefreshToken)
		g.end(epoch, err)
		return "", err
	}

	g.busy = true
	g.waiters = append(g.waiters, ch)
	g.mu.Unlock()

	go g.renew(s.RefreshToken, epoch)
	return wait(ctx, ch)
}

// renew performs the refresh call detached from any single caller so a
// cancelled caller cannot fail the others queued behind it.
func (g *Gate) renew(refreshToken string, epoch uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.Timeout)
	defer cancel()

	g.calls.Add(1)
	start := time.Now()
	pair, err := g.refresher.Refresh(ctx, refreshToken)
	if err == nil && pair.AccessToken == "" {
		err = errors.New("refresh response carried no access token")
	}
	if err == nil {
		err = g.store.updateTokens(epoch, pair.AccessToken, pair.RefreshToken)
	}

	res := renewal{token: pair.AccessToken}
	if errors.Is(err, errStaleSession) {
		// Someone logged in or out meanwhile; the result belongs to a
		// session that no longer exists. Hand back the current one.
		if cur := g.store.Get(); cur.IsAuthenticated {
			g.logger.Debug("discarding renewal for replaced session")
			res, err = renewal{token: cur.AccessToken}, nil
		}
	}
	if err != nil {
		res = renewal{err: fmt.Errorf("%w: renew: %w", ErrSessionEnded, err)}
		// Clear before releasing the gate so a caller arriving next sees
		// the cleared session instead of renewing with a dead token.
		if !errors.Is(err, errStaleSession) {
			g.end(epoch, res.err)
		}
		g.logger.Warn("token renewal failed", zap.Error(err), zap.Duration("took", time.Since(start)))
	} else {
		g.logger.Info("token renewed",
			zap.Bool("refresh_rotated", pair.RefreshToken != ""),
			zap.Duration("took", time.Since(start)))
	}

	g.mu.Lock()
	waiters := g.waiters
	g.waiters = nil
	g.busy = false
	g.mu.Unlock()

	for _, w := range waiters {
		w <- res
	}
}

// end clears the session identified by epoch and signals the UI.
func (g *Gate) end(epoch uint64, cause error) {
	if _, err := g.store.clearAt(epoch); err != nil {
		g.logger.Error("clear session", zap.Error(err))
	}
	g.signalEnded(cause)
}

// endCurrent clears whatever session is installed and signals the UI.
func (g *Gate) endCurrent(cause error) {
	if _, err := g.store.Clear(); err != nil {
		g.logger.Error("clear session", zap.Error(err))
	}
	g.signalEnded(cause)
}

func (g *Gate) signalEnded(cause error) {
	g.mu.Lock()
	fns := append([]EndedFunc(nil), g.onEnded...)
	g.mu.Unlock()
	for _, fn := range fns {
		fn(cause)
	}
}

func wait(ctx context.Context, ch <-chan renewal) (string, error) {
	select {
	case r := <-ch:
		return r.token, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
