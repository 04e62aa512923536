// Package session owns the authenticated session: its durable store, the
// single-flight renewal gate, the proactive renewal loop, and the HTTP
// transport that attaches and repairs bearer credentials.
package session

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/huddlehq/huddle/pkg/domain"
	"github.com/huddlehq/huddle/pkg/token"
)

// Durable storage keys. All three are written and erased together.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyUser         = "user"
)

var allKeys = []string{KeyAccessToken, KeyRefreshToken, KeyUser}

// Storage is durable key/value storage. Each call must be atomic.
type Storage interface {
	Load(keys ...string) (map[string]string, error)
	Save(values map[string]string) error
	Delete(keys ...string) error
}

// Session is a snapshot of the current login.
type Session struct {
	AccessToken  string
	RefreshToken string
	User         *domain.User
	// IsAuthenticated is derived: an access token is present and not expired.
	IsAuthenticated bool
}

// UserID returns the logged-in user's id, or "".
func (s Session) UserID() string {
	if s.User == nil {
		return ""
	}
	return s.User.ID
}

// Store is the single source of truth for the session. Other components
// read snapshots with Get and change it only through SetAuthenticated,
// UpdateTokens and Clear.
type Store struct {
	codec   token.Codec
	storage Storage
	logger  *zap.Logger

	mu      sync.Mutex
	access  string
	refresh string
	user    *domain.User
	epoch   uint64 // bumped when a session is installed or cleared

	subMu   sync.Mutex
	subs    map[int]func(Session)
	nextSub int

	// notifyMu keeps observer delivery in mutation order.
	notifyMu sync.Mutex
}

// NewStore returns an empty store persisting to storage.
func NewStore(storage Storage, codec token.Codec, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		codec:   codec,
		storage: storage,
		logger:  logger,
		subs:    make(map[int]func(Session)),
	}
}

// Get returns the current snapshot.
func (s *Store) Get() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) current() (Session, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(), s.epoch
}

func (s *Store) snapshotLocked() Session {
	snap := Session{
		AccessToken:  s.access,
		RefreshToken: s.refresh,
	}
	if s.user != nil {
		u := *s.user
		snap.User = &u
	}
	snap.IsAuthenticated = s.access != "" && !s.codec.IsExpired(s.access, 0)
	return snap
}

// SetAuthenticated installs a fresh session and persists all three fields.
func (s *Store) SetAuthenticated(access, refresh string, user domain.User) error {
	if access == "" {
		return fmt.Errorf("session.SetAuthenticated: empty access token")
	}
	userJSON, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("session.SetAuthenticated: marshal user: %w", err)
	}

	s.mu.Lock()
	if err := s.storage.Save(map[string]string{
		KeyAccessToken:  access,
		KeyRefreshToken: refresh,
		KeyUser:         string(userJSON),
	}); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("session.SetAuthenticated: persist: %w", err)
	}
	s.access = access
	s.refresh = refresh
	s.user = &user
	s.epoch++
	s.unlockAndNotify()
	return nil
}

// UpdateTokens replaces the tokens after a renewal. An empty refresh keeps
// the existing refresh token. The user is left untouched.
func (s *Store) UpdateTokens(access, refresh string) error {
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()
	return s.updateTokens(epoch, access, refresh)
}

// updateTokens applies a renewal only if the session it was started for is
// still installed.
func (s *Store) updateTokens(epoch uint64, access, refresh string) error {
	if access == "" {
		return fmt.Errorf("session.UpdateTokens: empty access token")
	}
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return errStaleSession
	}
	values := map[string]string{KeyAccessToken: access}
	if refresh != "" {
		values[KeyRefreshToken] = refresh
	}
	if err := s.storage.Save(values); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("session.UpdateTokens: persist: %w", err)
	}
	s.access = access
	if refresh != "" {
		s.refresh = refresh
	}
	s.unlockAndNotify()
	return nil
}

// Clear drops the session and erases durable storage. It reports whether
// anything was cleared; calling it on an empty store is a no-op.
func (s *Store) Clear() (bool, error) {
	s.mu.Lock()
	return s.clearLocked()
}

// clearAt clears only if the session identified by epoch is still installed.
func (s *Store) clearAt(epoch uint64) (bool, error) {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return false, nil
	}
	return s.clearLocked()
}

// clearLocked is entered with s.mu held and releases it.
func (s *Store) clearLocked() (bool, error) {
	err := s.storage.Delete(allKeys...)
	if err != nil {
		err = fmt.Errorf("session.Clear: erase storage: %w", err)
	}
	if s.access == "" && s.refresh == "" && s.user == nil {
		s.mu.Unlock()
		return false, err
	}
	s.access = ""
	s.refresh = ""
	s.user = nil
	s.epoch++
	s.unlockAndNotify()
	return true, err
}

// Hydrate loads the session persisted by a previous run. An expired access
// token is loaded but reads as unauthenticated until renewed.
func (s *Store) Hydrate() error {
	values, err := s.storage.Load(allKeys...)
	if err != nil {
		return fmt.Errorf("session.Hydrate: %w", err)
	}

	var user *domain.User
	if raw := values[KeyUser]; raw != "" {
		var u domain.User
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			s.logger.Warn("discarding unreadable stored user", zap.Error(err))
		} else {
			user = &u
		}
	}

	s.mu.Lock()
	s.access = values[KeyAccessToken]
	s.refresh = values[KeyRefreshToken]
	s.user = user
	s.epoch++
	snap := s.snapshotLocked()
	s.unlockAndNotify()

	s.logger.Debug("session hydrated",
		zap.Bool("authenticated", snap.IsAuthenticated),
		zap.Bool("has_refresh_token", snap.RefreshToken != ""))
	return nil
}

// Subscribe registers fn to receive every new snapshot. Observers run
// synchronously and must not mutate the store from inside fn.
func (s *Store) Subscribe(fn func(Session)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

// unlockAndNotify is entered with s.mu held. It hands the new snapshot to
// observers after releasing the lock, preserving mutation order.
func (s *Store) unlockAndNotify() {
	snap := s.snapshotLocked()
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	s.subMu.Lock()
	fns := make([]func(Session), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
