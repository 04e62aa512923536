package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/huddlehq/huddle/internal/storage"
	"github.com/huddlehq/huddle/pkg/domain"
	"github.com/huddlehq/huddle/pkg/token"
)

var errRefreshRejected = errors.New("refresh rejected")

// fakeRefresher counts calls and optionally blocks until released.
type fakeRefresher struct {
	mu      sync.Mutex
	calls   int
	seen    []string
	access  string
	refresh string
	err     error
	release chan struct{}
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	f.mu.Lock()
	f.calls++
	f.seen = append(f.seen, refreshToken)
	release := f.release
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return domain.TokenPair{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.TokenPair{}, f.err
	}
	return domain.TokenPair{AccessToken: f.access, RefreshToken: f.refresh}, nil
}

func (f *fakeRefresher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// endedRecorder counts OnSessionEnded signals.
type endedRecorder struct {
	mu     sync.Mutex
	causes []error
}

func (r *endedRecorder) record(cause error) {
	r.mu.Lock()
	r.causes = append(r.causes, cause)
	r.mu.Unlock()
}

func (r *endedRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.causes)
}

var ada = domain.User{ID: "u1", Name: "Ada", Email: "ada@example.com", Role: "user"}

func newTestStore(t *testing.T, codec token.Codec) (*Store, *storage.Memory) {
	t.Helper()
	mem := storage.NewMemory()
	return NewStore(mem, codec, nil), mem
}

func login(t *testing.T, s *Store, access, refresh string) {
	t.Helper()
	if err := s.SetAuthenticated(access, refresh, ada); err != nil {
		t.Fatalf("SetAuthenticated: %v", err)
	}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (g *Gate) queued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waiters)
}

// newMemoryWith returns storage holding a session left by a previous run.
func newMemoryWith(t *testing.T, access, refresh string) *storage.Memory {
	t.Helper()
	user, err := json.Marshal(ada)
	if err != nil {
		t.Fatal(err)
	}
	mem := storage.NewMemory()
	mem.Save(map[string]string{
		KeyAccessToken:  access,
		KeyRefreshToken: refresh,
		KeyUser:         string(user),
	})
	return mem
}
