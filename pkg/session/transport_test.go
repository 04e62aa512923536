package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/huddlehq/huddle/pkg/token"
	"github.com/huddlehq/huddle/pkg/token/tokentest"
)

// authServer accepts only the token in valid and records what it saw.
type authServer struct {
	mu     sync.Mutex
	valid  string
	hits   []string
	bodies []string
}

func (s *authServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.hits = append(s.hits, r.Header.Get("Authorization"))
	s.bodies = append(s.bodies, string(body))
	valid := s.valid
	s.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer "+valid {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Token expired"}`))
		return
	}
	w.Write([]byte(`{"ok":true}`))
}

func (s *authServer) Hits() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.hits...)
}

type transportFixture struct {
	client *http.Client
	store  *Store
	ref    *fakeRefresher
	ended  *endedRecorder
	srv    *authServer
	url    string
}

func newTransportFixture(t *testing.T) *transportFixture {
	t.Helper()
	srv := &authServer{}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	codec := token.NewCodec(nil)
	store, _ := newTestStore(t, codec)
	ref := &fakeRefresher{}
	gate := NewGate(store, ref, codec, GateConfig{}, nil)
	ended := &endedRecorder{}
	gate.OnSessionEnded(ended.record)

	return &transportFixture{
		client: &http.Client{Transport: NewTransport(gate, nil, nil), Timeout: 5 * time.Second},
		store:  store,
		ref:    ref,
		ended:  ended,
		srv:    srv,
		url:    ts.URL + "/api/team",
	}
}

func TestTransportAttachesBearer(t *testing.T) {
	f := newTransportFixture(t)
	tok := tokentest.Mint(t, "u1", time.Now().Add(time.Hour))
	f.srv.valid = tok
	login(t, f.store, tok, "r1")

	resp, err := f.client.Get(f.url)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if hits := f.srv.Hits(); len(hits) != 1 || hits[0] != "Bearer "+tok {
		t.Errorf("hits = %v, want one request with the stored token", hits)
	}
}

func TestTransportWithoutSessionSendsUnauthenticated(t *testing.T) {
	f := newTransportFixture(t)
	f.srv.valid = "anything"

	resp, err := f.client.Get(f.url)
	if !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("err = %v, want ErrSessionEnded", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	if hits := f.srv.Hits(); len(hits) != 1 || hits[0] != "" {
		t.Errorf("hits = %q, want one request without Authorization", hits)
	}
}

func TestTransportRenewsStaleTokenBeforeSending(t *testing.T) {
	f := newTransportFixture(t)
	renewed := tokentest.Mint(t, "u1", time.Now().Add(time.Hour))
	f.ref.access = renewed
	f.srv.valid = renewed
	login(t, f.store, tokentest.Mint(t, "u1", time.Now().Add(time.Minute)), "r1")

	resp, err := f.client.Get(f.url)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if hits := f.srv.Hits(); len(hits) != 1 || hits[0] != "Bearer "+renewed {
		t.Errorf("hits = %v, want the renewed token on the first attempt", hits)
	}
	if f.ref.Calls() != 1 {
		t.Errorf("refresh calls = %d, want 1", f.ref.Calls())
	}
}

func TestTransportRetriesOnceAfterUnauthorized(t *testing.T) {
	f := newTransportFixture(t)
	// The client believes its token is good; the server has revoked it.
	revoked := tokentest.Mint(t, "u1", time.Now().Add(time.Hour))
	renewed := tokentest.Mint(t, "u1", time.Now().Add(2*time.Hour))
	f.ref.access = renewed
	f.srv.valid = renewed
	login(t, f.store, revoked, "r1")

	resp, err := f.client.Post(f.url, "application/json", strings.NewReader(`{"name":"core"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	hits := f.srv.Hits()
	if len(hits) != 2 {
		t.Fatalf("server saw %d requests, want 2", len(hits))
	}
	if hits[0] != "Bearer "+revoked || hits[1] != "Bearer "+renewed {
		t.Errorf("hits = %v, want revoked then renewed", hits)
	}
	for i, b := range f.srv.bodies {
		if b != `{"name":"core"}` {
			t.Errorf("attempt %d body = %q, want replayed body", i, b)
		}
	}
	if f.ref.Calls() != 1 {
		t.Errorf("refresh calls = %d, want 1", f.ref.Calls())
	}
}

func TestTransportReturnsSecondUnauthorized(t *testing.T) {
	f := newTransportFixture(t)
	f.ref.access = tokentest.Mint(t, "u1", time.Now().Add(2*time.Hour))
	f.srv.valid = "never-matches"
	login(t, f.store, tokentest.Mint(t, "u1", time.Now().Add(time.Hour)), "r1")

	resp, err := f.client.Get(f.url)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
	if n := len(f.srv.Hits()); n != 2 {
		t.Errorf("server saw %d requests, want exactly 2", n)
	}
	if f.ref.Calls() != 1 {
		t.Errorf("refresh calls = %d, want 1", f.ref.Calls())
	}
}

func TestTransportUnauthorizedWithoutRefreshTokenEndsSession(t *testing.T) {
	f := newTransportFixture(t)
	f.srv.valid = "never-matches"
	login(t, f.store, tokentest.Mint(t, "u1", time.Now().Add(time.Hour)), "")

	_, err := f.client.Get(f.url)
	if !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("err = %v, want ErrSessionEnded", err)
	}
	if f.store.Get().AccessToken != "" {
		t.Error("session not cleared")
	}
	if f.ended.Count() != 1 {
		t.Errorf("session ended signals = %d, want 1", f.ended.Count())
	}
	if n := len(f.srv.Hits()); n != 1 {
		t.Errorf("server saw %d requests, want 1", n)
	}
}

func TestTransportFailedRenewalEndsSession(t *testing.T) {
	f := newTransportFixture(t)
	f.ref.err = errRefreshRejected
	f.srv.valid = "never-matches"
	login(t, f.store, tokentest.Mint(t, "u1", time.Now().Add(time.Hour)), "r1")

	_, err := f.client.Get(f.url)
	if !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("err = %v, want ErrSessionEnded", err)
	}
	if f.store.Get().RefreshToken != "" {
		t.Error("session not cleared after rejected refresh")
	}
	if f.ended.Count() != 1 {
		t.Errorf("session ended signals = %d, want 1", f.ended.Count())
	}
}

type closeRecorder struct {
	io.Reader
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestTransportClosesBodyWhenRenewalFails(t *testing.T) {
	f := newTransportFixture(t)
	f.ref.err = errRefreshRejected
	login(t, f.store, tokentest.Mint(t, "u1", time.Now().Add(time.Minute)), "r1")

	body := &closeRecorder{Reader: strings.NewReader(`{"name":"core"}`)}
	req, err := http.NewRequest(http.MethodPost, f.url, body)
	if err != nil {
		t.Fatal(err)
	}
	_, err = f.client.Transport.RoundTrip(req)
	if !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("err = %v, want ErrSessionEnded", err)
	}
	if !body.closed {
		t.Error("request body left open")
	}
	if n := len(f.srv.Hits()); n != 0 {
		t.Errorf("server hits = %d, want 0", n)
	}
}

func TestTransportConcurrentUnauthorizedShareOneRenewal(t *testing.T) {
	f := newTransportFixture(t)
	revoked := tokentest.Mint(t, "u1", time.Now().Add(time.Hour))
	renewed := tokentest.Mint(t, "u1", time.Now().Add(2*time.Hour))
	f.ref.access = renewed
	f.srv.valid = renewed
	login(t, f.store, revoked, "r1")

	const requests = 6
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, f.url, nil)
			resp, err := f.client.Do(req)
			if err != nil {
				t.Error(err)
				return
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("status = %d, want 200", resp.StatusCode)
			}
		}()
	}
	wg.Wait()

	if f.ref.Calls() != 1 {
		t.Errorf("refresh calls = %d, want 1", f.ref.Calls())
	}
}
