package bootstrap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/huddlehq/huddle/internal/config"
	"github.com/huddlehq/huddle/internal/storage"
	"github.com/huddlehq/huddle/pkg/domain"
	"github.com/huddlehq/huddle/pkg/realtime"
	"github.com/huddlehq/huddle/pkg/session"
	"github.com/huddlehq/huddle/pkg/token/tokentest"
)

// fakeServer serves the auth endpoints and the realtime socket.
type fakeServer struct {
	srv        *httptest.Server
	refreshOK  bool
	renewed    string
	joined     chan string
	loggedOut  chan string
	serverConn chan *websocket.Conn
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{
		joined:     make(chan string, 8),
		loggedOut:  make(chan string, 8),
		serverConn: make(chan *websocket.Conn, 8),
	}
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		if !f.refreshOK {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"message": "Invalid refresh token"}) //nolint:errcheck
			return
		}
		json.NewEncoder(w).Encode(domain.TokenPair{AccessToken: f.renewed}) //nolint:errcheck
	})
	mux.HandleFunc("/api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck
		f.loggedOut <- body["refreshToken"]
		w.Write([]byte(`{}`)) //nolint:errcheck
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var join realtime.Envelope
		if err := ws.ReadJSON(&join); err != nil {
			ws.Close()
			return
		}
		var userID string
		json.Unmarshal(join.Data, &userID) //nolint:errcheck
		f.joined <- userID
		f.serverConn <- ws
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) config(t *testing.T) *config.Config {
	return &config.Config{
		APIURL:    f.srv.URL,
		SocketURL: "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws",
		DataDir:   t.TempDir(),
		Session: config.SessionConfig{
			RefreshTimeout: 5 * time.Second,
			RenewBuffer:    5 * time.Minute,
			SweepInterval:  time.Minute,
		},
		Realtime: config.RealtimeConfig{
			DialTimeout:          5 * time.Second,
			MaxReconnectAttempts: 3,
			ReconnectDelay:       2 * time.Second,
		},
	}
}

func storedSession(t *testing.T, access, refresh string) *storage.Memory {
	t.Helper()
	user, _ := json.Marshal(domain.User{ID: "u1", Name: "Ada"})
	mem := storage.NewMemory()
	mem.Save(map[string]string{ //nolint:errcheck
		session.KeyAccessToken:  access,
		session.KeyRefreshToken: refresh,
		session.KeyUser:         string(user),
	})
	return mem
}

func newTestRuntime(t *testing.T, f *fakeServer, mem *storage.Memory) *Runtime {
	t.Helper()
	rt, err := New(f.config(t), Options{Storage: mem})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	return rt
}

// waitFor reads events until one satisfies match.
func waitFor(t *testing.T, rt *Runtime, what string, match func(Event) bool) Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case e := <-rt.Events():
			if match(e) {
				return e
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", what)
			return Event{}
		}
	}
}

func receive(t *testing.T, ch <-chan string, what string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		return ""
	}
}

func TestStartRestoresSessionAndBindsRealtime(t *testing.T) {
	f := newFakeServer(t)
	access := tokentest.Mint(t, "u1", time.Now().Add(time.Hour))
	rt := newTestRuntime(t, f, storedSession(t, access, "r1"))

	snap, err := rt.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !snap.IsAuthenticated || snap.UserID() != "u1" {
		t.Fatalf("restored session = %+v", snap)
	}
	if got := receive(t, f.joined, "user room join"); got != "u1" {
		t.Errorf("joined as %q, want u1", got)
	}
	waitFor(t, rt, "socket connected", func(e Event) bool {
		return e.Kind == EventSocketStatus && e.Socket == realtime.Connected
	})
	if st := rt.Lifecycle.Status(); !st.Running || !st.HasTimer {
		t.Errorf("lifecycle = %+v, want running with a timer", st)
	}
}

func TestRestoreFailureEndsSession(t *testing.T) {
	f := newFakeServer(t)
	rt := newTestRuntime(t, f, storedSession(t, tokentest.Mint(t, "u1", time.Now().Add(-time.Hour)), "r1"))

	snap, err := rt.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if snap.IsAuthenticated || snap.RefreshToken != "" {
		t.Errorf("snapshot = %+v, want cleared", snap)
	}
	waitFor(t, rt, "session ended", func(e Event) bool { return e.Kind == EventSessionEnded })
}

func TestRestoreRenewsExpiredSession(t *testing.T) {
	f := newFakeServer(t)
	f.refreshOK = true
	f.renewed = tokentest.Mint(t, "u1", time.Now().Add(time.Hour))
	rt := newTestRuntime(t, f, storedSession(t, tokentest.Mint(t, "u1", time.Now().Add(-time.Hour)), "r1"))

	snap, err := rt.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !snap.IsAuthenticated || snap.AccessToken != f.renewed {
		t.Errorf("snapshot = %+v, want renewed session", snap)
	}
	receive(t, f.joined, "user room join")
}

func TestLogoutClosesRealtimeAndResetsWorkspace(t *testing.T) {
	f := newFakeServer(t)
	rt := newTestRuntime(t, f, storedSession(t, tokentest.Mint(t, "u1", time.Now().Add(time.Hour)), "r1"))
	if _, err := rt.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	receive(t, f.joined, "user room join")
	rt.Workspace.AddTeam(domain.Team{ID: "t1", Name: "Core"})

	if err := rt.Auth.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if got := receive(t, f.loggedOut, "server logout"); got != "r1" {
		t.Errorf("server logout refresh token = %q", got)
	}
	waitFor(t, rt, "socket closed", func(e Event) bool {
		return e.Kind == EventSocketStatus && e.Socket == realtime.Disconnected
	})
	if n := len(rt.Workspace.Snapshot().Teams); n != 0 {
		t.Errorf("workspace kept %d teams after logout", n)
	}
}

func TestRemovedFromTeamRaisesNotice(t *testing.T) {
	f := newFakeServer(t)
	rt := newTestRuntime(t, f, storedSession(t, tokentest.Mint(t, "u1", time.Now().Add(time.Hour)), "r1"))
	if _, err := rt.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	receive(t, f.joined, "user room join")
	rt.Workspace.AddTeam(domain.Team{ID: "t1", Name: "Core"})

	var ws *websocket.Conn
	select {
	case ws = <-f.serverConn:
	case <-time.After(3 * time.Second):
		t.Fatal("no server connection")
	}
	data, _ := json.Marshal(domain.RemovedFromTeam{TeamID: "t1", TeamName: "Core", Message: "Removed from Core"})
	if err := ws.WriteJSON(realtime.Envelope{Event: domain.EventRemovedFromTeam, Data: data}); err != nil {
		t.Fatal(err)
	}

	e := waitFor(t, rt, "notice", func(e Event) bool { return e.Kind == EventNotice })
	if e.Notice.Message != "Removed from Core" {
		t.Errorf("notice = %+v", e.Notice)
	}
	if !rt.Store.Get().IsAuthenticated {
		t.Error("team removal ended the session")
	}
	if n := len(rt.Workspace.Snapshot().Teams); n != 0 {
		t.Errorf("workspace kept %d teams", n)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	f := newFakeServer(t)
	rt := newTestRuntime(t, f, storage.NewMemory())
	if _, err := rt.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if st := rt.Lifecycle.Status(); st.Running {
		t.Error("lifecycle still running after Close")
	}
}

func TestNewOpensBoltStorage(t *testing.T) {
	f := newFakeServer(t)
	rt, err := New(f.config(t), Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rt.Close()

	access := tokentest.Mint(t, "u1", time.Now().Add(time.Hour))
	if err := rt.Store.SetAuthenticated(access, "r1", domain.User{ID: "u1"}); err != nil {
		t.Fatalf("SetAuthenticated: %v", err)
	}
}
