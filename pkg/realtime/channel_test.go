package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/huddlehq/huddle/pkg/domain"
)

// serverConn is the server's side of one client connection.
type serverConn struct {
	ws     *websocket.Conn
	userID string
	frames chan Envelope
	closed chan struct{}
	wmu    sync.Mutex
}

func (sc *serverConn) send(t *testing.T, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	sc.wmu.Lock()
	defer sc.wmu.Unlock()
	if err := sc.ws.WriteJSON(Envelope{Event: event, Data: raw}); err != nil {
		t.Fatalf("server send %s: %v", event, err)
	}
}

func (sc *serverConn) closeNormally() {
	sc.wmu.Lock()
	defer sc.wmu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	sc.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

// wsServer accepts websocket clients and hands each joined connection to
// the test.
type wsServer struct {
	srv    *httptest.Server
	joined chan *serverConn

	mu     sync.Mutex
	dials  int
	refuse bool
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{joined: make(chan *serverConn, 16)}
	upgrader := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.dials++
		refuse := s.refuse
		s.mu.Unlock()
		if refuse {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var join Envelope
		if err := ws.ReadJSON(&join); err != nil || join.Event != EventJoinUserRoom {
			ws.Close()
			return
		}
		sc := &serverConn{ws: ws, frames: make(chan Envelope, 16), closed: make(chan struct{})}
		json.Unmarshal(join.Data, &sc.userID)
		s.joined <- sc

		defer close(sc.closed)
		for {
			var env Envelope
			if err := ws.ReadJSON(&env); err != nil {
				return
			}
			sc.frames <- env
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *wsServer) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

func (s *wsServer) Refuse() {
	s.mu.Lock()
	s.refuse = true
	s.mu.Unlock()
}

func (s *wsServer) next(t *testing.T) *serverConn {
	t.Helper()
	select {
	case sc := <-s.joined:
		return sc
	case <-time.After(2 * time.Second):
		t.Fatal("no client joined")
		return nil
	}
}

func (c *Channel) pendingRetry() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retry != nil
}

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

func newTestChannel(t *testing.T, s *wsServer) (*Channel, clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	ch := New(Config{URL: s.URL(), Clock: clock})
	t.Cleanup(ch.Close)
	return ch, clock
}

// recordEvents collects the team ids of channel:created events.
func recordEvents(ch *Channel) <-chan string {
	got := make(chan string, 16)
	ch.On(domain.EventChannelCreated, func(data json.RawMessage) {
		var evt domain.ChannelEvent
		json.Unmarshal(data, &evt)
		got <- evt.TeamID
	})
	return got
}

func expectEvent(t *testing.T, got <-chan string, want string) {
	t.Helper()
	select {
	case team := <-got:
		if team != want {
			t.Fatalf("event for team %q, want %q", team, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no event for team %q", want)
	}
}

func TestBindJoinsUserRoomAndDeliversEvents(t *testing.T) {
	s := newWSServer(t)
	ch, _ := newTestChannel(t, s)
	got := recordEvents(ch)

	var mu sync.Mutex
	var states []State
	ch.OnStatus(func(st State) {
		mu.Lock()
		states = append(states, st)
		mu.Unlock()
	})

	if err := ch.Bind(context.Background(), "u1"); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	sc := s.next(t)
	if sc.userID != "u1" {
		t.Errorf("joined user room %q, want u1", sc.userID)
	}
	if ch.Status() != Connected || ch.UserID() != "u1" {
		t.Errorf("status = %v/%q, want connected as u1", ch.Status(), ch.UserID())
	}

	sc.send(t, domain.EventChannelCreated, domain.ChannelEvent{TeamID: "t1"})
	expectEvent(t, got, "t1")

	mu.Lock()
	defer mu.Unlock()
	if len(states) != 2 || states[0] != Connecting || states[1] != Connected {
		t.Errorf("status changes = %v, want [connecting connected]", states)
	}
}

func TestBindSameUserIsNoop(t *testing.T) {
	s := newWSServer(t)
	ch, _ := newTestChannel(t, s)

	for i := 0; i < 3; i++ {
		if err := ch.Bind(context.Background(), "u1"); err != nil {
			t.Fatalf("Bind: %v", err)
		}
	}
	if s.Dials() != 1 {
		t.Errorf("dials = %d, want 1", s.Dials())
	}
}

func TestUserSwitchTearsDownPreviousConnection(t *testing.T) {
	s := newWSServer(t)
	ch, _ := newTestChannel(t, s)
	got := recordEvents(ch)

	if err := ch.Bind(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	alice := s.next(t)

	if err := ch.Bind(context.Background(), "bob"); err != nil {
		t.Fatal(err)
	}
	bob := s.next(t)

	select {
	case <-alice.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("alice's connection still open after switching to bob")
	}
	if bob.userID != "bob" || ch.UserID() != "bob" {
		t.Errorf("bound to %q (server saw %q), want bob", ch.UserID(), bob.userID)
	}

	bob.send(t, domain.EventChannelCreated, domain.ChannelEvent{TeamID: "bob-team"})
	expectEvent(t, got, "bob-team")
	select {
	case team := <-got:
		t.Errorf("unexpected extra event for team %q", team)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestServerNormalCloseStaysDisconnected(t *testing.T) {
	s := newWSServer(t)
	ch, clock := newTestChannel(t, s)

	if err := ch.Bind(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
	s.next(t).closeNormally()

	eventually(t, "disconnect", func() bool { return ch.Status() == Disconnected })
	clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	if ch.pendingRetry() || s.Dials() != 1 {
		t.Errorf("reconnected after a normal close (dials = %d)", s.Dials())
	}
}

func TestUnexpectedDropReconnects(t *testing.T) {
	s := newWSServer(t)
	ch, clock := newTestChannel(t, s)

	if err := ch.Bind(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
	s.next(t).ws.Close()

	eventually(t, "reconnect scheduled", ch.pendingRetry)
	clock.Advance(DefaultReconnectDelay)

	if sc := s.next(t); sc.userID != "u1" {
		t.Errorf("rejoined as %q, want u1", sc.userID)
	}
	eventually(t, "connected", func() bool { return ch.Status() == Connected })
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	s := newWSServer(t)
	ch, clock := newTestChannel(t, s)

	if err := ch.Bind(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
	sc := s.next(t)
	s.Refuse()
	sc.ws.Close()

	for i := 1; i <= DefaultMaxReconnectAttempts; i++ {
		eventually(t, "reconnect scheduled", ch.pendingRetry)
		clock.Advance(DefaultReconnectDelay)
		eventually(t, "reconnect dial", func() bool { return s.Dials() == 1+i })
	}

	eventually(t, "give up", func() bool { return !ch.pendingRetry() && ch.Status() == Disconnected })
	clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	if s.Dials() != 1+DefaultMaxReconnectAttempts {
		t.Errorf("dials = %d, want %d", s.Dials(), 1+DefaultMaxReconnectAttempts)
	}
}

func TestCloseCancelsPendingReconnect(t *testing.T) {
	s := newWSServer(t)
	ch, clock := newTestChannel(t, s)

	if err := ch.Bind(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
	s.next(t).ws.Close()
	eventually(t, "reconnect scheduled", ch.pendingRetry)

	ch.Close()
	clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	if s.Dials() != 1 {
		t.Errorf("dials = %d after Close, want 1", s.Dials())
	}
	if ch.Status() != Disconnected || ch.UserID() != "" {
		t.Errorf("status = %v/%q, want disconnected and unbound", ch.Status(), ch.UserID())
	}
}

func TestConnectionRejectedStaysDisconnected(t *testing.T) {
	s := newWSServer(t)
	ch, clock := newTestChannel(t, s)
	rejected := make(chan domain.ConnectionRejected, 1)
	ch.On(domain.EventConnectionRejected, func(data json.RawMessage) {
		var r domain.ConnectionRejected
		json.Unmarshal(data, &r)
		rejected <- r
	})

	if err := ch.Bind(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
	s.next(t).send(t, domain.EventConnectionRejected, domain.ConnectionRejected{Reason: "duplicate"})

	select {
	case r := <-rejected:
		if r.Reason != "duplicate" {
			t.Errorf("reason = %q", r.Reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("rejection not delivered")
	}
	eventually(t, "disconnect", func() bool { return ch.Status() == Disconnected })
	clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	if s.Dials() != 1 {
		t.Errorf("dials = %d after rejection, want 1", s.Dials())
	}
}

func TestPingIsAnsweredWithPong(t *testing.T) {
	s := newWSServer(t)
	ch, _ := newTestChannel(t, s)

	if err := ch.Bind(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
	sc := s.next(t)
	sc.send(t, EventPing, nil)

	select {
	case env := <-sc.frames:
		if env.Event != EventPong {
			t.Errorf("reply = %q, want pong", env.Event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no pong")
	}
}

func TestTeamRooms(t *testing.T) {
	s := newWSServer(t)
	ch, _ := newTestChannel(t, s)

	if err := ch.JoinTeamRoom("t1"); err != ErrNotConnected {
		t.Errorf("JoinTeamRoom before Bind err = %v, want ErrNotConnected", err)
	}
	if err := ch.Bind(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
	sc := s.next(t)
	if err := ch.JoinTeamRoom("t1"); err != nil {
		t.Fatal(err)
	}
	if err := ch.LeaveTeamRoom("t1"); err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{EventJoinTeamRoom, EventLeaveTeamRoom} {
		select {
		case env := <-sc.frames:
			var team string
			json.Unmarshal(env.Data, &team)
			if env.Event != want || team != "t1" {
				t.Errorf("frame = %s(%s), want %s(t1)", env.Event, team, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no %s frame", want)
		}
	}
}

func TestSyncerFollowsLatestUser(t *testing.T) {
	s := newWSServer(t)
	ch, _ := newTestChannel(t, s)
	sy := NewSyncer(ch, nil)
	sy.Start(context.Background())
	t.Cleanup(sy.Stop)

	sy.Update("alice")
	sy.Update("bob")
	eventually(t, "bound to bob", func() bool {
		return ch.UserID() == "bob" && ch.Status() == Connected
	})

	sy.Update("")
	eventually(t, "closed", func() bool {
		return ch.UserID() == "" && ch.Status() == Disconnected
	})
}
