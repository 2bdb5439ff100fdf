package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/natal-chart/internal/bot"
	"github.com/ashureev/natal-chart/internal/identity"
	"github.com/coder/websocket"
)

type call struct {
	kind, userID, value string
}

type recordingInbound struct {
	mu    sync.Mutex
	calls []call
	ch    chan call
}

func newRecordingInbound() *recordingInbound {
	return &recordingInbound{ch: make(chan call, 16)}
}

func (r *recordingInbound) record(c call) {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
	r.ch <- c
}

func (r *recordingInbound) HandleText(_ context.Context, userID, text string) {
	r.record(call{"text", userID, text})
}

func (r *recordingInbound) HandleChoice(_ context.Context, userID, choice string) {
	r.record(call{"choice", userID, choice})
}

func (r *recordingInbound) Reject(_ context.Context, userID, key string) {
	r.record(call{"reject", userID, key})
}

func (r *recordingInbound) next(t *testing.T) call {
	t.Helper()
	select {
	case c := <-r.ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no inbound call")
		return call{}
	}
}

type counter struct {
	mu sync.Mutex
	n  map[string]int
}

func (c *counter) ChatMessage(direction, msgType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == nil {
		c.n = make(map[string]int)
	}
	c.n[direction+":"+msgType]++
}

func (c *counter) get(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n[key]
}

func newServer(t *testing.T, h *Handler, userID string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r.WithContext(identity.WithUserID(r.Context(), userID)))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func write(t *testing.T, conn *websocket.Conn, msg wsMessage) {
	t.Helper()
	data, _ := json.Marshal(msg)
	if err := conn.Write(context.Background(), websocket.MessageText, data); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
}

func waitRegistered(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Len() < n {
		if time.Now().After(deadline) {
			t.Fatalf("hub has %d connections, want %d", hub.Len(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandlerRoutesMessages(t *testing.T) {
	in := newRecordingInbound()
	obs := &counter{}
	h := NewHandler(in, NewHub(obs), nil, "*", true, nil)
	conn := dial(t, newServer(t, h, "u1"))

	write(t, conn, wsMessage{Type: "text", Content: "/start"})
	if c := in.next(t); c != (call{"text", "u1", "/start"}) {
		t.Errorf("call = %+v", c)
	}
	write(t, conn, wsMessage{Type: "choice", Content: "ka"})
	if c := in.next(t); c != (call{"choice", "u1", "ka"}) {
		t.Errorf("call = %+v", c)
	}
	if err := conn.Write(context.Background(), websocket.MessageText, []byte("plain words")); err != nil {
		t.Fatal(err)
	}
	if c := in.next(t); c != (call{"text", "u1", "plain words"}) {
		t.Errorf("raw frame call = %+v", c)
	}
	if got := obs.get("in:text"); got != 3 {
		t.Errorf("in:text = %d, want 3", got)
	}
}

func TestHandlerPing(t *testing.T) {
	h := NewHandler(newRecordingInbound(), NewHub(nil), nil, "*", true, nil)
	conn := dial(t, newServer(t, h, "u1"))

	write(t, conn, wsMessage{Type: "ping"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(data) != `{"type":"pong"}` {
		t.Errorf("reply = %s", data)
	}
}

func TestHandlerRateLimits(t *testing.T) {
	in := newRecordingInbound()
	h := NewHandler(in, NewHub(nil), NewRateLimiter(1, time.Hour), "*", true, nil)
	conn := dial(t, newServer(t, h, "u1"))

	write(t, conn, wsMessage{Type: "text", Content: "one"})
	write(t, conn, wsMessage{Type: "text", Content: "two"})
	if c := in.next(t); c.kind != "text" {
		t.Errorf("first call = %+v", c)
	}
	if c := in.next(t); c != (call{"reject", "u1", "error.rate_limited"}) {
		t.Errorf("second call = %+v", c)
	}
}

func TestHandlerRejectsOrigin(t *testing.T) {
	h := NewHandler(newRecordingInbound(), NewHub(nil), nil, "https://chart.example", false, nil)
	srv := newServer(t, h, "u1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"https://evil.example"}},
	})
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %+v", resp)
	}
}

func TestHubSendReachesEveryTab(t *testing.T) {
	obs := &counter{}
	hub := NewHub(obs)
	h := NewHandler(newRecordingInbound(), hub, nil, "*", true, nil)
	// The middleware supplies the tab session ID; the user is pinned.
	srv := httptest.NewServer(identity.Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r.WithContext(identity.WithUserID(r.Context(), "u1")))
	})))
	t.Cleanup(srv.Close)

	base := "ws" + strings.TrimPrefix(srv.URL, "http")
	var conns []*websocket.Conn
	for i := range 2 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		conn, _, err := websocket.Dial(ctx, base+"?session_id=tab-"+strconv.Itoa(i), nil)
		cancel()
		if err != nil {
			t.Fatalf("Dial() error = %v", err)
		}
		t.Cleanup(func() { _ = conn.CloseNow() })
		conns = append(conns, conn)
	}
	waitRegistered(t, hub, 2)

	msg := bot.Outbound{Type: bot.TypeChart, Text: "chart", Part: 1, Parts: 1}
	if err := hub.Send(context.Background(), "u1", msg); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	for i, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, data, err := conn.Read(ctx)
		cancel()
		if err != nil {
			t.Fatalf("tab %d Read() error = %v", i, err)
		}
		var got bot.Outbound
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatal(err)
		}
		if got.Type != bot.TypeChart || got.Text != "chart" || got.Part != 1 || got.Parts != 1 {
			t.Errorf("tab %d got %+v", i, got)
		}
	}
	if obs.get("out:chart") != 1 {
		t.Errorf("out:chart = %d", obs.get("out:chart"))
	}
}

func TestHubSendWithoutConnection(t *testing.T) {
	if err := NewHub(nil).Send(context.Background(), "nobody", bot.Outbound{Type: bot.TypeMessage}); err != ErrNoConnection {
		t.Errorf("Send() error = %v, want ErrNoConnection", err)
	}
}

func TestHubRegisterUnregister(t *testing.T) {
	hub := NewHub(nil)
	conn1 := &websocket.Conn{}
	conn2 := &websocket.Conn{}

	hub.Register("u1", "tab-1", conn1)
	hub.Register("u1", "tab-2", conn2)
	if hub.Len() != 2 {
		t.Fatalf("unexpected hub state, len = %d", hub.Len())
	}

	// A stale unregister for another conn must not remove the current one.
	hub.Unregister("u1", "tab-2", conn1)
	if hub.Len() != 2 {
		t.Error("stale unregister removed the current connection")
	}

	hub.Unregister("u1", "tab-1", conn1)
	if hub.Len() != 1 {
		t.Errorf("len after first unregister = %d", hub.Len())
	}
	hub.Unregister("u1", "tab-2", conn2)
	if hub.Len() != 0 {
		t.Errorf("hub not empty, len = %d", hub.Len())
	}
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if !rl.Allow("u1") || !rl.Allow("u1") {
		t.Fatal("first two requests should pass")
	}
	if rl.Allow("u1") {
		t.Error("third request inside the window should be refused")
	}
	if !rl.Allow("u2") {
		t.Error("limits are per key")
	}

	now = now.Add(61 * time.Second)
	if !rl.Allow("u1") {
		t.Error("request after the window should pass")
	}

	now = now.Add(2 * time.Minute)
	rl.evict()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.requests) != 0 {
		t.Errorf("evict left %d keys", len(rl.requests))
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, time.Minute)
	for range 100 {
		if !rl.Allow("u1") {
			t.Fatal("disabled limiter refused a request")
		}
	}
}
