package infra

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// feedHandler collects everything the worker reads, the way the trade
// stream feeds its tick buffer.
type feedHandler struct {
	url string

	mu       sync.Mutex
	connects int
	messages []string
}

func (h *feedHandler) GetURL() string { return h.url }
func (h *feedHandler) ID() string     { return "feed-test" }

func (h *feedHandler) OnConnect(ctx context.Context, conn *websocket.Conn) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connects++
	return nil
}

func (h *feedHandler) OnMessage(ctx context.Context, msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, string(msg))
}

func (h *feedHandler) OnPing(ctx context.Context, conn *websocket.Conn) error {
	return nil
}

func (h *feedHandler) snapshot() (int, []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connects, append([]string(nil), h.messages...)
}

func wsServer(t *testing.T, serve func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		serve(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestBaseWSWorker_DeliversMessages(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"table":"trade","action":"insert"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"table":"trade","action":"partial"}`))
		time.Sleep(200 * time.Millisecond)
	})

	h := &feedHandler{url: strings.Replace(srv.URL, "http://", "ws://", 1)}
	worker := NewBaseWSWorker(h)
	worker.ReadTimeout = 500 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)
	defer worker.Stop()

	waitFor(t, func() bool {
		_, msgs := h.snapshot()
		return len(msgs) >= 2
	})
	connects, msgs := h.snapshot()
	if connects == 0 {
		t.Error("OnConnect never fired")
	}
	if msgs[0] != `{"table":"trade","action":"insert"}` {
		t.Errorf("first message = %q", msgs[0])
	}
}

func TestBaseWSWorker_ReconnectsAfterDrop(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn) {
		// Drop the connection immediately; the worker should dial again.
		conn.Close()
	})

	h := &feedHandler{url: strings.Replace(srv.URL, "http://", "ws://", 1)}
	worker := NewBaseWSWorker(h)
	worker.ReadTimeout = 100 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)
	defer worker.Stop()

	waitFor(t, func() bool {
		connects, _ := h.snapshot()
		return connects >= 2
	})
}

func TestBaseWSWorker_StopDoesNotHang(t *testing.T) {
	hold := make(chan struct{})
	srv := wsServer(t, func(conn *websocket.Conn) {
		<-hold
	})
	defer close(hold)

	h := &feedHandler{url: strings.Replace(srv.URL, "http://", "ws://", 1)}
	worker := NewBaseWSWorker(h)

	worker.Start(context.Background())
	waitFor(t, func() bool {
		connects, _ := h.snapshot()
		return connects >= 1
	})

	done := make(chan struct{})
	go func() {
		worker.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestBaseWSWorker_WriteReachesServer(t *testing.T) {
	received := make(chan string, 1)
	srv := wsServer(t, func(conn *websocket.Conn) {
		if _, msg, err := conn.ReadMessage(); err == nil {
			received <- string(msg)
		}
		time.Sleep(100 * time.Millisecond)
	})

	h := &feedHandler{url: strings.Replace(srv.URL, "http://", "ws://", 1)}
	worker := NewBaseWSWorker(h)

	worker.Start(context.Background())
	defer worker.Stop()
	waitFor(t, func() bool {
		connects, _ := h.snapshot()
		return connects >= 1
	})

	sub := `{"op":"subscribe","args":["trade:XBTUSD"]}`
	if err := worker.Write(websocket.TextMessage, []byte(sub)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case got := <-received:
		if got != sub {
			t.Errorf("server received %q, want %q", got, sub)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the subscribe frame")
	}
}
