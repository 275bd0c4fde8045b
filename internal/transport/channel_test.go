package transport

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

	"livepoll/internal/domain/poll"
)

var upgrader = websocket.Upgrader{}

// fakeStream is a websocket endpoint that records subscriptions and
// lets the test script each accepted connection.
type fakeStream struct {
	mu         sync.Mutex
	subscribes []subscribeMessage
	conns      chan *websocket.Conn
}

func newFakeStream() *fakeStream {
	return &fakeStream{conns: make(chan *websocket.Conn, 16)}
}

func (f *fakeStream) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	var sub subscribeMessage
	if err := conn.ReadJSON(&sub); err != nil {
		_ = conn.Close()
		return
	}
	f.mu.Lock()
	f.subscribes = append(f.subscribes, sub)
	f.mu.Unlock()
	f.conns <- conn
}

func (f *fakeStream) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribes)
}

func startStream(t *testing.T) (*fakeStream, string) {
	t.Helper()
	stream := newFakeStream()
	srv := httptest.NewServer(http.HandlerFunc(stream.handler))
	t.Cleanup(srv.Close)
	return stream, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}

func TestChannelSubscribesAndDeliversUpdates(t *testing.T) {
	stream, wsURL := startStream(t)

	var mu sync.Mutex
	var got []poll.Update
	ch := NewChannel(wsURL, "P1", NewReconnectPolicy(10*time.Millisecond, 5), Events{
		OnMessage: func(u poll.Update) {
			mu.Lock()
			got = append(got, u)
			mu.Unlock()
		},
	}, nil)
	defer ch.Close()

	if err := ch.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}

	conn := <-stream.conns
	defer conn.Close()

	stream.mu.Lock()
	sub := stream.subscribes[0]
	stream.mu.Unlock()
	if sub.Type != "SUBSCRIBE" || sub.PollID != "P1" {
		t.Fatalf("unexpected subscribe message: %+v", sub)
	}

	payload, _ := json.Marshal(poll.Update{PollID: "P1", Results: map[string]int{"A": 3}})
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Malformed payloads are dropped without killing the connection.
	_ = conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
	payload2, _ := json.Marshal(poll.Update{PollID: "P1", Results: map[string]int{"A": 4}})
	_ = conn.WriteMessage(websocket.TextMessage, payload2)

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, "expected exactly the two valid updates")

	mu.Lock()
	defer mu.Unlock()
	if got[0].Results["A"] != 3 || got[1].Results["A"] != 4 {
		t.Fatalf("unexpected updates: %+v", got)
	}
}

func TestChannelReconnectsAfterUncleanClose(t *testing.T) {
	stream, wsURL := startStream(t)

	ch := NewChannel(wsURL, "P1", NewReconnectPolicy(10*time.Millisecond, 5), Events{}, nil)
	defer ch.Close()

	if err := ch.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}

	first := <-stream.conns
	// Drop the TCP connection without a close handshake.
	_ = first.UnderlyingConn().Close()

	select {
	case second := <-stream.conns:
		defer second.Close()
	case <-time.After(2 * time.Second):
		t.Fatalf("channel did not reconnect after unclean close")
	}
	if stream.subscribeCount() != 2 {
		t.Fatalf("subscribes = %d, want 2 (one per connection)", stream.subscribeCount())
	}
}

func TestChannelCloseIsCleanAndIdempotent(t *testing.T) {
	stream, wsURL := startStream(t)

	closed := make(chan struct{}, 1)
	ch := NewChannel(wsURL, "P1", NewReconnectPolicy(10*time.Millisecond, 5), Events{
		OnClose: func(code int, wasClean bool) {
			if wasClean {
				closed <- struct{}{}
			}
		},
	}, nil)

	if err := ch.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	conn := <-stream.conns
	defer conn.Close()

	ch.Close()
	ch.Close()

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatalf("clean close was not reported")
	}

	// No new connection may appear after an intentional close.
	select {
	case <-stream.conns:
		t.Fatalf("channel reconnected after intentional close")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestChannelDegradesAfterExhaustedAttempts(t *testing.T) {
	stream, wsURL := startStream(t)

	degraded := make(chan struct{}, 1)
	ch := NewChannel(wsURL, "P1", NewReconnectPolicy(time.Millisecond, 5), Events{
		OnDegraded: func() { degraded <- struct{}{} },
	}, nil)
	defer ch.Close()

	if err := ch.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}

	// Kill every connection the moment it arrives: the initial one plus
	// at most five reconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case conn := <-stream.conns:
				_ = conn.UnderlyingConn().Close()
			case <-degraded:
				return
			case <-time.After(3 * time.Second):
				return
			}
		}
	}()

	<-done
	if got := stream.subscribeCount(); got > 6 {
		t.Fatalf("connections = %d, want at most 6 (initial + 5 reconnect attempts)", got)
	}
	if !ch.policy.Exhausted() {
		t.Fatalf("policy should be exhausted")
	}
}
