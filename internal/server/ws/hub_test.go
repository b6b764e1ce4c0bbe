package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/gorilla/websocket"
)

type fakeBus struct {
	chans map[string]chan []byte
}

func newFakeBus() *fakeBus {
	b := &fakeBus{chans: make(map[string]chan []byte)}
	for _, ch := range Channels {
		b.chans[ch] = make(chan []byte, 8)
	}
	return b
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.chans[channel] <- payload
	return nil
}

func (b *fakeBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	return b.chans[channel], nil
}

func (b *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func startHub(t *testing.T, cfg Config) (*Hub, *fakeBus, *websocket.Conn) {
	t.Helper()
	bus := newFakeBus()
	hub := NewHub(bus, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Run(ctx)
	}()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		cancel()
		<-done
		srv.Close()
	})

	waitFor(t, func() bool { return hub.clientCount() == 1 })
	return hub, bus, conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.TextMessage {
		t.Fatalf("frame type = %d, want text", typ)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
}

func TestHub_HelloThenEvents(t *testing.T) {
	_, bus, conn := startHub(t, Config{Mode: "Paper", Greeting: func() any { return map[string]int{"open_positions": 3} }})

	var hello struct {
		Type    string `json:"type"`
		Payload struct {
			Mode  string         `json:"mode"`
			State map[string]int `json:"state"`
		} `json:"payload"`
	}
	readJSON(t, conn, &hello)
	if hello.Type != "hello" || hello.Payload.Mode != "paper" || hello.Payload.State["open_positions"] != 3 {
		t.Fatalf("hello = %+v", hello)
	}

	_ = bus.Publish(context.Background(), domain.ChannelTrade, []byte(`{"type":"trade_executed"}`))

	var env Envelope
	readJSON(t, conn, &env)
	if env.Channel != domain.ChannelTrade || !strings.Contains(string(env.Data), "trade_executed") {
		t.Errorf("envelope = %s %s", env.Channel, env.Data)
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	hub, bus, conn := startHub(t, Config{})
	var hello map[string]any
	readJSON(t, conn, &hello)

	msg := `{"action":"unsubscribe","channels":["ch:opportunity"]}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			return !c.isSubscribed(domain.ChannelOpportunity)
		}
		return false
	})

	ctx := context.Background()
	_ = bus.Publish(ctx, domain.ChannelOpportunity, []byte(`{"type":"opportunities"}`))
	_ = bus.Publish(ctx, domain.ChannelReset, []byte("not json"))

	var env Envelope
	readJSON(t, conn, &env)
	if env.Channel != domain.ChannelReset {
		t.Fatalf("channel = %s, want %s", env.Channel, domain.ChannelReset)
	}
	if string(env.Data) != `"not json"` {
		t.Errorf("data = %s, want quoted string", env.Data)
	}
}

func TestClient_IsSubscribedWildcard(t *testing.T) {
	c := &client{subs: map[string]bool{"ch:*": true}}
	if !c.isSubscribed("ch:trade") {
		t.Error("ch:* should match ch:trade")
	}
	if c.isSubscribed("stream:paper_events") {
		t.Error("ch:* should not match stream:paper_events")
	}
}
