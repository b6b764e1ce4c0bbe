package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSender struct {
	mu     sync.Mutex
	name   string
	err    error
	titles []string
}

func (f *fakeSender) Send(_ context.Context, title, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles = append(f.titles, title)
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.titles)
}

func TestNotifierFiltersEvents(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{"degraded_health"}, 0, testLogger())

	if err := n.Notify(context.Background(), "trade_executed", "t", "m"); err != nil {
		t.Fatal(err)
	}
	if err := n.Notify(context.Background(), "degraded_health", "d", "m"); err != nil {
		t.Fatal(err)
	}
	if s.count() != 1 || s.titles[0] != "d" {
		t.Errorf("titles = %v", s.titles)
	}
}

func TestNotifierCooldownSuppressesRepeats(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, nil, time.Minute, testLogger())
	now := time.Unix(1000, 0)
	n.dedup.now = func() time.Time { return now }

	ctx := context.Background()
	_ = n.Notify(ctx, "degraded_health", "feed down", "")
	_ = n.Notify(ctx, "degraded_health", "feed down", "")
	_ = n.Notify(ctx, "degraded_health", "other title", "")
	if s.count() != 2 {
		t.Fatalf("sent = %d, want 2", s.count())
	}

	now = now.Add(time.Minute)
	_ = n.Notify(ctx, "degraded_health", "feed down", "")
	if s.count() != 3 {
		t.Errorf("sent after cooldown = %d, want 3", s.count())
	}
}

func TestNotifierContinuesAfterSenderFailure(t *testing.T) {
	bad := &fakeSender{name: "bad", err: errors.New("down")}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, 0, testLogger())

	err := n.Notify(context.Background(), "x", "t", "m")
	if err == nil || !strings.Contains(err.Error(), "bad") {
		t.Fatalf("err = %v", err)
	}
	if good.count() != 1 {
		t.Error("good sender was skipped")
	}
}

func TestNotifierNoSenders(t *testing.T) {
	n := NewNotifier(nil, nil, 0, testLogger())
	if n.Enabled() {
		t.Error("Enabled with no senders")
	}
	if err := n.Notify(context.Background(), "x", "t", "m"); err != nil {
		t.Fatal(err)
	}
}

func TestDiscordSender(t *testing.T) {
	var got struct {
		Content string `json:"content"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q", r.Header.Get("Content-Type"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	if err := d.Send(context.Background(), "Trade", strings.Repeat("x", 3000)); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(got.Content, "**Trade**\n") {
		t.Errorf("content prefix = %q", got.Content[:20])
	}
	if len(got.Content) != discordMaxContent {
		t.Errorf("content len = %d, want %d", len(got.Content), discordMaxContent)
	}
}

func TestDiscordSenderTruncatesOnCharacters(t *testing.T) {
	var got struct {
		Content string `json:"content"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	msg := strings.Repeat("價格↑", 1500)
	if err := NewDiscordSender(srv.URL).Send(context.Background(), "Trade", msg); err != nil {
		t.Fatal(err)
	}
	if !utf8.ValidString(got.Content) {
		t.Fatal("content is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(got.Content); n != discordMaxContent {
		t.Errorf("content chars = %d, want %d", n, discordMaxContent)
	}
	if !strings.HasSuffix(got.Content, "...") {
		t.Error("truncated content should end with ...")
	}

	short := "**t**\n價格"
	if got := truncateRunes(short, discordMaxContent); got != short {
		t.Errorf("short content changed: %q", got)
	}
}

func TestDiscordSenderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad webhook", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("err = %v", err)
	}
}

func TestTelegramSender(t *testing.T) {
	var (
		mu   sync.Mutex
		sent url.Values
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"arb","username":"arb_bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			_ = r.ParseForm()
			mu.Lock()
			sent = r.PostForm
			mu.Unlock()
			_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s, err := NewTelegramSender("TOKEN", "42", srv.URL+"/bot%s/%s")
	if err != nil {
		t.Fatalf("NewTelegramSender: %v", err)
	}
	if err := s.Send(context.Background(), "DegradedHealth", "all markets unreachable"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if sent.Get("chat_id") != "42" {
		t.Errorf("chat_id = %q", sent.Get("chat_id"))
	}
	if !strings.HasPrefix(sent.Get("text"), "*DegradedHealth*") {
		t.Errorf("text = %q", sent.Get("text"))
	}
}

func TestTelegramSenderBadChatID(t *testing.T) {
	if _, err := NewTelegramSender("TOKEN", "not-a-number", ""); err == nil {
		t.Fatal("expected chat id error")
	}
}
