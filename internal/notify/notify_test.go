package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type recordingSender struct {
	mu     sync.Mutex
	name   string
	err    error
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventBackupFailed}, quietLogger())

	if err := n.Notify(context.Background(), EventUsersSaved, "saved", ""); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if err := n.Notify(context.Background(), EventBackupFailed, "failed", ""); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if len(s.titles) != 1 || s.titles[0] != "failed" {
		t.Errorf("titles = %v, want [failed]", s.titles)
	}
}

func TestNotifierContinuesPastFailures(t *testing.T) {
	boom := errors.New("boom")
	bad := &recordingSender{name: "bad", err: boom}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, quietLogger())

	err := n.Notify(context.Background(), EventRestored, "restored", "")
	if !errors.Is(err, boom) {
		t.Errorf("Notify() error = %v, want wrapping boom", err)
	}
	if len(good.titles) != 1 {
		t.Errorf("good sender got %d alerts, want 1", len(good.titles))
	}
}

func TestNotifierWithoutSenders(t *testing.T) {
	var nilNotifier *Notifier
	if nilNotifier.Enabled() {
		t.Error("nil Notifier Enabled() = true")
	}
	if err := nilNotifier.Notify(context.Background(), EventRestored, "x", "y"); err != nil {
		t.Errorf("nil Notify() error = %v", err)
	}
}

func TestDiscordSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := NewDiscordSender(srv.URL).Send(context.Background(), "Backup failed", "s3 down"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got["content"] != "**Backup failed**\ns3 down" {
		t.Errorf("content = %q", got["content"])
	}
}

func TestTelegramSender(t *testing.T) {
	var path string
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL+"/", "TOKEN", "42")
	if err := s.Send(context.Background(), "Users saved", "3 accounts"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if path != "/botTOKEN/sendMessage" {
		t.Errorf("path = %q", path)
	}
	if got["chat_id"] != "42" || got["text"] != "*Users saved*\n3 accounts" {
		t.Errorf("payload = %v", got)
	}
}

func TestSenderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad webhook", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "unexpected status 400") {
		t.Errorf("Send() error = %v, want status 400", err)
	}
}
