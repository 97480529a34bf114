package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	sonic "github.com/bytedance/sonic"

	"github.com/timba-app/livescores/internal/domain/event"
	"github.com/timba-app/livescores/internal/platform/logging"
)

func sampleGoal() event.Event {
	minute := 23
	return event.Event{
		ID:          12,
		Kind:        event.KindGoalHome,
		MatchID:     451234,
		Competition: "PL",
		HomeTeam:    "Arsenal",
		AwayTeam:    "Chelsea",
		HomeScore:   1,
		Minute:      &minute,
		Status:      "LIVE",
		OccurredAt:  time.Date(2026, 3, 7, 15, 23, 0, 0, time.UTC),
	}
}

func TestWebhookSubscriber_DeliversEvent(t *testing.T) {
	t.Parallel()

	var gotSecret atomic.Value
	received := make(chan event.Event, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSecret.Store(r.Header.Get("X-Webhook-Secret"))
		raw, _ := io.ReadAll(r.Body)
		var evt event.Event
		if err := sonic.Unmarshal(raw, &evt); err != nil {
			t.Errorf("decode webhook body: %v", err)
		}
		received <- evt
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sub, err := NewWebhookSubscriber(WebhookConfig{URL: server.URL, Secret: "hush"}, logging.NewNop())
	if err != nil {
		t.Fatalf("NewWebhookSubscriber: %v", err)
	}

	if err := sub.Notify(context.Background(), sampleGoal()); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if gotSecret.Load() != "hush" {
		t.Fatalf("secret header = %v, want hush", gotSecret.Load())
	}
	evt := <-received
	if evt.Kind != event.KindGoalHome || evt.MatchID != 451234 {
		t.Fatalf("unexpected delivered event: %+v", evt)
	}
}

func TestWebhookSubscriber_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sub, err := NewWebhookSubscriber(WebhookConfig{URL: server.URL, Retries: 2}, logging.NewNop())
	if err != nil {
		t.Fatalf("NewWebhookSubscriber: %v", err)
	}

	if err := sub.Notify(context.Background(), sampleGoal()); err != nil {
		t.Fatalf("expected delivery after retry, got %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestWebhookSubscriber_ClientErrorsDoNotRetry(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	sub, err := NewWebhookSubscriber(WebhookConfig{URL: server.URL, Retries: 3}, logging.NewNop())
	if err != nil {
		t.Fatalf("NewWebhookSubscriber: %v", err)
	}

	if err := sub.Notify(context.Background(), sampleGoal()); err == nil {
		t.Fatal("expected error for 400 response")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("client error should not retry, got %d attempts", got)
	}
}

func TestNewWebhookSubscriber_RejectsBadURL(t *testing.T) {
	t.Parallel()

	cases := []string{"", "ftp://example.com/hook", "://broken"}
	for _, raw := range cases {
		if _, err := NewWebhookSubscriber(WebhookConfig{URL: raw}, logging.NewNop()); err == nil {
			t.Fatalf("expected error for URL %q", raw)
		}
	}
}
