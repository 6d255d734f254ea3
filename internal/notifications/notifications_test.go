package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/slack-go/slack"

	"github.com/qualys/piiflow/internal/analysis"
	"github.com/qualys/piiflow/internal/models"
)

func newWebhook(t *testing.T, status int) (*httptest.Server, chan slack.WebhookMessage) {
	t.Helper()
	received := make(chan slack.WebhookMessage, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg slack.WebhookMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Errorf("decode webhook: %v", err)
		}
		received <- msg
		w.WriteHeader(status)
		w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)
	return srv, received
}

func TestAnalysisFinished(t *testing.T) {
	tests := []struct {
		name  string
		state analysis.State
		title string
		color string
	}{
		{"success", analysis.StateSucceeded, "Analysis Completed", "#36A64F"},
		{"failure", analysis.StateFailed, "Analysis Failed", "#FF0000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, received := newWebhook(t, http.StatusOK)
			svc := NewService(Config{Slack: SlackConfig{WebhookURL: srv.URL, Channel: "#pii", Enabled: true}}, nil)

			err := svc.AnalysisFinished(context.Background(), analysis.Event{
				SessionID:   "s1",
				State:       tt.state,
				ProcessType: models.ProcessClassification,
				Location:    models.LocationLocal,
				Files:       2,
				Message:     "model offline",
				Duration:    3 * time.Second,
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			msg := <-received
			if msg.Channel != "#pii" || len(msg.Attachments) != 1 {
				t.Fatalf("unexpected message %+v", msg)
			}
			att := msg.Attachments[0]
			if att.Title != tt.title || att.Color != tt.color {
				t.Errorf("unexpected attachment %+v", att)
			}
			if tt.state == analysis.StateFailed && !strings.Contains(att.Text, "model offline") {
				t.Errorf("failure text should carry the error, got %q", att.Text)
			}
			if len(att.Fields) != 3 {
				t.Errorf("expected 3 fields, got %d", len(att.Fields))
			}
		})
	}
}

func TestAnalysisFinished_OnlyFailures(t *testing.T) {
	srv, received := newWebhook(t, http.StatusOK)
	svc := NewService(Config{Slack: SlackConfig{WebhookURL: srv.URL, Enabled: true, OnlyFailures: true}}, nil)

	if err := svc.AnalysisFinished(context.Background(), analysis.Event{State: analysis.StateSucceeded}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case msg := <-received:
		t.Errorf("success should not be sent, got %+v", msg)
	default:
	}
}

func TestSend_Disabled(t *testing.T) {
	svc := NewService(Config{}, nil)
	if svc.Enabled() {
		t.Error("service without webhook should be disabled")
	}
	if err := svc.Send(context.Background(), &Notification{Title: "x"}); err != nil {
		t.Errorf("disabled send should be a no-op, got %v", err)
	}
}

func TestSend_WebhookError(t *testing.T) {
	srv, _ := newWebhook(t, http.StatusInternalServerError)
	svc := NewService(Config{Slack: SlackConfig{WebhookURL: srv.URL, Enabled: true}}, nil)
	if err := svc.Send(context.Background(), &Notification{Type: NotifyAnalysisFailed, Title: "x"}); err == nil {
		t.Error("expected error for failed webhook")
	}
}
