package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/slack-go/slack"

	"github.com/qualys/piiflow/internal/analysis"
	"github.com/qualys/piiflow/internal/models"
)

// NotificationType defines the type of notification
type NotificationType string

const (
	NotifyAnalysisComplete NotificationType = "analysis_complete"
	NotifyAnalysisFailed   NotificationType = "analysis_failed"
)

// Notification represents a notification to be sent
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Fields    []Field
	Timestamp time.Time
}

// Field is a short labelled value shown with a notification.
type Field struct {
	Title string
	Value string
}

// Config holds notification configuration
type Config struct {
	Slack SlackConfig
}

// SlackConfig holds Slack configuration
type SlackConfig struct {
	WebhookURL string
	Channel    string
	Username   string
	IconEmoji  string
	Enabled    bool
	// OnlyFailures suppresses notifications for successful runs.
	OnlyFailures bool
}

// Service sends analysis notifications to Slack.
type Service struct {
	config Config
	logger *slog.Logger
	client *http.Client
}

// NewService creates a new notification service
func NewService(config Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		config: config,
		logger: logger,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether any channel is configured.
func (s *Service) Enabled() bool {
	return s.config.Slack.Enabled && s.config.Slack.WebhookURL != ""
}

// Send sends a notification to all enabled channels
func (s *Service) Send(ctx context.Context, notif *Notification) error {
	if !s.Enabled() {
		return nil
	}
	if err := s.sendSlack(ctx, notif); err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	return nil
}

func (s *Service) sendSlack(ctx context.Context, notif *Notification) error {
	fields := make([]slack.AttachmentField, 0, len(notif.Fields))
	for _, f := range notif.Fields {
		fields = append(fields, slack.AttachmentField{Title: f.Title, Value: f.Value, Short: true})
	}

	msg := &slack.WebhookMessage{
		Channel:   s.config.Slack.Channel,
		Username:  s.config.Slack.Username,
		IconEmoji: s.config.Slack.IconEmoji,
		Attachments: []slack.Attachment{
			{
				Color:    typeToColor(notif.Type),
				Title:    notif.Title,
				Text:     notif.Message,
				Fallback: fmt.Sprintf("%s: %s", notif.Title, notif.Message),
				Fields:   fields,
				Footer:   "piiflow",
				Ts:       json.Number(strconv.FormatInt(notif.Timestamp.Unix(), 10)),
			},
		},
	}

	if err := slack.PostWebhookCustomHTTPContext(ctx, s.config.Slack.WebhookURL, s.client, msg); err != nil {
		return err
	}

	s.logger.Info("slack notification sent",
		"type", notif.Type,
		"title", notif.Title)

	return nil
}

func typeToColor(t NotificationType) string {
	if t == NotifyAnalysisFailed {
		return "#FF0000"
	}
	return "#36A64F"
}

func processLabel(pt models.ProcessType) string {
	if pt == models.ProcessTablesExtraction {
		return "Table extraction"
	}
	return "Classification"
}

// AnalysisFinished reports a completed or failed analysis run.
func (s *Service) AnalysisFinished(ctx context.Context, e analysis.Event) error {
	notif := &Notification{
		Type:    NotifyAnalysisComplete,
		Title:   "Analysis Completed",
		Message: fmt.Sprintf("%s of %d file(s) finished in %s", processLabel(e.ProcessType), e.Files, e.Duration.Round(time.Millisecond)),
		Fields: []Field{
			{Title: "Session", Value: e.SessionID},
			{Title: "Location", Value: string(e.Location)},
			{Title: "Files", Value: strconv.Itoa(e.Files)},
		},
		Timestamp: time.Now(),
	}

	if e.State == analysis.StateFailed {
		notif.Type = NotifyAnalysisFailed
		notif.Title = "Analysis Failed"
		notif.Message = fmt.Sprintf("%s of %d file(s) failed: %s", processLabel(e.ProcessType), e.Files, e.Message)
	} else if s.config.Slack.OnlyFailures {
		return nil
	}

	return s.Send(ctx, notif)
}
