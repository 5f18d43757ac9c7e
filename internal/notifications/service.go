package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"therapybridge/internal/config"
)

const (
	userAgent      = "TherapyBridge/0.1.0"
	defaultNtfyURL = "https://ntfy.sh/"
)

// Event names a pipeline milestone.
type Event string

const (
	EventAnalysisStarted   Event = "analysis_started"
	EventAnalysisCompleted Event = "analysis_completed"
	EventAnalysisFailed    Event = "analysis_failed"
	EventAnalysisStopped   Event = "analysis_stopped"
	EventTest              Event = "test"
)

// Payload carries event-specific values keyed by name.
type Payload map[string]any

// Service publishes pipeline events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	if !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		topic = defaultNtfyURL + strings.TrimPrefix(topic, "/")
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:   topic,
		client:     &http.Client{Timeout: timeout},
		completion: cfg.Notifications.Completion,
		errors:     cfg.Notifications.Errors,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint   string
	client     *http.Client
	completion bool
	errors     bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := n.format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) format(event Event, payload Payload) (message, bool) {
	patient := payload.text("patientID")
	switch event {
	case EventAnalysisCompleted:
		if !n.completion {
			return message{}, false
		}
		body := fmt.Sprintf("✅ Analysis complete for %s: %d/%d sessions", patient, payload.integer("wave2Complete"), payload.integer("total"))
		if d, ok := payload["duration"].(time.Duration); ok && d > 0 {
			body = fmt.Sprintf("%s in %s", body, d.Round(time.Second))
		}
		return message{
			title: "TherapyBridge - Analysis Complete",
			body:  body,
			tags:  []string{"therapybridge", "analysis", "completed"},
		}, true
	case EventAnalysisFailed:
		if !n.errors {
			return message{}, false
		}
		var builder strings.Builder
		builder.WriteString("❌ Analysis failed for ")
		builder.WriteString(patient)
		if step := payload.text("step"); step != "" {
			builder.WriteString(" during ")
			builder.WriteString(step)
		}
		if errText := payload.text("error"); errText != "" {
			builder.WriteString(": ")
			builder.WriteString(errText)
		}
		return message{
			title:    "TherapyBridge - Error",
			body:     builder.String(),
			tags:     []string{"therapybridge", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "TherapyBridge - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"therapybridge", "test"},
			priority: "low",
		}, true
	default:
		// Starts and stops are user-initiated and not worth a push.
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (p Payload) text(key string) string {
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case error:
		return v.Error()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (p Payload) integer(key string) int {
	if v, ok := p[key].(int); ok {
		return v
	}
	return 0
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
