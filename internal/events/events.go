// Package events publishes analysis progress events to an optional broker.
//
// Events are a push channel for external consumers only. Nothing in this
// repository reads them back: status is always derived from the store.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"therapybridge/internal/config"
	"therapybridge/internal/logging"
)

// Type names an event.
type Type string

const (
	JobStarted        Type = "job.started"
	JobFinished       Type = "job.finished"
	WaveStarted       Type = "wave.started"
	WaveFinished      Type = "wave.finished"
	AnalyzerSucceeded Type = "analyzer.succeeded"
	AnalyzerFailed    Type = "analyzer.failed"
)

// Event is one progress notification.
type Event struct {
	Type      Type      `json:"type"`
	PatientID string    `json:"patient_id"`
	JobID     string    `json:"job_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Wave      int       `json:"wave,omitempty"`
	Analyzer  string    `json:"analyzer,omitempty"`
	State     string    `json:"state,omitempty"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

// Publisher delivers events. Publish failures never affect analysis.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Noop discards events.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(context.Context, Event) error { return nil }

// Close implements Publisher.
func (Noop) Close() error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Close implements Publisher.
func (r *Recorder) Close() error { return nil }

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// AMQP publishes events to a durable topic exchange. Routing keys are the
// event type prefixed with the patient id, e.g. "<patient>.wave.finished".
type AMQP struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// DialAMQP connects to the broker and declares the exchange.
func DialAMQP(url, exchange string) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("amqp declare exchange %q: %w", exchange, err)
	}
	return &AMQP{conn: conn, channel: ch, exchange: exchange}, nil
}

// Publish implements Publisher.
func (p *AMQP) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.Publish(p.exchange, RoutingKey(event), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.Time,
		Type:         string(event.Type),
		Body:         body,
	})
}

// Close implements Publisher.
func (p *AMQP) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// RoutingKey returns the topic routing key for an event.
func RoutingKey(event Event) string {
	patient := event.PatientID
	if patient == "" {
		patient = "unknown"
	}
	return patient + "." + string(event.Type)
}

// NewFromConfig returns an AMQP publisher when events.amqp_url is set and a
// Noop otherwise. A broker that cannot be reached degrades to Noop with a warning.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) Publisher {
	if cfg == nil || cfg.Events.AMQPURL == "" {
		return Noop{}
	}
	pub, err := DialAMQP(cfg.Events.AMQPURL, cfg.Events.Exchange)
	if err != nil {
		if logger != nil {
			logger.Warn("event broker unavailable; progress events disabled",
				logging.Error(err),
				logging.String(logging.FieldEventType, "events_disabled"),
				logging.String(logging.FieldErrorHint, "check events.amqp_url"),
			)
		}
		return Noop{}
	}
	return pub
}

// Safe publishes and logs instead of returning failures.
func Safe(ctx context.Context, pub Publisher, logger *slog.Logger, event Event) {
	if pub == nil {
		return
	}
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	if err := pub.Publish(ctx, event); err != nil && logger != nil {
		logger.Debug("publish event failed", logging.String("type", string(event.Type)), logging.Error(err))
	}
}
