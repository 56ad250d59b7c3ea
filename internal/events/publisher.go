// Package events publishes job lifecycle notifications to NATS JetStream so
// downstream systems (delivery, archival, dashboards) can react to finished
// books without polling the API.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/bookbinder/internal/config"
	"git.home.luguber.info/inful/bookbinder/internal/job"
)

// JobEvent is the wire form of a published lifecycle notification.
type JobEvent struct {
	Event      string    `json:"event"` // claimed|done|failed
	JobID      string    `json:"job_id"`
	BookID     string    `json:"book_id"`
	CustomerID string    `json:"customer_id"`
	Period     string    `json:"period"`
	WorkerID   string    `json:"worker_id,omitempty"`
	OutputRef  string    `json:"output_ref,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	ErrorMsg   string    `json:"error_msg,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher emits job lifecycle events to a JetStream subject. It implements
// the queue's EventEmitter; publish failures are logged and swallowed, a
// broker outage must never change a job outcome.
type Publisher struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	subject string
}

// NewPublisher connects to NATS and prepares the JetStream context.
func NewPublisher(cfg config.EventsConfig) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("event publishing is disabled")
	}

	conn, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	slog.Info("NATS publisher initialized", "url", cfg.NATSURL, "subject", cfg.Subject)
	return &Publisher{conn: conn, js: js, subject: cfg.Subject}, nil
}

func (p *Publisher) EmitClaimed(ctx context.Context, j *job.Job, workerID string) {
	p.publish(ctx, JobEvent{
		Event:    "claimed",
		WorkerID: workerID,
	}, j)
}

func (p *Publisher) EmitDone(ctx context.Context, j *job.Job, outputRef string, duration time.Duration) {
	p.publish(ctx, JobEvent{
		Event:      "done",
		OutputRef:  outputRef,
		DurationMS: duration.Milliseconds(),
	}, j)
}

func (p *Publisher) EmitFailed(ctx context.Context, j *job.Job, detail job.ErrorDetail, duration time.Duration) {
	p.publish(ctx, JobEvent{
		Event:      "failed",
		ErrorKind:  string(detail.Kind),
		ErrorMsg:   detail.Message,
		DurationMS: duration.Milliseconds(),
	}, j)
}

func (p *Publisher) publish(ctx context.Context, ev JobEvent, j *job.Job) {
	ev.JobID = j.ID
	ev.BookID = j.BookID
	ev.CustomerID = j.CustomerID
	ev.Period = j.Period.String()
	ev.Timestamp = time.Now()

	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("Marshaling job event failed", "job_id", j.ID, "event", ev.Event, "err", err)
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := p.js.Publish(pubCtx, p.subject, data); err != nil {
		slog.Warn("Publishing job event failed",
			"job_id", j.ID, "event", ev.Event, "subject", p.subject, "err", err)
		return
	}
	slog.Debug("Published job event", "job_id", j.ID, "event", ev.Event, "subject", p.subject)
}

// Close closes the NATS connection.
func (p *Publisher) Close() error {
	if p.conn != nil {
		p.conn.Close()
	}
	return nil
}
