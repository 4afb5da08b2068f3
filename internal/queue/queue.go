package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/brightpath/compliance-core/internal/config"
	"github.com/brightpath/compliance-core/internal/logging"
)

type TaskQueue struct {
	client *asynq.Client
}

func NewQueue(cfg *config.RedisConfig) (*TaskQueue, error) {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Activate and test the connection
	if err := client.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis queue: %w", err)
	}

	logging.Info("Connected to Redis task queue")

	return &TaskQueue{client: client}, nil
}

func (q *TaskQueue) Enqueue(taskType string, data interface{}, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}

	task := asynq.NewTask(taskType, payload)

	t, err := q.client.Enqueue(task, opts...)

	return t, err
}

func (q *TaskQueue) Close() error {
	return q.client.Close()
}

const (
	TypeSecurityAlert   = "alert:security"
	TypeConsentExpiring = "consent:expiring"
	TypeExportDeliver   = "export:deliver"
)

// SecurityAlertPayload references the audit event by id; the event body stays
// in the audit store and is never serialized onto the wire twice.
type SecurityAlertPayload struct {
	EventID  string
	Action   string
	Severity string
	To       string
}

type ConsentExpiringPayload struct {
	ConsentID string
	SubjectID string
	To        string
	ExpiresAt string
}

type ExportDeliverPayload struct {
	SubjectID   string
	RequestedBy string
	KeyPrefix   string
}

// Emailer is the delivery surface workers need; SESService satisfies it.
type Emailer interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// Exporter runs a subject export; the retention scheduler satisfies it
// through the container.
type Exporter interface {
	RunExport(ctx context.Context, payload ExportDeliverPayload) error
}

type Worker struct {
	server   *asynq.Server
	emailer  Emailer
	exporter Exporter
}

func NewWorker(cfg *config.RedisConfig, emailer Emailer, exporter Exporter) *Worker {
	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logging.Error("process task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	return &Worker{
		server:   server,
		emailer:  emailer,
		exporter: exporter,
	}
}

func (w *Worker) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeSecurityAlert, w.HandleSecurityAlert)
	mux.HandleFunc(TypeConsentExpiring, w.HandleConsentExpiring)
	mux.HandleFunc(TypeExportDeliver, w.HandleExportDeliver)

	return w.server.Start(mux)
}

func (w *Worker) Close() {
	if w.server != nil {
		w.server.Shutdown()
	}
}

func (w *Worker) HandleSecurityAlert(ctx context.Context, t *asynq.Task) error {
	var p SecurityAlertPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	subject := fmt.Sprintf("[security] %s (%s)", p.Action, p.Severity)
	body := fmt.Sprintf("A security event was recorded.\n\nAction: %s\nSeverity: %s\nAudit event: %s\n", p.Action, p.Severity, p.EventID)

	logging.Info("Sending security alert", "event_id", p.EventID, "to", p.To)
	if err := w.emailer.SendEmail(ctx, p.To, subject, body); err != nil {
		return fmt.Errorf("emailer.SendEmail failed: %w", err)
	}

	return nil
}

func (w *Worker) HandleConsentExpiring(ctx context.Context, t *asynq.Task) error {
	var p ConsentExpiringPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	subject := "Consent renewal needed"
	body := fmt.Sprintf("A consent record on file expires %s. Please renew it to avoid interruption.\nReference: %s\n", p.ExpiresAt, p.ConsentID)

	logging.Info("Sending consent expiry notice", "consent_id", p.ConsentID, "to", p.To)
	if err := w.emailer.SendEmail(ctx, p.To, subject, body); err != nil {
		return fmt.Errorf("emailer.SendEmail failed: %w", err)
	}

	return nil
}

func (w *Worker) HandleExportDeliver(ctx context.Context, t *asynq.Task) error {
	var p ExportDeliverPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	logging.Info("Running subject data export", "subject_id", p.SubjectID)
	if err := w.exporter.RunExport(ctx, p); err != nil {
		return fmt.Errorf("exporter.RunExport failed: %w", err)
	}

	return nil
}
