package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/brightpath/compliance-core/internal/audit"
	"github.com/brightpath/compliance-core/internal/logging"
	"github.com/brightpath/compliance-core/internal/queue"
	"github.com/brightpath/compliance-core/internal/store"
)

// subset of TaskQueue.
type queueService interface {
	Enqueue(taskType string, data interface{}, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// resolves user ids to email addresses.
type EmailLookupFunc func(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error)

// Dispatcher fans compliance events out to humans. It satisfies the audit
// log's Alerter; enqueue failures are logged, never returned, so the audit
// write path cannot be held up by delivery trouble.
type Dispatcher struct {
	queue         queueService
	securityEmail string
	emailLookup   EmailLookupFunc
}

func NewDispatcher(q queueService, securityEmail string, lookup EmailLookupFunc) *Dispatcher {
	return &Dispatcher{
		queue:         q,
		securityEmail: securityEmail,
		emailLookup:   lookup,
	}
}

// SecurityAlert enqueues delivery of a security event notice. Fire and
// forget: the caller already holds the durable copy in the audit store.
func (d *Dispatcher) SecurityAlert(event audit.Event) {
	if d.securityEmail == "" {
		return
	}

	payload := queue.SecurityAlertPayload{
		EventID:  event.ID.String(),
		Action:   event.Action,
		Severity: string(event.Severity),
		To:       d.securityEmail,
	}

	if _, err := d.queue.Enqueue(queue.TypeSecurityAlert, payload, asynq.Queue("critical")); err != nil {
		logging.Error("failed to enqueue security alert", "event_id", event.ID, "error", err)
	}
}

// NotifyConsentExpiring enqueues renewal notices for consents expiring soon.
// Records whose grantor has no email on file are skipped and logged.
func (d *Dispatcher) NotifyConsentExpiring(ctx context.Context, consents []store.Record) error {
	if len(consents) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, 0, len(consents))
	for _, rec := range consents {
		if grantor := store.UUIDPtr(rec, "granted_by"); grantor != nil {
			ids = append(ids, *grantor)
		}
	}

	emails, err := d.emailLookup(ctx, ids)
	if err != nil {
		return fmt.Errorf("resolving grantor emails: %w", err)
	}

	for _, rec := range consents {
		grantor := store.UUIDPtr(rec, "granted_by")
		if grantor == nil {
			continue
		}
		to, ok := emails[*grantor]
		if !ok || to == "" {
			logging.Warn("no email on file for consent grantor", "consent_id", store.UUID(rec, "id"))
			continue
		}

		var expires string
		if t, ok := store.Time(rec, "expiration_date"); ok {
			expires = t.Format(time.RFC1123)
		}
		payload := queue.ConsentExpiringPayload{
			ConsentID: store.UUID(rec, "id").String(),
			SubjectID: store.UUID(rec, "subject_id").String(),
			To:        to,
			ExpiresAt: expires,
		}
		if _, err := d.queue.Enqueue(queue.TypeConsentExpiring, payload); err != nil {
			logging.Error("failed to enqueue consent expiry notice", "consent_id", payload.ConsentID, "error", err)
		}
	}
	return nil
}

// NewEmailLookupFunc resolves ids through the user store.
func NewEmailLookupFunc(st store.Store) EmailLookupFunc {
	return func(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
		result := make(map[uuid.UUID]string, len(ids))
		for _, id := range ids {
			user, err := st.Get(ctx, store.Users, id)
			if err != nil {
				continue
			}
			if email := store.String(user, "email"); email != "" {
				result[id] = email
			}
		}
		return result, nil
	}
}
