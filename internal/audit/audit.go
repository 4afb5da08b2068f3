package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brightpath/compliance-core/internal/logging"
	"github.com/brightpath/compliance-core/internal/store"
)

type Category string

const (
	CategoryDataAccess       Category = "data_access"
	CategoryDataModification Category = "data_modification"
	CategoryAuthorization    Category = "authorization"
	CategoryConsent          Category = "consent"
	CategorySecurity         Category = "security"
	CategoryRetention        Category = "retention"
	CategoryRoleChange       Category = "role_change"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusDenied  Status = "denied"
)

// Event is append-only once flushed. The id is assigned at creation, not at
// flush, so duplicate delivery after a crash resolves by primary key.
type Event struct {
	ID            uuid.UUID
	Timestamp     time.Time
	Category      Category
	Severity      Severity
	Status        Status
	ActorID       uuid.UUID
	ActorRole     string
	SessionID     string
	Action        string
	Resource      string
	ResourceID    *uuid.UUID
	BeforeState   map[string]any
	AfterState    map[string]any
	ChangedFields []string
	FERPARelevant bool
	COPPARelevant bool
	PIIAccessed   bool
	Metadata      map[string]any
}

// Alerter receives security-severity events out of band. Implementations must
// not block; failures are the alerter's problem, never the audit write's.
type Alerter interface {
	SecurityAlert(event Event)
}

type Config struct {
	FlushSize     int
	FlushInterval time.Duration
	TamperSkewMax time.Duration
}

func (c *Config) applyDefaults() {
	if c.FlushSize <= 0 {
		c.FlushSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.TamperSkewMax <= 0 {
		c.TamperSkewMax = 60 * time.Second
	}
}

// Log buffers events in memory and flushes them to the store on a size
// threshold, a timer tick, or immediately for critical severity. The buffer
// is the only shared mutable state; mu is its single exclusion boundary.
type Log struct {
	store   store.Store
	cfg     Config
	alerter Alerter
	now     func() time.Time

	mu  sync.Mutex
	buf []Event

	flushCh chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func New(st store.Store, cfg Config, alerter Alerter) *Log {
	cfg.applyDefaults()
	l := &Log{
		store:   st,
		cfg:     cfg,
		alerter: alerter,
		now:     time.Now,
		flushCh: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go l.run()
	return l
}

// WithClock overrides the log clock, for tests.
func (l *Log) WithClock(now func() time.Time) *Log {
	l.now = now
	return l
}

// Log appends the event to the buffer and returns its id without waiting for
// durability. Critical-severity events bypass batching via an immediate flush
// signal; security events additionally fan out to the alerter, fire and
// forget. The event stays buffered even if the caller's context is cancelled:
// audit durability outlives the triggering decision.
func (l *Log) Log(ctx context.Context, e Event) uuid.UUID {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}

	l.mu.Lock()
	l.buf = append(l.buf, e)
	full := len(l.buf) >= l.cfg.FlushSize
	l.mu.Unlock()

	if full || e.Severity == SeverityCritical {
		l.signalFlush()
	}

	if e.Category == CategorySecurity && l.alerter != nil {
		go l.alerter.SecurityAlert(e)
	}

	return e.ID
}

func (l *Log) signalFlush() {
	select {
	case l.flushCh <- struct{}{}:
	default:
	}
}

func (l *Log) run() {
	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := l.flush(context.Background()); err != nil {
				logging.Error("audit flush failed, batch re-buffered", "error", err)
			}
		case <-l.flushCh:
			if err := l.flush(context.Background()); err != nil {
				logging.Error("audit flush failed, batch re-buffered", "error", err)
			}
		case <-l.stopCh:
			if err := l.flush(context.Background()); err != nil {
				logging.Error("final audit flush failed", "error", err)
			}
			close(l.doneCh)
			return
		}
	}
}

// flush drains the buffer and writes the batch in append order. On any write
// failure the whole batch goes back to the front of the buffer for the next
// tick: at-least-once delivery, duplicates resolved by the pre-assigned id.
func (l *Log) flush(ctx context.Context) error {
	l.mu.Lock()
	batch := l.buf
	l.buf = nil
	l.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	insertedAt := l.now()
	for _, e := range batch {
		if err := l.store.Upsert(ctx, store.AuditEvents, eventRecord(e, insertedAt)); err != nil {
			l.mu.Lock()
			l.buf = append(append([]Event(nil), batch...), l.buf...)
			l.mu.Unlock()
			return fmt.Errorf("writing audit event %s: %w", e.ID, err)
		}
	}
	return nil
}

// Flush forces a synchronous flush of everything buffered so far.
func (l *Log) Flush(ctx context.Context) error {
	return l.flush(ctx)
}

// Pending returns the number of buffered, not-yet-durable events.
func (l *Log) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buf)
}

// Close drains the buffer and stops the background flusher. Safe to call once.
func (l *Log) Close(ctx context.Context) error {
	close(l.stopCh)
	select {
	case <-l.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	// the run loop's final flush may itself have failed and re-buffered
	return l.flush(ctx)
}

// QueryFilter narrows a Query. Zero values mean "any".
type QueryFilter struct {
	ActorID    *uuid.UUID
	ResourceID *uuid.UUID
	Category   Category
	Severity   Severity
	Status     Status
	Since      *time.Time
	Until      *time.Time
	Limit      int64
	Offset     int64
}

// Query reads durable events only; buffered events are not visible until
// flushed.
func (l *Log) Query(ctx context.Context, f QueryFilter) ([]Event, error) {
	filter := store.Filter{}
	if f.ActorID != nil {
		filter = append(filter, store.Eq("actor_id", *f.ActorID))
	}
	if f.ResourceID != nil {
		filter = append(filter, store.Eq("resource_id", *f.ResourceID))
	}
	if f.Category != "" {
		filter = append(filter, store.Eq("category", string(f.Category)))
	}
	if f.Severity != "" {
		filter = append(filter, store.Eq("severity", string(f.Severity)))
	}
	if f.Status != "" {
		filter = append(filter, store.Eq("status", string(f.Status)))
	}
	if f.Since != nil {
		filter = append(filter, store.Gte("timestamp", *f.Since))
	}
	if f.Until != nil {
		filter = append(filter, store.Lte("timestamp", *f.Until))
	}

	opts := []store.ListOption{store.OrderBy("timestamp", true)}
	if f.Limit > 0 {
		opts = append(opts, store.Limit(f.Limit))
	}
	if f.Offset > 0 {
		opts = append(opts, store.Offset(f.Offset))
	}

	recs, err := l.store.List(ctx, store.AuditEvents, filter, opts...)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}

	events := make([]Event, 0, len(recs))
	for _, rec := range recs {
		events = append(events, eventFromRecord(rec))
	}
	return events, nil
}

func eventRecord(e Event, insertedAt time.Time) store.Record {
	rec := store.Record{
		"id":             e.ID,
		"timestamp":      e.Timestamp,
		"inserted_at":    insertedAt,
		"category":       string(e.Category),
		"severity":       string(e.Severity),
		"status":         string(e.Status),
		"actor_id":       e.ActorID,
		"actor_role":     e.ActorRole,
		"session_id":     e.SessionID,
		"action":         e.Action,
		"resource":       e.Resource,
		"resource_id":    nil,
		"before_state":   e.BeforeState,
		"after_state":    e.AfterState,
		"changed_fields": e.ChangedFields,
		"ferpa_relevant": e.FERPARelevant,
		"coppa_relevant": e.COPPARelevant,
		"pii_accessed":   e.PIIAccessed,
		"metadata":       e.Metadata,
	}
	if e.ResourceID != nil {
		rec["resource_id"] = *e.ResourceID
	}
	return rec
}

func eventFromRecord(rec store.Record) Event {
	e := Event{
		ID:            store.UUID(rec, "id"),
		Category:      Category(store.String(rec, "category")),
		Severity:      Severity(store.String(rec, "severity")),
		Status:        Status(store.String(rec, "status")),
		ActorID:       store.UUID(rec, "actor_id"),
		ActorRole:     store.String(rec, "actor_role"),
		SessionID:     store.String(rec, "session_id"),
		Action:        store.String(rec, "action"),
		Resource:      store.String(rec, "resource"),
		ResourceID:    store.UUIDPtr(rec, "resource_id"),
		BeforeState:   store.Map(rec, "before_state"),
		AfterState:    store.Map(rec, "after_state"),
		ChangedFields: store.Strings(rec, "changed_fields"),
		FERPARelevant: store.Bool(rec, "ferpa_relevant"),
		COPPARelevant: store.Bool(rec, "coppa_relevant"),
		PIIAccessed:   store.Bool(rec, "pii_accessed"),
		Metadata:      store.Map(rec, "metadata"),
	}
	if ts, ok := store.Time(rec, "timestamp"); ok {
		e.Timestamp = ts
	}
	return e
}
