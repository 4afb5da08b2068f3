package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/brightpath/compliance-core/internal/audit"
	"github.com/brightpath/compliance-core/internal/logging"
	"github.com/brightpath/compliance-core/internal/store"
)

type DeletionReason string

const (
	ReasonUserRequest     DeletionReason = "user_request"
	ReasonRetentionExpiry DeletionReason = "retention_expiry"
	ReasonCOPPARevocation DeletionReason = "coppa_revocation"
	ReasonAdminAction     DeletionReason = "admin_action"
)

type ScheduleStatus string

const (
	StatusScheduled  ScheduleStatus = "scheduled"
	StatusInProgress ScheduleStatus = "in_progress"
	StatusCompleted  ScheduleStatus = "completed"
	StatusFailed     ScheduleStatus = "failed"
	StatusCancelled  ScheduleStatus = "cancelled"
)

var ErrUnknownCategory = errors.New("unknown data category")

type DeletionSchedule struct {
	ID            uuid.UUID
	SubjectID     *uuid.UUID
	DataCategory  string
	ScheduledDate time.Time
	Status        ScheduleStatus
	Reason        DeletionReason
	RequestedBy   uuid.UUID
	ItemsDeleted  int64
	Errors        string
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

type ExecutionSummary struct {
	Processed    int
	Completed    int
	Failed       int
	ItemsDeleted int64
}

type EnforcementSummary struct {
	PoliciesScanned int
	ExpiredCounts   map[string]int64
	Scheduled       []uuid.UUID
}

// Scheduler drives policy-based and on-demand deletion, anonymization, and
// export. Its entry points are idempotent and re-invocable; the periodic
// trigger lives outside this package.
type Scheduler struct {
	store             store.Store
	audit             *audit.Log
	policies          []Policy
	approvalGraceDays int
	now               func() time.Time
}

func NewScheduler(st store.Store, auditLog *audit.Log, policies []Policy, approvalGraceDays int) *Scheduler {
	if approvalGraceDays <= 0 {
		approvalGraceDays = 30
	}
	return &Scheduler{
		store:             st,
		audit:             auditLog,
		policies:          policies,
		approvalGraceDays: approvalGraceDays,
		now:               time.Now,
	}
}

// WithClock overrides the scheduler clock, for tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// ScheduleDeletion creates a deletion schedule daysUntil days out.
func (s *Scheduler) ScheduleDeletion(ctx context.Context, category string, subjectID *uuid.UUID, reason DeletionReason, requestedBy uuid.UUID, daysUntil int) (DeletionSchedule, error) {
	if _, ok := collectionFor(category); !ok {
		return DeletionSchedule{}, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}

	now := s.now()
	sched := DeletionSchedule{
		ID:            uuid.New(),
		SubjectID:     subjectID,
		DataCategory:  category,
		ScheduledDate: now.AddDate(0, 0, daysUntil),
		Status:        StatusScheduled,
		Reason:        reason,
		RequestedBy:   requestedBy,
		CreatedAt:     now,
	}

	if err := s.store.Insert(ctx, store.DeletionSchedules, scheduleToStore(sched)); err != nil {
		return DeletionSchedule{}, fmt.Errorf("storing deletion schedule: %w", err)
	}

	s.auditEvent(ctx, audit.Event{
		Category:   audit.CategoryRetention,
		Status:     audit.StatusSuccess,
		ActorID:    requestedBy,
		Action:     "schedule_deletion",
		Resource:   "deletion_schedule",
		ResourceID: &sched.ID,
		Metadata: map[string]any{
			"data_category": category,
			"reason":        string(reason),
			"days_until":    daysUntil,
		},
	})
	return sched, nil
}

// CancelSchedule moves a pending schedule to cancelled. Terminal schedules
// are left untouched.
func (s *Scheduler) CancelSchedule(ctx context.Context, scheduleID, requestedBy uuid.UUID) error {
	rec, err := s.store.Get(ctx, store.DeletionSchedules, scheduleID)
	if err != nil {
		return fmt.Errorf("loading schedule %s: %w", scheduleID, err)
	}
	if ScheduleStatus(store.String(rec, "status")) != StatusScheduled {
		return fmt.Errorf("schedule %s is not pending", scheduleID)
	}

	err = s.store.Update(ctx, store.DeletionSchedules, scheduleID, store.Record{"status": string(StatusCancelled)})
	if err != nil {
		return fmt.Errorf("cancelling schedule %s: %w", scheduleID, err)
	}

	s.auditEvent(ctx, audit.Event{
		Category:   audit.CategoryRetention,
		Status:     audit.StatusSuccess,
		ActorID:    requestedBy,
		Action:     "cancel_deletion_schedule",
		Resource:   "deletion_schedule",
		ResourceID: &scheduleID,
	})
	return nil
}

// ExecuteScheduledDeletions picks up every due schedule, transitions it to
// in_progress, performs the category delete, and records the terminal state.
// Schedules are processed sequentially and independently: one failure marks
// that schedule failed and the batch continues. The delete itself only
// touches records not already deleted, so re-running after a crash cannot
// double-count.
func (s *Scheduler) ExecuteScheduledDeletions(ctx context.Context) (ExecutionSummary, error) {
	now := s.now()
	due, err := s.store.List(ctx, store.DeletionSchedules, store.Filter{
		store.Eq("status", string(StatusScheduled)),
		store.Lte("scheduled_date", now),
	}, store.OrderBy("scheduled_date", false))
	if err != nil {
		return ExecutionSummary{}, fmt.Errorf("listing due schedules: %w", err)
	}

	var summary ExecutionSummary
	for _, rec := range due {
		sched := scheduleFromStore(rec)
		summary.Processed++

		if err := s.store.Update(ctx, store.DeletionSchedules, sched.ID, store.Record{"status": string(StatusInProgress)}); err != nil {
			logging.Error("failed to claim deletion schedule", "schedule_id", sched.ID, "error", err)
			summary.Failed++
			continue
		}

		deleted, err := s.performDeletion(ctx, sched)
		completedAt := s.now()
		if err != nil {
			summary.Failed++
			updateErr := s.store.Update(ctx, store.DeletionSchedules, sched.ID, store.Record{
				"status": string(StatusFailed),
				"errors": err.Error(),
			})
			if updateErr != nil {
				logging.Error("failed to record schedule failure", "schedule_id", sched.ID, "error", updateErr)
			}
			s.auditEvent(ctx, audit.Event{
				Category:   audit.CategoryRetention,
				Severity:   audit.SeverityError,
				Status:     audit.StatusFailure,
				ActorID:    sched.RequestedBy,
				Action:     "execute_deletion",
				Resource:   "deletion_schedule",
				ResourceID: &sched.ID,
				Metadata:   map[string]any{"error": err.Error()},
			})
			continue
		}

		summary.Completed++
		summary.ItemsDeleted += deleted
		err = s.store.Update(ctx, store.DeletionSchedules, sched.ID, store.Record{
			"status":        string(StatusCompleted),
			"items_deleted": deleted,
			"completed_at":  completedAt,
		})
		if err != nil {
			logging.Error("failed to record schedule completion", "schedule_id", sched.ID, "error", err)
		}

		s.auditEvent(ctx, audit.Event{
			Category:   audit.CategoryRetention,
			Status:     audit.StatusSuccess,
			ActorID:    sched.RequestedBy,
			Action:     "execute_deletion",
			Resource:   "deletion_schedule",
			ResourceID: &sched.ID,
			Metadata: map[string]any{
				"data_category": sched.DataCategory,
				"items_deleted": deleted,
				"hard_delete":   hardDelete(sched.DataCategory, sched.Reason),
			},
		})
	}
	return summary, nil
}

// EnforceRetentionPolicies scans the policy table and schedules deletion for
// categories holding records past their retention window. Approval-gated
// categories get a grace period; the rest are due immediately.
func (s *Scheduler) EnforceRetentionPolicies(ctx context.Context) (EnforcementSummary, error) {
	summary := EnforcementSummary{ExpiredCounts: make(map[string]int64)}
	now := s.now()

	for _, policy := range s.policies {
		summary.PoliciesScanned++
		collection, _ := collectionFor(policy.DataCategory)
		cutoff := now.AddDate(0, 0, -policy.RetentionDays)

		expired, err := s.store.Count(ctx, collection, store.Filter{
			store.Lt(ageField(policy.DataCategory), cutoff),
			store.IsNull("deleted_at"),
		})
		if err != nil {
			return summary, fmt.Errorf("counting expired %s: %w", policy.DataCategory, err)
		}
		summary.ExpiredCounts[policy.DataCategory] = expired

		if expired == 0 || !policy.AutoDelete {
			continue
		}

		pending, err := s.store.Count(ctx, store.DeletionSchedules, store.Filter{
			store.Eq("data_category", policy.DataCategory),
			store.Eq("reason", string(ReasonRetentionExpiry)),
			store.Eq("status", string(StatusScheduled)),
		})
		if err != nil {
			return summary, fmt.Errorf("checking pending schedules for %s: %w", policy.DataCategory, err)
		}
		if pending > 0 {
			continue
		}

		grace := 0
		if policy.RequiresApproval {
			grace = s.approvalGraceDays
		}

		sched, err := s.ScheduleDeletion(ctx, policy.DataCategory, nil, ReasonRetentionExpiry, uuid.Nil, grace)
		if err != nil {
			return summary, err
		}
		summary.Scheduled = append(summary.Scheduled, sched.ID)
	}
	return summary, nil
}

// performDeletion applies the soft-or-hard policy for the schedule. Soft
// deletion stamps deleted_at and the reason; hard deletion removes rows.
func (s *Scheduler) performDeletion(ctx context.Context, sched DeletionSchedule) (int64, error) {
	collection, ok := collectionFor(sched.DataCategory)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCategory, sched.DataCategory)
	}

	filter := store.Filter{}
	if sched.SubjectID != nil {
		filter = append(filter, store.Eq("subject_id", *sched.SubjectID))
	}
	if sched.Reason == ReasonRetentionExpiry {
		policy, ok := s.policyFor(sched.DataCategory)
		if !ok {
			return 0, fmt.Errorf("no active policy for category %s", sched.DataCategory)
		}
		cutoff := s.now().AddDate(0, 0, -policy.RetentionDays)
		filter = append(filter, store.Lt(ageField(sched.DataCategory), cutoff))
	}

	if hardDelete(sched.DataCategory, sched.Reason) {
		deleted, err := s.store.Delete(ctx, collection, filter)
		if err != nil {
			return 0, fmt.Errorf("hard-deleting %s: %w", sched.DataCategory, err)
		}
		return deleted, nil
	}

	// soft delete: only rows not already marked, so retries never recount
	filter = append(filter, store.IsNull("deleted_at"))
	rows, err := s.store.List(ctx, collection, filter)
	if err != nil {
		return 0, fmt.Errorf("listing %s for soft delete: %w", sched.DataCategory, err)
	}

	deletedAt := s.now()
	var count int64
	for _, row := range rows {
		err := s.store.Update(ctx, collection, store.UUID(row, "id"), store.Record{
			"deleted_at":      deletedAt,
			"deletion_reason": string(sched.Reason),
		})
		if err != nil {
			return count, fmt.Errorf("soft-deleting row in %s: %w", sched.DataCategory, err)
		}
		count++
	}
	return count, nil
}

// hardDelete is a pure function of category and reason. User-initiated
// closures stay recoverable; retention expiry and COPPA revocation of child
// data are irreversible, and ephemeral categories are always removed outright.
func hardDelete(category string, reason DeletionReason) bool {
	if category == CategorySessionData || category == CategoryTempFiles {
		return true
	}
	return reason == ReasonRetentionExpiry || reason == ReasonCOPPARevocation
}

func (s *Scheduler) policyFor(category string) (Policy, bool) {
	for _, p := range s.policies {
		if p.DataCategory == category {
			return p, true
		}
	}
	return Policy{}, false
}

func (s *Scheduler) auditEvent(ctx context.Context, e audit.Event) {
	if s.audit != nil {
		s.audit.Log(ctx, e)
	}
}

func scheduleToStore(d DeletionSchedule) store.Record {
	rec := store.Record{
		"id":             d.ID,
		"subject_id":     nil,
		"data_category":  d.DataCategory,
		"scheduled_date": d.ScheduledDate,
		"status":         string(d.Status),
		"reason":         string(d.Reason),
		"requested_by":   d.RequestedBy,
		"items_deleted":  d.ItemsDeleted,
		"errors":         d.Errors,
		"created_at":     d.CreatedAt,
		"completed_at":   nil,
	}
	if d.SubjectID != nil {
		rec["subject_id"] = *d.SubjectID
	}
	if d.CompletedAt != nil {
		rec["completed_at"] = *d.CompletedAt
	}
	return rec
}

func scheduleFromStore(rec store.Record) DeletionSchedule {
	d := DeletionSchedule{
		ID:           store.UUID(rec, "id"),
		SubjectID:    store.UUIDPtr(rec, "subject_id"),
		DataCategory: store.String(rec, "data_category"),
		Status:       ScheduleStatus(store.String(rec, "status")),
		Reason:       DeletionReason(store.String(rec, "reason")),
		RequestedBy:  store.UUID(rec, "requested_by"),
		ItemsDeleted: store.Int(rec, "items_deleted"),
		Errors:       store.String(rec, "errors"),
	}
	if t, ok := store.Time(rec, "scheduled_date"); ok {
		d.ScheduledDate = t
	}
	if t, ok := store.Time(rec, "created_at"); ok {
		d.CreatedAt = t
	}
	if t, ok := store.Time(rec, "completed_at"); ok {
		d.CompletedAt = &t
	}
	return d
}
