package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/brightpath/compliance-core/internal/audit"
	"github.com/brightpath/compliance-core/internal/store"
)

// identifierFields are the direct identifiers scrubbed from every retagged
// row. Pseudonymous measures (scores, timestamps) are kept for reporting.
var identifierFields = []string{
	"first_name", "last_name", "email", "date_of_birth",
	"address", "phone", "guardian_email", "notes",
}

type AnonymizationResult struct {
	AnonymousID  uuid.UUID
	RowsRetagged map[string]int64
}

// AnonymizeUserData replaces the subject's identity with a fresh anonymous id
// across the retainable data categories and scrubs direct identifiers from
// each row. It is a complement to deletion for aggregate reporting, never a
// substitute: categories due for deletion still go through the scheduler.
func (s *Scheduler) AnonymizeUserData(ctx context.Context, subjectID, requestedBy uuid.UUID) (AnonymizationResult, error) {
	result := AnonymizationResult{
		AnonymousID:  uuid.New(),
		RowsRetagged: make(map[string]int64),
	}
	now := s.now()

	for _, category := range []string{CategoryStudentRecords, CategoryAssessmentRecords, CategoryCollectedData} {
		collection, _ := collectionFor(category)
		rows, err := s.store.List(ctx, collection, store.Filter{store.Eq("subject_id", subjectID)})
		if err != nil {
			return result, fmt.Errorf("listing %s for anonymization: %w", category, err)
		}
		for _, row := range rows {
			changes := store.Record{
				"subject_id":    result.AnonymousID,
				"anonymized_at": now,
			}
			for _, field := range identifierFields {
				if _, ok := row[field]; ok {
					changes[field] = nil
				}
			}
			if err := s.store.Update(ctx, collection, store.UUID(row, "id"), changes); err != nil {
				return result, fmt.Errorf("anonymizing row in %s: %w", category, err)
			}
			result.RowsRetagged[category]++
		}
	}

	if err := s.scrubUser(ctx, subjectID, now); err != nil {
		return result, err
	}

	s.auditEvent(ctx, audit.Event{
		Category:   audit.CategoryRetention,
		Status:     audit.StatusSuccess,
		ActorID:    requestedBy,
		Action:     "anonymize_user_data",
		Resource:   "user",
		ResourceID: &subjectID,
		Metadata: map[string]any{
			"anonymous_id":  result.AnonymousID.String(),
			"rows_retagged": result.RowsRetagged,
		},
	})
	return result, nil
}

func (s *Scheduler) scrubUser(ctx context.Context, subjectID uuid.UUID, now time.Time) error {
	_, err := s.store.Get(ctx, store.Users, subjectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("loading user %s: %w", subjectID, err)
	}

	changes := store.Record{"anonymized_at": now}
	for _, field := range identifierFields {
		changes[field] = nil
	}
	if err := s.store.Update(ctx, store.Users, subjectID, changes); err != nil {
		return fmt.Errorf("scrubbing user %s: %w", subjectID, err)
	}
	return nil
}
