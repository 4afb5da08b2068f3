package retention

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/brightpath/compliance-core/internal/audit"
	"github.com/brightpath/compliance-core/internal/store"
)

// Uploader delivers an export bundle to object storage.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

type ExportBundle struct {
	SubjectID   uuid.UUID                 `json:"subject_id"`
	GeneratedAt string                    `json:"generated_at"`
	Profile     store.Record              `json:"profile,omitempty"`
	Categories  map[string][]store.Record `json:"categories"`
	Consents    []store.Record            `json:"consents"`
	Location    string                    `json:"location,omitempty"`
}

// ExportUserData aggregates the subject's data across categories into a JSON
// bundle. The read is side-effect free on subject data; the only write is the
// audit trail, logged as a data access, and the optional upload. Soft-deleted
// rows are excluded.
func (s *Scheduler) ExportUserData(ctx context.Context, subjectID, requestedBy uuid.UUID, uploader Uploader, keyPrefix string) (ExportBundle, error) {
	now := s.now()
	bundle := ExportBundle{
		SubjectID:   subjectID,
		GeneratedAt: now.UTC().Format("2006-01-02T15:04:05Z07:00"),
		Categories:  make(map[string][]store.Record),
	}

	profile, err := s.store.Get(ctx, store.Users, subjectID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return bundle, fmt.Errorf("loading subject profile: %w", err)
	}
	bundle.Profile = profile

	for _, category := range []string{CategoryStudentRecords, CategoryAssessmentRecords, CategoryCollectedData} {
		collection, _ := collectionFor(category)
		rows, err := s.store.List(ctx, collection, store.Filter{
			store.Eq("subject_id", subjectID),
			store.IsNull("deleted_at"),
		})
		if err != nil {
			return bundle, fmt.Errorf("collecting %s for export: %w", category, err)
		}
		bundle.Categories[category] = rows
	}

	consents, err := s.store.List(ctx, store.ConsentRecords, store.Filter{store.Eq("subject_id", subjectID)})
	if err != nil {
		return bundle, fmt.Errorf("collecting consents for export: %w", err)
	}
	bundle.Consents = consents

	if uploader != nil {
		body, err := json.MarshalIndent(bundle, "", "  ")
		if err != nil {
			return bundle, fmt.Errorf("encoding export bundle: %w", err)
		}
		key := fmt.Sprintf("%s/%s/%s.json", keyPrefix, subjectID, now.UTC().Format("20060102T150405Z"))
		location, err := uploader.Upload(ctx, key, body, "application/json")
		if err != nil {
			return bundle, fmt.Errorf("uploading export bundle: %w", err)
		}
		bundle.Location = location
	}

	s.auditEvent(ctx, audit.Event{
		Category:    audit.CategoryDataAccess,
		Status:      audit.StatusSuccess,
		ActorID:     requestedBy,
		Action:      "export_user_data",
		Resource:    "user",
		ResourceID:  &subjectID,
		PIIAccessed: true,
		Metadata: map[string]any{
			"categories": len(bundle.Categories),
			"location":   bundle.Location,
		},
	})
	return bundle, nil
}

