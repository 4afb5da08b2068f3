package compliance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/brightpath/compliance-core/internal/store"
)

type ConsentType string

const (
	ConsentParental        ConsentType = "parental_consent"
	ConsentResearch        ConsentType = "research_consent"
	ConsentDirectoryOptOut ConsentType = "directory_info_optout"
)

type ConsentStatus string

const (
	ConsentPending ConsentStatus = "pending"
	ConsentGranted ConsentStatus = "granted"
	ConsentDenied  ConsentStatus = "denied"
	ConsentRevoked ConsentStatus = "revoked"
	ConsentExpired ConsentStatus = "expired"
)

// Data categories a consent record can cover.
const (
	CategoryBasicProfile   = "basic_profile"
	CategoryBehavioralData = "behavioral_data"
	CategoryAssessmentData = "assessment_data"
	CategoryHealthData     = "health_data"
	CategoryLocationData   = "location_data"
)

var (
	ErrConsentMissing  = errors.New("parental consent required and not obtained")
	ErrConsentNotFound = errors.New("consent record not found")
)

type ConsentRecord struct {
	ID                 uuid.UUID
	SubjectID          uuid.UUID
	GrantedBy          uuid.UUID
	ConsentType        ConsentType
	Status             ConsentStatus
	LegalBasis         string
	DataCategories     []string
	VerificationMethod string
	GrantedDate        *time.Time
	ExpirationDate     *time.Time
	RevokedDate        *time.Time
}

// active means granted, unexpired, and not revoked.
func (c ConsentRecord) active(now time.Time) bool {
	if c.Status != ConsentGranted || c.RevokedDate != nil {
		return false
	}
	if c.ExpirationDate != nil && c.ExpirationDate.Before(now) {
		return false
	}
	return true
}

// RecordConsent stores a new consent record. At most one active record may
// exist per (subject, consentType): prior active records are marked revoked
// as superseded before the new one is written.
func (g *Gate) RecordConsent(ctx context.Context, rec ConsentRecord) (ConsentRecord, error) {
	now := g.now()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Status == ConsentGranted && rec.GrantedDate == nil {
		rec.GrantedDate = &now
	}

	prior, err := g.activeConsents(ctx, rec.SubjectID, rec.ConsentType)
	if err != nil {
		return ConsentRecord{}, err
	}
	for _, p := range prior {
		err := g.store.Update(ctx, store.ConsentRecords, p.ID, store.Record{
			"status":       string(ConsentRevoked),
			"revoked_date": now,
			"revoke_cause": "superseded",
		})
		if err != nil {
			return ConsentRecord{}, fmt.Errorf("superseding consent %s: %w", p.ID, err)
		}
	}

	if err := g.store.Insert(ctx, store.ConsentRecords, consentRecordToStore(rec)); err != nil {
		return ConsentRecord{}, fmt.Errorf("storing consent: %w", err)
	}
	return rec, nil
}

// RevokeConsent marks the record revoked. Revoking parental consent for a
// child triggers an immediate hard-deletion schedule: zero grace is a legal
// requirement, not a tunable.
func (g *Gate) RevokeConsent(ctx context.Context, consentID, revokedBy uuid.UUID) error {
	rec, err := g.store.Get(ctx, store.ConsentRecords, consentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrConsentNotFound
		}
		return fmt.Errorf("loading consent %s: %w", consentID, err)
	}

	now := g.now()
	err = g.store.Update(ctx, store.ConsentRecords, consentID, store.Record{
		"status":       string(ConsentRevoked),
		"revoked_date": now,
		"revoke_cause": "revoked",
	})
	if err != nil {
		return fmt.Errorf("revoking consent %s: %w", consentID, err)
	}

	consent := consentRecordFromStore(rec)
	if consent.ConsentType == ConsentParental && g.scheduleDeletion != nil {
		if err := g.scheduleDeletion(ctx, consent.SubjectID, revokedBy); err != nil {
			return fmt.Errorf("scheduling post-revocation deletion: %w", err)
		}
	}
	return nil
}

// ConsentCheck is the result of VerifyConsent.
type ConsentCheck struct {
	Required bool
	Obtained bool
}

// VerifyConsent reports whether consent for the purpose is required and
// obtained. Directory information is inverted: FERPA permits disclosure by
// default, so consent counts as obtained unless an explicit opt-out exists.
func (g *Gate) VerifyConsent(ctx context.Context, subjectID uuid.UUID, purpose ConsentType) (ConsentCheck, error) {
	if purpose == ConsentDirectoryOptOut {
		optOuts, err := g.activeConsents(ctx, subjectID, ConsentDirectoryOptOut)
		if err != nil {
			return ConsentCheck{}, err
		}
		return ConsentCheck{Required: true, Obtained: len(optOuts) == 0}, nil
	}

	active, err := g.activeConsents(ctx, subjectID, purpose)
	if err != nil {
		return ConsentCheck{}, err
	}
	return ConsentCheck{Required: true, Obtained: len(active) > 0}, nil
}

// IsChildUnder13 computes COPPA standing from date of birth. An unknown age
// on a student account counts as under 13: fail toward more protection.
func (g *Gate) IsChildUnder13(ctx context.Context, userID uuid.UUID) (bool, error) {
	user, err := g.store.Get(ctx, store.Users, userID)
	if err != nil {
		return false, fmt.Errorf("loading user %s: %w", userID, err)
	}

	if dob, ok := store.Time(user, "date_of_birth"); ok {
		return age(dob, g.now()) < 13, nil
	}
	return store.String(user, "role") == "student", nil
}

// HasValidConsent reports whether an unrevoked, unexpired parental consent
// covers the requested data category.
func (g *Gate) HasValidConsent(ctx context.Context, childID uuid.UUID, dataCategory string) (bool, error) {
	active, err := g.activeConsents(ctx, childID, ConsentParental)
	if err != nil {
		return false, err
	}
	for _, c := range active {
		for _, cat := range c.DataCategories {
			if cat == dataCategory {
				return true, nil
			}
		}
	}
	return false, nil
}

// LogDataCollection records that data in the category was collected from the
// child. It rejects with ErrConsentMissing when the child is under 13 and no
// covering parental consent exists; collection never proceeds silently.
func (g *Gate) LogDataCollection(ctx context.Context, childID uuid.UUID, dataCategory, source string) error {
	child, err := g.IsChildUnder13(ctx, childID)
	if err != nil {
		return err
	}
	if child {
		ok, err := g.HasValidConsent(ctx, childID, dataCategory)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConsentMissing
		}
	}

	err = g.store.Insert(ctx, store.CollectedData, store.Record{
		"id":            uuid.New(),
		"subject_id":    childID,
		"data_category": dataCategory,
		"source":        source,
		"collected_at":  g.now(),
		"deleted_at":    nil,
	})
	if err != nil {
		return fmt.Errorf("recording data collection: %w", err)
	}
	return nil
}

// ExpiringConsents returns granted consents expiring within the window, for
// the notification side channel.
func (g *Gate) ExpiringConsents(ctx context.Context, within time.Duration) ([]ConsentRecord, error) {
	now := g.now()
	recs, err := g.store.List(ctx, store.ConsentRecords, store.Filter{
		store.Eq("status", string(ConsentGranted)),
		store.NotNull("expiration_date"),
		store.Lte("expiration_date", now.Add(within)),
		store.Gte("expiration_date", now),
	})
	if err != nil {
		return nil, fmt.Errorf("listing expiring consents: %w", err)
	}

	out := make([]ConsentRecord, 0, len(recs))
	for _, rec := range recs {
		out = append(out, consentRecordFromStore(rec))
	}
	return out, nil
}

func (g *Gate) activeConsents(ctx context.Context, subjectID uuid.UUID, consentType ConsentType) ([]ConsentRecord, error) {
	recs, err := g.store.List(ctx, store.ConsentRecords, store.Filter{
		store.Eq("subject_id", subjectID),
		store.Eq("consent_type", string(consentType)),
		store.Eq("status", string(ConsentGranted)),
	})
	if err != nil {
		return nil, fmt.Errorf("listing consents for %s: %w", subjectID, err)
	}

	now := g.now()
	var active []ConsentRecord
	for _, rec := range recs {
		c := consentRecordFromStore(rec)
		if c.active(now) {
			active = append(active, c)
		}
	}
	return active, nil
}

func age(dob, now time.Time) int {
	years := now.Year() - dob.Year()
	if now.YearDay() < dob.YearDay() {
		years--
	}
	return years
}

func consentRecordToStore(c ConsentRecord) store.Record {
	rec := store.Record{
		"id":                  c.ID,
		"subject_id":          c.SubjectID,
		"granted_by":          nil,
		"consent_type":        string(c.ConsentType),
		"status":              string(c.Status),
		"legal_basis":         c.LegalBasis,
		"data_categories":     c.DataCategories,
		"verification_method": c.VerificationMethod,
		"granted_date":        nil,
		"expiration_date":     nil,
		"revoked_date":        nil,
	}
	if c.GrantedBy != uuid.Nil {
		rec["granted_by"] = c.GrantedBy
	}
	if c.GrantedDate != nil {
		rec["granted_date"] = *c.GrantedDate
	}
	if c.ExpirationDate != nil {
		rec["expiration_date"] = *c.ExpirationDate
	}
	if c.RevokedDate != nil {
		rec["revoked_date"] = *c.RevokedDate
	}
	return rec
}

func consentRecordFromStore(rec store.Record) ConsentRecord {
	c := ConsentRecord{
		ID:                 store.UUID(rec, "id"),
		SubjectID:          store.UUID(rec, "subject_id"),
		GrantedBy:          store.UUID(rec, "granted_by"),
		ConsentType:        ConsentType(store.String(rec, "consent_type")),
		Status:             ConsentStatus(store.String(rec, "status")),
		LegalBasis:         store.String(rec, "legal_basis"),
		DataCategories:     store.Strings(rec, "data_categories"),
		VerificationMethod: store.String(rec, "verification_method"),
	}
	if t, ok := store.Time(rec, "granted_date"); ok {
		c.GrantedDate = &t
	}
	if t, ok := store.Time(rec, "expiration_date"); ok {
		c.ExpirationDate = &t
	}
	if t, ok := store.Time(rec, "revoked_date"); ok {
		c.RevokedDate = &t
	}
	return c
}
