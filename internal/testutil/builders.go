package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/brightpath/compliance-core/internal/rbac"
	"github.com/brightpath/compliance-core/internal/store"
)

// TestUser represents a seeded user row
type TestUser struct {
	ID          uuid.UUID
	Email       string
	Role        rbac.Role
	DateOfBirth *time.Time
}

// UserOption customizes a seeded user
type UserOption func(store.Record)

func WithEmail(email string) UserOption {
	return func(rec store.Record) { rec["email"] = email }
}

func WithDateOfBirth(dob time.Time) UserOption {
	return func(rec store.Record) { rec["date_of_birth"] = dob }
}

func WithName(first, last string) UserOption {
	return func(rec store.Record) {
		rec["first_name"] = first
		rec["last_name"] = last
	}
}

// CreateUser inserts a user with the given role and returns it
func CreateUser(t *testing.T, st store.Store, role rbac.Role, opts ...UserOption) TestUser {
	t.Helper()

	id := uuid.New()
	rec := store.Record{
		"id":         id,
		"email":      id.String()[:8] + "@test.example",
		"role":       string(role),
		"created_at": time.Now(),
	}
	for _, opt := range opts {
		opt(rec)
	}
	require.NoError(t, st.Insert(context.Background(), store.Users, rec))

	user := TestUser{
		ID:    id,
		Email: store.String(rec, "email"),
		Role:  role,
	}
	if dob, ok := store.Time(rec, "date_of_birth"); ok {
		user.DateOfBirth = &dob
	}
	return user
}

// AssignTeacher creates an active teacher-student assignment
func AssignTeacher(t *testing.T, st store.Store, teacherID, studentID uuid.UUID) uuid.UUID {
	t.Helper()

	id := uuid.New()
	require.NoError(t, st.Insert(context.Background(), store.TeacherAssignments, store.Record{
		"id":         id,
		"teacher_id": teacherID,
		"student_id": studentID,
		"start_date": time.Now().Add(-24 * time.Hour),
		"created_at": time.Now(),
	}))
	return id
}

// EndAssignment closes an assignment as of the given date
func EndAssignment(t *testing.T, st store.Store, assignmentID uuid.UUID, endDate time.Time) {
	t.Helper()
	require.NoError(t, st.Update(context.Background(), store.TeacherAssignments, assignmentID, store.Record{
		"end_date": endDate,
	}))
}

// LinkParent creates a parent-student relationship
func LinkParent(t *testing.T, st store.Store, parentID, studentID uuid.UUID, verified bool) uuid.UUID {
	t.Helper()

	id := uuid.New()
	require.NoError(t, st.Insert(context.Background(), store.ParentRelationships, store.Record{
		"id":         id,
		"parent_id":  parentID,
		"student_id": studentID,
		"verified":   verified,
		"created_at": time.Now(),
	}))
	return id
}

// GrantConsent inserts an active consent record for the subject
func GrantConsent(t *testing.T, st store.Store, subjectID, grantedBy uuid.UUID, consentType string, categories []string) uuid.UUID {
	t.Helper()

	id := uuid.New()
	require.NoError(t, st.Insert(context.Background(), store.ConsentRecords, store.Record{
		"id":              id,
		"subject_id":      subjectID,
		"granted_by":      grantedBy,
		"consent_type":    consentType,
		"status":          "granted",
		"data_categories": categories,
		"granted_date":    time.Now(),
		"created_at":      time.Now(),
	}))
	return id
}

// SeedStudentRecord inserts a student record row aged by the given duration
func SeedStudentRecord(t *testing.T, st store.Store, subjectID uuid.UUID, age time.Duration) uuid.UUID {
	t.Helper()

	id := uuid.New()
	require.NoError(t, st.Insert(context.Background(), store.StudentRecords, store.Record{
		"id":         id,
		"subject_id": subjectID,
		"created_at": time.Now().Add(-age),
	}))
	return id
}

// SeedCollectedData inserts a collected-data row aged by the given duration
func SeedCollectedData(t *testing.T, st store.Store, subjectID uuid.UUID, category string, age time.Duration) uuid.UUID {
	t.Helper()

	id := uuid.New()
	require.NoError(t, st.Insert(context.Background(), store.CollectedData, store.Record{
		"id":            id,
		"subject_id":    subjectID,
		"data_category": category,
		"collected_at":  time.Now().Add(-age),
	}))
	return id
}
