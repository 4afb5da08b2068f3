package compliance_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightpath/compliance-core/internal/compliance"
	"github.com/brightpath/compliance-core/internal/rbac"
	"github.com/brightpath/compliance-core/internal/store"
	"github.com/brightpath/compliance-core/internal/testutil"
)

func TestRecordConsentSupersedes(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	gate := compliance.NewGate(st, nil)

	student := testutil.CreateUser(t, st, rbac.RoleStudent)

	first, err := gate.RecordConsent(ctx, compliance.ConsentRecord{
		SubjectID:      student.ID,
		ConsentType:    compliance.ConsentParental,
		Status:         compliance.ConsentGranted,
		DataCategories: []string{"basic_profile"},
	})
	require.NoError(t, err)

	second, err := gate.RecordConsent(ctx, compliance.ConsentRecord{
		SubjectID:      student.ID,
		ConsentType:    compliance.ConsentParental,
		Status:         compliance.ConsentGranted,
		DataCategories: []string{"basic_profile", "assessment_data"},
	})
	require.NoError(t, err)

	// only the newest record stays active
	rec, err := st.Get(ctx, store.ConsentRecords, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "revoked", store.String(rec, "status"))
	assert.Equal(t, "superseded", store.String(rec, "revoke_cause"))

	ok, err := gate.HasValidConsent(ctx, student.ID, "assessment_data")
	require.NoError(t, err)
	assert.True(t, ok)
	_ = second
}

func TestRevokeConsentSchedulesDeletion(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	var scheduled []uuid.UUID
	gate := compliance.NewGate(st, func(ctx context.Context, subjectID, requestedBy uuid.UUID) error {
		scheduled = append(scheduled, subjectID)
		return nil
	})

	parent := testutil.CreateUser(t, st, rbac.RoleParent)
	student := testutil.CreateUser(t, st, rbac.RoleStudent)

	t.Run("parental revocation triggers deletion hook", func(t *testing.T) {
		rec, err := gate.RecordConsent(ctx, compliance.ConsentRecord{
			SubjectID:   student.ID,
			ConsentType: compliance.ConsentParental,
			Status:      compliance.ConsentGranted,
		})
		require.NoError(t, err)

		require.NoError(t, gate.RevokeConsent(ctx, rec.ID, parent.ID))
		require.Len(t, scheduled, 1)
		assert.Equal(t, student.ID, scheduled[0])

		stored, err := st.Get(ctx, store.ConsentRecords, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, "revoked", store.String(stored, "status"))
	})

	t.Run("research revocation does not trigger deletion", func(t *testing.T) {
		rec, err := gate.RecordConsent(ctx, compliance.ConsentRecord{
			SubjectID:   student.ID,
			ConsentType: compliance.ConsentResearch,
			Status:      compliance.ConsentGranted,
		})
		require.NoError(t, err)

		require.NoError(t, gate.RevokeConsent(ctx, rec.ID, parent.ID))
		assert.Len(t, scheduled, 1)
	})

	t.Run("unknown consent returns ErrConsentNotFound", func(t *testing.T) {
		err := gate.RevokeConsent(ctx, uuid.New(), parent.ID)
		assert.ErrorIs(t, err, compliance.ErrConsentNotFound)
	})
}

func TestIsChildUnder13(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	gate := compliance.NewGate(st, nil)

	t.Run("dob under 13", func(t *testing.T) {
		child := testutil.CreateUser(t, st, rbac.RoleStudent,
			testutil.WithDateOfBirth(time.Now().AddDate(-8, 0, 0)))
		isChild, err := gate.IsChildUnder13(ctx, child.ID)
		require.NoError(t, err)
		assert.True(t, isChild)
	})

	t.Run("dob 13 or over", func(t *testing.T) {
		teen := testutil.CreateUser(t, st, rbac.RoleStudent,
			testutil.WithDateOfBirth(time.Now().AddDate(-14, 0, 0)))
		isChild, err := gate.IsChildUnder13(ctx, teen.ID)
		require.NoError(t, err)
		assert.False(t, isChild)
	})

	t.Run("unknown age on student defaults to under 13", func(t *testing.T) {
		unknown := testutil.CreateUser(t, st, rbac.RoleStudent)
		isChild, err := gate.IsChildUnder13(ctx, unknown.ID)
		require.NoError(t, err)
		assert.True(t, isChild)
	})

	t.Run("unknown age on adult roles is not a child", func(t *testing.T) {
		teacher := testutil.CreateUser(t, st, rbac.RoleTeacher)
		isChild, err := gate.IsChildUnder13(ctx, teacher.ID)
		require.NoError(t, err)
		assert.False(t, isChild)
	})
}

func TestLogDataCollection(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	gate := compliance.NewGate(st, nil)

	parent := testutil.CreateUser(t, st, rbac.RoleParent)
	child := testutil.CreateUser(t, st, rbac.RoleStudent,
		testutil.WithDateOfBirth(time.Now().AddDate(-9, 0, 0)))

	t.Run("rejected without covering consent", func(t *testing.T) {
		err := gate.LogDataCollection(ctx, child.ID, "behavioral_data", "reading-app")
		assert.ErrorIs(t, err, compliance.ErrConsentMissing)

		count, err := st.Count(ctx, store.CollectedData, store.Filter{store.Eq("subject_id", child.ID)})
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("consent category must cover the collection", func(t *testing.T) {
		testutil.GrantConsent(t, st, child.ID, parent.ID, string(compliance.ConsentParental), []string{"basic_profile"})

		err := gate.LogDataCollection(ctx, child.ID, "behavioral_data", "reading-app")
		assert.ErrorIs(t, err, compliance.ErrConsentMissing)
	})

	t.Run("recorded with covering consent", func(t *testing.T) {
		testutil.GrantConsent(t, st, child.ID, parent.ID, string(compliance.ConsentParental),
			[]string{"basic_profile", "behavioral_data"})

		require.NoError(t, gate.LogDataCollection(ctx, child.ID, "behavioral_data", "reading-app"))

		count, err := st.Count(ctx, store.CollectedData, store.Filter{store.Eq("subject_id", child.ID)})
		require.NoError(t, err)
		assert.EqualValues(t, 1, count)
	})
}
