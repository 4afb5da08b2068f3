package compliance_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightpath/compliance-core/internal/compliance"
	"github.com/brightpath/compliance-core/internal/rbac"
	"github.com/brightpath/compliance-core/internal/store"
	"github.com/brightpath/compliance-core/internal/testutil"
)

func TestCheckStudentDataAccess(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	gate := compliance.NewGate(st, nil)

	admin := testutil.CreateUser(t, st, rbac.RoleSchoolAdmin)
	teacher := testutil.CreateUser(t, st, rbac.RoleTeacher)
	parent := testutil.CreateUser(t, st, rbac.RoleParent)
	researcher := testutil.CreateUser(t, st, rbac.RoleResearcher)
	student := testutil.CreateUser(t, st, rbac.RoleStudent)
	other := testutil.CreateUser(t, st, rbac.RoleStudent)
	manager := testutil.CreateUser(t, st, rbac.RoleContentManager)

	testutil.AssignTeacher(t, st, teacher.ID, student.ID)
	testutil.LinkParent(t, st, parent.ID, student.ID, true)

	t.Run("admin allowed for any type", func(t *testing.T) {
		for _, dt := range []compliance.DataType{compliance.DataBasic, compliance.DataHealth, compliance.DataDiscipline} {
			d, err := gate.CheckStudentDataAccess(ctx, admin.ID, student.ID, dt)
			require.NoError(t, err)
			assert.True(t, d.Allowed)
			assert.True(t, d.FERPARelevant)
		}
	})

	t.Run("teacher allowed for unrestricted types with assignment", func(t *testing.T) {
		d, err := gate.CheckStudentDataAccess(ctx, teacher.ID, student.ID, compliance.DataGrades)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})

	t.Run("teacher blocked from health and discipline", func(t *testing.T) {
		for _, dt := range []compliance.DataType{compliance.DataHealth, compliance.DataDiscipline} {
			d, err := gate.CheckStudentDataAccess(ctx, teacher.ID, student.ID, dt)
			require.NoError(t, err)
			assert.False(t, d.Allowed)
			assert.False(t, d.RequiresConsent)
		}
	})

	t.Run("teacher without assignment denied", func(t *testing.T) {
		d, err := gate.CheckStudentDataAccess(ctx, teacher.ID, other.ID, compliance.DataBasic)
		require.NoError(t, err)
		assert.False(t, d.Allowed)
	})

	t.Run("verified parent allowed", func(t *testing.T) {
		d, err := gate.CheckStudentDataAccess(ctx, parent.ID, student.ID, compliance.DataGrades)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})

	t.Run("unverified parent denied", func(t *testing.T) {
		d, err := gate.CheckStudentDataAccess(ctx, parent.ID, other.ID, compliance.DataGrades)
		require.NoError(t, err)
		assert.False(t, d.Allowed)
	})

	t.Run("researcher needs research consent", func(t *testing.T) {
		d, err := gate.CheckStudentDataAccess(ctx, researcher.ID, student.ID, compliance.DataAssessment)
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.True(t, d.RequiresConsent)

		testutil.GrantConsent(t, st, student.ID, parent.ID, string(compliance.ConsentResearch), nil)

		d, err = gate.CheckStudentDataAccess(ctx, researcher.ID, student.ID, compliance.DataAssessment)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})

	t.Run("student self only, restricted still blocked", func(t *testing.T) {
		d, err := gate.CheckStudentDataAccess(ctx, student.ID, student.ID, compliance.DataGrades)
		require.NoError(t, err)
		assert.True(t, d.Allowed)

		d, err = gate.CheckStudentDataAccess(ctx, student.ID, other.ID, compliance.DataGrades)
		require.NoError(t, err)
		assert.False(t, d.Allowed)

		d, err = gate.CheckStudentDataAccess(ctx, student.ID, student.ID, compliance.DataHealth)
		require.NoError(t, err)
		assert.False(t, d.Allowed)
	})

	t.Run("role without a rule denied", func(t *testing.T) {
		d, err := gate.CheckStudentDataAccess(ctx, manager.ID, student.ID, compliance.DataBasic)
		require.NoError(t, err)
		assert.False(t, d.Allowed)
	})
}

func TestVerifyConsentDirectoryOptOut(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	gate := compliance.NewGate(st, nil)

	parent := testutil.CreateUser(t, st, rbac.RoleParent)
	student := testutil.CreateUser(t, st, rbac.RoleStudent)

	t.Run("directory disclosure permitted by default", func(t *testing.T) {
		check, err := gate.VerifyConsent(ctx, student.ID, compliance.ConsentDirectoryOptOut)
		require.NoError(t, err)
		assert.True(t, check.Required)
		assert.True(t, check.Obtained)
	})

	t.Run("opt-out blocks disclosure", func(t *testing.T) {
		testutil.GrantConsent(t, st, student.ID, parent.ID, string(compliance.ConsentDirectoryOptOut), nil)

		check, err := gate.VerifyConsent(ctx, student.ID, compliance.ConsentDirectoryOptOut)
		require.NoError(t, err)
		assert.False(t, check.Obtained)
	})

	t.Run("non-directory purposes need explicit consent", func(t *testing.T) {
		check, err := gate.VerifyConsent(ctx, student.ID, compliance.ConsentResearch)
		require.NoError(t, err)
		assert.False(t, check.Obtained)
	})
}

func TestExpiringConsents(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	gate := compliance.NewGate(st, nil)

	parent := testutil.CreateUser(t, st, rbac.RoleParent)
	student := testutil.CreateUser(t, st, rbac.RoleStudent)

	soon := time.Now().Add(10 * 24 * time.Hour)
	far := time.Now().Add(90 * 24 * time.Hour)

	rec, err := gate.RecordConsent(ctx, compliance.ConsentRecord{
		SubjectID:      student.ID,
		ConsentType:    compliance.ConsentParental,
		Status:         compliance.ConsentGranted,
		ExpirationDate: &soon,
	})
	require.NoError(t, err)

	_, err = gate.RecordConsent(ctx, compliance.ConsentRecord{
		SubjectID:      student.ID,
		ConsentType:    compliance.ConsentResearch,
		Status:         compliance.ConsentGranted,
		ExpirationDate: &far,
	})
	require.NoError(t, err)

	_ = parent

	expiring, err := gate.ExpiringConsents(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, rec.ID, expiring[0].ID)
}
