package rbac_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightpath/compliance-core/internal/rbac"
	"github.com/brightpath/compliance-core/internal/store"
	"github.com/brightpath/compliance-core/internal/testutil"
)

func newEngine(st store.Store) *rbac.Engine {
	return rbac.NewEngine(st, rbac.DefaultRolePermissions())
}

func TestCheckRolePermissions(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	engine := newEngine(st)

	teacher := testutil.CreateUser(t, st, rbac.RoleTeacher)
	student := testutil.CreateUser(t, st, rbac.RoleStudent)
	admin := testutil.CreateUser(t, st, rbac.RoleDistrictAdmin)

	t.Run("role set grants permission", func(t *testing.T) {
		res, err := engine.Check(ctx, teacher.ID, rbac.ReadStudentRecord, nil)
		require.NoError(t, err)
		assert.True(t, res.Granted)
	})

	t.Run("missing permission is a denial value", func(t *testing.T) {
		res, err := engine.Check(ctx, student.ID, rbac.ManageUsers, nil)
		require.NoError(t, err)
		assert.False(t, res.Granted)
		assert.Equal(t, []rbac.Permission{rbac.ManageUsers}, res.Missing)
		assert.Equal(t, rbac.ReasonMissingPermission, res.Reason)
	})

	t.Run("unknown actor denied not errored", func(t *testing.T) {
		res, err := engine.Check(ctx, uuid.New(), rbac.ReadStudentRecord, nil)
		require.NoError(t, err)
		assert.False(t, res.Granted)
		assert.Equal(t, rbac.ReasonActorNotFound, res.Reason)
	})

	t.Run("unknown role treated as student", func(t *testing.T) {
		odd := testutil.CreateUser(t, st, rbac.Role("astronaut"))
		res, err := engine.Check(ctx, odd.ID, rbac.ManageUsers, nil)
		require.NoError(t, err)
		assert.False(t, res.Granted)

		res, err = engine.Check(ctx, odd.ID, rbac.ReadOwnData, nil)
		require.NoError(t, err)
		assert.True(t, res.Granted)
	})

	t.Run("admin unrestricted by resource rules", func(t *testing.T) {
		res, err := engine.Check(ctx, admin.ID, rbac.DeleteStudentRecord, &student.ID)
		require.NoError(t, err)
		assert.True(t, res.Granted)
	})
}

func TestCheckResourceRules(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	engine := newEngine(st)

	teacher := testutil.CreateUser(t, st, rbac.RoleTeacher)
	parent := testutil.CreateUser(t, st, rbac.RoleParent)
	student := testutil.CreateUser(t, st, rbac.RoleStudent)
	other := testutil.CreateUser(t, st, rbac.RoleStudent)

	t.Run("teacher needs active assignment", func(t *testing.T) {
		res, err := engine.Check(ctx, teacher.ID, rbac.ReadStudentRecord, &student.ID)
		require.NoError(t, err)
		assert.False(t, res.Granted)
		assert.Equal(t, rbac.ReasonNoActiveAssignment, res.Reason)

		testutil.AssignTeacher(t, st, teacher.ID, student.ID)
		res, err = engine.Check(ctx, teacher.ID, rbac.ReadStudentRecord, &student.ID)
		require.NoError(t, err)
		assert.True(t, res.Granted)
	})

	t.Run("ended assignment does not count", func(t *testing.T) {
		ghost := testutil.CreateUser(t, st, rbac.RoleStudent)
		assignmentID := testutil.AssignTeacher(t, st, teacher.ID, ghost.ID)
		testutil.EndAssignment(t, st, assignmentID, time.Now().Add(-time.Hour))

		res, err := engine.Check(ctx, teacher.ID, rbac.ReadStudentRecord, &ghost.ID)
		require.NoError(t, err)
		assert.False(t, res.Granted)
	})

	t.Run("teacher never deletes or exports even with a custom grant", func(t *testing.T) {
		testutil.AssignTeacher(t, st, teacher.ID, other.ID)
		admin := testutil.CreateUser(t, st, rbac.RoleDistrictAdmin)

		for _, perm := range []rbac.Permission{rbac.DeleteStudentRecord, rbac.ExportData} {
			_, err := engine.GrantPermission(ctx, teacher.ID, perm, admin.ID, nil)
			require.NoError(t, err)

			res, err := engine.Check(ctx, teacher.ID, perm, &other.ID)
			require.NoError(t, err)
			assert.False(t, res.Granted)
			assert.Equal(t, rbac.ReasonTeacherNeverHas, res.Reason)
		}
	})

	t.Run("parent needs verified relationship", func(t *testing.T) {
		testutil.LinkParent(t, st, parent.ID, student.ID, false)
		res, err := engine.Check(ctx, parent.ID, rbac.ReadStudentRecord, &student.ID)
		require.NoError(t, err)
		assert.False(t, res.Granted)
		assert.Equal(t, rbac.ReasonNotVerifiedParent, res.Reason)

		testutil.LinkParent(t, st, parent.ID, student.ID, true)
		res, err = engine.Check(ctx, parent.ID, rbac.ReadStudentRecord, &student.ID)
		require.NoError(t, err)
		assert.True(t, res.Granted)
	})

	t.Run("student only self", func(t *testing.T) {
		res, err := engine.Check(ctx, student.ID, rbac.ReadOwnData, &student.ID)
		require.NoError(t, err)
		assert.True(t, res.Granted)

		res, err = engine.Check(ctx, student.ID, rbac.ReadOwnData, &other.ID)
		require.NoError(t, err)
		assert.False(t, res.Granted)
		assert.Equal(t, rbac.ReasonNotSelf, res.Reason)
	})
}

func TestCustomGrants(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	engine := newEngine(st)

	staff := testutil.CreateUser(t, st, rbac.RoleSupportStaff)
	admin := testutil.CreateUser(t, st, rbac.RoleDistrictAdmin)

	t.Run("grant extends the effective set", func(t *testing.T) {
		res, err := engine.Check(ctx, staff.ID, rbac.ViewAuditLogs, nil)
		require.NoError(t, err)
		require.False(t, res.Granted)

		_, err = engine.GrantPermission(ctx, staff.ID, rbac.ViewAuditLogs, admin.ID, nil)
		require.NoError(t, err)

		res, err = engine.Check(ctx, staff.ID, rbac.ViewAuditLogs, nil)
		require.NoError(t, err)
		assert.True(t, res.Granted)
	})

	t.Run("expired grant ignored", func(t *testing.T) {
		past := time.Now().Add(-time.Minute)
		_, err := engine.GrantPermission(ctx, staff.ID, rbac.ExportData, admin.ID, &past)
		require.NoError(t, err)

		res, err := engine.Check(ctx, staff.ID, rbac.ExportData, nil)
		require.NoError(t, err)
		assert.False(t, res.Granted)
	})

	t.Run("revoked grant ignored and revoke is idempotent", func(t *testing.T) {
		grant, err := engine.GrantPermission(ctx, staff.ID, rbac.ManageRetention, admin.ID, nil)
		require.NoError(t, err)

		require.NoError(t, engine.RevokeGrant(ctx, grant.ID))
		require.NoError(t, engine.RevokeGrant(ctx, grant.ID))
		require.NoError(t, engine.RevokeGrant(ctx, uuid.New()))

		res, err := engine.Check(ctx, staff.ID, rbac.ManageRetention, nil)
		require.NoError(t, err)
		assert.False(t, res.Granted)
	})
}

func TestCheckCombinators(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	engine := newEngine(st)

	teacher := testutil.CreateUser(t, st, rbac.RoleTeacher)

	t.Run("CheckAll reports every missing permission", func(t *testing.T) {
		res, err := engine.CheckAll(ctx, teacher.ID, []rbac.Permission{
			rbac.ReadStudentRecord, rbac.ManageUsers, rbac.AssignRoles,
		}, nil)
		require.NoError(t, err)
		assert.False(t, res.Granted)
		assert.ElementsMatch(t, []rbac.Permission{rbac.ManageUsers, rbac.AssignRoles}, res.Missing)
	})

	t.Run("CheckAny passes on the first granted", func(t *testing.T) {
		res, err := engine.CheckAny(ctx, teacher.ID, []rbac.Permission{
			rbac.ManageUsers, rbac.ReadStudentRecord,
		}, nil)
		require.NoError(t, err)
		assert.True(t, res.Granted)
	})

	t.Run("CheckAny denies when nothing matches", func(t *testing.T) {
		res, err := engine.CheckAny(ctx, teacher.ID, []rbac.Permission{
			rbac.ManageUsers, rbac.AssignRoles,
		}, nil)
		require.NoError(t, err)
		assert.False(t, res.Granted)
		assert.Len(t, res.Missing, 2)
	})
}
