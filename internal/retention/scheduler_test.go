package retention_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/brightpath/compliance-core/internal/retention"
	"github.com/brightpath/compliance-core/internal/store"
	"github.com/brightpath/compliance-core/internal/testutil"
)

func newScheduler(st store.Store, policies []retention.Policy) *retention.Scheduler {
	return retention.NewScheduler(st, nil, policies, 30)
}

func TestScheduleDeletion(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	scheduler := newScheduler(st, retention.DefaultPolicies())
	admin := testutil.CreateUser(t, st, "district_admin")

	t.Run("creates a pending schedule", func(t *testing.T) {
		sched, err := scheduler.ScheduleDeletion(ctx, retention.CategorySessionData, nil, retention.ReasonAdminAction, admin.ID, 7)
		require.NoError(t, err)
		assert.Equal(t, retention.StatusScheduled, sched.Status)
		assert.WithinDuration(t, time.Now().AddDate(0, 0, 7), sched.ScheduledDate, time.Minute)

		rec, err := st.Get(ctx, store.DeletionSchedules, sched.ID)
		require.NoError(t, err)
		assert.Equal(t, "scheduled", store.String(rec, "status"))
	})

	t.Run("unknown category rejected", func(t *testing.T) {
		_, err := scheduler.ScheduleDeletion(ctx, "browser_history", nil, retention.ReasonAdminAction, admin.ID, 0)
		assert.ErrorIs(t, err, retention.ErrUnknownCategory)
	})

	t.Run("cancel only from pending", func(t *testing.T) {
		sched, err := scheduler.ScheduleDeletion(ctx, retention.CategoryTempFiles, nil, retention.ReasonAdminAction, admin.ID, 7)
		require.NoError(t, err)

		require.NoError(t, scheduler.CancelSchedule(ctx, sched.ID, admin.ID))
		assert.Error(t, scheduler.CancelSchedule(ctx, sched.ID, admin.ID))
	})
}

func TestExecuteScheduledDeletions(t *testing.T) {
	ctx := context.Background()

	t.Run("user request soft deletes and re-execution finds nothing left", func(t *testing.T) {
		st := store.NewMemoryStore()
		scheduler := newScheduler(st, retention.DefaultPolicies())
		admin := testutil.CreateUser(t, st, "district_admin")
		student := testutil.CreateUser(t, st, "student")

		testutil.SeedStudentRecord(t, st, student.ID, time.Hour)
		testutil.SeedStudentRecord(t, st, student.ID, 2*time.Hour)

		first, err := scheduler.ScheduleDeletion(ctx, retention.CategoryStudentRecords, &student.ID, retention.ReasonUserRequest, admin.ID, -1)
		require.NoError(t, err)

		summary, err := scheduler.ExecuteScheduledDeletions(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Completed)
		assert.EqualValues(t, 2, summary.ItemsDeleted)

		rec, err := st.Get(ctx, store.DeletionSchedules, first.ID)
		require.NoError(t, err)
		assert.Equal(t, "completed", store.String(rec, "status"))
		assert.EqualValues(t, 2, store.Int(rec, "items_deleted"))

		// rows still exist but carry the soft-delete markers
		rows, err := st.List(ctx, store.StudentRecords, store.Filter{store.Eq("subject_id", student.ID)})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		for _, row := range rows {
			_, ok := store.Time(row, "deleted_at")
			assert.True(t, ok)
			assert.Equal(t, "user_request", store.String(row, "deletion_reason"))
		}

		// a second schedule over the same rows counts nothing
		_, err = scheduler.ScheduleDeletion(ctx, retention.CategoryStudentRecords, &student.ID, retention.ReasonUserRequest, admin.ID, -1)
		require.NoError(t, err)
		summary, err = scheduler.ExecuteScheduledDeletions(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Completed)
		assert.EqualValues(t, 0, summary.ItemsDeleted)
	})

	t.Run("ephemeral categories are removed outright", func(t *testing.T) {
		st := store.NewMemoryStore()
		scheduler := newScheduler(st, retention.DefaultPolicies())
		admin := testutil.CreateUser(t, st, "district_admin")

		for i := 0; i < 3; i++ {
			require.NoError(t, st.Insert(ctx, store.SessionData, store.Record{
				"id":         uuid.New(),
				"created_at": time.Now().Add(-time.Hour),
			}))
		}

		_, err := scheduler.ScheduleDeletion(ctx, retention.CategorySessionData, nil, retention.ReasonAdminAction, admin.ID, -1)
		require.NoError(t, err)

		summary, err := scheduler.ExecuteScheduledDeletions(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 3, summary.ItemsDeleted)

		remaining, err := st.Count(ctx, store.SessionData, nil)
		require.NoError(t, err)
		assert.EqualValues(t, 0, remaining)
	})

	t.Run("one failed schedule does not stop the batch", func(t *testing.T) {
		st := store.NewMemoryStore()
		scheduler := newScheduler(st, retention.DefaultPolicies())
		admin := testutil.CreateUser(t, st, "district_admin")

		require.NoError(t, st.Insert(ctx, store.SessionData, store.Record{
			"id": uuid.New(), "created_at": time.Now().Add(-time.Hour),
		}))
		require.NoError(t, st.Insert(ctx, store.TempFiles, store.Record{
			"id": uuid.New(), "created_at": time.Now().Add(-time.Hour),
		}))

		failing, err := scheduler.ScheduleDeletion(ctx, retention.CategorySessionData, nil, retention.ReasonAdminAction, admin.ID, -2)
		require.NoError(t, err)
		_, err = scheduler.ScheduleDeletion(ctx, retention.CategoryTempFiles, nil, retention.ReasonAdminAction, admin.ID, -1)
		require.NoError(t, err)

		st.FailNextWrite(store.SessionData, errors.New("connection reset"))

		summary, err := scheduler.ExecuteScheduledDeletions(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, summary.Processed)
		assert.Equal(t, 1, summary.Completed)
		assert.Equal(t, 1, summary.Failed)

		rec, err := st.Get(ctx, store.DeletionSchedules, failing.ID)
		require.NoError(t, err)
		assert.Equal(t, "failed", store.String(rec, "status"))
		assert.Contains(t, store.String(rec, "errors"), "connection reset")

		remaining, err := st.Count(ctx, store.TempFiles, nil)
		require.NoError(t, err)
		assert.EqualValues(t, 0, remaining)
	})

	t.Run("consent revocation removes the child's rows immediately", func(t *testing.T) {
		st := store.NewMemoryStore()
		scheduler := newScheduler(st, retention.DefaultPolicies())
		parent := testutil.CreateUser(t, st, "parent")
		child := testutil.CreateUser(t, st, "student")
		sibling := testutil.CreateUser(t, st, "student")

		testutil.SeedCollectedData(t, st, child.ID, "behavioral_data", time.Hour)
		other := testutil.SeedCollectedData(t, st, sibling.ID, "behavioral_data", time.Hour)

		_, err := scheduler.ScheduleDeletion(ctx, retention.CategoryCollectedData, &child.ID, retention.ReasonCOPPARevocation, parent.ID, 0)
		require.NoError(t, err)

		summary, err := scheduler.ExecuteScheduledDeletions(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Completed)
		assert.EqualValues(t, 1, summary.ItemsDeleted)

		// hard delete scoped to the subject, the sibling's data untouched
		count, err := st.Count(ctx, store.CollectedData, store.Filter{store.Eq("subject_id", child.ID)})
		require.NoError(t, err)
		assert.EqualValues(t, 0, count)
		_, err = st.Get(ctx, store.CollectedData, other)
		require.NoError(t, err)
	})

	t.Run("retention expiry only touches rows past the cutoff", func(t *testing.T) {
		st := store.NewMemoryStore()
		policies := []retention.Policy{
			{DataCategory: retention.CategoryCollectedData, RetentionDays: 365, AutoDelete: true},
		}
		scheduler := newScheduler(st, policies)
		student := testutil.CreateUser(t, st, "student")

		testutil.SeedCollectedData(t, st, student.ID, "behavioral_data", 400*24*time.Hour)
		fresh := testutil.SeedCollectedData(t, st, student.ID, "behavioral_data", 24*time.Hour)

		_, err := scheduler.ScheduleDeletion(ctx, retention.CategoryCollectedData, nil, retention.ReasonRetentionExpiry, uuid.Nil, -1)
		require.NoError(t, err)

		summary, err := scheduler.ExecuteScheduledDeletions(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, summary.ItemsDeleted)

		// hard delete: the expired row is gone, the fresh one intact
		_, err = st.Get(ctx, store.CollectedData, fresh)
		require.NoError(t, err)
		count, err := st.Count(ctx, store.CollectedData, nil)
		require.NoError(t, err)
		assert.EqualValues(t, 1, count)
	})
}

func TestEnforceRetentionPolicies(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	policies := []retention.Policy{
		{DataCategory: retention.CategoryStudentRecords, RetentionDays: 30, AutoDelete: false, RequiresApproval: true},
		{DataCategory: retention.CategoryAssessmentRecords, RetentionDays: 30, AutoDelete: true, RequiresApproval: true},
		{DataCategory: retention.CategoryCollectedData, RetentionDays: 30, AutoDelete: true},
	}
	scheduler := newScheduler(st, policies)
	student := testutil.CreateUser(t, st, "student")

	testutil.SeedStudentRecord(t, st, student.ID, 60*24*time.Hour)
	testutil.SeedCollectedData(t, st, student.ID, "behavioral_data", 60*24*time.Hour)
	require.NoError(t, st.Insert(ctx, store.AssessmentRecords, store.Record{
		"id":         uuid.New(),
		"subject_id": student.ID,
		"created_at": time.Now().Add(-60 * 24 * time.Hour),
	}))

	summary, err := scheduler.EnforceRetentionPolicies(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.PoliciesScanned)
	assert.EqualValues(t, 1, summary.ExpiredCounts[retention.CategoryStudentRecords])

	// student_records is not auto-delete, so only two schedules exist
	require.Len(t, summary.Scheduled, 2)

	scheds, err := st.List(ctx, store.DeletionSchedules, nil, store.OrderBy("data_category", false))
	require.NoError(t, err)
	require.Len(t, scheds, 2)

	// approval-gated category gets the grace window, the rest are due now
	assessment, collected := scheds[0], scheds[1]
	assessmentDue, _ := store.Time(assessment, "scheduled_date")
	collectedDue, _ := store.Time(collected, "scheduled_date")
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 30), assessmentDue, time.Minute)
	assert.WithinDuration(t, time.Now(), collectedDue, time.Minute)

	// a second sweep must not pile on duplicate schedules
	again, err := scheduler.EnforceRetentionPolicies(ctx)
	require.NoError(t, err)
	assert.Empty(t, again.Scheduled)
}

func TestAnonymizeUserData(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	scheduler := newScheduler(st, retention.DefaultPolicies())
	admin := testutil.CreateUser(t, st, "district_admin")
	student := testutil.CreateUser(t, st, "student", testutil.WithName("Ada", "Lovelace"))

	recordID := testutil.SeedStudentRecord(t, st, student.ID, time.Hour)
	require.NoError(t, st.Update(ctx, store.StudentRecords, recordID, store.Record{
		"guardian_email": "parent@example.com",
		"score":          87,
	}))

	result, err := scheduler.AnonymizeUserData(ctx, student.ID, admin.ID)
	require.NoError(t, err)
	assert.NotEqual(t, student.ID, result.AnonymousID)
	assert.EqualValues(t, 1, result.RowsRetagged[retention.CategoryStudentRecords])

	row, err := st.Get(ctx, store.StudentRecords, recordID)
	require.NoError(t, err)
	assert.Equal(t, result.AnonymousID, store.UUID(row, "subject_id"))
	assert.Nil(t, row["guardian_email"])
	assert.Equal(t, 87, row["score"], "pseudonymous measures survive")

	user, err := st.Get(ctx, store.Users, student.ID)
	require.NoError(t, err)
	assert.Nil(t, user["first_name"])
	assert.Nil(t, user["email"])
	_, ok := store.Time(user, "anonymized_at")
	assert.True(t, ok)
}

func TestExportUserData(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	scheduler := newScheduler(st, retention.DefaultPolicies())
	admin := testutil.CreateUser(t, st, "district_admin")
	parent := testutil.CreateUser(t, st, "parent")
	student := testutil.CreateUser(t, st, "student")

	kept := testutil.SeedStudentRecord(t, st, student.ID, time.Hour)
	gone := testutil.SeedStudentRecord(t, st, student.ID, time.Hour)
	require.NoError(t, st.Update(ctx, store.StudentRecords, gone, store.Record{"deleted_at": time.Now()}))
	testutil.GrantConsent(t, st, student.ID, parent.ID, "parental_consent", []string{"basic_profile"})

	t.Run("bundle excludes soft-deleted rows", func(t *testing.T) {
		bundle, err := scheduler.ExportUserData(ctx, student.ID, admin.ID, nil, "")
		require.NoError(t, err)

		require.Len(t, bundle.Categories[retention.CategoryStudentRecords], 1)
		assert.Equal(t, kept, store.UUID(bundle.Categories[retention.CategoryStudentRecords][0], "id"))
		assert.Len(t, bundle.Consents, 1)
		assert.Equal(t, student.Email, store.String(bundle.Profile, "email"))
		assert.Empty(t, bundle.Location)
	})

	t.Run("optional upload reports the location", func(t *testing.T) {
		uploader := testutil.NewMockUploader(t)
		uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything, "application/json").
			Return("s3://exports/bundle.json", nil)

		bundle, err := scheduler.ExportUserData(ctx, student.ID, admin.ID, uploader, "exports")
		require.NoError(t, err)
		assert.Equal(t, "s3://exports/bundle.json", bundle.Location)
		uploader.AssertExpectations(t)
	})
}
