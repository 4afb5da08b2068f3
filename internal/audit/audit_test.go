package audit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightpath/compliance-core/internal/audit"
	"github.com/brightpath/compliance-core/internal/store"
	"github.com/brightpath/compliance-core/internal/testutil"
)

func newLog(t *testing.T, st store.Store, cfg audit.Config, alerter audit.Alerter) *audit.Log {
	t.Helper()
	l := audit.New(st, cfg, alerter)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Close(ctx)
	})
	return l
}

func infoEvent(action string) audit.Event {
	return audit.Event{
		Category: audit.CategoryDataAccess,
		Status:   audit.StatusSuccess,
		ActorID:  uuid.New(),
		Action:   action,
	}
}

func TestLogBuffersUntilThreshold(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	l := newLog(t, st, audit.Config{FlushSize: 3, FlushInterval: time.Hour}, nil)

	l.Log(ctx, infoEvent("read_record"))
	l.Log(ctx, infoEvent("read_record"))

	count, err := st.Count(ctx, store.AuditEvents, nil)
	require.NoError(t, err)
	assert.Zero(t, count, "events should still be buffered")
	assert.Equal(t, 2, l.Pending())

	l.Log(ctx, infoEvent("read_record"))

	require.Eventually(t, func() bool {
		n, err := st.Count(ctx, store.AuditEvents, nil)
		return err == nil && n == 3
	}, 2*time.Second, 10*time.Millisecond, "size threshold should trigger a flush")
	assert.Zero(t, l.Pending())
}

func TestCriticalSeverityFlushesImmediately(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	l := newLog(t, st, audit.Config{FlushSize: 100, FlushInterval: time.Hour}, nil)

	e := infoEvent("delete_record")
	e.Severity = audit.SeverityCritical
	id := l.Log(ctx, e)

	require.Eventually(t, func() bool {
		_, err := st.Get(ctx, store.AuditEvents, id)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFlushFailureRebuffersInOrder(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	l := newLog(t, st, audit.Config{FlushSize: 100, FlushInterval: time.Hour}, nil)

	first := l.Log(ctx, infoEvent("first"))
	second := l.Log(ctx, infoEvent("second"))

	st.FailNextWrite(store.AuditEvents, errors.New("connection reset"))
	require.Error(t, l.Flush(ctx))
	assert.Equal(t, 2, l.Pending(), "failed batch returns to the buffer")

	require.NoError(t, l.Flush(ctx))
	assert.Zero(t, l.Pending())

	events, err := l.Query(ctx, audit.QueryFilter{})
	require.NoError(t, err)
	require.Len(t, events, 2)

	// retry is idempotent: re-flushing the same ids does not duplicate
	ids := map[uuid.UUID]bool{first: true, second: true}
	for _, e := range events {
		assert.True(t, ids[e.ID])
	}
}

func TestSecurityEventsAlertWithoutBlocking(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	alerter := &testutil.RecordingAlerter{}
	l := newLog(t, st, audit.Config{FlushSize: 100, FlushInterval: time.Hour}, alerter)

	e := infoEvent("failed_login_burst")
	e.Category = audit.CategorySecurity
	e.Severity = audit.SeverityWarning
	id := l.Log(ctx, e)

	require.Eventually(t, func() bool {
		return len(alerter.Events()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, id, alerter.Events()[0].ID)

	// non-critical security event stays buffered; alerting is a side effect
	assert.Equal(t, 1, l.Pending())
}

func TestCloseDrainsBuffer(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	l := audit.New(st, audit.Config{FlushSize: 100, FlushInterval: time.Hour}, nil)

	for i := 0; i < 5; i++ {
		l.Log(ctx, infoEvent("read_record"))
	}

	require.NoError(t, l.Close(ctx))

	count, err := st.Count(ctx, store.AuditEvents, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 5, count)
}

func TestQueryFilters(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	l := newLog(t, st, audit.Config{FlushSize: 100, FlushInterval: time.Hour}, nil)

	actor := uuid.New()

	e1 := infoEvent("read_record")
	e1.ActorID = actor
	l.Log(ctx, e1)

	e2 := infoEvent("delete_record")
	e2.Category = audit.CategoryRetention
	l.Log(ctx, e2)

	require.NoError(t, l.Flush(ctx))

	t.Run("by actor", func(t *testing.T) {
		events, err := l.Query(ctx, audit.QueryFilter{ActorID: &actor})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "read_record", events[0].Action)
	})

	t.Run("by category", func(t *testing.T) {
		events, err := l.Query(ctx, audit.QueryFilter{Category: audit.CategoryRetention})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "delete_record", events[0].Action)
	})

	t.Run("newest first", func(t *testing.T) {
		events, err := l.Query(ctx, audit.QueryFilter{})
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.False(t, events[0].Timestamp.Before(events[1].Timestamp))
	})
}
