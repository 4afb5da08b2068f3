package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightpath/compliance-core/internal/audit"
	"github.com/brightpath/compliance-core/internal/store"
)

func TestDetectTampering(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := base
	l := newLog(t, st, audit.Config{FlushSize: 100, FlushInterval: time.Hour, TamperSkewMax: time.Minute}, nil)
	l.WithClock(func() time.Time { return clock })

	t.Run("clean log reports nothing", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			clock = base.Add(time.Duration(i) * time.Second)
			l.Log(ctx, infoEvent("read_record"))
		}
		require.NoError(t, l.Flush(ctx))

		report, err := l.DetectTampering(ctx)
		require.NoError(t, err)
		assert.False(t, report.Tampered)
		assert.Equal(t, 3, report.Scanned)
		assert.Empty(t, report.Findings)
	})

	t.Run("backdated timestamp flagged", func(t *testing.T) {
		clock = base.Add(time.Hour)
		e := infoEvent("read_record")
		e.Timestamp = base.Add(-time.Hour)
		id := l.Log(ctx, e)
		require.NoError(t, l.Flush(ctx))

		report, err := l.DetectTampering(ctx)
		require.NoError(t, err)
		assert.True(t, report.Tampered)
		assert.Contains(t, report.SuspiciousIDs, id)
	})

	t.Run("insertion skew flagged", func(t *testing.T) {
		st := store.NewMemoryStore()
		l := newLog(t, st, audit.Config{FlushSize: 100, FlushInterval: time.Hour, TamperSkewMax: time.Minute}, nil)

		clock := base
		l.WithClock(func() time.Time { return clock })

		e := infoEvent("read_record")
		id := l.Log(ctx, e)

		// flush long after the event was stamped
		clock = base.Add(10 * time.Minute)
		require.NoError(t, l.Flush(ctx))

		report, err := l.DetectTampering(ctx)
		require.NoError(t, err)
		assert.True(t, report.Tampered)
		assert.Contains(t, report.SuspiciousIDs, id)
		require.NotEmpty(t, report.Findings)
		assert.Equal(t, audit.FindingSkew, report.Findings[0].Reason)
	})
}
