package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightpath/compliance-core/internal/store"
)

func TestMemoryStoreFilters(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ids := make([]uuid.UUID, 4)
	for i := range ids {
		ids[i] = uuid.New()
		rec := store.Record{
			"id":         ids[i],
			"rank":       i,
			"created_at": base.Add(time.Duration(i) * time.Hour),
		}
		if i == 3 {
			rec["deleted_at"] = base
		}
		require.NoError(t, st.Insert(ctx, "things", rec))
	}

	t.Run("conditions are conjunctive", func(t *testing.T) {
		out, err := st.List(ctx, "things", store.Filter{
			store.Gte("rank", 1),
			store.IsNull("deleted_at"),
		})
		require.NoError(t, err)
		assert.Len(t, out, 2)
	})

	t.Run("time comparisons", func(t *testing.T) {
		count, err := st.Count(ctx, "things", store.Filter{
			store.Lt("created_at", base.Add(90*time.Minute)),
		})
		require.NoError(t, err)
		assert.EqualValues(t, 2, count)
	})

	t.Run("missing field counts as null", func(t *testing.T) {
		count, err := st.Count(ctx, "things", store.Filter{store.NotNull("deleted_at")})
		require.NoError(t, err)
		assert.EqualValues(t, 1, count)
	})

	t.Run("descending order with incomparable values stays stable", func(t *testing.T) {
		mixed := store.NewMemoryStore()
		a, b, c := uuid.New(), uuid.New(), uuid.New()
		require.NoError(t, mixed.Insert(ctx, "things", store.Record{"id": a, "rank": "high"}))
		require.NoError(t, mixed.Insert(ctx, "things", store.Record{"id": b, "rank": 2}))
		require.NoError(t, mixed.Insert(ctx, "things", store.Record{"id": c, "rank": 1}))

		out, err := mixed.List(ctx, "things", nil, store.OrderBy("rank", true))
		require.NoError(t, err)
		require.Len(t, out, 3)

		// comparable values are ordered; the string keeps its slot
		assert.Equal(t, a, store.UUID(out[0], "id"))
		assert.Equal(t, b, store.UUID(out[1], "id"))
		assert.Equal(t, c, store.UUID(out[2], "id"))
	})

	t.Run("order limit offset", func(t *testing.T) {
		out, err := st.List(ctx, "things", nil,
			store.OrderBy("created_at", true), store.Limit(2), store.Offset(1))
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, ids[2], store.UUID(out[0], "id"))
		assert.Equal(t, ids[1], store.UUID(out[1], "id"))
	})
}

func TestMemoryStoreWrites(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	id := uuid.New()

	require.NoError(t, st.Insert(ctx, "things", store.Record{"id": id, "n": 1}))
	assert.ErrorIs(t, st.Insert(ctx, "things", store.Record{"id": id, "n": 2}), store.ErrDuplicate)

	require.NoError(t, st.Upsert(ctx, "things", store.Record{"id": id, "n": 3}))
	rec, err := st.Get(ctx, "things", id)
	require.NoError(t, err)
	assert.Equal(t, 3, rec["n"])

	assert.ErrorIs(t, st.Update(ctx, "things", uuid.New(), store.Record{"n": 4}), store.ErrNotFound)

	t.Run("armed failure fires once", func(t *testing.T) {
		boom := errors.New("boom")
		st.FailNextWrite("things", boom)
		assert.ErrorIs(t, st.Update(ctx, "things", id, store.Record{"n": 5}), boom)
		assert.NoError(t, st.Update(ctx, "things", id, store.Record{"n": 5}))
	})

	t.Run("delete by filter", func(t *testing.T) {
		deleted, err := st.Delete(ctx, "things", store.Filter{store.Eq("n", 5)})
		require.NoError(t, err)
		assert.EqualValues(t, 1, deleted)
		_, err = st.Get(ctx, "things", id)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}
