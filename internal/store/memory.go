package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store used by tests and the seeder. List
// preserves insertion order unless an OrderBy option is given, which mirrors
// how the audit tamper scan consumes the postgres store.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection

	// one-shot write failure, armed by FailNextWrite to exercise retry paths
	failErr  error
	failColl string
}

type memCollection struct {
	records map[uuid.UUID]Record
	order   []uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memCollection)}
}

// FailNextWrite arms a one-shot write failure for the collection.
func (s *MemoryStore) FailNextWrite(collection string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failColl = collection
	s.failErr = err
}

func (s *MemoryStore) takeFailure(collection string) error {
	if s.failColl == collection && s.failErr != nil {
		err := s.failErr
		s.failErr = nil
		s.failColl = ""
		return err
	}
	return nil
}

func (s *MemoryStore) coll(name string) *memCollection {
	c, ok := s.collections[name]
	if !ok {
		c = &memCollection{records: make(map[uuid.UUID]Record)}
		s.collections[name] = c
	}
	return c
}

func (s *MemoryStore) Get(ctx context.Context, collection string, id uuid.UUID) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collection]
	if !ok {
		return nil, ErrNotFound
	}
	rec, ok := c.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecord(rec), nil
}

func (s *MemoryStore) List(ctx context.Context, collection string, filter Filter, opts ...ListOption) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var options ListOptions
	for _, opt := range opts {
		opt(&options)
	}

	c, ok := s.collections[collection]
	if !ok {
		return nil, nil
	}

	var out []Record
	for _, id := range c.order {
		rec, ok := c.records[id]
		if !ok {
			continue
		}
		if matches(rec, filter) {
			out = append(out, copyRecord(rec))
		}
	}

	if options.OrderBy != "" {
		field, desc := options.OrderBy, options.Desc
		sort.SliceStable(out, func(i, j int) bool {
			// incomparable pairs report false both ways and keep
			// their insertion order
			if desc {
				return lessValue(out[j][field], out[i][field])
			}
			return lessValue(out[i][field], out[j][field])
		})
	}

	if options.Offset > 0 {
		if options.Offset >= int64(len(out)) {
			return nil, nil
		}
		out = out[options.Offset:]
	}
	if options.Limit > 0 && options.Limit < int64(len(out)) {
		out = out[:options.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Insert(ctx context.Context, collection string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(collection); err != nil {
		return err
	}

	id := UUID(rec, "id")
	c := s.coll(collection)
	if _, exists := c.records[id]; exists {
		return ErrDuplicate
	}
	c.records[id] = copyRecord(rec)
	c.order = append(c.order, id)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, collection string, id uuid.UUID, changes Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(collection); err != nil {
		return err
	}

	c, ok := s.collections[collection]
	if !ok {
		return ErrNotFound
	}
	rec, ok := c.records[id]
	if !ok {
		return ErrNotFound
	}
	for k, v := range changes {
		rec[k] = v
	}
	return nil
}

func (s *MemoryStore) Upsert(ctx context.Context, collection string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(collection); err != nil {
		return err
	}

	id := UUID(rec, "id")
	c := s.coll(collection)
	if _, exists := c.records[id]; !exists {
		c.order = append(c.order, id)
	}
	c.records[id] = copyRecord(rec)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, collection string, filter Filter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(collection); err != nil {
		return 0, err
	}

	c, ok := s.collections[collection]
	if !ok {
		return 0, nil
	}

	var deleted int64
	remaining := c.order[:0]
	for _, id := range c.order {
		rec := c.records[id]
		if matches(rec, filter) {
			delete(c.records, id)
			deleted++
			continue
		}
		remaining = append(remaining, id)
	}
	c.order = remaining
	return deleted, nil
}

func (s *MemoryStore) Count(ctx context.Context, collection string, filter Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collection]
	if !ok {
		return 0, nil
	}

	var count int64
	for _, rec := range c.records {
		if matches(rec, filter) {
			count++
		}
	}
	return count, nil
}

func matches(rec Record, filter Filter) bool {
	for _, c := range filter {
		v, present := rec[c.Field]
		switch c.Op {
		case opIsNull:
			if present && v != nil {
				return false
			}
		case opNotNull:
			if !present || v == nil {
				return false
			}
		case opEq:
			if !equalValue(v, c.Value) {
				return false
			}
		case opLt:
			if !lessValue(v, c.Value) {
				return false
			}
		case opLte:
			if !lessValue(v, c.Value) && !equalValue(v, c.Value) {
				return false
			}
		case opGt:
			if lessValue(v, c.Value) || equalValue(v, c.Value) {
				return false
			}
		case opGte:
			if lessValue(v, c.Value) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func equalValue(a, b any) bool {
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Equal(bt)
		}
		return false
	}
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return a == b
}

func lessValue(a, b any) bool {
	switch av := a.(type) {
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Before(bv)
		}
	case string:
		if bv, ok := b.(string); ok {
			return av < bv
		}
	}
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af < bf
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func copyRecord(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		switch vv := v.(type) {
		case map[string]any:
			inner := make(map[string]any, len(vv))
			for ik, iv := range vv {
				inner[ik] = iv
			}
			out[k] = inner
		case []string:
			out[k] = append([]string(nil), vv...)
		default:
			out[k] = v
		}
	}
	return out
}
