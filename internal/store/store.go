package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Collection names. Schema and indexing live in db/migrations; the core only
// addresses collections through this package.
const (
	Users               = "users"
	TeacherAssignments  = "teacher_assignments"
	ParentRelationships = "parent_relationships"
	PermissionGrants    = "permission_grants"
	ConsentRecords      = "consent_records"
	AuditEvents         = "audit_events"
	EncryptionKeys      = "encryption_keys"
	DeletionSchedules   = "deletion_schedules"
	StudentRecords      = "student_records"
	AssessmentRecords   = "assessment_records"
	CollectedData       = "collected_data"
	SessionData         = "session_data"
	TempFiles           = "temp_files"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

// Record is an untyped row. Domain packages own the mapping to their structs
// so the core has no compile-time dependency on any one store's query DSL.
type Record map[string]any

type Cond struct {
	Field string
	Op    string
	Value any
}

const (
	opEq      = "="
	opLt      = "<"
	opLte     = "<="
	opGt      = ">"
	opGte     = ">="
	opIsNull  = "isnull"
	opNotNull = "notnull"
)

func Eq(field string, value any) Cond  { return Cond{Field: field, Op: opEq, Value: value} }
func Lt(field string, value any) Cond  { return Cond{Field: field, Op: opLt, Value: value} }
func Lte(field string, value any) Cond { return Cond{Field: field, Op: opLte, Value: value} }
func Gt(field string, value any) Cond  { return Cond{Field: field, Op: opGt, Value: value} }
func Gte(field string, value any) Cond { return Cond{Field: field, Op: opGte, Value: value} }
func IsNull(field string) Cond         { return Cond{Field: field, Op: opIsNull} }
func NotNull(field string) Cond        { return Cond{Field: field, Op: opNotNull} }

// Filter is a conjunction of field conditions.
type Filter []Cond

type ListOptions struct {
	OrderBy string
	Desc    bool
	Limit   int64
	Offset  int64
}

type ListOption func(*ListOptions)

func OrderBy(field string, desc bool) ListOption {
	return func(o *ListOptions) {
		o.OrderBy = field
		o.Desc = desc
	}
}

func Limit(n int64) ListOption {
	return func(o *ListOptions) { o.Limit = n }
}

func Offset(n int64) ListOption {
	return func(o *ListOptions) { o.Offset = n }
}

// Store is the narrow repository boundary between the core and its durable
// storage. Any relational or document store can satisfy it.
type Store interface {
	Get(ctx context.Context, collection string, id uuid.UUID) (Record, error)
	List(ctx context.Context, collection string, filter Filter, opts ...ListOption) ([]Record, error)
	Insert(ctx context.Context, collection string, rec Record) error
	Update(ctx context.Context, collection string, id uuid.UUID, changes Record) error
	Upsert(ctx context.Context, collection string, rec Record) error
	Delete(ctx context.Context, collection string, filter Filter) (int64, error)
	Count(ctx context.Context, collection string, filter Filter) (int64, error)
}

// Typed accessors for Record fields. Postgres and the in-memory store return
// slightly different concrete types; these normalize at the read site.

func String(rec Record, key string) string {
	if v, ok := rec[key].(string); ok {
		return v
	}
	return ""
}

func Bool(rec Record, key string) bool {
	if v, ok := rec[key].(bool); ok {
		return v
	}
	return false
}

func Int(rec Record, key string) int64 {
	switch v := rec[key].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func Time(rec Record, key string) (time.Time, bool) {
	if v, ok := rec[key].(time.Time); ok {
		return v, true
	}
	return time.Time{}, false
}

func UUID(rec Record, key string) uuid.UUID {
	switch v := rec[key].(type) {
	case uuid.UUID:
		return v
	case [16]byte:
		return uuid.UUID(v)
	case string:
		if id, err := uuid.Parse(v); err == nil {
			return id
		}
	}
	return uuid.Nil
}

func UUIDPtr(rec Record, key string) *uuid.UUID {
	if rec[key] == nil {
		return nil
	}
	id := UUID(rec, key)
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func Strings(rec Record, key string) []string {
	switch v := rec[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func Map(rec Record, key string) map[string]any {
	if v, ok := rec[key].(map[string]any); ok {
		return v
	}
	return nil
}
