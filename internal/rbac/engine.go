package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/brightpath/compliance-core/internal/store"
)

const (
	ReasonActorNotFound      = "actor not found"
	ReasonMissingPermission  = "permission not granted to role"
	ReasonNoActiveAssignment = "no active teacher-student assignment"
	ReasonNotVerifiedParent  = "no verified parent-student relationship"
	ReasonNotSelf            = "students may only access their own records"
	ReasonTeacherNeverHas    = "teachers are never granted delete or export on student records"
)

// AccessContext is built fresh per request from the actor's stored role so
// role changes take effect immediately. It is never cached across requests.
type AccessContext struct {
	ActorID    uuid.UUID
	Role       Role
	SchoolID   *uuid.UUID
	DistrictID *uuid.UUID
	SessionID  string
	Timestamp  time.Time
}

// PermissionCheckResult is a pure value; a check never mutates global state
// and a result is producible even when the actor lookup fails (fails closed).
type PermissionCheckResult struct {
	Granted  bool
	Required []Permission
	Missing  []Permission
	Reason   string
	Context  AccessContext
}

// Grant is a custom permission outside an actor's role set, with optional
// expiration. Revoking or expiring a grant never retroactively invalidates
// audit records written while it was live.
type Grant struct {
	ID         uuid.UUID
	ActorID    uuid.UUID
	Permission Permission
	GrantedBy  uuid.UUID
	GrantedAt  time.Time
	ExpiresAt  *time.Time
	RevokedAt  *time.Time
}

// Engine evaluates role permissions plus resource-scoped rules.
type Engine struct {
	store store.Store
	roles RolePermissions
	now   func() time.Time
}

func NewEngine(st store.Store, roles RolePermissions) *Engine {
	return &Engine{store: st, roles: roles, now: time.Now}
}

// WithClock overrides the engine clock, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Check evaluates a single permission for the actor, applying the resource
// rule for the actor's role when resourceID is given. Store faults are
// returned as errors; everything else is a denial value.
func (e *Engine) Check(ctx context.Context, actorID uuid.UUID, perm Permission, resourceID *uuid.UUID) (PermissionCheckResult, error) {
	now := e.now()
	result := PermissionCheckResult{
		Required: []Permission{perm},
		Context:  AccessContext{ActorID: actorID, Timestamp: now},
	}

	actor, err := e.store.Get(ctx, store.Users, actorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			result.Reason = ReasonActorNotFound
			return result, nil
		}
		return result, fmt.Errorf("loading actor %s: %w", actorID, err)
	}

	role := NormalizeRole(store.String(actor, "role"))
	result.Context.Role = role
	result.Context.SchoolID = store.UUIDPtr(actor, "school_id")
	result.Context.DistrictID = store.UUIDPtr(actor, "district_id")

	allowed, err := e.hasEffectivePermission(ctx, actorID, role, perm, now)
	if err != nil {
		return result, err
	}
	if !allowed {
		result.Missing = []Permission{perm}
		result.Reason = ReasonMissingPermission
		return result, nil
	}

	if resourceID != nil {
		ok, reason, err := e.resourceRule(ctx, actorID, role, perm, *resourceID, now)
		if err != nil {
			return result, err
		}
		if !ok {
			result.Reason = reason
			return result, nil
		}
	}

	result.Granted = true
	return result, nil
}

// CheckAll is the AND combinator over individual checks.
func (e *Engine) CheckAll(ctx context.Context, actorID uuid.UUID, perms []Permission, resourceID *uuid.UUID) (PermissionCheckResult, error) {
	combined := PermissionCheckResult{Granted: true, Required: perms}
	for _, perm := range perms {
		res, err := e.Check(ctx, actorID, perm, resourceID)
		if err != nil {
			return PermissionCheckResult{Required: perms}, err
		}
		combined.Context = res.Context
		if !res.Granted {
			combined.Granted = false
			combined.Missing = append(combined.Missing, perm)
			combined.Reason = res.Reason
		}
	}
	return combined, nil
}

// CheckAny is the OR combinator over individual checks.
func (e *Engine) CheckAny(ctx context.Context, actorID uuid.UUID, perms []Permission, resourceID *uuid.UUID) (PermissionCheckResult, error) {
	combined := PermissionCheckResult{Required: perms}
	for _, perm := range perms {
		res, err := e.Check(ctx, actorID, perm, resourceID)
		if err != nil {
			return combined, err
		}
		combined.Context = res.Context
		if res.Granted {
			res.Required = perms
			return res, nil
		}
		combined.Missing = append(combined.Missing, perm)
		combined.Reason = res.Reason
	}
	return combined, nil
}

// effective set = role set + unexpired, unrevoked custom grants
func (e *Engine) hasEffectivePermission(ctx context.Context, actorID uuid.UUID, role Role, perm Permission, now time.Time) (bool, error) {
	if set, ok := e.roles[role]; ok && set.Contains(perm) {
		return true, nil
	}

	grants, err := e.store.List(ctx, store.PermissionGrants, store.Filter{
		store.Eq("actor_id", actorID),
		store.Eq("permission", string(perm)),
		store.IsNull("revoked_at"),
	})
	if err != nil {
		return false, fmt.Errorf("loading grants for %s: %w", actorID, err)
	}
	for _, g := range grants {
		if exp, ok := store.Time(g, "expires_at"); ok && exp.Before(now) {
			continue
		}
		return true, nil
	}
	return false, nil
}

func (e *Engine) resourceRule(ctx context.Context, actorID uuid.UUID, role Role, perm Permission, resourceID uuid.UUID, now time.Time) (bool, string, error) {
	switch role {
	case RoleTeacher:
		// hard rule, not overridable by custom grants
		if perm == DeleteStudentRecord || perm == ExportData {
			return false, ReasonTeacherNeverHas, nil
		}
		active, err := e.hasActiveAssignment(ctx, actorID, resourceID, now)
		if err != nil {
			return false, "", err
		}
		if !active {
			return false, ReasonNoActiveAssignment, nil
		}
		return true, "", nil

	case RoleParent:
		verified, err := e.hasVerifiedRelationship(ctx, actorID, resourceID)
		if err != nil {
			return false, "", err
		}
		if !verified {
			return false, ReasonNotVerifiedParent, nil
		}
		return true, "", nil

	case RoleStudent:
		if resourceID != actorID {
			return false, ReasonNotSelf, nil
		}
		return true, "", nil

	default:
		// admin and staff roles have no resource-scoped rule; the
		// permission set and the compliance gate govern.
		return true, "", nil
	}
}

func (e *Engine) hasActiveAssignment(ctx context.Context, teacherID, studentID uuid.UUID, now time.Time) (bool, error) {
	assignments, err := e.store.List(ctx, store.TeacherAssignments, store.Filter{
		store.Eq("teacher_id", teacherID),
		store.Eq("student_id", studentID),
	})
	if err != nil {
		return false, fmt.Errorf("loading assignments: %w", err)
	}
	for _, a := range assignments {
		end, ok := store.Time(a, "end_date")
		if !ok || !end.Before(now) {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) hasVerifiedRelationship(ctx context.Context, parentID, studentID uuid.UUID) (bool, error) {
	count, err := e.store.Count(ctx, store.ParentRelationships, store.Filter{
		store.Eq("parent_id", parentID),
		store.Eq("student_id", studentID),
		store.Eq("verified", true),
	})
	if err != nil {
		return false, fmt.Errorf("loading relationships: %w", err)
	}
	return count > 0, nil
}

// GrantPermission records a custom grant with optional expiration.
func (e *Engine) GrantPermission(ctx context.Context, actorID uuid.UUID, perm Permission, grantedBy uuid.UUID, expiresAt *time.Time) (Grant, error) {
	g := Grant{
		ID:         uuid.New(),
		ActorID:    actorID,
		Permission: perm,
		GrantedBy:  grantedBy,
		GrantedAt:  e.now(),
		ExpiresAt:  expiresAt,
	}

	rec := store.Record{
		"id":         g.ID,
		"actor_id":   g.ActorID,
		"permission": string(g.Permission),
		"granted_by": g.GrantedBy,
		"granted_at": g.GrantedAt,
		"expires_at": nil,
		"revoked_at": nil,
	}
	if expiresAt != nil {
		rec["expires_at"] = *expiresAt
	}

	if err := e.store.Insert(ctx, store.PermissionGrants, rec); err != nil {
		return Grant{}, fmt.Errorf("storing grant: %w", err)
	}
	return g, nil
}

// RevokeGrant marks the grant revoked. Idempotent.
func (e *Engine) RevokeGrant(ctx context.Context, grantID uuid.UUID) error {
	err := e.store.Update(ctx, store.PermissionGrants, grantID, store.Record{
		"revoked_at": e.now(),
	})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("revoking grant %s: %w", grantID, err)
	}
	return nil
}
