package compliance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/brightpath/compliance-core/internal/rbac"
	"github.com/brightpath/compliance-core/internal/store"
)

// DataType classifies student data for FERPA gating.
type DataType string

const (
	DataBasic      DataType = "basic"
	DataGrades     DataType = "grades"
	DataAttendance DataType = "attendance"
	DataBehavioral DataType = "behavioral"
	DataAssessment DataType = "assessment_data"
	DataHealth     DataType = "health"
	DataDiscipline DataType = "discipline"
	DataDirectory  DataType = "directory_info"
)

// restricted categories require elevated access; no role permission or custom
// grant overrides this boundary for teachers.
var restrictedDataTypes = map[DataType]struct{}{
	DataHealth:     {},
	DataDiscipline: {},
}

func IsRestricted(dt DataType) bool {
	_, ok := restrictedDataTypes[dt]
	return ok
}

// AccessDecision is the gate's answer. RequiresConsent distinguishes
// "denied until a consent flow completes" from a hard denial.
type AccessDecision struct {
	Allowed         bool
	Reason          string
	RequiresConsent bool
	FERPARelevant   bool
	COPPARelevant   bool
}

// ScheduleDeletionFunc is the hook RevokeConsent uses to request an immediate
// hard deletion of a child's collected data. Wired to the retention scheduler
// by the container.
type ScheduleDeletionFunc func(ctx context.Context, subjectID, requestedBy uuid.UUID) error

// Gate is the FERPA/COPPA overlay on the access-control engine. It makes
// read-only decisions; auditing those decisions is the orchestrator's
// responsibility, not optional instrumentation here.
type Gate struct {
	store            store.Store
	scheduleDeletion ScheduleDeletionFunc
	now              func() time.Time
}

func NewGate(st store.Store, scheduleDeletion ScheduleDeletionFunc) *Gate {
	return &Gate{store: st, scheduleDeletion: scheduleDeletion, now: time.Now}
}

// WithClock overrides the gate clock, for tests.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// CheckStudentDataAccess decides whether the actor may touch the student's
// data of the given type. Roles without an explicit rule are denied.
func (g *Gate) CheckStudentDataAccess(ctx context.Context, actorID, studentID uuid.UUID, dataType DataType) (AccessDecision, error) {
	decision := AccessDecision{FERPARelevant: true}

	actor, err := g.store.Get(ctx, store.Users, actorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			decision.Reason = "actor not found"
			return decision, nil
		}
		return decision, fmt.Errorf("loading actor %s: %w", actorID, err)
	}

	role := rbac.NormalizeRole(store.String(actor, "role"))

	switch {
	case rbac.IsAdmin(role):
		decision.Allowed = true
		return decision, nil

	case role == rbac.RoleParent:
		verified, err := g.verifiedParent(ctx, actorID, studentID)
		if err != nil {
			return decision, err
		}
		if !verified {
			decision.Reason = "no verified parent-student relationship"
			return decision, nil
		}
		decision.Allowed = true
		return decision, nil

	case role == rbac.RoleTeacher:
		if IsRestricted(dataType) {
			decision.Reason = fmt.Sprintf("%s data requires elevated access", dataType)
			return decision, nil
		}
		assigned, err := g.activeAssignment(ctx, actorID, studentID)
		if err != nil {
			return decision, err
		}
		if !assigned {
			decision.Reason = "no active teacher-student assignment"
			return decision, nil
		}
		decision.Allowed = true
		return decision, nil

	case role == rbac.RoleResearcher:
		consented, err := g.activeConsents(ctx, studentID, ConsentResearch)
		if err != nil {
			return decision, err
		}
		if len(consented) == 0 {
			decision.Reason = "research consent not on file for this student"
			decision.RequiresConsent = true
			return decision, nil
		}
		decision.Allowed = true
		return decision, nil

	case role == rbac.RoleStudent:
		if actorID != studentID {
			decision.Reason = "students may only access their own records"
			return decision, nil
		}
		if IsRestricted(dataType) {
			decision.Reason = fmt.Sprintf("%s data requires elevated access", dataType)
			return decision, nil
		}
		decision.Allowed = true
		return decision, nil

	default:
		decision.Reason = fmt.Sprintf("role %s has no student data access rule", role)
		return decision, nil
	}
}

func (g *Gate) verifiedParent(ctx context.Context, parentID, studentID uuid.UUID) (bool, error) {
	count, err := g.store.Count(ctx, store.ParentRelationships, store.Filter{
		store.Eq("parent_id", parentID),
		store.Eq("student_id", studentID),
		store.Eq("verified", true),
	})
	if err != nil {
		return false, fmt.Errorf("loading relationships: %w", err)
	}
	return count > 0, nil
}

func (g *Gate) activeAssignment(ctx context.Context, teacherID, studentID uuid.UUID) (bool, error) {
	assignments, err := g.store.List(ctx, store.TeacherAssignments, store.Filter{
		store.Eq("teacher_id", teacherID),
		store.Eq("student_id", studentID),
	})
	if err != nil {
		return false, fmt.Errorf("loading assignments: %w", err)
	}
	now := g.now()
	for _, a := range assignments {
		end, ok := store.Time(a, "end_date")
		if !ok || !end.Before(now) {
			return true, nil
		}
	}
	return false, nil
}
