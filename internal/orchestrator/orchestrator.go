// Package orchestrator composes the access-control engine, the compliance
// gate, and the audit trail into the single Authorize entry point upstream
// services call. Every decision is audited, allowed or not.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/brightpath/compliance-core/internal/audit"
	"github.com/brightpath/compliance-core/internal/compliance"
	"github.com/brightpath/compliance-core/internal/rbac"
	"github.com/brightpath/compliance-core/internal/store"
)

// AuthorizeRequest describes one access attempt. StudentID is the subject
// whose data is touched; it is nil for non-student resources, in which case
// the compliance gate is skipped and only the permission check applies.
type AuthorizeRequest struct {
	ActorID    uuid.UUID
	Permission rbac.Permission
	ResourceID *uuid.UUID
	StudentID  *uuid.UUID
	DataType   compliance.DataType
	SessionID  string
}

// Decision is the combined verdict. Allowed requires both the permission
// check and, when a student subject is involved, the compliance gate.
type Decision struct {
	Allowed         bool
	Reason          string
	RequiresConsent bool
	FERPARelevant   bool
	COPPARelevant   bool
	AuditEventID    uuid.UUID
}

type Orchestrator struct {
	engine *rbac.Engine
	gate   *compliance.Gate
	audit  *audit.Log
	store  store.Store
}

func New(engine *rbac.Engine, gate *compliance.Gate, auditLog *audit.Log, st store.Store) *Orchestrator {
	return &Orchestrator{engine: engine, gate: gate, audit: auditLog, store: st}
}

// Authorize runs the permission check first, then the compliance gate for
// student subjects, and records the outcome. The audit write happens on a
// detached context so a caller that gives up mid-request still leaves a
// trail.
func (o *Orchestrator) Authorize(ctx context.Context, req AuthorizeRequest) (Decision, error) {
	var decision Decision

	check, err := o.engine.Check(ctx, req.ActorID, req.Permission, req.ResourceID)
	if err != nil {
		return decision, fmt.Errorf("permission check: %w", err)
	}

	if !check.Granted {
		decision.Reason = check.Reason
		decision.AuditEventID = o.record(ctx, req, decision, audit.StatusDenied)
		return decision, nil
	}

	if req.StudentID != nil {
		gateDecision, err := o.gate.CheckStudentDataAccess(ctx, req.ActorID, *req.StudentID, req.DataType)
		if err != nil {
			return decision, fmt.Errorf("compliance gate: %w", err)
		}
		decision.RequiresConsent = gateDecision.RequiresConsent
		decision.FERPARelevant = gateDecision.FERPARelevant

		child, err := o.gate.IsChildUnder13(ctx, *req.StudentID)
		if err != nil {
			return decision, fmt.Errorf("age check: %w", err)
		}
		decision.COPPARelevant = child

		if !gateDecision.Allowed {
			decision.Reason = gateDecision.Reason
			decision.AuditEventID = o.record(ctx, req, decision, audit.StatusDenied)
			return decision, nil
		}
	}

	decision.Allowed = true
	decision.AuditEventID = o.record(ctx, req, decision, audit.StatusSuccess)
	return decision, nil
}

func (o *Orchestrator) record(ctx context.Context, req AuthorizeRequest, d Decision, status audit.Status) uuid.UUID {
	severity := audit.SeverityInfo
	if status == audit.StatusDenied {
		severity = audit.SeverityWarning
	}

	event := audit.Event{
		Category:      audit.CategoryAuthorization,
		Severity:      severity,
		Status:        status,
		ActorID:       req.ActorID,
		SessionID:     req.SessionID,
		Action:        string(req.Permission),
		Resource:      "student_data",
		ResourceID:    req.ResourceID,
		FERPARelevant: d.FERPARelevant,
		COPPARelevant: d.COPPARelevant,
		Metadata:      map[string]any{"data_type": string(req.DataType)},
	}
	if req.StudentID != nil {
		event.Metadata["student_id"] = req.StudentID.String()
	}
	if d.Reason != "" {
		event.Metadata["reason"] = d.Reason
	}
	if actor, err := o.store.Get(ctx, store.Users, req.ActorID); err == nil {
		event.ActorRole = store.String(actor, "role")
	}

	// detach from the caller's deadline so the trail outlives cancellation
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return o.audit.Log(auditCtx, event)
}
