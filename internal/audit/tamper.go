package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/brightpath/compliance-core/internal/store"
)

const (
	FindingBackdated = "timestamp precedes previous event in insertion order"
	FindingSkew      = "timestamp and insertion time differ beyond threshold"
)

type Finding struct {
	EventID uuid.UUID
	Reason  string
}

// TamperReport is a report for operator review, never auto-remediated.
type TamperReport struct {
	Tampered      bool
	SuspiciousIDs []uuid.UUID
	Findings      []Finding
	Scanned       int
}

// DetectTampering scans durable events in storage-insertion order and flags
// backdated or out-of-order declared timestamps, and events whose declared
// timestamp diverges from the insertion time by more than the configured
// threshold. The heuristic assumes flush batches preserve append order.
func (l *Log) DetectTampering(ctx context.Context) (TamperReport, error) {
	recs, err := l.store.List(ctx, store.AuditEvents, nil, store.OrderBy("inserted_at", false))
	if err != nil {
		return TamperReport{}, fmt.Errorf("scanning audit events: %w", err)
	}

	report := TamperReport{Scanned: len(recs)}
	flagged := make(map[uuid.UUID]struct{})
	flag := func(id uuid.UUID, reason string) {
		report.Findings = append(report.Findings, Finding{EventID: id, Reason: reason})
		if _, seen := flagged[id]; !seen {
			flagged[id] = struct{}{}
			report.SuspiciousIDs = append(report.SuspiciousIDs, id)
		}
	}

	var havePrev bool
	var prevTS time.Time
	for _, rec := range recs {
		id := store.UUID(rec, "id")
		ts, tsOK := store.Time(rec, "timestamp")
		if !tsOK {
			flag(id, FindingBackdated)
			continue
		}

		if havePrev && ts.Before(prevTS) {
			flag(id, FindingBackdated)
		}

		if insertedAt, ok := store.Time(rec, "inserted_at"); ok {
			skew := insertedAt.Sub(ts)
			if skew < 0 {
				skew = -skew
			}
			if skew > l.cfg.TamperSkewMax {
				flag(id, FindingSkew)
			}
		}

		havePrev = true
		prevTS = ts
	}

	report.Tampered = len(report.SuspiciousIDs) > 0
	return report, nil
}
