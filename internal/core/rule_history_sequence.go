package core

import (
	"context"
	"fmt"

	"provenancecore/pkg/domain"
)

// HistorySequenceRule blocks commits that would leave a unit's history log
// malformed: sequence gaps, a registration entry anywhere but sequence zero,
// or entries appended after a final sale.
func HistorySequenceRule() domain.Rule {
	return historySequenceRule{}
}

type historySequenceRule struct{}

func (historySequenceRule) Name() string { return "history_sequence" }

func (historySequenceRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	checked := make(map[string]struct{})
	for _, change := range changes {
		if change.Entity != domain.EntityHistory {
			continue
		}
		entry, ok := change.After.(domain.HistoryEntry)
		if !ok {
			continue
		}
		if _, done := checked[entry.UnitID]; done {
			continue
		}
		checked[entry.UnitID] = struct{}{}
		res.Merge(auditLog(entry.UnitID, view.History(entry.UnitID)))
	}
	return res, nil
}

func auditLog(unitID string, entries []domain.HistoryEntry) domain.Result {
	var res domain.Result
	block := func(format string, args ...any) {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "history_sequence",
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf(format, args...),
			Entity:   domain.EntityHistory,
			EntityID: unitID,
		})
	}
	sealed := false
	for i, entry := range entries {
		if entry.Sequence != uint64(i) {
			block("unit %s history has sequence %d at position %d", unitID, entry.Sequence, i)
		}
		if sealed {
			block("unit %s history continues after final sale at sequence %d", unitID, entry.Sequence)
		}
		switch entry.Action {
		case domain.ActionRegistered:
			if i != 0 {
				block("unit %s registration entry at sequence %d, must be 0", unitID, entry.Sequence)
			}
		case domain.ActionFinalSale:
			sealed = true
		}
	}
	if len(entries) > 0 && entries[0].Action != domain.ActionRegistered {
		block("unit %s history does not begin with a registration entry", unitID)
	}
	return res
}
