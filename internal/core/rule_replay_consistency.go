package core

import (
	"context"
	"fmt"

	"provenancecore/pkg/domain"
)

// ReplayConsistencyRule blocks commits where a mutated unit's snapshot no
// longer matches the state derived by folding its history log. The log is the
// source of truth; a snapshot that cannot be replayed is corrupt.
func ReplayConsistencyRule() domain.Rule {
	return replayConsistencyRule{}
}

type replayConsistencyRule struct{}

func (replayConsistencyRule) Name() string { return "replay_consistency" }

func (replayConsistencyRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	checked := make(map[string]struct{})
	for _, change := range changes {
		unitID := changedUnitID(change)
		if unitID == "" {
			continue
		}
		if _, done := checked[unitID]; done {
			continue
		}
		checked[unitID] = struct{}{}
		unit, ok := view.FindUnit(unitID)
		if !ok {
			continue
		}
		if !domain.Derivable(unit, view.History(unitID)) {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "replay_consistency",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("unit %s snapshot cannot be derived from its history", unitID),
				Entity:   domain.EntityUnit,
				EntityID: unitID,
			})
		}
	}
	return res, nil
}

func changedUnitID(change domain.Change) string {
	switch change.Entity {
	case domain.EntityUnit:
		if unit, ok := change.After.(domain.ProduceUnit); ok {
			return unit.ID
		}
	case domain.EntityHistory:
		if entry, ok := change.After.(domain.HistoryEntry); ok {
			return entry.UnitID
		}
	}
	return ""
}
