package core

import (
	"context"
	"fmt"

	"provenancecore/pkg/domain"
)

// FinalizedTerminalRule blocks any mutation of a unit that is already
// finalized and rejects snapshots carrying a non-canonical lifecycle stage.
func FinalizedTerminalRule() domain.Rule {
	return finalizedTerminalRule{}
}

type finalizedTerminalRule struct{}

var validStages = map[domain.LifecycleStage]struct{}{
	domain.StageRegistered: {},
	domain.StageInCustody:  {},
	domain.StageFinalized:  {},
}

func (finalizedTerminalRule) Name() string { return "finalized_terminal" }

func (finalizedTerminalRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, change := range changes {
		if change.Entity != domain.EntityUnit {
			continue
		}
		after, ok := change.After.(domain.ProduceUnit)
		if !ok {
			continue
		}
		if _, valid := validStages[after.Stage]; !valid {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "finalized_terminal",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("unit %s is set to invalid stage %s", after.ID, after.Stage),
				Entity:   domain.EntityUnit,
				EntityID: after.ID,
			})
			continue
		}
		if after.Finalized != (after.Stage == domain.StageFinalized) {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "finalized_terminal",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("unit %s finalized flag disagrees with stage %s", after.ID, after.Stage),
				Entity:   domain.EntityUnit,
				EntityID: after.ID,
			})
		}
		before, ok := change.Before.(domain.ProduceUnit)
		if !ok || !before.Finalized {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "finalized_terminal",
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("unit %s is finalized and cannot be modified", before.ID),
			Entity:   domain.EntityUnit,
			EntityID: before.ID,
		})
	}
	return res, nil
}
