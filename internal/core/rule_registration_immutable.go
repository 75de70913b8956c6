package core

import (
	"context"
	"fmt"

	"provenancecore/pkg/domain"
)

// RegistrationImmutableRule blocks updates that alter the fields fixed at
// registration, including the fingerprint computed over them.
func RegistrationImmutableRule() domain.Rule {
	return registrationImmutableRule{}
}

type registrationImmutableRule struct{}

func (registrationImmutableRule) Name() string { return "registration_immutable" }

func (registrationImmutableRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, change := range changes {
		if change.Entity != domain.EntityUnit || change.Action != domain.ActionUpdate {
			continue
		}
		before, okBefore := change.Before.(domain.ProduceUnit)
		after, okAfter := change.After.(domain.ProduceUnit)
		if !okBefore || !okAfter {
			continue
		}
		for field, changed := range map[string]bool{
			"originator_id":      before.OriginatorID != after.OriginatorID,
			"originator_name":    before.OriginatorName != after.OriginatorName,
			"category":           before.Category != after.Category,
			"quantity":           before.Quantity != after.Quantity,
			"unit":               before.Unit != after.Unit,
			"origin_description": before.OriginDescription != after.OriginDescription,
			"origination_date":   before.OriginationDate != after.OriginationDate,
			"integrity_hash":     before.IntegrityHash != after.IntegrityHash,
		} {
			if !changed {
				continue
			}
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "registration_immutable",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("unit %s field %s is immutable after registration", before.ID, field),
				Entity:   domain.EntityUnit,
				EntityID: before.ID,
			})
		}
	}
	return res, nil
}
