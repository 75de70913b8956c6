// Package core implements the produce registry service: validated lifecycle
// operations over the persistent ledger, guard rules evaluated at commit, and
// the observability hooks around them.
package core

import "provenancecore/pkg/domain"

type (
	// ProduceUnit aliases the domain snapshot record.
	ProduceUnit = domain.ProduceUnit
	// HistoryEntry aliases the domain history entry.
	HistoryEntry = domain.HistoryEntry
	// LifecycleStage aliases the domain lifecycle stage.
	LifecycleStage = domain.LifecycleStage
	// Result aliases the rule evaluation result.
	Result = domain.Result
	// RulesEngine aliases the domain rules engine.
	RulesEngine = domain.RulesEngine
	// Transaction aliases the domain transaction interface.
	Transaction = domain.Transaction
	// PersistentStore aliases the domain persistence abstraction.
	PersistentStore = domain.PersistentStore
)

// NewRulesEngine constructs an empty rules engine.
func NewRulesEngine() *RulesEngine { return domain.NewRulesEngine() }

// DefaultRulesEngine returns an engine loaded with the registry guard rules.
func DefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(FinalizedTerminalRule())
	engine.Register(RegistrationImmutableRule())
	engine.Register(HistorySequenceRule())
	engine.Register(ReplayConsistencyRule())
	return engine
}
