package domain

import (
	"context"
	"iter"
)

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope. There is no delete surface: the ledger
// is permanent, and corrections are represented as new appended entries.
type Transaction interface {
	Snapshot() RuleView
	CreateUnit(ProduceUnit) (ProduceUnit, error)
	// UpdateUnit mutates a unit through the provided mutator. baseVersion is
	// the snapshot version the caller read before requesting the write; a
	// mismatch against the transactional state fails with KindConflict.
	UpdateUnit(id string, baseVersion uint64, mutator func(*ProduceUnit) error) (ProduceUnit, error)
	// AppendHistory assigns the next per-unit sequence number and records the
	// entry. It commits or rolls back together with the snapshot mutation.
	AppendHistory(HistoryEntry) (HistoryEntry, error)
	FindUnit(id string) (ProduceUnit, bool)
}

// PersistentStore is a minimal abstraction over durable backends. Writes run
// inside RunInTransaction; reads come from committed state and are never torn.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(RuleView) error) error
	GetUnit(id string) (ProduceUnit, bool)
	ListUnits() []ProduceUnit
	History(unitID string) []HistoryEntry
	// HistorySeq yields entries in ascending sequence order as a lazy,
	// restartable iterator over a committed snapshot of the log.
	HistorySeq(unitID string) iter.Seq[HistoryEntry]
}
