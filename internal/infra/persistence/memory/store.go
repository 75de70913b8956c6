// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments. The durable stores wrap it
// and snapshot its committed state.
package memory

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"provenancecore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain
// persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// ProduceUnit aliases domain.ProduceUnit for in-memory persistence operations.
	ProduceUnit = domain.ProduceUnit
	// HistoryEntry aliases domain.HistoryEntry.
	HistoryEntry = domain.HistoryEntry
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// RuleView aliases domain.RuleView providing read-only state.
	RuleView = domain.RuleView
	// PersistentStore aliases the domain.PersistentStore abstraction.
	PersistentStore = domain.PersistentStore
)

// state holds the committed ledger: current snapshots plus the append-only
// history arena keyed by unit id. History slices are index-addressed by
// sequence number, which keeps ownership and replay simple.
type state struct {
	units   map[string]ProduceUnit
	history map[string][]HistoryEntry
}

func newState() state {
	return state{
		units:   make(map[string]ProduceUnit),
		history: make(map[string][]HistoryEntry),
	}
}

func (s state) clone() state {
	cloned := newState()
	for id, unit := range s.units {
		cloned.units[id] = domain.CloneUnit(unit)
	}
	for id, entries := range s.history {
		cp := make([]HistoryEntry, len(entries))
		for i, entry := range entries {
			cp[i] = domain.CloneEntry(entry)
		}
		cloned.history[id] = cp
	}
	return cloned
}

// Snapshot is the serializable full-state export used by the durable stores.
type Snapshot struct {
	Units   []ProduceUnit  `json:"units"`
	History []HistoryEntry `json:"history"`
}

// Store provides an in-memory transactional store for the ledger core.
// Writes run under an exclusive lock, which serializes all transactions and
// therefore every per-unit write sequence. Reads clone committed state and
// are never torn.
type Store struct {
	mu     sync.RWMutex
	state  state
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the transaction clock. Intended for tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		s.nowFn = fn
	}
}

// ExportState returns a deterministic snapshot of committed state: units
// sorted by id, history sorted by (unit id, sequence).
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return exportState(s.state)
}

func exportState(st state) Snapshot {
	var snapshot Snapshot
	for _, unit := range st.units {
		snapshot.Units = append(snapshot.Units, domain.CloneUnit(unit))
	}
	sort.Slice(snapshot.Units, func(i, j int) bool { return snapshot.Units[i].ID < snapshot.Units[j].ID })
	for _, entries := range st.history {
		for _, entry := range entries {
			snapshot.History = append(snapshot.History, domain.CloneEntry(entry))
		}
	}
	sort.Slice(snapshot.History, func(i, j int) bool {
		if snapshot.History[i].UnitID != snapshot.History[j].UnitID {
			return snapshot.History[i].UnitID < snapshot.History[j].UnitID
		}
		return snapshot.History[i].Sequence < snapshot.History[j].Sequence
	})
	return snapshot
}

// ImportState replaces committed state with the snapshot contents. Used by
// durable stores to hydrate on startup.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := newState()
	for _, unit := range snapshot.Units {
		st.units[unit.ID] = domain.CloneUnit(unit)
	}
	for _, entry := range snapshot.History {
		st.history[entry.UnitID] = append(st.history[entry.UnitID], domain.CloneEntry(entry))
	}
	for id := range st.history {
		entries := st.history[id]
		sort.Slice(entries, func(i, j int) bool { return entries[i].Sequence < entries[j].Sequence })
		st.history[id] = entries
	}
	s.state = st
}

// transaction applies mutations to a cloned state and records the change set
// for rule evaluation.
type transaction struct {
	store   *Store
	state   state
	changes []Change
	now     time.Time
}

var _ Transaction = (*transaction)(nil)

// view exposes a read-only state snapshot to rules.
type view struct {
	state *state
}

var _ RuleView = view{}

// ListUnits returns all unit snapshots in the view.
func (v view) ListUnits() []ProduceUnit {
	out := make([]ProduceUnit, 0, len(v.state.units))
	for _, unit := range v.state.units {
		out = append(out, domain.CloneUnit(unit))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindUnit retrieves a unit snapshot by id.
func (v view) FindUnit(id string) (ProduceUnit, bool) {
	unit, ok := v.state.units[id]
	if !ok {
		return ProduceUnit{}, false
	}
	return domain.CloneUnit(unit), true
}

// History returns the unit's entries in ascending sequence order.
func (v view) History(unitID string) []HistoryEntry {
	entries := v.state.history[unitID]
	out := make([]HistoryEntry, len(entries))
	for i, entry := range entries {
		out[i] = domain.CloneEntry(entry)
	}
	return out
}

// RunInTransaction executes fn within a transactional copy of the store
// state. The committed state is replaced only after fn succeeds, the rules
// engine reports no blocking violations, and the context is still live:
// cancellation before commit drops the transaction with no side effect.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, view{state: &tx.state}, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of committed state.
func (s *Store) View(ctx context.Context, fn func(RuleView) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(view{state: &snapshot})
}

// Snapshot returns a read-only view of the transactional state.
func (tx *transaction) Snapshot() RuleView {
	return view{state: &tx.state}
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// CreateUnit stores a new unit snapshot within the transaction.
func (tx *transaction) CreateUnit(unit ProduceUnit) (ProduceUnit, error) {
	if unit.ID == "" {
		return ProduceUnit{}, domain.ValidationError("unit id required")
	}
	if _, exists := tx.state.units[unit.ID]; exists {
		return ProduceUnit{}, domain.DuplicateIDError(unit.ID)
	}
	unit.CreatedAt = tx.now
	unit.UpdatedAt = tx.now
	unit.Version = 1
	tx.state.units[unit.ID] = domain.CloneUnit(unit)
	tx.recordChange(Change{Entity: domain.EntityUnit, Action: domain.ActionCreate, After: domain.CloneUnit(unit)})
	return domain.CloneUnit(unit), nil
}

// UpdateUnit mutates a unit using the provided mutator. baseVersion must
// match the unit's current version; a stale version fails with KindConflict
// so optimistic callers can re-read and retry.
func (tx *transaction) UpdateUnit(id string, baseVersion uint64, mutator func(*ProduceUnit) error) (ProduceUnit, error) {
	current, ok := tx.state.units[id]
	if !ok {
		return ProduceUnit{}, domain.NotFoundError(id)
	}
	if current.Version != baseVersion {
		return ProduceUnit{}, domain.NewError(domain.KindConflict, domain.EntityUnit, id,
			fmt.Sprintf("version %d is stale, current is %d", baseVersion, current.Version))
	}
	before := domain.CloneUnit(current)
	if err := mutator(&current); err != nil {
		return ProduceUnit{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	current.Version = before.Version + 1
	tx.state.units[id] = domain.CloneUnit(current)
	tx.recordChange(Change{Entity: domain.EntityUnit, Action: domain.ActionUpdate, Before: before, After: domain.CloneUnit(current)})
	return domain.CloneUnit(current), nil
}

// AppendHistory assigns the next sequence number for the entry's unit and
// records the entry. The unit must already exist in the transactional state,
// which ties every entry creation to its snapshot mutation.
func (tx *transaction) AppendHistory(entry HistoryEntry) (HistoryEntry, error) {
	if entry.UnitID == "" {
		return HistoryEntry{}, domain.ValidationError("history entry unit id required")
	}
	if _, ok := tx.state.units[entry.UnitID]; !ok {
		return HistoryEntry{}, domain.NotFoundError(entry.UnitID)
	}
	entry.Sequence = uint64(len(tx.state.history[entry.UnitID]))
	if entry.Timestamp.IsZero() {
		entry.Timestamp = tx.now
	}
	tx.state.history[entry.UnitID] = append(tx.state.history[entry.UnitID], domain.CloneEntry(entry))
	tx.recordChange(Change{Entity: domain.EntityHistory, Action: domain.ActionCreate, After: domain.CloneEntry(entry)})
	return domain.CloneEntry(entry), nil
}

// FindUnit retrieves a unit from the transactional state.
func (tx *transaction) FindUnit(id string) (ProduceUnit, bool) {
	unit, ok := tx.state.units[id]
	if !ok {
		return ProduceUnit{}, false
	}
	return domain.CloneUnit(unit), true
}

// Read helpers ---------------------------------------------------------------

// GetUnit retrieves a unit by id from committed state.
func (s *Store) GetUnit(id string) (ProduceUnit, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	unit, ok := s.state.units[id]
	if !ok {
		return ProduceUnit{}, false
	}
	return domain.CloneUnit(unit), true
}

// ListUnits returns all units from committed state, sorted by id.
func (s *Store) ListUnits() []ProduceUnit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ProduceUnit, 0, len(s.state.units))
	for _, unit := range s.state.units {
		out = append(out, domain.CloneUnit(unit))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// History returns the unit's committed entries in ascending sequence order.
func (s *Store) History(unitID string) []HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.state.history[unitID]
	out := make([]HistoryEntry, len(entries))
	for i, entry := range entries {
		out[i] = domain.CloneEntry(entry)
	}
	return out
}

// HistorySeq yields the unit's committed entries lazily in ascending
// sequence order. The sequence ranges over a snapshot taken when iteration
// starts, so it is restartable and unaffected by concurrent writes.
func (s *Store) HistorySeq(unitID string) iter.Seq[HistoryEntry] {
	return func(yield func(HistoryEntry) bool) {
		for _, entry := range s.History(unitID) {
			if !yield(entry) {
				return
			}
		}
	}
}
