// Package domain defines the core persistent entities, value types, error
// taxonomy, and rule evaluation primitives used by provenancecore.
package domain

import "time"

// EntityType identifies the type of record stored in the ledger core.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityUnit identifies a produce unit snapshot record.
	EntityUnit EntityType = "produce_unit"
	// EntityHistory identifies an append-only history entry.
	EntityHistory EntityType = "history_entry"
)

// LifecycleStage represents the canonical lifecycle states of a produce unit.
// The stage is the machine-readable half of the source's free-text status
// field; the human display string lives in ProduceUnit.StatusNote.
type LifecycleStage string

// Canonical lifecycle stages. StageFinalized is terminal.
const (
	// StageRegistered indicates a unit freshly registered by its originator.
	StageRegistered LifecycleStage = "registered"
	// StageInCustody indicates a unit moving between custodians.
	StageInCustody LifecycleStage = "in_custody"
	// StageFinalized indicates the final sale has been confirmed.
	StageFinalized LifecycleStage = "finalized"
)

// ActionType tags a history entry with the operation that produced it.
type ActionType string

// History entry action tags.
const (
	// ActionRegistered is the single entry created at registration, always sequence 0.
	ActionRegistered ActionType = "registered"
	// ActionStatusUpdate records a custody or status change.
	ActionStatusUpdate ActionType = "status_update"
	// ActionFinalSale records the terminal retail sale.
	ActionFinalSale ActionType = "final_sale"
)

// Base contains common fields for all snapshot records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProduceUnit is the mutable current-state snapshot of one traceable unit.
// Everything from OriginatorID through IntegrityHash is immutable after
// registration; the remaining fields change only through registry operations,
// each of which appends exactly one history entry in the same transaction.
type ProduceUnit struct {
	Base
	OriginatorID      string         `json:"originator_id"`
	OriginatorName    string         `json:"originator_name"`
	Category          string         `json:"category"`
	Quantity          float64        `json:"quantity"`
	Unit              string         `json:"unit"`
	OriginDescription string         `json:"origin_description"`
	OriginationDate   string         `json:"origination_date"`
	IntegrityHash     string         `json:"integrity_hash"`
	Stage             LifecycleStage `json:"stage"`
	StatusNote        string         `json:"status_note"`
	CurrentHolderID   string         `json:"current_holder_id"`
	Price             *float64       `json:"price,omitempty"`
	Finalized         bool           `json:"finalized"`
	Version           uint64         `json:"version"`
}

// HistoryEntry is one immutable, append-only custody event. Sequence is
// assigned by the store at append time, strictly increasing per unit with no
// gaps. Entries carry enough state (StatusNote, Price) that folding them in
// sequence order reproduces the snapshot exactly.
type HistoryEntry struct {
	UnitID     string     `json:"unit_id"`
	Sequence   uint64     `json:"sequence"`
	ActorID    string     `json:"actor_id"`
	ActorName  string     `json:"actor_name"`
	Action     ActionType `json:"action"`
	Details    string     `json:"details"`
	StatusNote string     `json:"status_note"`
	Price      *float64   `json:"price,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
	Location   *string    `json:"location,omitempty"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions captured in the transaction change set. The ledger never
// deletes, so there is no delete action.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}

// CloneUnit returns a deep copy of a produce unit snapshot.
func CloneUnit(u ProduceUnit) ProduceUnit {
	cp := u
	if u.Price != nil {
		price := *u.Price
		cp.Price = &price
	}
	return cp
}

// CloneEntry returns a deep copy of a history entry.
func CloneEntry(e HistoryEntry) HistoryEntry {
	cp := e
	if e.Location != nil {
		loc := *e.Location
		cp.Location = &loc
	}
	if e.Price != nil {
		price := *e.Price
		cp.Price = &price
	}
	return cp
}
