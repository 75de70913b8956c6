package domain

import "fmt"

// DerivedState is the portion of a produce unit snapshot that must be
// reproducible by folding its history log in sequence order.
type DerivedState struct {
	Stage           LifecycleStage
	StatusNote      string
	CurrentHolderID string
	Price           *float64
	Finalized       bool
}

// FinalSaleNote returns the display status recorded when a final sale is
// confirmed. Shared between the registry and Replay so the fold reproduces
// the snapshot text exactly.
func FinalSaleNote(price float64) string {
	return fmt.Sprintf("Arrived at Retail - Priced at $%.2f", price)
}

// Replay folds history entries in the order given and returns the derived
// state. Entries must already be sorted by ascending sequence; the store's
// History accessor guarantees that order.
func Replay(entries []HistoryEntry) DerivedState {
	var state DerivedState
	for _, entry := range entries {
		switch entry.Action {
		case ActionRegistered:
			state.Stage = StageRegistered
			state.StatusNote = entry.StatusNote
			state.CurrentHolderID = entry.ActorID
		case ActionStatusUpdate:
			state.Stage = StageInCustody
			state.StatusNote = entry.StatusNote
			state.CurrentHolderID = entry.ActorID
		case ActionFinalSale:
			state.Stage = StageFinalized
			state.StatusNote = entry.StatusNote
			state.CurrentHolderID = entry.ActorID
			state.Finalized = true
			if entry.Price != nil {
				price := *entry.Price
				state.Price = &price
			}
		}
	}
	return state
}

// Derivable reports whether the unit's snapshot matches the state derived
// from its history. A mismatch means the ledger invariant is broken.
func Derivable(unit ProduceUnit, entries []HistoryEntry) bool {
	derived := Replay(entries)
	if derived.Stage != unit.Stage ||
		derived.StatusNote != unit.StatusNote ||
		derived.CurrentHolderID != unit.CurrentHolderID ||
		derived.Finalized != unit.Finalized {
		return false
	}
	switch {
	case derived.Price == nil && unit.Price == nil:
		return true
	case derived.Price == nil || unit.Price == nil:
		return false
	default:
		return *derived.Price == *unit.Price
	}
}
