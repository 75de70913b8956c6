package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"provenancecore/pkg/domain"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	store, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStateSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	store := openTestStore(t, path)

	price := 4.50
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		unit, err := tx.CreateUnit(domain.ProduceUnit{
			Base:         domain.Base{ID: "unit-1"},
			OriginatorID: "farmer-1",
			Category:     "pears",
			Stage:        domain.StageRegistered,
			Price:        &price,
		})
		if err != nil {
			return err
		}
		_, err = tx.AppendHistory(domain.HistoryEntry{
			UnitID:  unit.ID,
			ActorID: "farmer-1",
			Action:  domain.ActionRegistered,
		})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened := openTestStore(t, path)
	unit, ok := reopened.GetUnit("unit-1")
	if !ok {
		t.Fatalf("expected unit-1 after reopen")
	}
	if unit.Category != "pears" || unit.Version != 1 {
		t.Fatalf("unexpected unit after reopen: %+v", unit)
	}
	if unit.Price == nil || *unit.Price != price {
		t.Fatalf("price not preserved: %+v", unit.Price)
	}
	entries := reopened.History("unit-1")
	if len(entries) != 1 || entries[0].Sequence != 0 {
		t.Fatalf("history not preserved: %+v", entries)
	}
}

func TestPersistFailureSurfacesStorageUnavailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	store := openTestStore(t, path)

	// Closing the handle makes every snapshot write fail, exhausting the
	// retry budget.
	if err := store.DB().Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateUnit(domain.ProduceUnit{Base: domain.Base{ID: "unit-1"}})
		return err
	})
	if !domain.IsKind(err, domain.KindStorageUnavailable) {
		t.Fatalf("expected storage_unavailable, got %v", err)
	}
	// The failed write rolls back in memory too: reads must not observe it.
	if _, ok := store.GetUnit("unit-1"); ok {
		t.Fatalf("write visible after storage_unavailable")
	}
}

func TestPersistFailureRollsBackEarlierState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	store := openTestStore(t, path)

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		unit, err := tx.CreateUnit(domain.ProduceUnit{
			Base:         domain.Base{ID: "unit-1"},
			OriginatorID: "farmer-1",
			Stage:        domain.StageRegistered,
		})
		if err != nil {
			return err
		}
		_, err = tx.AppendHistory(domain.HistoryEntry{UnitID: unit.ID, ActorID: "farmer-1", Action: domain.ActionRegistered})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.DB().Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}

	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateUnit("unit-1", 1, func(u *domain.ProduceUnit) error {
			u.StatusNote = "never persisted"
			return nil
		})
		if err != nil {
			return err
		}
		_, err = tx.AppendHistory(domain.HistoryEntry{UnitID: "unit-1", ActorID: "hauler-1", Action: domain.ActionStatusUpdate})
		return err
	})
	if !domain.IsKind(err, domain.KindStorageUnavailable) {
		t.Fatalf("expected storage_unavailable, got %v", err)
	}

	// Pre-transaction state is fully restored: snapshot and history alike.
	unit, ok := store.GetUnit("unit-1")
	if !ok || unit.Version != 1 || unit.StatusNote == "never persisted" {
		t.Fatalf("pre-transaction state not restored: %+v ok=%v", unit, ok)
	}
	if entries := store.History("unit-1"); len(entries) != 1 {
		t.Fatalf("history append leaked past rollback: %+v", entries)
	}
}

func TestDefaultPathApplied(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "dir", "ledger.db")
	store := openTestStore(t, path)
	if store.Path() != path {
		t.Fatalf("unexpected path %s", store.Path())
	}
}
