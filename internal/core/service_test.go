package core

import (
	"context"
	"testing"

	"provenancecore/internal/blob"
	"provenancecore/pkg/domain"
	"provenancecore/pkg/integrity"
	"provenancecore/pkg/scancode"
)

func registerInput(unitID string) RegisterInput {
	return RegisterInput{
		UnitID:            unitID,
		OriginatorID:      "farmer-1",
		OriginatorName:    "Rosa Alvarez",
		Category:          "heirloom tomatoes",
		Quantity:          120,
		Unit:              "kg",
		OriginDescription: "Valle Verde farm, plot 7",
		OriginationDate:   "2026-03-01",
	}
}

func registerUnit(t *testing.T, svc *Service, unitID string) ProduceUnit {
	t.Helper()
	unit, err := svc.Register(context.Background(), registerInput(unitID))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return unit
}

func TestRegisterCreatesUnitAndHistory(t *testing.T) {
	svc := NewInMemoryService()
	unit := registerUnit(t, svc, "unit-1")

	if unit.Stage != domain.StageRegistered || unit.Version != 1 {
		t.Fatalf("unexpected unit: %+v", unit)
	}
	if unit.CurrentHolderID != "farmer-1" || unit.StatusNote != "Registered" {
		t.Fatalf("unexpected custody state: %+v", unit)
	}
	if !integrity.Verify(unit) {
		t.Fatalf("registration fingerprint does not verify")
	}

	_, entries, err := svc.Get(context.Background(), "unit-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected single registration entry, got %d", len(entries))
	}
	first := entries[0]
	if first.Sequence != 0 || first.Action != domain.ActionRegistered || first.ActorID != "farmer-1" {
		t.Fatalf("unexpected registration entry: %+v", first)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := NewInMemoryService()

	input := registerInput("unit-1")
	input.Category = "  "
	if _, err := svc.Register(context.Background(), input); !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("expected validation error for blank category, got %v", err)
	}

	input = registerInput("unit-1")
	input.Quantity = 0
	if _, err := svc.Register(context.Background(), input); !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("expected validation error for zero quantity, got %v", err)
	}

	// Nothing was committed by the rejected inputs.
	if _, _, err := svc.Get(context.Background(), "unit-1"); !domain.IsNotFound(err) {
		t.Fatalf("expected not_found after rejected registrations, got %v", err)
	}
}

func TestRegisterDuplicateID(t *testing.T) {
	svc := NewInMemoryService()
	registerUnit(t, svc, "unit-1")
	if _, err := svc.Register(context.Background(), registerInput("unit-1")); !domain.IsKind(err, domain.KindDuplicateID) {
		t.Fatalf("expected duplicate_id, got %v", err)
	}
}

func TestUpdateStatusMovesCustody(t *testing.T) {
	svc := NewInMemoryService()
	registerUnit(t, svc, "unit-1")

	location := "Distribution hub 4"
	unit, err := svc.UpdateStatus(context.Background(), UpdateStatusInput{
		UnitID:     "unit-1",
		ActorID:    "hauler-9",
		ActorName:  "Miguel Santos",
		StatusNote: "In transit to distributor",
		Details:    "Picked up at farm gate",
		Location:   &location,
	})
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if unit.Stage != domain.StageInCustody || unit.CurrentHolderID != "hauler-9" || unit.Version != 2 {
		t.Fatalf("unexpected unit after update: %+v", unit)
	}

	_, entries, err := svc.Get(context.Background(), "unit-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(entries) != 2 || entries[1].Action != domain.ActionStatusUpdate || entries[1].Sequence != 1 {
		t.Fatalf("unexpected history: %+v", entries)
	}
	if entries[1].Location == nil || *entries[1].Location != location {
		t.Fatalf("location not recorded: %+v", entries[1])
	}
}

func TestUpdateStatusUnknownUnit(t *testing.T) {
	svc := NewInMemoryService()
	_, err := svc.UpdateStatus(context.Background(), UpdateStatusInput{
		UnitID: "ghost", ActorID: "a", ActorName: "A", StatusNote: "note",
	})
	if !domain.IsNotFound(err) {
		t.Fatalf("expected not_found, got %v", err)
	}
	_, err = svc.ConfirmFinalSale(context.Background(), ConfirmFinalSaleInput{
		UnitID: "ghost", RetailerID: "r", RetailerName: "R", Price: 1,
	})
	if !domain.IsNotFound(err) {
		t.Fatalf("expected not_found for final sale, got %v", err)
	}
	if len(svc.Store().ListUnits()) != 0 {
		t.Fatalf("rejected operations must leave no units behind")
	}
}

func TestUpdateStatusStaleVersionConflicts(t *testing.T) {
	svc := NewInMemoryService()
	unit := registerUnit(t, svc, "unit-1")

	// First writer wins.
	if _, err := svc.UpdateStatus(context.Background(), UpdateStatusInput{
		UnitID: "unit-1", ActorID: "hauler-1", ActorName: "H1", StatusNote: "Loaded", BaseVersion: &unit.Version,
	}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	// Second writer raced on the same base version and must lose.
	_, err := svc.UpdateStatus(context.Background(), UpdateStatusInput{
		UnitID: "unit-1", ActorID: "hauler-2", ActorName: "H2", StatusNote: "Also loaded", BaseVersion: &unit.Version,
	})
	if !domain.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}

	// The loser left no trace.
	got, entries, err := svc.Get(context.Background(), "unit-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CurrentHolderID != "hauler-1" || len(entries) != 2 {
		t.Fatalf("conflicting write leaked: %+v %d entries", got, len(entries))
	}
}

func TestConfirmFinalSale(t *testing.T) {
	svc := NewInMemoryService()
	registerUnit(t, svc, "unit-1")

	unit, err := svc.ConfirmFinalSale(context.Background(), ConfirmFinalSaleInput{
		UnitID:       "unit-1",
		RetailerID:   "retail-3",
		RetailerName: "Green Market",
		Price:        4.2,
		Quality:      "excellent",
		Condition:    "fresh",
	})
	if err != nil {
		t.Fatalf("confirm final sale: %v", err)
	}
	if !unit.Finalized || unit.Stage != domain.StageFinalized {
		t.Fatalf("unit not finalized: %+v", unit)
	}
	if unit.Price == nil || *unit.Price != 4.2 {
		t.Fatalf("price not recorded: %+v", unit.Price)
	}
	if unit.StatusNote != "Arrived at Retail - Priced at $4.20" {
		t.Fatalf("unexpected final status note %q", unit.StatusNote)
	}

	_, entries, _ := svc.Get(context.Background(), "unit-1")
	last := entries[len(entries)-1]
	if last.Action != domain.ActionFinalSale || last.Price == nil || *last.Price != 4.2 {
		t.Fatalf("unexpected final entry: %+v", last)
	}
	if last.Details != "Sold at retail price: $4.20. Quality: excellent, Condition: fresh" {
		t.Fatalf("unexpected final entry details %q", last.Details)
	}
}

func TestFinalizedUnitRejectsFurtherOperations(t *testing.T) {
	svc := NewInMemoryService()
	registerUnit(t, svc, "unit-1")
	if _, err := svc.ConfirmFinalSale(context.Background(), ConfirmFinalSaleInput{
		UnitID: "unit-1", RetailerID: "retail-3", RetailerName: "Green Market", Price: 4.2,
	}); err != nil {
		t.Fatalf("confirm final sale: %v", err)
	}

	_, err := svc.UpdateStatus(context.Background(), UpdateStatusInput{
		UnitID: "unit-1", ActorID: "hauler-1", ActorName: "H1", StatusNote: "Back in transit",
	})
	if !domain.IsKind(err, domain.KindInvalidTransition) {
		t.Fatalf("expected invalid_transition for update on finalized unit, got %v", err)
	}

	// Confirming the sale again is also an invalid transition.
	_, err = svc.ConfirmFinalSale(context.Background(), ConfirmFinalSaleInput{
		UnitID: "unit-1", RetailerID: "retail-4", RetailerName: "Other Market", Price: 9.99,
	})
	if !domain.IsKind(err, domain.KindInvalidTransition) {
		t.Fatalf("expected invalid_transition for repeated final sale, got %v", err)
	}
}

func TestConfirmFinalSaleValidation(t *testing.T) {
	svc := NewInMemoryService()
	registerUnit(t, svc, "unit-1")
	_, err := svc.ConfirmFinalSale(context.Background(), ConfirmFinalSaleInput{
		UnitID: "unit-1", RetailerID: "retail-3", RetailerName: "Green Market", Price: 0,
	})
	if !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("expected validation error for non-positive price, got %v", err)
	}
}

func TestFullJourneyIsDerivable(t *testing.T) {
	svc := NewInMemoryService()
	registerUnit(t, svc, "unit-1")

	for _, note := range []string{"Picked up", "At distribution hub", "Out for delivery"} {
		if _, err := svc.UpdateStatus(context.Background(), UpdateStatusInput{
			UnitID: "unit-1", ActorID: "hauler-1", ActorName: "Miguel Santos", StatusNote: note,
		}); err != nil {
			t.Fatalf("update %q: %v", note, err)
		}
	}
	if _, err := svc.ConfirmFinalSale(context.Background(), ConfirmFinalSaleInput{
		UnitID: "unit-1", RetailerID: "retail-3", RetailerName: "Green Market", Price: 7.5,
	}); err != nil {
		t.Fatalf("final sale: %v", err)
	}

	unit, entries, err := svc.Get(context.Background(), "unit-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(entries))
	}
	if !domain.Derivable(unit, entries) {
		t.Fatalf("snapshot is not derivable from history")
	}

	report, err := svc.VerifyUnit(context.Background(), "unit-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !report.OK() {
		t.Fatalf("verification failed: %+v", report)
	}
}

func TestEndToEndJourney(t *testing.T) {
	svc := NewInMemoryService()
	ctx := context.Background()

	unit, err := svc.Register(ctx, RegisterInput{
		UnitID: "G-1", OriginatorID: "F1", OriginatorName: "Farmer One",
		Category: "wheat", Quantity: 100, Unit: "kg",
		OriginDescription: "FarmX", OriginationDate: "2024-01-01",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if unit.StatusNote != "Registered" || unit.CurrentHolderID != "F1" {
		t.Fatalf("unexpected registered unit: %+v", unit)
	}

	warehouse := "Warehouse1"
	unit, err = svc.UpdateStatus(ctx, UpdateStatusInput{
		UnitID: "G-1", ActorID: "D1", ActorName: "Dist One",
		StatusNote: "In Transit", Location: &warehouse,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if unit.StatusNote != "In Transit" || unit.CurrentHolderID != "D1" {
		t.Fatalf("unexpected unit in transit: %+v", unit)
	}

	aisle := "Aisle3"
	unit, err = svc.ConfirmFinalSale(ctx, ConfirmFinalSaleInput{
		UnitID: "G-1", RetailerID: "R1", RetailerName: "Retail One",
		Price: 4.99, Quality: "excellent", Condition: "fresh", Location: &aisle,
	})
	if err != nil {
		t.Fatalf("final sale: %v", err)
	}
	if !unit.Finalized || unit.CurrentHolderID != "R1" || unit.Price == nil || *unit.Price != 4.99 {
		t.Fatalf("unexpected finalized unit: %+v", unit)
	}

	_, entries, err := svc.Get(ctx, "G-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, entry := range entries {
		if entry.Sequence != uint64(i) {
			t.Fatalf("entry %d has sequence %d", i, entry.Sequence)
		}
		if i > 0 && entry.Timestamp.Before(entries[i-1].Timestamp) {
			t.Fatalf("timestamps not monotone at entry %d", i)
		}
	}
	if loc := entries[2].Location; loc == nil || *loc != aisle {
		t.Fatalf("final sale location not recorded: %+v", entries[2])
	}
}

func TestPreviewPayloadRoundTrip(t *testing.T) {
	svc := NewInMemoryService()
	registerUnit(t, svc, "unit-1")

	payload, err := svc.PreviewPayload(context.Background(), "unit-1")
	if err != nil {
		t.Fatalf("preview payload: %v", err)
	}
	decoded, err := scancode.Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Kind != scancode.KindPreview || decoded.Preview == nil {
		t.Fatalf("unexpected decoded payload: %+v", decoded)
	}
	if decoded.Preview.UnitID != "unit-1" || decoded.Preview.OriginDescription != "Valle Verde farm, plot 7" {
		t.Fatalf("unexpected preview: %+v", decoded.Preview)
	}
}

func TestJourneyPayloadRoundTrip(t *testing.T) {
	svc := NewInMemoryService()
	registerUnit(t, svc, "unit-1")
	if _, err := svc.UpdateStatus(context.Background(), UpdateStatusInput{
		UnitID: "unit-1", ActorID: "hauler-1", ActorName: "Miguel Santos", StatusNote: "In transit",
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	payload, err := svc.JourneyPayload(context.Background(), "unit-1")
	if err != nil {
		t.Fatalf("journey payload: %v", err)
	}
	if len(payload) > scancode.MaxJourneyBytes {
		t.Fatalf("payload exceeds envelope: %d bytes", len(payload))
	}
	decoded, err := scancode.Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Kind != scancode.KindJourney || len(decoded.Journey.Steps) != 2 {
		t.Fatalf("unexpected journey: %+v", decoded)
	}
	if decoded.Journey.Steps[0].ActorName != "Rosa Alvarez" {
		t.Fatalf("unexpected first step: %+v", decoded.Journey.Steps[0])
	}
}

func TestArchiveJourney(t *testing.T) {
	archive := blob.NewMemory()
	svc := NewInMemoryService(WithArchive(archive))
	registerUnit(t, svc, "unit-1")
	if _, err := svc.UpdateStatus(context.Background(), UpdateStatusInput{
		UnitID: "unit-1", ActorID: "hauler-1", ActorName: "Miguel Santos", StatusNote: "In transit",
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	info, err := svc.ArchiveJourney(context.Background(), "unit-1")
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if info.Key != "journeys/unit-1/1.bin" {
		t.Fatalf("unexpected archive key %s", info.Key)
	}

	// Same journey, same key: the archive is append-only.
	if _, err := svc.ArchiveJourney(context.Background(), "unit-1"); err == nil {
		t.Fatalf("expected re-archive of unchanged journey to fail")
	}

	// After another step the key advances.
	if _, err := svc.UpdateStatus(context.Background(), UpdateStatusInput{
		UnitID: "unit-1", ActorID: "hauler-1", ActorName: "Miguel Santos", StatusNote: "Delivered",
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	info, err = svc.ArchiveJourney(context.Background(), "unit-1")
	if err != nil {
		t.Fatalf("second archive: %v", err)
	}
	if info.Key != "journeys/unit-1/2.bin" {
		t.Fatalf("unexpected archive key %s", info.Key)
	}
}

func TestArchiveJourneyWithoutArchiveConfigured(t *testing.T) {
	svc := NewInMemoryService()
	registerUnit(t, svc, "unit-1")
	if _, err := svc.ArchiveJourney(context.Background(), "unit-1"); !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestVerifyUnitDetectsTampering(t *testing.T) {
	svc := NewInMemoryService()
	unit := registerUnit(t, svc, "unit-1")

	tampered := unit
	tampered.OriginDescription = "Somewhere else entirely"
	if integrity.Verify(tampered) {
		t.Fatalf("tampered origin must not verify")
	}
	if len(unit.IntegrityHash) != 64 {
		t.Fatalf("unexpected hash format %q", unit.IntegrityHash)
	}
}
