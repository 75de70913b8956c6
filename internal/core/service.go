package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"provenancecore/internal/blob"
	"provenancecore/pkg/domain"
	"provenancecore/pkg/integrity"
	"provenancecore/pkg/scancode"
)

// registeredNote is the display status every unit carries at registration.
const registeredNote = "Registered"

// Service exposes the validated lifecycle operations of the produce registry.
// Every write runs in a single store transaction that mutates the snapshot
// and appends the matching history entry together.
type Service struct {
	store   PersistentStore
	archive blob.Store
	audit   AuditRecorder
	metrics MetricsRecorder
	tracer  Tracer
}

// Option configures optional service collaborators.
type Option func(*Service)

// WithArchive wires the blob store used by ArchiveJourney.
func WithArchive(store blob.Store) Option {
	return func(s *Service) { s.archive = store }
}

// WithAuditRecorder wires an audit trail recorder.
func WithAuditRecorder(rec AuditRecorder) Option {
	return func(s *Service) {
		if rec != nil {
			s.audit = rec
		}
	}
}

// WithMetricsRecorder wires a metrics recorder.
func WithMetricsRecorder(rec MetricsRecorder) Option {
	return func(s *Service) {
		if rec != nil {
			s.metrics = rec
		}
	}
}

// WithTracer wires a tracer around service operations.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:   store,
		audit:   noopAudit{},
		metrics: noopMetrics{},
		tracer:  noopTracer{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore { return s.store }

// RegisterInput carries the fields captured at registration. All fields
// except Location are required; everything but the status fields is immutable
// afterwards.
type RegisterInput struct {
	UnitID            string
	OriginatorID      string
	OriginatorName    string
	Category          string
	Quantity          float64
	Unit              string
	OriginDescription string
	OriginationDate   string
	Location          *string
}

// UpdateStatusInput describes a custody or status change.
type UpdateStatusInput struct {
	UnitID     string
	ActorID    string
	ActorName  string
	StatusNote string
	Details    string
	Location   *string
	// BaseVersion, when set, is the snapshot version the caller read before
	// requesting the write. A stale version fails with a conflict instead of
	// silently overwriting a concurrent update.
	BaseVersion *uint64
}

// ConfirmFinalSaleInput describes the terminal retail sale. Quality and
// Condition capture the retailer's assessment and are recorded in the history
// entry details.
type ConfirmFinalSaleInput struct {
	UnitID       string
	RetailerID   string
	RetailerName string
	Price        float64
	Quality      string
	Condition    string
	Location     *string
	BaseVersion  *uint64
}

// instrument wraps an operation with tracing, metrics, and the audit trail.
func (s *Service) instrument(ctx context.Context, operation, unitID, actorID string, fn func(ctx context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, operation)
	start := time.Now()
	err := fn(ctx)
	span.End(err)
	s.metrics.Observe(ctx, operation, err == nil, time.Since(start))

	entry := AuditEntry{
		Time:      time.Now().UTC(),
		Operation: operation,
		UnitID:    unitID,
		ActorID:   actorID,
		Status:    AuditStatusOK,
	}
	var violation domain.RuleViolationError
	switch {
	case err == nil:
	case errors.As(err, &violation):
		entry.Status = AuditStatusBlocked
		for _, v := range violation.Result.Violations {
			entry.Violations = append(entry.Violations, v.Rule+": "+v.Message)
		}
	default:
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
	return err
}

// Register creates a produce unit, computes its integrity fingerprint, and
// appends the sequence-zero registration entry in the same transaction.
func (s *Service) Register(ctx context.Context, input RegisterInput) (ProduceUnit, error) {
	var created ProduceUnit
	err := s.instrument(ctx, "register", input.UnitID, input.OriginatorID, func(ctx context.Context) error {
		if err := validateRegisterInput(input); err != nil {
			return err
		}
		hash := integrity.Fingerprint(input.UnitID, input.OriginatorID, input.Category, input.OriginDescription, input.OriginationDate)

		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			unit, err := tx.CreateUnit(ProduceUnit{
				Base:              domain.Base{ID: input.UnitID},
				OriginatorID:      input.OriginatorID,
				OriginatorName:    input.OriginatorName,
				Category:          input.Category,
				Quantity:          input.Quantity,
				Unit:              input.Unit,
				OriginDescription: input.OriginDescription,
				OriginationDate:   input.OriginationDate,
				IntegrityHash:     integrity.FormatHash(hash),
				Stage:             domain.StageRegistered,
				StatusNote:        registeredNote,
				CurrentHolderID:   input.OriginatorID,
			})
			if err != nil {
				return err
			}
			if _, err := tx.AppendHistory(HistoryEntry{
				UnitID:     unit.ID,
				ActorID:    input.OriginatorID,
				ActorName:  input.OriginatorName,
				Action:     domain.ActionRegistered,
				Details:    fmt.Sprintf("Registered by %s", input.OriginatorName),
				StatusNote: registeredNote,
				Location:   input.Location,
			}); err != nil {
				return err
			}
			created = unit
			return nil
		})
		return err
	})
	if err != nil {
		return ProduceUnit{}, err
	}
	return created, nil
}

// UpdateStatus records a custody or status change on a unit that has not been
// finalized. The snapshot mutation and the history append commit atomically.
func (s *Service) UpdateStatus(ctx context.Context, input UpdateStatusInput) (ProduceUnit, error) {
	var updated ProduceUnit
	err := s.instrument(ctx, "update_status", input.UnitID, input.ActorID, func(ctx context.Context) error {
		if err := validateUpdateStatusInput(input); err != nil {
			return err
		}
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			current, ok := tx.FindUnit(input.UnitID)
			if !ok {
				return domain.NotFoundError(input.UnitID)
			}
			if current.Finalized {
				return domain.NewError(domain.KindInvalidTransition, domain.EntityUnit, input.UnitID,
					"unit is finalized and accepts no further updates")
			}
			base := current.Version
			if input.BaseVersion != nil {
				base = *input.BaseVersion
			}
			unit, err := tx.UpdateUnit(input.UnitID, base, func(u *ProduceUnit) error {
				u.Stage = domain.StageInCustody
				u.StatusNote = input.StatusNote
				u.CurrentHolderID = input.ActorID
				return nil
			})
			if err != nil {
				return err
			}
			if _, err := tx.AppendHistory(HistoryEntry{
				UnitID:     unit.ID,
				ActorID:    input.ActorID,
				ActorName:  input.ActorName,
				Action:     domain.ActionStatusUpdate,
				Details:    input.Details,
				StatusNote: input.StatusNote,
				Location:   input.Location,
			}); err != nil {
				return err
			}
			updated = unit
			return nil
		})
		return err
	})
	if err != nil {
		return ProduceUnit{}, err
	}
	return updated, nil
}

// ConfirmFinalSale moves a unit into its terminal stage, recording the retail
// price. Confirming a sale twice fails with an invalid-transition error.
func (s *Service) ConfirmFinalSale(ctx context.Context, input ConfirmFinalSaleInput) (ProduceUnit, error) {
	var finalized ProduceUnit
	err := s.instrument(ctx, "confirm_final_sale", input.UnitID, input.RetailerID, func(ctx context.Context) error {
		if err := validateConfirmFinalSaleInput(input); err != nil {
			return err
		}
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			current, ok := tx.FindUnit(input.UnitID)
			if !ok {
				return domain.NotFoundError(input.UnitID)
			}
			if current.Finalized {
				return domain.NewError(domain.KindInvalidTransition, domain.EntityUnit, input.UnitID,
					"final sale already confirmed")
			}
			base := current.Version
			if input.BaseVersion != nil {
				base = *input.BaseVersion
			}
			note := domain.FinalSaleNote(input.Price)
			price := input.Price
			details := fmt.Sprintf("Final sale confirmed by %s", input.RetailerName)
			if input.Quality != "" || input.Condition != "" {
				details = fmt.Sprintf("Sold at retail price: $%.2f. Quality: %s, Condition: %s",
					input.Price, input.Quality, input.Condition)
			}
			unit, err := tx.UpdateUnit(input.UnitID, base, func(u *ProduceUnit) error {
				u.Stage = domain.StageFinalized
				u.StatusNote = note
				u.CurrentHolderID = input.RetailerID
				u.Price = &price
				u.Finalized = true
				return nil
			})
			if err != nil {
				return err
			}
			if _, err := tx.AppendHistory(HistoryEntry{
				UnitID:     unit.ID,
				ActorID:    input.RetailerID,
				ActorName:  input.RetailerName,
				Action:     domain.ActionFinalSale,
				Details:    details,
				StatusNote: note,
				Price:      &price,
				Location:   input.Location,
			}); err != nil {
				return err
			}
			finalized = unit
			return nil
		})
		return err
	})
	if err != nil {
		return ProduceUnit{}, err
	}
	return finalized, nil
}

// Get returns a unit snapshot together with its full history in sequence order.
func (s *Service) Get(ctx context.Context, unitID string) (ProduceUnit, []HistoryEntry, error) {
	var unit ProduceUnit
	var entries []HistoryEntry
	err := s.store.View(ctx, func(view domain.RuleView) error {
		found, ok := view.FindUnit(unitID)
		if !ok {
			return domain.NotFoundError(unitID)
		}
		unit = found
		entries = view.History(unitID)
		return nil
	})
	if err != nil {
		return ProduceUnit{}, nil, err
	}
	return unit, entries, nil
}

// PreviewPayload encodes the registration preview payload for a unit.
func (s *Service) PreviewPayload(ctx context.Context, unitID string) ([]byte, error) {
	unit, _, err := s.Get(ctx, unitID)
	if err != nil {
		return nil, err
	}
	return scancode.EncodePreview(scancode.Preview{
		UnitID:            unit.ID,
		OriginatorID:      unit.OriginatorID,
		Category:          unit.Category,
		OriginDescription: unit.OriginDescription,
		OriginationDate:   unit.OriginationDate,
	})
}

// JourneyPayload encodes the unit's snapshot plus abbreviated history into a
// scan payload bounded by the default size envelope.
func (s *Service) JourneyPayload(ctx context.Context, unitID string) ([]byte, error) {
	unit, entries, err := s.Get(ctx, unitID)
	if err != nil {
		return nil, err
	}
	return scancode.EncodeJourney(unit, entries)
}

// ArchiveJourney encodes the unit's current journey payload and stores it in
// the configured blob archive under journeys/<unit>/<last sequence>.bin.
// Archived payloads are immutable; re-archiving an unchanged journey fails on
// the existing key.
func (s *Service) ArchiveJourney(ctx context.Context, unitID string) (blob.Info, error) {
	var info blob.Info
	err := s.instrument(ctx, "archive_journey", unitID, "", func(ctx context.Context) error {
		if s.archive == nil {
			return domain.ValidationError("journey archive is not configured")
		}
		unit, entries, err := s.Get(ctx, unitID)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return domain.ValidationError("unit has no history to archive")
		}
		payload, err := scancode.EncodeJourney(unit, entries)
		if err != nil {
			return err
		}
		key := fmt.Sprintf("journeys/%s/%d.bin", unitID, entries[len(entries)-1].Sequence)
		stored, err := s.archive.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
			ContentType: "application/octet-stream",
			Metadata: map[string]string{
				"unit":  unitID,
				"stage": string(unit.Stage),
			},
		})
		if err != nil {
			return err
		}
		info = stored
		return nil
	})
	if err != nil {
		return blob.Info{}, err
	}
	return info, nil
}

// VerificationReport summarizes an integrity check of one unit.
type VerificationReport struct {
	UnitID    string `json:"unit_id"`
	HashValid bool   `json:"hash_valid"`
	Derivable bool   `json:"derivable"`
}

// OK reports whether both checks passed.
func (r VerificationReport) OK() bool { return r.HashValid && r.Derivable }

// VerifyUnit recomputes the unit's registration fingerprint and replays its
// history, reporting whether the stored snapshot is trustworthy.
func (s *Service) VerifyUnit(ctx context.Context, unitID string) (VerificationReport, error) {
	unit, entries, err := s.Get(ctx, unitID)
	if err != nil {
		return VerificationReport{}, err
	}
	return VerificationReport{
		UnitID:    unitID,
		HashValid: integrity.Verify(unit),
		Derivable: domain.Derivable(unit, entries),
	}, nil
}

func validateRegisterInput(input RegisterInput) error {
	for field, value := range map[string]string{
		"unit id":            input.UnitID,
		"originator id":      input.OriginatorID,
		"originator name":    input.OriginatorName,
		"category":           input.Category,
		"unit of measure":    input.Unit,
		"origin description": input.OriginDescription,
		"origination date":   input.OriginationDate,
	} {
		if strings.TrimSpace(value) == "" {
			return domain.ValidationError(field + " is required")
		}
	}
	if input.Quantity <= 0 {
		return domain.ValidationError("quantity must be positive")
	}
	return nil
}

func validateUpdateStatusInput(input UpdateStatusInput) error {
	for field, value := range map[string]string{
		"unit id":     input.UnitID,
		"actor id":    input.ActorID,
		"actor name":  input.ActorName,
		"status note": input.StatusNote,
	} {
		if strings.TrimSpace(value) == "" {
			return domain.ValidationError(field + " is required")
		}
	}
	return nil
}

func validateConfirmFinalSaleInput(input ConfirmFinalSaleInput) error {
	for field, value := range map[string]string{
		"unit id":       input.UnitID,
		"retailer id":   input.RetailerID,
		"retailer name": input.RetailerName,
	} {
		if strings.TrimSpace(value) == "" {
			return domain.ValidationError(field + " is required")
		}
	}
	if input.Price <= 0 {
		return domain.ValidationError("price must be positive")
	}
	return nil
}
