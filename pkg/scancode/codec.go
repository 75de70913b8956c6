// Package scancode encodes ledger snapshots into compact payloads sized for
// 2D optical codes, and decodes them back. Payloads are deterministic CBOR
// (RFC 8949 Core Deterministic Encoding) behind a small framed header, with
// zstd compression applied when it shrinks the body. Encoding and decoding
// are pure and safe for concurrent use.
package scancode

import (
	"bytes"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"

	"provenancecore/pkg/domain"
)

// Magic identifies a provenance ledger code payload, version 1.
const Magic = "PLC1"

// MaxJourneyBytes is the default size envelope for journey payloads: the
// binary capacity of a version 40 QR code at low error correction. Histories
// that would exceed it are truncated per the policy in EncodeJourney.
const MaxJourneyBytes = 2953

// Kind discriminates decoded payloads.
type Kind string

// Payload kinds.
const (
	// KindPreview is the pre-finalization payload carrying only the
	// fingerprinted registration fields.
	KindPreview Kind = "preview"
	// KindJourney is the full snapshot plus abbreviated history.
	KindJourney Kind = "journey"
)

// Preview carries the unit id plus the exact fields covered by the integrity
// fingerprint, for live rendering during registration.
type Preview struct {
	UnitID            string `cbor:"id"`
	OriginatorID      string `cbor:"org"`
	Category          string `cbor:"cat"`
	OriginDescription string `cbor:"origin"`
	OriginationDate   string `cbor:"date"`
}

// Step is one abbreviated history entry inside a journey payload.
type Step struct {
	ActorName string            `cbor:"actor"`
	Action    domain.ActionType `cbor:"action"`
	Timestamp time.Time         `cbor:"ts"`
	Location  *string           `cbor:"loc,omitempty"`
	Details   string            `cbor:"details,omitempty"`
}

// Snapshot is the full current-state view embedded in a journey payload.
type Snapshot struct {
	UnitID            string                `cbor:"id"`
	OriginatorID      string                `cbor:"org"`
	OriginatorName    string                `cbor:"org_name"`
	Category          string                `cbor:"cat"`
	Quantity          float64               `cbor:"qty"`
	Unit              string                `cbor:"unit"`
	OriginDescription string                `cbor:"origin"`
	OriginationDate   string                `cbor:"date"`
	IntegrityHash     string                `cbor:"hash"`
	Stage             domain.LifecycleStage `cbor:"stage"`
	StatusNote        string                `cbor:"note"`
	CurrentHolderID   string                `cbor:"holder"`
	Price             *float64              `cbor:"price,omitempty"`
	Finalized         bool                  `cbor:"final"`
}

// Journey is the decoded form of a journey payload.
type Journey struct {
	Snapshot Snapshot `cbor:"unit"`
	Steps    []Step   `cbor:"steps"`
	// TruncatedSteps counts history entries dropped to fit the size
	// envelope. Zero when the full journey fit.
	TruncatedSteps int `cbor:"truncated,omitempty"`
}

// Decoded is the tagged union returned by Decode. Exactly one of Preview or
// Journey is non-nil, matching Kind.
type Decoded struct {
	Kind    Kind
	Preview *Preview
	Journey *Journey
}

// envelope is the wire shape behind the frame header.
type envelope struct {
	Kind    Kind     `cbor:"k"`
	Preview *Preview `cbor:"p,omitempty"`
	Journey *Journey `cbor:"j,omitempty"`
}

// encMode is the CBOR encoder configured with Core Deterministic Encoding:
// sorted map keys, smallest integer encoding, no indefinite-length items.
// Same logical payload always produces identical bytes. Timestamps use
// RFC 3339 with nanoseconds so round trips preserve full precision.
var encMode cbor.EncMode

// decMode accepts standard CBOR; unknown fields are ignored for forward
// compatibility.
var decMode cbor.DecMode

func init() {
	var err error
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("scancode: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("scancode: CBOR decoder initialization failed: " + err.Error())
	}
}

// EncodePreview encodes a registration preview payload.
func EncodePreview(preview Preview) ([]byte, error) {
	return frame(envelope{Kind: KindPreview, Preview: &preview})
}

// EncodeJourney encodes the unit snapshot plus its abbreviated history using
// the default size envelope.
func EncodeJourney(unit domain.ProduceUnit, history []domain.HistoryEntry) ([]byte, error) {
	return EncodeJourneyLimit(unit, history, MaxJourneyBytes)
}

// EncodeJourneyLimit encodes a journey payload bounded by maxBytes. When the
// full journey exceeds the bound, the oldest status-update steps are dropped
// first; the registration step and the newest steps are always retained and
// the payload records how many steps were cut. The returned payload is never
// larger than maxBytes; if even the minimal journey cannot fit, an error is
// returned rather than an unscannable code.
func EncodeJourneyLimit(unit domain.ProduceUnit, history []domain.HistoryEntry, maxBytes int) ([]byte, error) {
	steps := make([]Step, 0, len(history))
	for _, entry := range history {
		steps = append(steps, Step{
			ActorName: entry.ActorName,
			Action:    entry.Action,
			Timestamp: entry.Timestamp,
			Location:  entry.Location,
			Details:   entry.Details,
		})
	}

	journey := Journey{Snapshot: snapshotOf(unit), Steps: steps}
	for {
		payload, err := frame(envelope{Kind: KindJourney, Journey: &journey})
		if err != nil {
			return nil, err
		}
		if len(payload) <= maxBytes {
			return payload, nil
		}
		if !dropOldestStep(&journey) {
			return nil, domain.ValidationError("journey payload exceeds size envelope even after truncation")
		}
	}
}

// Decode parses a payload produced by EncodePreview or EncodeJourney. Any
// malformed, truncated, or non-conforming input fails with a tagged
// unparseable-payload error; Decode never panics on hostile input.
func Decode(payload []byte) (Decoded, error) {
	body, err := deframe(payload)
	if err != nil {
		return Decoded{}, err
	}
	var env envelope
	if err := decMode.Unmarshal(body, &env); err != nil {
		return Decoded{}, unparseable("decoding payload body: " + err.Error())
	}
	switch env.Kind {
	case KindPreview:
		if env.Preview == nil {
			return Decoded{}, unparseable("preview payload missing preview record")
		}
		return Decoded{Kind: KindPreview, Preview: env.Preview}, nil
	case KindJourney:
		if env.Journey == nil {
			return Decoded{}, unparseable("journey payload missing journey record")
		}
		return Decoded{Kind: KindJourney, Journey: env.Journey}, nil
	default:
		return Decoded{}, unparseable("unknown payload kind " + string(env.Kind))
	}
}

func snapshotOf(unit domain.ProduceUnit) Snapshot {
	snap := Snapshot{
		UnitID:            unit.ID,
		OriginatorID:      unit.OriginatorID,
		OriginatorName:    unit.OriginatorName,
		Category:          unit.Category,
		Quantity:          unit.Quantity,
		Unit:              unit.Unit,
		OriginDescription: unit.OriginDescription,
		OriginationDate:   unit.OriginationDate,
		IntegrityHash:     unit.IntegrityHash,
		Stage:             unit.Stage,
		StatusNote:        unit.StatusNote,
		CurrentHolderID:   unit.CurrentHolderID,
		Finalized:         unit.Finalized,
	}
	if unit.Price != nil {
		price := *unit.Price
		snap.Price = &price
	}
	return snap
}

// dropOldestStep removes the oldest droppable step. The registration step
// (index 0 when present) and the last step are kept so the journey endpoints
// survive truncation. Returns false when nothing more can be dropped.
func dropOldestStep(journey *Journey) bool {
	first := 0
	if len(journey.Steps) > 0 && journey.Steps[0].Action == domain.ActionRegistered {
		first = 1
	}
	if len(journey.Steps)-first <= 1 {
		return false
	}
	journey.Steps = append(journey.Steps[:first], journey.Steps[first+1:]...)
	journey.TruncatedSteps++
	return true
}

func frame(env envelope) ([]byte, error) {
	body, err := encMode.Marshal(env)
	if err != nil {
		return nil, err
	}
	compressed, tag := compressBody(body)
	payload := make([]byte, 0, len(Magic)+1+len(compressed))
	payload = append(payload, Magic...)
	payload = append(payload, byte(tag))
	payload = append(payload, compressed...)
	return payload, nil
}

func deframe(payload []byte) ([]byte, error) {
	if len(payload) < len(Magic)+1 {
		return nil, unparseable("payload shorter than frame header")
	}
	if !bytes.Equal(payload[:len(Magic)], []byte(Magic)) {
		return nil, unparseable("payload missing PLC1 magic")
	}
	return decompressBody(payload[len(Magic)+1:], compressionTag(payload[len(Magic)]))
}

func unparseable(message string) error {
	return domain.NewError(domain.KindUnparseablePayload, "", "", message)
}
