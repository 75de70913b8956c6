package integrity

import (
	"strings"
	"testing"

	"provenancecore/pkg/domain"
)

func TestFingerprintIsDeterministic(t *testing.T) {
	a := Fingerprint("unit-1", "farmer-1", "apples", "orchard 3", "2026-03-01")
	b := Fingerprint("unit-1", "farmer-1", "apples", "orchard 3", "2026-03-01")
	if a != b {
		t.Fatalf("same inputs produced different fingerprints")
	}
}

func TestFingerprintFieldSensitivity(t *testing.T) {
	base := Fingerprint("unit-1", "farmer-1", "apples", "orchard 3", "2026-03-01")
	variants := []Hash{
		Fingerprint("unit-2", "farmer-1", "apples", "orchard 3", "2026-03-01"),
		Fingerprint("unit-1", "farmer-2", "apples", "orchard 3", "2026-03-01"),
		Fingerprint("unit-1", "farmer-1", "pears", "orchard 3", "2026-03-01"),
		Fingerprint("unit-1", "farmer-1", "apples", "orchard 4", "2026-03-01"),
		Fingerprint("unit-1", "farmer-1", "apples", "orchard 3", "2026-03-02"),
	}
	for i, v := range variants {
		if v == base {
			t.Fatalf("variant %d collided with base fingerprint", i)
		}
	}
}

func TestFingerprintFieldBoundaries(t *testing.T) {
	// Length-prefixed encoding: shifting bytes between adjacent fields must
	// change the digest.
	a := Fingerprint("ab", "c", "x", "y", "z")
	b := Fingerprint("a", "bc", "x", "y", "z")
	if a == b {
		t.Fatalf("field boundary ambiguity detected")
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	hash := Fingerprint("unit-1", "farmer-1", "apples", "orchard 3", "2026-03-01")
	formatted := FormatHash(hash)
	if len(formatted) != 64 || strings.ToLower(formatted) != formatted {
		t.Fatalf("unexpected hash format %q", formatted)
	}
	parsed, err := ParseHash(formatted)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != hash {
		t.Fatalf("round trip mismatch")
	}
}

func TestParseHashRejectsMalformed(t *testing.T) {
	if _, err := ParseHash("zz"); err == nil {
		t.Fatalf("expected error for non-hex input")
	}
	if _, err := ParseHash("abcd"); err == nil {
		t.Fatalf("expected error for short input")
	}
}

func TestVerify(t *testing.T) {
	unit := domain.ProduceUnit{
		Base:              domain.Base{ID: "unit-1"},
		OriginatorID:      "farmer-1",
		Category:          "apples",
		OriginDescription: "orchard 3",
		OriginationDate:   "2026-03-01",
	}
	unit.IntegrityHash = FormatHash(Fingerprint(unit.ID, unit.OriginatorID, unit.Category, unit.OriginDescription, unit.OriginationDate))
	if !Verify(unit) {
		t.Fatalf("expected unit to verify")
	}

	tampered := unit
	tampered.Category = "pears"
	if Verify(tampered) {
		t.Fatalf("tampered unit must not verify")
	}

	malformed := unit
	malformed.IntegrityHash = "not-hex"
	if Verify(malformed) {
		t.Fatalf("malformed hash must not verify")
	}
}
