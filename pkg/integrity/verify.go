package integrity

import "provenancecore/pkg/domain"

// Verify recomputes the fingerprint from the unit's immutable fields and
// compares it against the stored hash. Returns false when the stored hash is
// malformed or does not match.
func Verify(unit domain.ProduceUnit) bool {
	stored, err := ParseHash(unit.IntegrityHash)
	if err != nil {
		return false
	}
	computed := Fingerprint(unit.ID, unit.OriginatorID, unit.Category, unit.OriginDescription, unit.OriginationDate)
	return stored == computed
}
