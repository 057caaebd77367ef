package pattern

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/fyrsmithlabs/patternd/internal/evidence"
)

// Normalize canonicalizes guidance text for identity computation:
// trim, lowercase, collapse every whitespace run to a single space.
// Two findings quoting the same guidance with different formatting
// normalize to the same string.
func Normalize(content string) string {
	return strings.Join(strings.Fields(strings.ToLower(content)), " ")
}

// Key computes the deduplication key for a pattern:
// sha256(carrierStage | normalize(content) | category), hex-encoded.
//
// Identity is a deterministic content hash on purpose. Free-text pattern
// names drift between sessions and never re-match; the hash always does.
func Key(stage evidence.CarrierStage, content string, category evidence.FindingCategory) string {
	h := sha256.Sum256([]byte(string(stage) + "|" + Normalize(content) + "|" + string(category)))
	return hex.EncodeToString(h[:])
}

// ContentHash computes the content-only digest, sha256(normalize(content)).
func ContentHash(content string) string {
	h := sha256.Sum256([]byte(Normalize(content)))
	return hex.EncodeToString(h[:])
}

// ExcerptHash digests a single evidence excerpt for occurrence provenance.
// Unlike Key, excerpts are hashed as-is: fingerprints must detect any change
// to the underlying document text.
func ExcerptHash(excerpt string) string {
	h := sha256.Sum256([]byte(excerpt))
	return hex.EncodeToString(h[:])
}
