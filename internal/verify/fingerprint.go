package verify

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/veridoc/stmtguard-go/internal/models"
)

// Fingerprint derives the stable identity of a canonical statement: the
// BLAKE2b-256 digest of its canonical JSON encoding. Identical parser output
// always maps to the same fingerprint, which keys the verdict cache and the
// append-only verdict history.
func Fingerprint(stmt *models.CanonicalStatement) (string, error) {
	payload, err := json.Marshal(stmt)
	if err != nil {
		return "", fmt.Errorf("failed to encode statement for fingerprinting: %w", err)
	}
	sum := blake2b.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
