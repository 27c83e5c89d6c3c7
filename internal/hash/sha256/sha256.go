// Package sha256 digests fetched page bodies so the orchestrator can tell
// when two URLs of a site serve the same document.
package sha256

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data with surrounding whitespace trimmed,
// so a trailing newline added by one route does not defeat the match.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(bytes.TrimSpace(data))
	return hex.EncodeToString(sum[:]), nil
}
