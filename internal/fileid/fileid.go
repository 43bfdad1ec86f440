// Package fileid provides deterministic grammar file IDs derived from paths.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

const prefix = "grammar:"

// GrammarID returns a stable file ID for the given path.
// Same cleaned path always yields the same ID, so re-ingesting a file replaces its rows.
func GrammarID(path string) string {
	normalized := filepath.Clean(path)
	hash := sha256.Sum256([]byte(normalized))
	return prefix + hex.EncodeToString(hash[:16])
}

// IsGrammarID reports whether id looks like a value returned by GrammarID.
func IsGrammarID(id string) bool {
	if len(id) != len(prefix)+32 || id[:len(prefix)] != prefix {
		return false
	}
	_, err := hex.DecodeString(id[len(prefix):])
	return err == nil
}
