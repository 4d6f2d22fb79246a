package internal

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/kennygrant/sanitize"
)

// HashKey returns a stable hex digest of s, used for cache keys.
func HashKey(s string) string {
	hash := sha256.Sum256([]byte(s))
	return hex.EncodeToString(hash[:])
}

// FileName turns a record identifier into a safe file name stem.
func FileName(brnum string) string {
	name := sanitize.BaseName(strings.TrimSpace(brnum))
	if name == "" {
		return HashKey(brnum)
	}
	return name
}
