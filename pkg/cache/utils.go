package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// GenerateKey namespaces id under prefix, e.g. "entsoe:<hash>".
func GenerateKey(prefix string, id string) string {
	return prefix + ":" + id
}

// HashKey returns a fixed-length digest of key so request URLs, API tokens
// included, are never stored in clear.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16])
}
