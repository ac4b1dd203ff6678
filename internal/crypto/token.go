package crypto

import (
	"crypto/sha256"
	"encoding/base64"
)

// HashToken derives a stable, non-reversible key for a credential so it can
// be used in logs, caches and single-flight keys without exposing it.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
