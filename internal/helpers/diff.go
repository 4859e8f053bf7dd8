package helpers

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint returns the SHA-256 hex digest of content. Fragments are compared
// byte for byte, so no normalisation is applied.
func Fingerprint(content string) string {
	if content == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// ShortFingerprint is the first 12 hex characters of Fingerprint, for logs.
func ShortFingerprint(content string) string {
	fp := Fingerprint(content)
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
