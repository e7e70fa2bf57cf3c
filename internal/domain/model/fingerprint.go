package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint derives the user-visible identity digest from a public key:
// the first 4 bytes of SHA-256, as 8 uppercase hex characters. Collisions
// in the first 32 bits are a display collision only; nothing authenticates
// a fingerprint.
func Fingerprint(publicKey []byte) string {
	sum := sha256.Sum256(publicKey)
	return strings.ToUpper(hex.EncodeToString(sum[:4]))
}

// ShortFingerprint returns the first 4 characters of a fingerprint.
func ShortFingerprint(fp string) string {
	if len(fp) < 4 {
		return fp
	}
	return fp[:4]
}

// IsValidFingerprint reports whether s is exactly 8 hex characters,
// case-insensitive.
func IsValidFingerprint(s string) bool {
	if len(s) != 8 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
