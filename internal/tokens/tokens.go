// Package tokens holds the secret-handling primitives shared by approval
// tokens and any future single-use token type.
package tokens

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

const rawTokenBytes = 24

// NewRaw generates a URL-safe random token. The raw value is handed to the
// caller exactly once; only its hash is ever persisted.
func NewRaw() (string, error) {
	buf := make([]byte, rawTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Hash returns a stable SHA-256 hex digest for the provided secret.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}

// ValidSHA256Hex reports whether s is a well-formed lowercase hex SHA-256
// digest, the only form accepted for artifact integrity declarations.
func ValidSHA256Hex(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
