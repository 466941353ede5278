package token

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
)

const (
	// SealKeyEnv is the env var name for the at-rest sealing secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	SealKeyEnv = "CHATLINE_TOKEN_SEAL_KEY"

	// MinSealKeyBytes is the minimum accepted secret length.
	MinSealKeyBytes = 32

	fingerprintHexLen = 12
)

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Fingerprint returns a short, stable, non-reversible identifier for a credential.
// Empty input yields an empty fingerprint.
func Fingerprint(credential string) string {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return ""
	}
	return HashSHA256Hex(credential)[:fingerprintHexLen]
}

// SealKeyFromEnv returns the configured sealing secret (trimmed), enforcing a minimum byte length.
// If the env var is missing/blank -> ErrSealKeyMissing.
// If too short -> ErrSealKeyTooShort.
func SealKeyFromEnv(minBytes int) ([]byte, error) {
	return SealKey(os.Getenv(SealKeyEnv), minBytes)
}

// SealKey validates a raw sealing secret.
func SealKey(raw string, minBytes int) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrSealKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrSealKeyTooShort
	}
	return b, nil
}
