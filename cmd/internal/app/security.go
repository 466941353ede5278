package app

import (
	"errors"

	"chatline/cmd/internal/auth/session"
	"chatline/cmd/security/token"
)

// ValidateSecurityConfig enforces the credential-at-rest policy at startup.
//
// With RequireSealedToken, a file-backed credential must be sealed; starting
// with a plain file would silently write the bearer token to disk.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireSealedToken || cfg.Session.Backend != session.BackendFile {
		return nil
	}

	if _, err := token.SealKey(cfg.Session.SealKey, token.MinSealKeyBytes); err != nil {
		switch {
		case errors.Is(err, token.ErrSealKeyMissing):
			return errors.New("security policy: CHATLINE_REQUIRE_SEALED_TOKEN=true but CHATLINE_TOKEN_SEAL_KEY is missing")
		case errors.Is(err, token.ErrSealKeyTooShort):
			return errors.New("security policy: CHATLINE_TOKEN_SEAL_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}
	return nil
}
