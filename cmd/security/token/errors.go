package token

import "errors"

// Public, stable errors for callers.
var (
	ErrSealKeyMissing    = errors.New("token seal key missing")
	ErrSealKeyTooShort   = errors.New("token seal key too short")
	ErrSealedDataInvalid = errors.New("sealed token data invalid")
)
