// Package token provides credential-handling primitives for chatline.
//
// The credential itself is opaque to the client. This package only:
// - derives short fingerprints so logs can correlate credentials without leaking them;
// - seals credentials at rest (XChaCha20-Poly1305, key derived with HKDF-SHA256).
//
// Environment:
// - CHATLINE_TOKEN_SEAL_KEY: when set (>= 32 bytes), file-persisted credentials are sealed.
package token
