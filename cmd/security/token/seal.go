package token

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	sealPrefix = "sealed.v1."
	sealInfo   = "chatline token seal v1"
)

// Sealer encrypts credentials for storage at rest.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives an XChaCha20-Poly1305 key from secret.
func NewSealer(secret []byte) (*Sealer, error) {
	if len(secret) < MinSealKeyBytes {
		return nil, ErrSealKeyTooShort
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(sealInfo)), key); err != nil {
		return nil, fmt.Errorf("token: derive key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// Seal returns a printable sealed form of plain.
func (s *Sealer) Seal(plain string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plain)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := s.aead.Seal(nonce, nonce, []byte(plain), nil)
	return sealPrefix + base64.RawURLEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Any tampering or a wrong key yields ErrSealedDataInvalid.
func (s *Sealer) Open(sealed string) (string, error) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(sealed), sealPrefix)
	if !ok {
		return "", ErrSealedDataInvalid
	}
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return "", ErrSealedDataInvalid
	}
	ns := s.aead.NonceSize()
	if len(b) < ns+s.aead.Overhead() {
		return "", ErrSealedDataInvalid
	}
	plain, err := s.aead.Open(nil, b[:ns], b[ns:], nil)
	if err != nil {
		return "", ErrSealedDataInvalid
	}
	return string(plain), nil
}

// IsSealed reports whether s looks like Seal output.
func IsSealed(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), sealPrefix)
}
