package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"chatline/cmd/security/token"
)

// TokenStore persists the opaque credential under a single well-known key.
//
// Requirements:
//   - Load returns ErrNoCredential when nothing is stored.
//   - Save replaces any previous value.
//   - Delete is idempotent.
type TokenStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, credential string) error
	Delete(ctx context.Context) error
	Close() error
}

// MemoryStore keeps the credential for the lifetime of the process only.
type MemoryStore struct {
	mu    sync.Mutex
	value string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the stored credential.
func (s *MemoryStore) Load(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.value == "" {
		return "", ErrNoCredential
	}
	return s.value, nil
}

// Save stores credential.
func (s *MemoryStore) Save(ctx context.Context, credential string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = credential
	return nil
}

// Delete forgets the credential.
func (s *MemoryStore) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = ""
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// NewTokenStore builds the TokenStore selected by cfg.Backend.
// The returned store owns any connection it opens; Close releases it.
func NewTokenStore(ctx context.Context, cfg Config) (TokenStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case BackendMemory:
		return NewMemoryStore(), nil

	case BackendFile:
		var opts []FileOption
		if strings.TrimSpace(cfg.SealKey) != "" {
			key, err := token.SealKey(cfg.SealKey, token.MinSealKeyBytes)
			if err != nil {
				return nil, fmt.Errorf("session: seal key: %w", err)
			}
			sealer, err := token.NewSealer(key)
			if err != nil {
				return nil, err
			}
			opts = append(opts, WithSealer(sealer))
		}
		return NewFileStore(cfg.FilePath, cfg.StorageKey, opts...), nil

	case BackendRedis:
		return DialRedisStore(ctx, cfg)

	case BackendPostgres:
		return OpenPostgresStore(ctx, cfg)

	default:
		return nil, ErrConfig
	}
}
