package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"chatline/cmd/security/token"
)

// FileStore persists the credential in a small JSON document on disk.
//
// The document maps storage keys to values so several keys can share one file;
// only the configured key is ever touched. Writes go through a temp file and a
// rename so a crash never leaves a truncated document behind.
type FileStore struct {
	path   string
	key    string
	sealer *token.Sealer

	mu sync.Mutex
}

// FileOption configures a FileStore.
type FileOption func(*FileStore)

// WithSealer seals values before they are written.
// Unsealed values already on disk are still accepted by Load.
func WithSealer(s *token.Sealer) FileOption {
	return func(f *FileStore) {
		f.sealer = s
	}
}

// NewFileStore constructs a FileStore at path.
func NewFileStore(path, key string, opts ...FileOption) *FileStore {
	f := &FileStore{path: path, key: key}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Load returns the credential stored under the configured key.
func (f *FileStore) Load(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return "", err
	}
	v := strings.TrimSpace(doc[f.key])
	if v == "" {
		return "", ErrNoCredential
	}

	if !token.IsSealed(v) {
		return v, nil
	}
	if f.sealer == nil {
		return "", fmt.Errorf("session: %s holds a sealed credential but no seal key is configured: %w", f.path, token.ErrSealedDataInvalid)
	}
	return f.sealer.Open(v)
}

// Save writes credential under the configured key.
func (f *FileStore) Save(ctx context.Context, credential string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}

	v := credential
	if f.sealer != nil {
		if v, err = f.sealer.Seal(credential); err != nil {
			return err
		}
	}
	doc[f.key] = v
	return f.write(doc)
}

// Delete removes the configured key, and the file once it is empty.
func (f *FileStore) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}
	if _, ok := doc[f.key]; !ok {
		return nil
	}
	delete(doc, f.key)
	if len(doc) == 0 {
		if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	return f.write(doc)
}

// Close is a no-op.
func (f *FileStore) Close() error { return nil }

func (f *FileStore) read() (map[string]string, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: read %s: %w", f.path, err)
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return map[string]string{}, nil
	}

	doc := map[string]string{}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("session: decode %s: %w", f.path, err)
	}
	if doc == nil {
		doc = map[string]string{}
	}
	return doc, nil
}

func (f *FileStore) write(doc map[string]string) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("session: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".chatline-token-*")
	if err != nil {
		return fmt.Errorf("session: temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, f.path)
}
