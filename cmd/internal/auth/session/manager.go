package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"chatline/cmd/internal/metrics"
	"chatline/cmd/security/token"
)

const renewKey = "renew"

type initState int

const (
	notInitialized initState = iota
	initializing
	initialized
)

// Manager owns every write to the Session: installing a credential after
// sign-in, renewing it, restoring it at startup and clearing it.
type Manager struct {
	log       *slog.Logger
	sess      *Session
	store     TokenStore
	refresher Refresher
	metrics   *metrics.Metrics

	renewals singleflight.Group

	// writeMu serializes session and store writes. epoch advances on every
	// Install and Clear; a renewal started under an older epoch is discarded.
	writeMu sync.Mutex
	epoch   uint64

	initMu     sync.Mutex
	initState  initState
	initDone   chan struct{}
	initResult bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMetrics records renewals on m.
func WithMetrics(m *metrics.Metrics) ManagerOption {
	return func(mg *Manager) {
		mg.metrics = m
	}
}

// NewManager wires a Manager. A nil store falls back to an in-memory one.
func NewManager(log *slog.Logger, sess *Session, store TokenStore, refresher Refresher, opts ...ManagerOption) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if store == nil {
		store = NewMemoryStore()
	}
	m := &Manager{
		log:       log,
		sess:      sess,
		store:     store,
		refresher: refresher,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Session returns the holder this manager writes.
func (m *Manager) Session() *Session { return m.sess }

// Install sets credential as the current one and persists it.
// userID may be zero when unknown; claims in the credential are consulted then.
// A persistence error is returned but the in-memory session is still updated.
func (m *Manager) Install(ctx context.Context, credential string, userID int64) error {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return ErrNoCredential
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.epoch++
	m.install(credential, userID)
	if err := m.store.Save(ctx, credential); err != nil {
		m.log.Warn("session.persist.fail", "err", err)
		return fmt.Errorf("session: persist credential: %w", err)
	}
	return nil
}

func (m *Manager) install(credential string, userID int64) {
	c, isJWT := inspectClaims(credential)
	if userID == 0 && isJWT {
		userID = c.UserID
	}
	m.sess.set(credential, userID)

	attrs := []any{"token_fp", token.Fingerprint(credential)}
	if isJWT && !c.ExpiresAt.IsZero() {
		attrs = append(attrs, "expires_at", c.ExpiresAt)
	}
	m.log.Debug("session.install", attrs...)
}

// Clear forgets the credential in memory and in the store.
func (m *Manager) Clear(ctx context.Context) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.epoch++
	m.sess.clear()
	if err := m.store.Delete(ctx); err != nil {
		m.log.Warn("session.clear.store_fail", "err", err)
		return err
	}
	m.log.Info("session.clear")
	return nil
}

// Renew obtains a new credential through the Refresher.
// It reports whether a new credential is now installed.
func (m *Manager) Renew(ctx context.Context) bool {
	return m.RenewOutcome(ctx).OK
}

// RenewOutcome is Renew with the failure detail.
//
// Concurrent callers share a single in-flight refresh. The refresh itself is
// detached from ctx so a caller giving up does not fail the others; ctx only
// bounds how long this caller waits.
func (m *Manager) RenewOutcome(ctx context.Context) RenewResult {
	if m.refresher == nil {
		return RenewResult{Err: ErrRefreshFailed}
	}

	detached := context.WithoutCancel(ctx)
	ch := m.renewals.DoChan(renewKey, func() (any, error) {
		return m.renew(detached), nil
	})

	select {
	case res := <-ch:
		return res.Val.(RenewResult)
	case <-ctx.Done():
		return RenewResult{Err: ctx.Err()}
	}
}

func (m *Manager) currentEpoch() uint64 {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.epoch
}

func (m *Manager) renew(ctx context.Context) RenewResult {
	started := m.currentEpoch()
	credential, err := m.refresher.Refresh(ctx)
	if err == nil && strings.TrimSpace(credential) == "" {
		err = fmt.Errorf("%w: empty credential", ErrRefreshFailed)
	}
	if err != nil {
		if m.currentEpoch() != started {
			m.log.Info("session.renew.discarded", "err", err)
			return RenewResult{Err: ErrNoCredential}
		}
		hard := errors.Is(err, ErrRefreshRejected)
		if hard {
			m.metrics.ObserveRenewal("rejected")
		} else {
			m.metrics.ObserveRenewal("failed")
		}
		m.log.Info("session.renew.fail", "hard", hard, "err", err)
		return RenewResult{Hard: hard, Err: err}
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if m.epoch != started {
		m.metrics.ObserveRenewal("discarded")
		m.log.Info("session.renew.discarded", "token_fp", token.Fingerprint(credential))
		return RenewResult{Err: ErrNoCredential}
	}
	m.install(credential, 0)
	if err := m.store.Save(ctx, credential); err != nil {
		m.log.Warn("session.persist.fail", "err", err)
	}
	m.metrics.ObserveRenewal("ok")
	m.log.Info("session.renew.ok", "token_fp", token.Fingerprint(credential))
	return RenewResult{OK: true}
}

// Initialize restores a persisted credential and confirms it against the server.
//
// It runs at most once per Manager. Callers arriving while it runs wait for the
// first run and get its result; later callers get the cached result.
func (m *Manager) Initialize(ctx context.Context, fetcher IdentityFetcher) bool {
	m.initMu.Lock()
	switch m.initState {
	case initialized:
		ok := m.initResult
		m.initMu.Unlock()
		return ok
	case initializing:
		done := m.initDone
		m.initMu.Unlock()
		select {
		case <-done:
			m.initMu.Lock()
			defer m.initMu.Unlock()
			return m.initResult
		case <-ctx.Done():
			return false
		}
	}
	m.initState = initializing
	done := make(chan struct{})
	m.initDone = done
	m.initMu.Unlock()

	ok := m.restore(ctx, fetcher)

	m.initMu.Lock()
	m.initResult = ok
	m.initState = initialized
	close(done)
	m.initMu.Unlock()
	return ok
}

// Initialized reports whether Initialize has completed.
func (m *Manager) Initialized() bool {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	return m.initState == initialized
}

func (m *Manager) restore(ctx context.Context, fetcher IdentityFetcher) bool {
	credential, err := m.store.Load(ctx)
	if errors.Is(err, ErrNoCredential) {
		m.log.Debug("session.restore.none")
		return false
	}
	if err != nil {
		m.log.Warn("session.restore.load_fail", "err", err)
		return false
	}

	m.writeMu.Lock()
	m.epoch++
	m.install(credential, 0)
	m.writeMu.Unlock()
	if fetcher == nil {
		return true
	}

	id, err := fetcher.FetchIdentity(ctx)
	if err != nil {
		m.log.Info("session.restore.identity_fail", "err", err)
		if m.Renew(ctx) {
			id, err = fetcher.FetchIdentity(ctx)
		}
	}
	if err != nil {
		m.log.Info("session.restore.fail", "err", err)
		_ = m.Clear(ctx)
		return false
	}

	if id.UserID != 0 {
		m.sess.setUserID(id.UserID)
	}
	m.log.Info("session.restore.ok", "user_id", id.UserID)
	return true
}
