// Package app wires the chatline client runtime: config, logging, the session
// stack, the presence channel and the optional status HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	authapi "chatline/cmd/internal/auth/api"
	"chatline/cmd/internal/auth/session"
	"chatline/cmd/internal/metrics"
	"chatline/cmd/internal/realtime"
)

// ErrUnauthenticated is returned by Run when no session could be restored or established.
var ErrUnauthenticated = errors.New("app: not signed in")

// App is the chatline client runtime.
type App struct {
	cfg Config
	log Logger

	reg     *prometheus.Registry
	metrics *metrics.Metrics

	store  session.TokenStore
	dbPool *pgxpool.Pool

	manager *session.Manager
	gateway *authapi.Gateway
	account *authapi.Account
	channel *realtime.Channel

	closeOnce sync.Once
}

// New constructs a fully wired App instance from config and logger.
// Nothing touches the network until Run, except opening a remote token store.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}
	locale, err := realtime.ParseLocale(cfg.API.Locale)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(reg)
	if err != nil {
		return nil, err
	}

	store, dbPool, err := newTokenStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, log: log, reg: reg, metrics: m, store: store, dbPool: dbPool}

	if err := a.wire(locale); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(locale realtime.Locale) error {
	hc, err := authapi.NewHTTPClient(a.cfg.API)
	if err != nil {
		return err
	}
	refresher, err := authapi.NewRefresher(a.log, a.cfg.API, hc)
	if err != nil {
		return err
	}

	sess := session.NewSession()
	a.manager = session.NewManager(a.log, sess, a.store, refresher, session.WithMetrics(a.metrics))

	a.gateway, err = authapi.NewGateway(a.log, a.cfg.API, hc, sess, a.manager, authapi.WithGatewayMetrics(a.metrics))
	if err != nil {
		return err
	}

	opts := a.cfg.Channel
	opts.OnStateChange = a.onChannelState
	opts.OnPresence = a.onPresence
	opts.OnReconnectFailed = a.onReconnectFailed

	dialer := realtime.WebSocketDialer{
		HTTPClient: hc,
		Header:     http.Header{"User-Agent": []string{a.cfg.API.UserAgent}},
	}
	cache := realtime.NewCache(realtime.WithLocale(locale))
	a.channel, err = realtime.NewChannel(a.log, opts, sess, cache,
		realtime.WithDialer(dialer),
		realtime.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}

	a.account = authapi.NewAccount(a.log, a.gateway, a.manager, a.channel)
	return nil
}

// newTokenStore opens the configured TokenStore.
//
// Ownership model:
//   - for postgres the app owns the pool and closes it after the store
//   - every other backend owns its own resources
func newTokenStore(ctx context.Context, cfg Config, log Logger) (session.TokenStore, *pgxpool.Pool, error) {
	if cfg.Session.Backend != session.BackendPostgres {
		st, err := session.NewTokenStore(ctx, cfg.Session)
		if err != nil {
			return nil, nil, err
		}
		log.Info("token_store.open", "backend", string(cfg.Session.Backend))
		return st, nil, nil
	}

	pool, err := NewDBPool(ctx, cfg.Session.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return nil, nil, fmt.Errorf("token store: %w", err)
	}
	st, err := session.NewPostgresStore(pool,
		session.WithSchema(cfg.Session.PostgresSchema),
		session.WithStorageKey(cfg.Session.StorageKey),
	)
	if err == nil {
		err = st.EnsureSchema(ctx)
	}
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("token store: %w", err)
	}

	log.Info("token_store.open", "backend", string(session.BackendPostgres), "schema", cfg.Session.PostgresSchema)
	return st, pool, nil
}

// Account exposes the sign-in / logout facade.
func (a *App) Account() *authapi.Account { return a.account }

// Gateway exposes the authenticated REST gateway.
func (a *App) Gateway() *authapi.Gateway { return a.gateway }

// Channel exposes the presence channel.
func (a *App) Channel() *realtime.Channel { return a.channel }

// Handler returns the status HTTP surface.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.channel, a.dbPool, a.reg)
	return WithRequestLogging(WithSecurityHeaders(mux), a.log)
}

// SignIn restores the persisted session, falling back to the configured
// username and password. It reports whether a session is now active.
func (a *App) SignIn(ctx context.Context) bool {
	if a.account.Initialize(ctx) {
		a.log.Info("app.session.restored")
		return true
	}
	if a.cfg.Username == "" {
		return false
	}
	if a.account.SignIn(ctx, a.cfg.Username, a.cfg.Password) {
		return true
	}
	a.log.Warn("app.sign_in.fail", "user", a.cfg.Username, "reason", a.account.LastError())
	return false
}

// Run signs in, keeps presence connected and serves the status surface until
// ctx is cancelled. The persisted session survives a normal shutdown.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	var srv *http.Server
	errCh := make(chan error, 1)
	if a.cfg.HTTPAddr != "" {
		srv = &http.Server{
			Addr:              a.cfg.HTTPAddr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		a.log.Info("status.start", "addr", a.cfg.HTTPAddr)
	}

	if !a.SignIn(ctx) {
		a.shutdownHTTP(srv)
		return ErrUnauthenticated
	}
	if u, ok := a.account.User(); ok {
		a.log.Info("app.ready", "user_id", u.ID, "user", u.Name(), "watch", len(a.cfg.Watch))
	}

	select {
	case <-ctx.Done():
		a.log.Info("app.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("status.fail", "err", err)
		return err
	}

	return a.shutdownHTTP(srv)
}

func (a *App) shutdownHTTP(srv *http.Server) error {
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		a.log.Error("status.shutdown.fail", "err", err)
		return err
	}
	a.log.Info("status.stopped")
	return nil
}

// Close stops the channel and releases the token store. It is idempotent.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.channel != nil {
			a.channel.Close()
		}
		if a.store != nil {
			if err := a.store.Close(); err != nil {
				a.log.Error("token_store.close.fail", "err", err)
			}
		}
		if a.dbPool != nil {
			a.dbPool.Close()
		}
	})
}

func (a *App) onChannelState(st realtime.State) {
	a.log.Info("presence.state", "state", st.String())
	if st.Auth == realtime.AuthAuthenticated && len(a.cfg.Watch) > 0 {
		if !a.channel.RequestStatuses(a.cfg.Watch) {
			a.log.Warn("presence.watch.dropped", "count", len(a.cfg.Watch))
		}
	}
}

func (a *App) onPresence(entries []realtime.Entry) {
	cache := a.channel.Cache()
	for _, e := range entries {
		a.log.Info("presence.update", "user_id", e.UserID, "status", string(e.Status), "describe", cache.Describe(e.UserID))
	}
}

func (a *App) onReconnectFailed(err error) {
	a.log.Warn("presence.unavailable", "err", err, "retries", a.cfg.Channel.ReconnectRetries)
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
