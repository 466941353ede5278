// Package realtime contains chatline's presence channel and the presence cache it feeds.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"chatline/cmd/internal/metrics"
	v1 "chatline/shared/contracts/presence/v1"
)

// CredentialSource supplies the bearer credential sent in the auth handshake.
// *session.Session satisfies it.
type CredentialSource interface {
	Credential() (string, bool)
}

// Options configures a Channel.
//
// Callbacks run synchronously on the channel's goroutines: they must not
// block and must not call Close.
type Options struct {
	URL string `yaml:"url"`

	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	PongTimeout       time.Duration `yaml:"heartbeat_timeout"`

	ReconnectRetries int           `yaml:"reconnect_retries"`
	ReconnectDelay   time.Duration `yaml:"reconnect_delay"`

	WriteTimeout time.Duration `yaml:"write_timeout"`
	SendQueue    int           `yaml:"send_queue"`

	// RequestLimit caps get_statuses requests per RequestWindow; 0 disables it.
	RequestLimit  int           `yaml:"request_limit"`
	RequestWindow time.Duration `yaml:"request_window"`

	OnStateChange     func(State)   `yaml:"-"`
	OnPresence        func([]Entry) `yaml:"-"`
	OnReconnectFailed func(error)   `yaml:"-"`
}

// DefaultOptions returns the channel defaults.
func DefaultOptions() Options {
	return Options{
		URL:               "ws://localhost:3000/ws",
		HeartbeatInterval: heartbeatInterval,
		PongTimeout:       pongTimeout,
		ReconnectRetries:  reconnectRetries,
		ReconnectDelay:    reconnectDelay,
		WriteTimeout:      writeTimeout,
		SendQueue:         sendQueueSize,
		RequestWindow:     rateLimitWindow,
	}
}

// Validate checks the URL and the timing values.
func (o Options) Validate() error {
	u, err := url.Parse(strings.TrimSpace(o.URL))
	if err != nil || u.Host == "" || (u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("%w: url %q", ErrConfig, o.URL)
	}
	if o.HeartbeatInterval <= 0 || o.PongTimeout <= 0 || o.WriteTimeout <= 0 {
		return fmt.Errorf("%w: heartbeat and write timeouts must be positive", ErrConfig)
	}
	if o.ReconnectRetries < 0 || o.ReconnectDelay < 0 {
		return fmt.Errorf("%w: reconnect settings must not be negative", ErrConfig)
	}
	if o.SendQueue <= 0 {
		return fmt.Errorf("%w: send queue must be positive", ErrConfig)
	}
	if o.RequestLimit < 0 || (o.RequestLimit > 0 && o.RequestWindow <= 0) {
		return fmt.Errorf("%w: request limit must not be negative and needs a positive window", ErrConfig)
	}
	return nil
}

// Channel keeps one persistent presence connection alive.
//
// Concurrency model:
//   - One run goroutine per Connect owns dialing, reconnecting and reading; frames are handled one at a time.
//   - Each connection adds a writer goroutine and a heartbeat goroutine.
//   - Every Connect/Disconnect bumps a generation; stale goroutines see the mismatch and stop touching state.
type Channel struct {
	log     *slog.Logger
	opts    Options
	dialer  Dialer
	creds   CredentialSource
	cache   *Cache
	metrics *metrics.Metrics
	limiter *RateLimiter
	now     func() time.Time

	mu     sync.Mutex
	gen    uint64
	state  State
	active bool
	cur    *link
	cancel context.CancelFunc
	done   chan struct{}
}

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// WithDialer replaces the default WebSocketDialer.
func WithDialer(d Dialer) ChannelOption {
	return func(c *Channel) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithMetrics records connection and message metrics on m.
func WithMetrics(m *metrics.Metrics) ChannelOption {
	return func(c *Channel) {
		c.metrics = m
	}
}

// NewChannel builds a closed Channel. cache may be nil; a fresh one is created then.
func NewChannel(log *slog.Logger, opts Options, creds CredentialSource, cache *Cache, copts ...ChannelOption) (*Channel, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	if cache == nil {
		cache = NewCache()
	}

	c := &Channel{
		log:     log,
		opts:    opts,
		dialer:  WebSocketDialer{},
		creds:   creds,
		cache:   cache,
		limiter: NewRateLimiter(opts.RequestLimit, opts.RequestWindow),
		now:     time.Now,
	}
	for _, opt := range copts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Cache returns the cache this channel feeds.
func (c *Channel) Cache() *Cache { return c.cache }

// State returns the current connection and auth state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the transport is open.
func (c *Channel) IsConnected() bool {
	return c.State().Conn == StateOpen
}

// IsAuthenticated reports whether the handshake has completed on the open connection.
func (c *Channel) IsAuthenticated() bool {
	return c.State().Auth == AuthAuthenticated
}

// Connect starts the channel. It is a no-op unless the channel is closed and
// no reconnect cycle is pending. ctx contributes values only; use Disconnect to stop.
func (c *Channel) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.state.Conn != StateClosed || c.active {
		c.mu.Unlock()
		return
	}

	c.gen++
	gen := c.gen
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	c.cancel, c.done, c.active = cancel, done, true
	st, changed := c.setStateLocked(StateConnecting, AuthUnauthenticated)
	c.mu.Unlock()

	if changed {
		c.notify(st)
	}
	c.log.Info("ws.connect", "url", c.opts.URL)
	go c.run(runCtx, gen, done)
}

// Disconnect closes the channel on purpose: no reconnect follows, the cache is
// cleared and the auth state is reset.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
	c.active = false
	c.cur = nil
	c.cache.clear()
	st, changed := c.setStateLocked(StateClosed, AuthUnauthenticated)
	c.mu.Unlock()

	c.metrics.SetPresenceEntries(0)
	if changed {
		c.notify(st)
	}
	c.log.Info("ws.disconnect")
}

// Close disconnects and waits for the background goroutines to stop.
func (c *Channel) Close() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	c.Disconnect()
	if done != nil {
		<-done
	}
}

// RequestStatuses asks the server for the statuses of userIDs.
// It reports false when the request was dropped: no ids, not authenticated,
// rate limited or a full send queue.
func (c *Channel) RequestStatuses(userIDs []int64) bool {
	if len(userIDs) == 0 {
		return false
	}

	c.mu.Lock()
	l := c.cur
	authed := c.state.Auth == AuthAuthenticated
	c.mu.Unlock()

	if l == nil || !authed {
		c.log.Debug("ws.request.dropped", "reason", "not_authenticated")
		return false
	}
	if !c.limiter.Allow(c.now()) {
		c.log.Info("ws.request.dropped", "reason", "rate_limited")
		return false
	}

	b, err := v1.Encode(v1.GetStatuses{UserIDs: slices.Clone(userIDs)})
	if err != nil {
		return false
	}
	if !l.enqueue(b) {
		c.log.Info("ws.request.dropped", "reason", "backpressure", "conn_id", l.id)
		return false
	}
	c.metrics.ObserveMessage("out", v1.TypeGetStatuses)
	return true
}

// ---- lifecycle ----

func (c *Channel) run(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)

	attempts := 0
	for {
		authed, err := c.serve(ctx, gen)
		if ctx.Err() != nil {
			return
		}
		if authed {
			attempts = 0
		}
		c.log.Info("ws.closed", "err", err, "attempts", attempts)

		if attempts >= c.opts.ReconnectRetries {
			c.exhausted(gen)
			return
		}
		attempts++
		c.metrics.ObserveReconnect()
		c.log.Info("ws.reconnect.wait", "attempt", attempts, "delay", c.opts.ReconnectDelay)

		t := time.NewTimer(c.opts.ReconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// serve dials once and runs the connection until it dies. authed reports
// whether the handshake completed on it.
func (c *Channel) serve(ctx context.Context, gen uint64) (authed bool, err error) {
	if !c.transition(gen, StateConnecting, AuthUnauthenticated) {
		return false, context.Canceled
	}

	conn, err := c.dialer.Dial(ctx, c.opts.URL)
	if err != nil {
		c.log.Info("ws.dial.fail", "err", err)
		c.transition(gen, StateClosed, AuthUnauthenticated)
		return false, err
	}

	l := newLink(ctx, conn, c.opts.SendQueue)
	defer l.close()

	if !c.attach(gen, l) {
		return false, context.Canceled
	}
	defer c.detach(gen, l)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.writeLoop(l)
	}()
	go func() {
		defer wg.Done()
		c.heartbeatLoop(l)
	}()
	defer wg.Wait()

	return c.readLoop(gen, l)
}

func (c *Channel) readLoop(gen uint64, l *link) (authed bool, err error) {
	for {
		data, err := l.conn.Read(l.ctx)
		if err != nil {
			if errors.Is(err, ErrDecode) && l.ctx.Err() == nil {
				c.log.Info("ws.decode.fail", "conn_id", l.id, "err", err)
				continue
			}
			if cause := l.err(); cause != nil {
				err = cause
			}
			l.fail(err)
			return authed, err
		}
		if c.handle(gen, l, data) {
			authed = true
		}
	}
}

func (c *Channel) writeLoop(l *link) {
	for {
		select {
		case <-l.ctx.Done():
			return
		case b := <-l.send:
			wctx, cancel := context.WithTimeout(l.ctx, c.opts.WriteTimeout)
			err := l.conn.Write(wctx, b)
			cancel()
			if err != nil {
				c.log.Info("ws.write.fail", "conn_id", l.id, "err", err)
				l.fail(err)
				return
			}
		}
	}
}

func (c *Channel) heartbeatLoop(l *link) {
	ping, err := v1.Encode(v1.Ping{})
	if err != nil {
		return
	}

	t := time.NewTicker(c.opts.HeartbeatInterval)
	defer t.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-t.C:
		}

		l.drainPong()
		if l.enqueue(ping) {
			c.metrics.ObserveMessage("out", v1.TypePing)
		}

		wait := time.NewTimer(c.opts.PongTimeout)
		select {
		case <-l.ctx.Done():
			wait.Stop()
			return
		case <-l.pong:
			wait.Stop()
		case <-wait.C:
			c.log.Info("ws.heartbeat.timeout", "conn_id", l.id, "timeout", c.opts.PongTimeout)
			l.fail(ErrHeartbeatTimeout)
			return
		}
	}
}

// ---- inbound ----

// handle processes one inbound frame and reports whether it completed the handshake.
func (c *Channel) handle(gen uint64, l *link, data []byte) bool {
	msg, err := v1.Decode(data)
	if err != nil {
		c.metrics.ObserveMessage("in", "invalid")
		c.log.Info("ws.decode.fail", "conn_id", l.id, "err", fmt.Errorf("%w: %w", ErrDecode, err))
		return false
	}

	switch m := msg.(type) {
	case v1.AuthSuccess:
		c.metrics.ObserveMessage("in", m.Type())
		c.setAuth(gen, l, AuthAuthenticated)
		c.log.Info("ws.auth.ok", "conn_id", l.id)
		return true

	case v1.AuthError:
		c.metrics.ObserveMessage("in", m.Type())
		c.setAuth(gen, l, AuthUnauthenticated)
		c.log.Warn("ws.auth.error", "conn_id", l.id, "reason", m.Reason)

	case v1.UserStatus:
		c.metrics.ObserveMessage("in", m.Type())
		c.applyPresence(gen, l, []v1.StatusRecord{m.StatusRecord})

	case v1.ContactsStatuses:
		c.metrics.ObserveMessage("in", m.Type())
		c.applyPresence(gen, l, m.Statuses)

	case v1.Pong:
		c.metrics.ObserveMessage("in", m.Type())
		l.notePong()

	case v1.Ping:
		c.metrics.ObserveMessage("in", m.Type())
		if b, err := v1.Encode(v1.Pong{}); err == nil && l.enqueue(b) {
			c.metrics.ObserveMessage("out", v1.TypePong)
		}

	case v1.Unknown:
		c.metrics.ObserveMessage("in", "unknown")
		c.log.Debug("ws.message.unknown", "conn_id", l.id, "type", m.Kind)

	default:
		c.metrics.ObserveMessage("in", "unexpected")
		c.log.Debug("ws.message.unexpected", "conn_id", l.id, "type", msg.Type())
	}
	return false
}

func (c *Channel) applyPresence(gen uint64, l *link, recs []v1.StatusRecord) {
	valid := make([]v1.StatusRecord, 0, len(recs))
	for _, r := range recs {
		if err := r.Validate(); err != nil {
			c.log.Info("ws.status.invalid", "conn_id", l.id, "user_id", r.UserID, "err", err)
			continue
		}
		valid = append(valid, r)
	}
	if len(valid) == 0 {
		return
	}

	c.mu.Lock()
	if gen != c.gen || c.cur != l {
		c.mu.Unlock()
		return
	}
	var entries []Entry
	if len(valid) == 1 {
		entries = []Entry{c.cache.upsert(valid[0])}
	} else {
		entries = c.cache.upsertMany(valid)
	}
	n := c.cache.Len()
	c.mu.Unlock()

	c.metrics.SetPresenceEntries(n)
	if cb := c.opts.OnPresence; cb != nil {
		cb(entries)
	}
}

// ---- state ----

func (c *Channel) setStateLocked(conn ConnState, auth AuthState) (State, bool) {
	next := State{Conn: conn, Auth: auth}
	if next == c.state {
		return next, false
	}
	c.state = next
	return next, true
}

func (c *Channel) notify(st State) {
	c.metrics.SetConnState(int(st.Conn))
	c.log.Debug("ws.state", "state", st.String())
	if cb := c.opts.OnStateChange; cb != nil {
		cb(st)
	}
}

// transition moves to (conn, auth) if gen is still current.
func (c *Channel) transition(gen uint64, conn ConnState, auth AuthState) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	st, changed := c.setStateLocked(conn, auth)
	c.mu.Unlock()

	if changed {
		c.notify(st)
	}
	return true
}

// attach makes l the current connection and starts the auth handshake when a
// credential is available.
func (c *Channel) attach(gen uint64, l *link) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	c.cur = l

	auth := AuthUnauthenticated
	if c.creds != nil {
		if cred, ok := c.creds.Credential(); ok {
			if b, err := v1.Encode(v1.Auth{Token: cred}); err == nil && l.enqueue(b) {
				auth = AuthPending
				c.metrics.ObserveMessage("out", v1.TypeAuth)
			}
		}
	}
	st, changed := c.setStateLocked(StateOpen, auth)
	c.mu.Unlock()

	if changed {
		c.notify(st)
	}
	c.log.Info("ws.open", "conn_id", l.id, "auth", auth.String())
	return true
}

// detach runs when l dies: the cache is purged and auth resets.
func (c *Channel) detach(gen uint64, l *link) {
	c.mu.Lock()
	if gen != c.gen || c.cur != l {
		c.mu.Unlock()
		return
	}
	c.cur = nil
	c.cache.clear()
	st, changed := c.setStateLocked(StateClosed, AuthUnauthenticated)
	c.mu.Unlock()

	c.metrics.SetPresenceEntries(0)
	if changed {
		c.notify(st)
	}
}

func (c *Channel) setAuth(gen uint64, l *link, auth AuthState) {
	c.mu.Lock()
	if gen != c.gen || c.cur != l {
		c.mu.Unlock()
		return
	}
	st, changed := c.setStateLocked(c.state.Conn, auth)
	c.mu.Unlock()

	if changed {
		c.notify(st)
	}
}

func (c *Channel) exhausted(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.active = false
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	st, changed := c.setStateLocked(StateClosed, AuthUnauthenticated)
	cb := c.opts.OnReconnectFailed
	c.mu.Unlock()

	if changed {
		c.notify(st)
	}
	c.log.Warn("ws.reconnect.exhausted", "retries", c.opts.ReconnectRetries)
	if cb != nil {
		cb(ErrReconnectExhausted)
	}
}
