package authapi

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"chatline/cmd/internal/auth/session"
)

// PresenceConnector is the presence channel as seen by the account: it is
// connected after sign-in and disconnected before sign-out.
type PresenceConnector interface {
	Connect(ctx context.Context)
	Disconnect()
}

// Account ties the gateway, the session manager and the presence channel
// together into the sign-in / sign-up / logout / restore flows.
type Account struct {
	log      *slog.Logger
	gw       *Gateway
	mgr      *session.Manager
	presence PresenceConnector

	mu      sync.RWMutex
	user    *User
	loading bool
	lastErr string
}

var _ session.IdentityFetcher = (*Account)(nil)

// NewAccount wires an Account. presence may be nil.
func NewAccount(log *slog.Logger, gw *Gateway, mgr *session.Manager, presence PresenceConnector) *Account {
	if log == nil {
		log = slog.Default()
	}
	return &Account{log: log, gw: gw, mgr: mgr, presence: presence}
}

// SignIn authenticates with username and password.
// On failure LastError holds a user-facing message.
func (a *Account) SignIn(ctx context.Context, username, password string) bool {
	a.begin()
	return a.finishAuth(ctx, "sign_in", a.gw.SignIn(ctx, username, password))
}

// SignUp registers a new account and signs it in.
func (a *Account) SignUp(ctx context.Context, username, password, displayName string) bool {
	a.begin()
	return a.finishAuth(ctx, "sign_up", a.gw.SignUp(ctx, username, password, displayName))
}

func (a *Account) begin() {
	a.mu.Lock()
	a.loading = true
	a.lastErr = ""
	a.mu.Unlock()
}

func (a *Account) finishAuth(ctx context.Context, op string, resp Response[AuthResponse]) bool {
	if resp.Err != nil || resp.Data == nil || resp.Data.AccessToken == "" {
		msg := localize(a.gw.locale, msgFallback)
		var apiErr *Error
		if errors.As(resp.Err, &apiErr) {
			msg = apiErr.Message
		}
		a.log.Info("account."+op+".fail", "status", resp.Status, "err", resp.Err)

		a.mu.Lock()
		a.lastErr = msg
		a.loading = false
		a.mu.Unlock()
		return false
	}

	u := resp.Data.User
	if err := a.mgr.Install(ctx, resp.Data.AccessToken, u.ID); err != nil {
		a.log.Warn("account."+op+".persist_fail", "err", err)
	}

	a.mu.Lock()
	a.user = &u
	a.loading = false
	a.mu.Unlock()

	a.log.Info("account."+op+".ok", "user_id", u.ID)
	if a.presence != nil {
		a.presence.Connect(ctx)
	}
	return true
}

// Logout disconnects presence, ends the server session and forgets the credential.
func (a *Account) Logout(ctx context.Context) {
	if a.presence != nil {
		a.presence.Disconnect()
	}
	if resp := a.gw.Logout(ctx); resp.Err != nil {
		a.log.Info("account.logout.remote_fail", "err", resp.Err)
	}

	a.mu.Lock()
	a.user = nil
	a.mu.Unlock()

	_ = a.mgr.Clear(ctx)
	a.log.Info("account.logout")
}

// Initialize restores a persisted session once per process and connects
// presence when it is still valid.
func (a *Account) Initialize(ctx context.Context) bool {
	if !a.mgr.Initialize(ctx, a) {
		a.mu.Lock()
		a.user = nil
		a.mu.Unlock()
		return false
	}
	if a.presence != nil {
		a.presence.Connect(ctx)
	}
	return true
}

// FetchIdentity implements session.IdentityFetcher by loading the current user.
func (a *Account) FetchIdentity(ctx context.Context) (session.Identity, error) {
	resp := a.gw.CurrentUser(ctx)
	if resp.Err != nil {
		return session.Identity{}, resp.Err
	}
	if resp.Data == nil || resp.Data.ID == 0 {
		return session.Identity{}, errors.New("authapi: current user without id")
	}

	u := *resp.Data
	a.mu.Lock()
	a.user = &u
	a.mu.Unlock()
	return session.Identity{UserID: u.ID}, nil
}

// IsAuthenticated reports whether both a credential and a user are held.
func (a *Account) IsAuthenticated() bool {
	a.mu.RLock()
	hasUser := a.user != nil
	a.mu.RUnlock()
	return hasUser && a.mgr.Session().HasCredential()
}

// IsLoading reports whether a sign-in or sign-up is in progress.
func (a *Account) IsLoading() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.loading
}

// LastError returns the message of the last failed sign-in or sign-up.
func (a *Account) LastError() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastErr
}

// User returns the signed-in user.
func (a *Account) User() (User, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.user == nil {
		return User{}, false
	}
	return *a.user, true
}
