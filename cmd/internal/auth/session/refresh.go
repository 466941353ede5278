package session

import "context"

// Refresher exchanges the refresh session (held out of band, e.g. in a cookie)
// for a new credential.
//
// Implementations return an error wrapping ErrRefreshRejected when the server
// answered 401, and ErrRefreshFailed (or a transport error) otherwise.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// Identity is the minimal view of the authenticated user the manager needs.
type Identity struct {
	UserID int64
}

// IdentityFetcher resolves the identity behind the current credential.
type IdentityFetcher interface {
	FetchIdentity(ctx context.Context) (Identity, error)
}

// RenewResult is the outcome of one renewal.
//
// Hard is set when the refresh endpoint itself rejected the request; the
// refresh session is gone and retrying cannot succeed.
type RenewResult struct {
	OK   bool
	Hard bool
	Err  error
}
