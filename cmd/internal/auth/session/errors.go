package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCredential is returned when no credential is held or persisted.
	ErrNoCredential = errors.New("no credential")

	// ErrRefreshRejected is returned by a Refresher when the refresh endpoint
	// answered 401: the server no longer recognizes the refresh session.
	ErrRefreshRejected = errors.New("refresh rejected")

	// ErrRefreshFailed is returned by a Refresher for any other non-success outcome.
	ErrRefreshFailed = errors.New("refresh failed")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// RefreshStatusError carries the HTTP status of a failed refresh.
type RefreshStatusError struct {
	Status int
}

func (e RefreshStatusError) Error() string {
	return fmt.Sprintf("%s: status %d", e.Unwrap().Error(), e.Status)
}

func (e RefreshStatusError) Unwrap() error {
	if e.Status == 401 {
		return ErrRefreshRejected
	}
	return ErrRefreshFailed
}
