package authapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"chatline/cmd/internal/auth/session"
)

const refreshEndpoint = "/users/refresh"

// Refresher exchanges the refresh cookie for a new access credential.
// It never sends a bearer header and never retries.
type Refresher struct {
	log *slog.Logger
	t   *transport
}

var _ session.Refresher = (*Refresher)(nil)

// NewRefresher builds a Refresher. Pass the same hc as the Gateway so both share the cookie jar.
func NewRefresher(log *slog.Logger, cfg Config, hc *http.Client) (*Refresher, error) {
	if log == nil {
		log = slog.Default()
	}
	t, err := newTransport(cfg, hc)
	if err != nil {
		return nil, err
	}
	return &Refresher{log: log, t: t}, nil
}

// Refresh implements session.Refresher.
func (r *Refresher) Refresh(ctx context.Context) (string, error) {
	status, raw, err := r.t.exchange(ctx, http.MethodPost, refreshEndpoint, nil, "")
	if err != nil {
		return "", fmt.Errorf("authapi: refresh: %w", err)
	}
	if status < 200 || status >= 300 {
		r.log.Debug("gateway.refresh.status", "status", status)
		return "", session.RefreshStatusError{Status: status}
	}

	var rr RefreshResponse
	if err := json.Unmarshal(raw, &rr); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", session.ErrRefreshFailed, err)
	}
	if strings.TrimSpace(rr.AccessToken) == "" {
		return "", fmt.Errorf("%w: response without accessToken", session.ErrRefreshFailed)
	}
	return rr.AccessToken, nil
}
