package authapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// NewHTTPClient builds the client shared by the Gateway and the Refresher.
//
// The cookie jar carries the refresh session cookie set by sign-in and read by
// the refresh endpoint.
func NewHTTPClient(cfg Config) (*http.Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Jar:     jar,
		Timeout: cfg.HTTPTimeout,
	}, nil
}

// transport performs one HTTP exchange with the API and returns the raw answer.
type transport struct {
	baseURL   string
	hc        *http.Client
	userAgent string
	maxBytes  int64
	now       func() time.Time
}

func newTransport(cfg Config, hc *http.Client) (*transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if hc == nil {
		var err error
		if hc, err = NewHTTPClient(cfg); err != nil {
			return nil, err
		}
	}
	return &transport{
		baseURL:   strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		hc:        hc,
		userAgent: cfg.UserAgent,
		maxBytes:  cfg.MaxResponseBytes,
		now:       time.Now,
	}, nil
}

// exchange sends one request. A non-nil error means no usable response was
// received; any HTTP status, including errors, is returned with a nil error.
func (t *transport) exchange(ctx context.Context, method, endpoint string, body []byte, credential string) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+endpoint, rd)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	if id := newRequestID(t.now().UTC()); id != "" {
		req.Header.Set(requestIDHeader, id)
	}
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	resp, err := t.hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, raw, nil
}
