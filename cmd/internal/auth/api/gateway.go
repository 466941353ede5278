package authapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"chatline/cmd/internal/auth/session"
	"chatline/cmd/internal/metrics"
)

// Renewer is the part of session.Manager the gateway relies on.
type Renewer interface {
	RenewOutcome(ctx context.Context) session.RenewResult
	Clear(ctx context.Context) error
}

// Result is the outcome of Send. Err is nil on success, and Data then holds
// the JSON body (empty for a body-less answer). Status is 0 when no response
// was received.
type Result struct {
	Status int
	Data   json.RawMessage
	Err    error
}

// Response is the typed outcome of Do.
type Response[T any] struct {
	Data   *T
	Err    error
	Status int
}

// RequestOption tunes a single call.
type RequestOption func(*requestOptions)

type requestOptions struct {
	skipAuth bool
}

// SkipAuth omits the bearer credential and disables renew-and-retry.
func SkipAuth() RequestOption {
	return func(o *requestOptions) {
		o.skipAuth = true
	}
}

// Gateway performs authenticated JSON calls against the API.
//
// Every call attaches the current credential unless SkipAuth is given. A 401
// on an authenticated call triggers one renewal and at most one retry.
type Gateway struct {
	log     *slog.Logger
	t       *transport
	sess    *session.Session
	renewer Renewer
	locale  string
	metrics *metrics.Metrics
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithGatewayMetrics records every call on m.
func WithGatewayMetrics(m *metrics.Metrics) GatewayOption {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// NewGateway wires a Gateway. hc may be nil; a fresh client with a cookie jar is built then.
// renewer may be nil, in which case 401s are returned without a retry.
func NewGateway(log *slog.Logger, cfg Config, hc *http.Client, sess *session.Session, renewer Renewer, opts ...GatewayOption) (*Gateway, error) {
	if log == nil {
		log = slog.Default()
	}
	if sess == nil {
		return nil, errors.New("authapi: nil session")
	}
	t, err := newTransport(cfg, hc)
	if err != nil {
		return nil, err
	}
	g := &Gateway{
		log:     log,
		t:       t,
		sess:    sess,
		renewer: renewer,
		locale:  cfg.Locale,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

// Send performs one call. body is JSON-encoded when non-nil. Send never panics
// and never returns a nil Result; failures are reported in Result.Err.
func (g *Gateway) Send(ctx context.Context, method, endpoint string, body any, opts ...RequestOption) Result {
	var o requestOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	payload, err := encodeBody(body)
	if err != nil {
		g.metrics.ObserveRequest(method, KindApplication.String())
		return Result{Err: &Error{Kind: KindApplication, Message: localize(g.locale, msgFallback), cause: err}}
	}

	credential := g.credential(o)
	status, raw, err := g.t.exchange(ctx, method, endpoint, payload, credential)
	if err != nil {
		return g.networkFailure(method, endpoint, err)
	}

	if status == http.StatusUnauthorized && !o.skipAuth && g.renewer != nil {
		renewed := g.renewer.RenewOutcome(ctx)
		switch {
		case renewed.OK:
			g.log.Debug("gateway.retry", "method", method, "endpoint", endpoint)
			status, raw, err = g.t.exchange(ctx, method, endpoint, payload, g.credential(o))
			if err != nil {
				return g.networkFailure(method, endpoint, err)
			}
		case renewed.Hard:
			g.log.Info("gateway.session.expired", "method", method, "endpoint", endpoint)
			_ = g.renewer.Clear(ctx)
		}
	}

	return g.result(method, endpoint, status, raw)
}

// Do is Send with the success body decoded into T.
func Do[T any](ctx context.Context, g *Gateway, method, endpoint string, body any, opts ...RequestOption) Response[T] {
	r := g.Send(ctx, method, endpoint, body, opts...)
	if r.Err != nil {
		return Response[T]{Err: r.Err, Status: r.Status}
	}

	var out T
	if len(r.Data) == 0 {
		return Response[T]{Data: &out, Status: r.Status}
	}
	if err := json.Unmarshal(r.Data, &out); err != nil {
		return Response[T]{
			Err:    &Error{Kind: KindApplication, Status: r.Status, Message: localize(g.locale, msgFallback), cause: err},
			Status: r.Status,
		}
	}
	return Response[T]{Data: &out, Status: r.Status}
}

func (g *Gateway) credential(o requestOptions) string {
	if o.skipAuth {
		return ""
	}
	c, _ := g.sess.Credential()
	return c
}

func (g *Gateway) networkFailure(method, endpoint string, err error) Result {
	g.metrics.ObserveRequest(method, KindNetwork.String())
	g.log.Info("gateway.request.fail", "method", method, "endpoint", endpoint, "err", err)
	return Result{Err: &Error{Kind: KindNetwork, Message: localize(g.locale, msgNetwork), cause: err}}
}

func (g *Gateway) result(method, endpoint string, status int, raw []byte) Result {
	if status >= 200 && status < 300 {
		if isEmptyBody(raw) {
			g.metrics.ObserveRequest(method, "ok")
			return Result{Status: status}
		}
		if !json.Valid(raw) {
			g.metrics.ObserveRequest(method, KindApplication.String())
			g.log.Info("gateway.response.invalid", "method", method, "endpoint", endpoint, "status", status)
			return Result{Status: status, Err: &Error{Kind: KindApplication, Status: status, Message: localize(g.locale, msgFallback)}}
		}
		g.metrics.ObserveRequest(method, "ok")
		g.log.Debug("gateway.request", "method", method, "endpoint", endpoint, "status", status)
		return Result{Status: status, Data: json.RawMessage(raw)}
	}

	kind := KindApplication
	if status == http.StatusUnauthorized {
		kind = KindUnauthorized
	}
	msg, ok := errorMessage(raw)
	if !ok {
		msg = localize(g.locale, msgFallback)
	}

	g.metrics.ObserveRequest(method, kind.String())
	g.log.Debug("gateway.request", "method", method, "endpoint", endpoint, "status", status, "kind", kind.String())
	return Result{Status: status, Err: &Error{Kind: kind, Status: status, Message: msg}}
}
