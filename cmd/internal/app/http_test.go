package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"chatline/cmd/internal/realtime"
)

type stubPresence struct {
	authed bool
	cache  *realtime.Cache
}

func (s stubPresence) IsAuthenticated() bool { return s.authed }

func (s stubPresence) State() realtime.State {
	if s.authed {
		return realtime.State{Conn: realtime.StateOpen, Auth: realtime.AuthAuthenticated}
	}
	return realtime.State{}
}

func (s stubPresence) Cache() *realtime.Cache { return s.cache }

func newStatusMux(authed bool) *http.ServeMux {
	mux := http.NewServeMux()
	registerHTTP(mux, discardLogger(), stubPresence{authed: authed, cache: realtime.NewCache()}, nil, prometheus.NewRegistry())
	return mux
}

func TestStatusSurface_Probes(t *testing.T) {
	t.Parallel()

	down := newStatusMux(false)
	if rr := get(t, down, "/healthz"); rr.Code != http.StatusOK {
		t.Fatalf("healthz=%d", rr.Code)
	}
	rr := get(t, down, "/readyz")
	if rr.Code != http.StatusServiceUnavailable || !strings.Contains(rr.Body.String(), "closed/unauthenticated") {
		t.Fatalf("readyz=%d body=%q", rr.Code, rr.Body)
	}

	if rr := get(t, newStatusMux(true), "/readyz"); rr.Code != http.StatusOK {
		t.Fatalf("readyz authed=%d", rr.Code)
	}
}

func TestStatusSurface_Presence(t *testing.T) {
	t.Parallel()

	mux := newStatusMux(true)

	cases := []struct {
		target string
		want   int
	}{
		{target: "/presence?user_id=abc", want: http.StatusBadRequest},
		{target: "/presence?user_id=-3", want: http.StatusBadRequest},
		{target: "/presence?user_id=42", want: http.StatusNotFound},
		{target: "/presence", want: http.StatusOK},
	}
	for _, tc := range cases {
		rr := get(t, mux, tc.target)
		if rr.Code != tc.want {
			t.Fatalf("GET %s=%d want=%d", tc.target, rr.Code, tc.want)
		}
		if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
			t.Fatalf("GET %s content-type=%q", tc.target, ct)
		}
	}

	var unknown presenceJSON
	rr := get(t, mux, "/presence?user_id=42")
	if err := json.Unmarshal(rr.Body.Bytes(), &unknown); err != nil || unknown.Describe != "no data" {
		t.Fatalf("unknown=%+v err=%v", unknown, err)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/presence", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /presence=%d", rec.Code)
	}
}
