package app

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatline/cmd/internal/realtime"
)

// presenceView is the part of the channel the status surface reads.
type presenceView interface {
	IsAuthenticated() bool
	State() realtime.State
	Cache() *realtime.Cache
}

type presenceJSON struct {
	UserID   int64      `json:"user_id"`
	Status   string     `json:"status,omitempty"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
	Describe string     `json:"describe"`
}

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	presence presenceView,
	dbPool *pgxpool.Pool,
	gatherer prometheus.Gatherer,
) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !presence.IsAuthenticated() {
			http.Error(w, "presence not ready: "+presence.State().String(), http.StatusServiceUnavailable)
			return
		}
		if dbPool != nil {
			if err := PingDB(r.Context(), dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("/presence", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		cache := presence.Cache()

		raw := strings.TrimSpace(r.URL.Query().Get("user_id"))
		if raw == "" {
			snap := cache.Snapshot()
			out := make([]presenceJSON, 0, len(snap))
			for _, e := range snap {
				out = append(out, toPresenceJSON(cache, e))
			}
			writeJSON(w, http.StatusOK, out)
			return
		}

		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id must be a positive integer"})
			return
		}
		e, ok := cache.Get(id)
		if !ok {
			writeJSON(w, http.StatusNotFound, presenceJSON{UserID: id, Describe: cache.Describe(id)})
			return
		}
		writeJSON(w, http.StatusOK, toPresenceJSON(cache, e))
	})
}

func toPresenceJSON(cache *realtime.Cache, e realtime.Entry) presenceJSON {
	return presenceJSON{
		UserID:   e.UserID,
		Status:   string(e.Status),
		LastSeen: e.LastSeen,
		Describe: cache.Describe(e.UserID),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
