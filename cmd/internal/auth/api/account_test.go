package authapi

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
)

type fakePresence struct {
	mu          sync.Mutex
	connects    int
	disconnects int
}

func (f *fakePresence) Connect(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
}

func (f *fakePresence) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

func (f *fakePresence) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.disconnects
}

func accountMux(logoutCalls *atomic.Int32) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /users/sign-in", func(w http.ResponseWriter, r *http.Request) {
		var req signInRequest
		_ = decodeTestBody(r, &req)
		if req.Password != "secret" {
			writeTestJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid username or password"})
			return
		}
		writeTestJSON(w, http.StatusOK, map[string]any{
			"user":        map[string]any{"id": 11, "username": req.Username, "status": "online"},
			"accessToken": "tok-11",
			"message":     "ok",
		})
	})
	mux.HandleFunc("POST /users/sign-up", func(w http.ResponseWriter, r *http.Request) {
		var req signUpRequest
		_ = decodeTestBody(r, &req)
		writeTestJSON(w, http.StatusCreated, map[string]any{
			"user":        map[string]any{"id": 12, "username": req.Username, "display_name": req.DisplayName},
			"accessToken": "tok-12",
		})
	})
	mux.HandleFunc("POST /users/logout", func(w http.ResponseWriter, r *http.Request) {
		logoutCalls.Add(1)
		if r.Header.Get("Authorization") != "" {
			writeTestJSON(w, http.StatusBadRequest, map[string]string{"error": "unexpected bearer"})
			return
		}
		writeTestJSON(w, http.StatusOK, map[string]string{"message": "bye"})
	})
	mux.HandleFunc("GET /users/me", func(w http.ResponseWriter, r *http.Request) {
		if bearer(r) != "tok-11" {
			writeTestJSON(w, http.StatusUnauthorized, map[string]string{"error": "expired"})
			return
		}
		writeTestJSON(w, http.StatusOK, map[string]any{"id": 11, "username": "alice"})
	})
	mux.HandleFunc("POST /users/refresh", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusUnauthorized, map[string]string{"error": "no session"})
	})
	return mux
}

func TestAccount_SignInAndLogout(t *testing.T) {
	t.Parallel()

	var logoutCalls atomic.Int32
	st := newTestStack(t, accountMux(&logoutCalls))
	pres := &fakePresence{}
	acc := NewAccount(discardLogger(), st.gw, st.mgr, pres)
	ctx := context.Background()

	if acc.SignIn(ctx, "alice", "wrong") {
		t.Fatalf("expected sign-in failure")
	}
	if acc.LastError() != "Invalid username or password" {
		t.Fatalf("last error=%q", acc.LastError())
	}
	if acc.IsAuthenticated() || acc.IsLoading() {
		t.Fatalf("unexpected state after failure")
	}

	if !acc.SignIn(ctx, "alice", "secret") {
		t.Fatalf("sign-in failed: %s", acc.LastError())
	}
	if acc.LastError() != "" || !acc.IsAuthenticated() {
		t.Fatalf("expected authenticated account")
	}
	u, ok := acc.User()
	if !ok || u.ID != 11 || u.Username != "alice" {
		t.Fatalf("user=%+v ok=%v", u, ok)
	}
	if id, _ := st.sess.UserID(); id != 11 {
		t.Fatalf("session user id=%d", id)
	}
	if v, _ := st.store.Load(ctx); v != "tok-11" {
		t.Fatalf("persisted=%q", v)
	}
	if c, _ := pres.counts(); c != 1 {
		t.Fatalf("presence connects=%d want=1", c)
	}

	acc.Logout(ctx)
	if _, d := pres.counts(); d != 1 {
		t.Fatalf("presence disconnects=%d want=1", d)
	}
	if logoutCalls.Load() != 1 {
		t.Fatalf("logout calls=%d", logoutCalls.Load())
	}
	if acc.IsAuthenticated() || st.sess.HasCredential() {
		t.Fatalf("expected signed out")
	}
	if _, ok := acc.User(); ok {
		t.Fatalf("expected user cleared")
	}
}

func TestAccount_SignUpWithDisplayName(t *testing.T) {
	t.Parallel()

	var logoutCalls atomic.Int32
	st := newTestStack(t, accountMux(&logoutCalls))
	acc := NewAccount(discardLogger(), st.gw, st.mgr, nil)

	if !acc.SignUp(context.Background(), "carol", "pw", "Carol C") {
		t.Fatalf("sign-up failed: %s", acc.LastError())
	}
	u, _ := acc.User()
	if u.Name() != "Carol C" || u.ID != 12 {
		t.Fatalf("user=%+v", u)
	}
}

func TestAccount_Initialize(t *testing.T) {
	t.Parallel()

	t.Run("valid stored credential", func(t *testing.T) {
		t.Parallel()

		var logoutCalls atomic.Int32
		st := newTestStack(t, accountMux(&logoutCalls))
		_ = st.store.Save(context.Background(), "tok-11")
		pres := &fakePresence{}
		acc := NewAccount(discardLogger(), st.gw, st.mgr, pres)

		if !acc.Initialize(context.Background()) {
			t.Fatalf("expected restore")
		}
		if !acc.IsAuthenticated() {
			t.Fatalf("expected authenticated")
		}
		if c, _ := pres.counts(); c != 1 {
			t.Fatalf("presence connects=%d want=1", c)
		}
	})

	t.Run("expired credential and refresh rejected", func(t *testing.T) {
		t.Parallel()

		var logoutCalls atomic.Int32
		st := newTestStack(t, accountMux(&logoutCalls))
		_ = st.store.Save(context.Background(), "tok-old")
		pres := &fakePresence{}
		acc := NewAccount(discardLogger(), st.gw, st.mgr, pres)

		if acc.Initialize(context.Background()) {
			t.Fatalf("expected restore failure")
		}
		if acc.IsAuthenticated() || st.sess.HasCredential() {
			t.Fatalf("expected cleared session")
		}
		if c, _ := pres.counts(); c != 0 {
			t.Fatalf("presence connects=%d want=0", c)
		}
	})

	t.Run("nothing stored", func(t *testing.T) {
		t.Parallel()

		var logoutCalls atomic.Int32
		st := newTestStack(t, accountMux(&logoutCalls))
		acc := NewAccount(discardLogger(), st.gw, st.mgr, nil)
		if acc.Initialize(context.Background()) {
			t.Fatalf("expected false with empty store")
		}
	})
}
