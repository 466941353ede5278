package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeRefresher struct {
	calls   atomic.Int32
	release chan struct{}
	token   string
	err     error
}

func (f *fakeRefresher) Refresh(ctx context.Context) (string, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	return f.token, f.err
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	errs  []error
	id    Identity
}

func (f *fakeFetcher) FetchIdentity(ctx context.Context) (Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return Identity{}, f.errs[i]
	}
	return f.id, nil
}

func newTestManager(t *testing.T, store TokenStore, r Refresher) (*Manager, *Session) {
	t.Helper()
	sess := NewSession()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(log, sess, store, r), sess
}

func TestManager_Renew_SingleFlight(t *testing.T) {
	t.Parallel()

	r := &fakeRefresher{release: make(chan struct{}), token: "fresh"}
	store := NewMemoryStore()
	m, sess := newTestManager(t, store, r)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.Renew(context.Background())
		}(i)
	}

	// Let every caller reach the in-flight refresh before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(r.release)
	wg.Wait()

	if got := r.calls.Load(); got != 1 {
		t.Fatalf("refresh calls=%d want=1", got)
	}
	for i, ok := range results {
		if !ok {
			t.Fatalf("caller %d: expected success", i)
		}
	}
	if c, _ := sess.Credential(); c != "fresh" {
		t.Fatalf("credential=%q want=fresh", c)
	}
	if v, err := store.Load(context.Background()); err != nil || v != "fresh" {
		t.Fatalf("store=%q err=%v", v, err)
	}
}

func TestManager_Renew_FailureLeavesSessionUntouched(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		err      error
		wantHard bool
	}{
		{name: "rejected", err: RefreshStatusError{Status: 401}, wantHard: true},
		{name: "server error", err: RefreshStatusError{Status: 500}, wantHard: false},
		{name: "network", err: errors.New("dial tcp: refused"), wantHard: false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			m, sess := newTestManager(t, NewMemoryStore(), &fakeRefresher{err: tc.err})
			if err := m.Install(context.Background(), "old", 5); err != nil {
				t.Fatalf("Install: %v", err)
			}

			res := m.RenewOutcome(context.Background())
			if res.OK {
				t.Fatalf("expected failure")
			}
			if res.Hard != tc.wantHard {
				t.Fatalf("hard=%v want=%v", res.Hard, tc.wantHard)
			}
			if c, _ := sess.Credential(); c != "old" {
				t.Fatalf("credential=%q want=old", c)
			}
			if id, _ := sess.UserID(); id != 5 {
				t.Fatalf("user id=%d want=5", id)
			}
		})
	}
}

func TestManager_Renew_CallerCancelDoesNotFailOthers(t *testing.T) {
	t.Parallel()

	r := &fakeRefresher{release: make(chan struct{}), token: "fresh"}
	m, _ := newTestManager(t, NewMemoryStore(), r)

	ctx, cancel := context.WithCancel(context.Background())
	cancelled := make(chan RenewResult, 1)
	go func() { cancelled <- m.RenewOutcome(ctx) }()

	other := make(chan bool, 1)
	time.Sleep(20 * time.Millisecond)
	go func() { other <- m.Renew(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	cancel()
	if res := <-cancelled; !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("cancelled caller err=%v", res.Err)
	}

	close(r.release)
	if ok := <-other; !ok {
		t.Fatalf("expected surviving caller to succeed")
	}
}

func TestManager_InstallAndClear(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	m, sess := newTestManager(t, store, nil)
	ctx := context.Background()

	if err := m.Install(ctx, "  ", 1); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("blank credential err=%v", err)
	}
	if err := m.Install(ctx, "tok", 9); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if id, ok := sess.UserID(); !ok || id != 9 {
		t.Fatalf("user id=%d ok=%v", id, ok)
	}

	if err := m.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if sess.HasCredential() {
		t.Fatalf("expected empty session")
	}
	if _, ok := sess.UserID(); ok {
		t.Fatalf("expected user id cleared")
	}
	if _, err := store.Load(ctx); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("store err=%v want ErrNoCredential", err)
	}
}

func TestManager_Initialize(t *testing.T) {
	t.Parallel()

	errUnauthorized := errors.New("unauthorized")

	cases := []struct {
		name       string
		stored     string
		refresher  *fakeRefresher
		fetchErrs  []error
		want       bool
		wantCred   string
		wantStored bool
	}{
		{
			name:      "nothing stored",
			refresher: &fakeRefresher{token: "x"},
			want:      false,
		},
		{
			name:       "valid credential",
			stored:     "saved",
			refresher:  &fakeRefresher{token: "x"},
			want:       true,
			wantCred:   "saved",
			wantStored: true,
		},
		{
			name:       "renewed after identity failure",
			stored:     "stale",
			refresher:  &fakeRefresher{token: "fresh"},
			fetchErrs:  []error{errUnauthorized},
			want:       true,
			wantCred:   "fresh",
			wantStored: true,
		},
		{
			name:      "renewal fails",
			stored:    "stale",
			refresher: &fakeRefresher{err: RefreshStatusError{Status: 401}},
			fetchErrs: []error{errUnauthorized},
			want:      false,
		},
		{
			name:      "identity fails after renewal",
			stored:    "stale",
			refresher: &fakeRefresher{token: "fresh"},
			fetchErrs: []error{errUnauthorized, errUnauthorized},
			want:      false,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			store := NewMemoryStore()
			if tc.stored != "" {
				_ = store.Save(ctx, tc.stored)
			}
			m, sess := newTestManager(t, store, tc.refresher)
			f := &fakeFetcher{errs: tc.fetchErrs, id: Identity{UserID: 42}}

			if got := m.Initialize(ctx, f); got != tc.want {
				t.Fatalf("Initialize=%v want=%v", got, tc.want)
			}
			if !m.Initialized() {
				t.Fatalf("expected Initialized()")
			}

			cred, _ := sess.Credential()
			if cred != tc.wantCred {
				t.Fatalf("credential=%q want=%q", cred, tc.wantCred)
			}
			if tc.want {
				if id, _ := sess.UserID(); id != 42 {
					t.Fatalf("user id=%d want=42", id)
				}
			}
			_, err := store.Load(ctx)
			if (err == nil) != tc.wantStored {
				t.Fatalf("stored=%v want=%v", err == nil, tc.wantStored)
			}
		})
	}
}

type gatedFetcher struct {
	calls   atomic.Int32
	release chan struct{}
}

func (g *gatedFetcher) FetchIdentity(ctx context.Context) (Identity, error) {
	g.calls.Add(1)
	<-g.release
	return Identity{UserID: 3}, nil
}

func TestManager_Initialize_RunsOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := NewMemoryStore()
	_ = store.Save(ctx, "saved")
	m, _ := newTestManager(t, store, &fakeRefresher{token: "x"})
	f := &gatedFetcher{release: make(chan struct{})}

	const callers = 5
	var wg sync.WaitGroup
	results := make(chan bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- m.Initialize(ctx, f)
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(f.release)
	wg.Wait()
	close(results)

	for ok := range results {
		if !ok {
			t.Fatalf("expected every caller to see success")
		}
	}
	if got := f.calls.Load(); got != 1 {
		t.Fatalf("identity fetches=%d want=1", got)
	}

	// Later calls return the cached result without touching the fetcher.
	if !m.Initialize(ctx, f) || f.calls.Load() != 1 {
		t.Fatalf("expected cached result")
	}
}

func TestRefreshStatusError_Unwrap(t *testing.T) {
	t.Parallel()

	if !errors.Is(RefreshStatusError{Status: 401}, ErrRefreshRejected) {
		t.Fatalf("401 should unwrap to ErrRefreshRejected")
	}
	if !errors.Is(RefreshStatusError{Status: 503}, ErrRefreshFailed) {
		t.Fatalf("503 should unwrap to ErrRefreshFailed")
	}
}

func TestManager_Renew_DiscardedAfterClear(t *testing.T) {
	t.Parallel()

	r := &fakeRefresher{release: make(chan struct{}), token: "fresh"}
	store := NewMemoryStore()
	m, sess := newTestManager(t, store, r)
	ctx := context.Background()

	if err := m.Install(ctx, "old", 5); err != nil {
		t.Fatalf("Install: %v", err)
	}

	done := make(chan RenewResult, 1)
	go func() { done <- m.RenewOutcome(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for r.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("refresh never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := m.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	close(r.release)

	res := <-done
	if res.OK {
		t.Fatalf("renewal finishing after Clear must not succeed")
	}
	if !errors.Is(res.Err, ErrNoCredential) {
		t.Fatalf("err=%v want=ErrNoCredential", res.Err)
	}
	if c, ok := sess.Credential(); ok {
		t.Fatalf("session credential=%q after Clear", c)
	}
	if _, ok := sess.UserID(); ok {
		t.Fatalf("user id survived Clear")
	}
	if v, err := store.Load(ctx); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("store=%q err=%v want ErrNoCredential", v, err)
	}
}

func TestManager_Renew_DiscardedAfterNewSignIn(t *testing.T) {
	t.Parallel()

	r := &fakeRefresher{release: make(chan struct{}), token: "stale"}
	store := NewMemoryStore()
	m, sess := newTestManager(t, store, r)
	ctx := context.Background()

	done := make(chan bool, 1)
	go func() { done <- m.Renew(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for r.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("refresh never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := m.Install(ctx, "signed-in", 9); err != nil {
		t.Fatalf("Install: %v", err)
	}
	close(r.release)

	if <-done {
		t.Fatalf("stale renewal reported success")
	}
	if c, _ := sess.Credential(); c != "signed-in" {
		t.Fatalf("credential=%q want=signed-in", c)
	}
	if v, _ := store.Load(ctx); v != "signed-in" {
		t.Fatalf("store=%q want=signed-in", v)
	}
}

func TestManager_Renew_StaleRejectionIsNotHard(t *testing.T) {
	t.Parallel()

	r := &fakeRefresher{release: make(chan struct{}), err: RefreshStatusError{Status: 401}}
	m, sess := newTestManager(t, NewMemoryStore(), r)
	ctx := context.Background()

	done := make(chan RenewResult, 1)
	go func() { done <- m.RenewOutcome(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for r.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("refresh never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := m.Install(ctx, "signed-in", 9); err != nil {
		t.Fatalf("Install: %v", err)
	}
	close(r.release)

	res := <-done
	if res.OK || res.Hard {
		t.Fatalf("stale rejection must be neither ok nor hard: %+v", res)
	}
	if c, _ := sess.Credential(); c != "signed-in" {
		t.Fatalf("credential=%q want=signed-in", c)
	}
}
