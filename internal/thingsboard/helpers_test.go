package thingsboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/tbdash/internal/credstore"
)

// fakeBackend is a minimal ThingsBoard stand-in. Requests to protected
// routes succeed only with a bearer token in valid.
type fakeBackend struct {
	t   *testing.T
	srv *httptest.Server
	mux *http.ServeMux

	mu    sync.Mutex
	valid map[string]bool

	refreshCalls atomic.Int32
	refreshDelay time.Duration
	refreshFail  bool
	nextPair     credstore.Pair
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{
		t:        t,
		mux:      http.NewServeMux(),
		valid:    map[string]bool{},
		nextPair: credstore.Pair{Access: "fresh-access", Refresh: "fresh-refresh"},
	}
	fb.mux.HandleFunc("POST /api/auth/refresh", fb.handleRefresh)
	fb.srv = httptest.NewServer(fb.mux)
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBackend) allow(token string) {
	fb.mu.Lock()
	fb.valid[token] = true
	fb.mu.Unlock()
}

func (fb *fakeBackend) authorized(r *http.Request) bool {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	h := r.Header.Get("Authorization")
	return len(h) > 7 && fb.valid[h[7:]]
}

// protect wraps h so it answers 401 unless the bearer token is valid.
func (fb *fakeBackend) protect(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !fb.authorized(r) {
			writeTestJSON(w, http.StatusUnauthorized, map[string]any{
				"status": 401, "message": "Token has expired", "errorCode": 11,
			})
			return
		}
		h(w, r)
	}
}

func (fb *fakeBackend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	fb.refreshCalls.Add(1)
	if fb.refreshDelay > 0 {
		time.Sleep(fb.refreshDelay)
	}

	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RefreshToken == "" {
		writeTestJSON(w, http.StatusBadRequest, map[string]string{"message": "missing refresh token"})
		return
	}
	if fb.refreshFail {
		writeTestJSON(w, http.StatusUnauthorized, map[string]string{"message": "Refresh token expired"})
		return
	}
	fb.allow(fb.nextPair.Access)
	writeTestJSON(w, http.StatusOK, map[string]string{
		"token":        fb.nextPair.Access,
		"refreshToken": fb.nextPair.Refresh,
	})
}

func (fb *fakeBackend) url() string { return fb.srv.URL + "/api" }

func writeTestJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // test server
}

// newTestClient returns a client against fb seeded with pair (if complete).
func newTestClient(t *testing.T, fb *fakeBackend, pair credstore.Pair) (*Client, credstore.Store) {
	t.Helper()
	store := credstore.NewMemoryStore()
	if pair.Complete() {
		if err := store.Save(context.Background(), pair); err != nil {
			t.Fatalf("seeding store: %v", err)
		}
	}
	c, err := New(Options{BaseURL: fb.url(), Timeout: 2 * time.Second}, store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := c.Restore(context.Background()); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	return c, store
}

// devicesHandler serves a fixed device list.
func devicesHandler(devices ...Device) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]any{"data": devices, "hasNext": false})
	}
}

// failingStore fails every operation.
type failingStore struct{}

var errStoreDown = errors.New("store down")

func (failingStore) Save(context.Context, credstore.Pair) error { return errStoreDown }
func (failingStore) Load(context.Context) (credstore.Pair, error) {
	return credstore.Pair{}, credstore.ErrNotFound
}
func (failingStore) Clear(context.Context) error { return errStoreDown }
