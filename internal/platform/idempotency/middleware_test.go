package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tillpoint/api/internal/platform/requestctx"
)

var fixedTime = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedTime }

func checkoutRequest(t *testing.T, key, body, terminal string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	if terminal != "" {
		ctx := requestctx.WithTerminal(req.Context(), requestctx.Terminal{ID: terminal, StoreID: "store-1"})
		req = req.WithContext(ctx)
	}
	return req
}

func TestMiddleware_MissingHeader(t *testing.T) {
	called := false
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, checkoutRequest(t, "", `{}`, "t-1"))

	if called {
		t.Fatal("handler should not run without a key")
	}
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_key_required")
}

func TestMiddleware_ReplaysCompletedResponse(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"01HX"}`))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, checkoutRequest(t, "abc", `{"items":[]}`, "t-1"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, checkoutRequest(t, "abc", `{"items":[]}`, "t-1"))

	if calls != 1 {
		t.Fatalf("expected a single handler call, got %d", calls)
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Fatalf("replay mismatch: %d %q vs %q", second.Code, second.Body.String(), first.Body.String())
	}
	if second.Header().Get(ReplayHeader) != "true" {
		t.Fatal("expected replay header")
	}
	if second.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected stored content type, got %q", second.Header().Get("Content-Type"))
	}
}

func TestMiddleware_KeysAreScopedPerTerminal(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), checkoutRequest(t, "shared", `{}`, "t-1"))
	handler.ServeHTTP(httptest.NewRecorder(), checkoutRequest(t, "shared", `{}`, "t-2"))

	if calls != 2 {
		t.Fatalf("expected each terminal to run its own request, got %d calls", calls)
	}
}

func TestMiddleware_FingerprintConflict(t *testing.T) {
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), checkoutRequest(t, "k", `{"discount":1}`, "t-1"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, checkoutRequest(t, "k", `{"discount":2}`, "t-1"))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddleware_InFlightKey(t *testing.T) {
	store := NewMemoryStore()
	req := checkoutRequest(t, "pending", `{}`, "t-1")
	if _, _, err := store.Claim(context.Background(), "store-1/t-1", "pending", fingerprintOf(req, []byte(`{}`)), fixedTime, time.Hour); err != nil {
		t.Fatalf("seed claim: %v", err)
	}

	handler := Middleware(store, WithClock(fixedClock))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run while the key is in flight")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_in_progress")
}

func TestMiddleware_ServerErrorReleasesKey(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, checkoutRequest(t, "retry", `{}`, "t-1"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, checkoutRequest(t, "retry", `{}`, "t-1"))

	if first.Code != http.StatusServiceUnavailable || second.Code != http.StatusCreated || calls != 2 {
		t.Fatalf("expected retry after server error, got %d then %d (%d calls)", first.Code, second.Code, calls)
	}
}

func TestMiddleware_PanicReleasesKey(t *testing.T) {
	calls := 0
	inner := Middleware(NewMemoryStore(), WithClock(fixedClock))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			panic("checkout crashed")
		}
		w.WriteHeader(http.StatusCreated)
	}))
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recover() != nil {
				w.WriteHeader(http.StatusInternalServerError)
			}
		}()
		inner.ServeHTTP(w, r)
	})

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, checkoutRequest(t, "k1", `{}`, "t-1"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, checkoutRequest(t, "k1", `{}`, "t-1"))

	if first.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 from the recovered panic, got %d", first.Code)
	}
	if second.Code != http.StatusCreated || calls != 2 {
		t.Fatalf("expected retry to reach the handler, got %d (%d calls) body=%s", second.Code, calls, second.Body.String())
	}
}

func TestMiddleware_CompleteFailureReleasesKey(t *testing.T) {
	store := &stubStore{completeErr: errors.New("write failed")}
	handler := Middleware(store, WithClock(fixedClock))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, checkoutRequest(t, "k", `{}`, "t-1"))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_store_error")
	if !store.released {
		t.Fatal("expected the key to be released")
	}
}

func TestMemoryStore_CleanupExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_, _, _ = store.Claim(ctx, "s", "old", "f", fixedTime, time.Minute)
	_, _, _ = store.Claim(ctx, "s", "new", "f", fixedTime, time.Hour)

	removed, err := store.CleanupExpired(ctx, fixedTime.Add(10*time.Minute), 0)
	if err != nil || removed != 1 {
		t.Fatalf("expected one removal, got %d (%v)", removed, err)
	}
	outcome, _, err := store.Claim(ctx, "s", "new", "f", fixedTime.Add(10*time.Minute), time.Hour)
	if err != nil || outcome != OutcomeInFlight {
		t.Fatalf("expected unexpired key to survive, got %v (%v)", outcome, err)
	}
}

type stubStore struct {
	completeErr error
	released    bool
}

func (s *stubStore) Claim(context.Context, string, string, string, time.Time, time.Duration) (Outcome, Entry, error) {
	return OutcomeClaimed, Entry{}, nil
}

func (s *stubStore) Complete(context.Context, string, string, string, Response, time.Time, time.Duration) error {
	return s.completeErr
}

func (s *stubStore) Release(context.Context, string, string) error {
	s.released = true
	return nil
}

func (s *stubStore) CleanupExpired(context.Context, time.Time, int) (int, error) { return 0, nil }

func assertErrorCode(t *testing.T, payload []byte, expected string) {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if body.Error != expected {
		t.Fatalf("expected error code %s, got %s", expected, body.Error)
	}
}
