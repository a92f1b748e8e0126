package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tillpoint/api/internal/platform/httpx"
	"github.com/tillpoint/api/internal/platform/requestctx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	// ReplayHeader marks a response served from the store.
	ReplayHeader = "X-Idempotent-Replay"

	maxBodyBytes = 1 << 20
)

type options struct {
	header string
	ttl    time.Duration
	clock  func() time.Time
}

// Option customises the middleware.
type Option func(*options)

// WithHeader overrides the header carrying the key.
func WithHeader(name string) Option {
	return func(o *options) {
		if name = strings.TrimSpace(name); name != "" {
			o.header = name
		}
	}
}

// WithTTL sets how long completed responses are replayed.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// Middleware requires an idempotency key on the wrapped route and replays the first completed
// response for a terminal's key. Keys are scoped by the terminal found in the request context.
func Middleware(store Store, opts ...Option) func(http.Handler) http.Handler {
	cfg := options{header: defaultHeaderName, ttl: DefaultTTL, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			logger := requestctx.Logger(ctx)

			key := strings.TrimSpace(r.Header.Get(cfg.header))
			if key == "" {
				reject(w, r, http.StatusBadRequest, "idempotency_key_required", "missing "+cfg.header+" header")
				return
			}

			body, err := bufferBody(r)
			if err != nil {
				reject(w, r, http.StatusRequestEntityTooLarge, "idempotency_body_unreadable", "request body could not be buffered")
				return
			}

			scope := terminalScope(r)
			fingerprint := fingerprintOf(r, body)

			outcome, entry, err := store.Claim(ctx, scope, key, fingerprint, cfg.clock().UTC(), cfg.ttl)
			switch {
			case errors.Is(err, ErrFingerprintMismatch):
				reject(w, r, http.StatusConflict, "idempotency_key_conflict", "idempotency key already used for a different request")
				return
			case err != nil:
				logger.Error("idempotency claim failed", zap.Error(err))
				reject(w, r, http.StatusServiceUnavailable, "idempotency_store_error", "unable to process idempotency key")
				return
			}

			switch outcome {
			case OutcomeReplay:
				replay(w, entry)
				return
			case OutcomeInFlight:
				reject(w, r, http.StatusConflict, "idempotency_in_progress", "another request is processing this idempotency key")
				return
			}

			rec := &capture{header: make(http.Header)}
			serve(next, rec, r, func() {
				if err := store.Release(context.WithoutCancel(ctx), scope, key); err != nil {
					logger.Warn("idempotency release failed", zap.Error(err))
				}
			})

			// Server errors stay retryable.
			if rec.status() >= http.StatusInternalServerError {
				if err := store.Release(ctx, scope, key); err != nil {
					logger.Warn("idempotency release failed", zap.Error(err))
				}
				rec.flush(w)
				return
			}

			resp := Response{Status: rec.status(), Header: rec.header, Body: rec.body.Bytes()}
			if err := store.Complete(ctx, scope, key, fingerprint, resp, cfg.clock().UTC(), cfg.ttl); err != nil {
				logger.Error("idempotency complete failed", zap.Error(err), zap.String("idempotency_key", key))
				if err := store.Release(ctx, scope, key); err != nil {
					logger.Warn("idempotency release failed", zap.Error(err))
				}
				reject(w, r, http.StatusInternalServerError, "idempotency_store_error", "unable to persist idempotency state")
				return
			}
			rec.flush(w)
		})
	}
}

// serve runs next and calls release before re-raising a panic, so a crashed checkout stays
// retryable under the same key.
func serve(next http.Handler, w http.ResponseWriter, r *http.Request, release func()) {
	defer func() {
		if p := recover(); p != nil {
			release()
			panic(p)
		}
	}()
	next.ServeHTTP(w, r)
}

func terminalScope(r *http.Request) string {
	if terminal, ok := requestctx.TerminalFrom(r.Context()); ok {
		return terminal.StoreID + "/" + terminal.ID
	}
	return "anonymous"
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	if len(data) > maxBodyBytes {
		return nil, errors.New("idempotency: body too large")
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func fingerprintOf(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method + " " + r.URL.Path + "?" + r.URL.RawQuery + "\n"))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func reject(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, status))
}

func replay(w http.ResponseWriter, entry Entry) {
	for name, values := range entry.Header {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(ReplayHeader, "true")
	status := entry.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(entry.Body)
}

// capture buffers the handler response until the store has accepted it.
type capture struct {
	header http.Header
	code   int
	body   bytes.Buffer
}

func (c *capture) Header() http.Header { return c.header }

func (c *capture) WriteHeader(status int) {
	if c.code == 0 {
		c.code = status
	}
}

func (c *capture) Write(p []byte) (int, error) {
	if c.code == 0 {
		c.code = http.StatusOK
	}
	return c.body.Write(p)
}

func (c *capture) status() int {
	if c.code == 0 {
		return http.StatusOK
	}
	return c.code
}

func (c *capture) flush(w http.ResponseWriter) {
	for name, values := range c.header {
		w.Header()[name] = values
	}
	w.WriteHeader(c.status())
	_, _ = w.Write(c.body.Bytes())
}
