// Package idempotency replays the stored response of a checkout that a terminal retries with the
// same Idempotency-Key.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"
)

// DefaultTTL is how long a completed entry is replayed.
const DefaultTTL = 24 * time.Hour

// State is the lifecycle state of an entry.
type State string

const (
	StatePending   State = "pending"
	StateCompleted State = "completed"
)

// Outcome is the result of claiming a key.
type Outcome int

const (
	// OutcomeClaimed means the caller owns the key and must run the request.
	OutcomeClaimed Outcome = iota
	// OutcomeReplay means a completed response exists for the key.
	OutcomeReplay
	// OutcomeInFlight means another request holds the key.
	OutcomeInFlight
)

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reused with a different request")

// Entry is the stored state of one scoped key.
type Entry struct {
	Scope       string
	Key         string
	Fingerprint string
	State       State
	Status      int
	Header      map[string][]string
	Body        []byte
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Response is the handler output captured for replay.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Store persists idempotency entries. Scope isolates keys per terminal.
type Store interface {
	Claim(ctx context.Context, scope, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Entry, error)
	Complete(ctx context.Context, scope, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, scope, key string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

func entryID(scope, key string) string {
	sum := sha256.Sum256([]byte(scope + "\x00" + key))
	return hex.EncodeToString(sum[:])
}

func pendingEntry(scope, key, fingerprint string, now time.Time, ttl time.Duration) Entry {
	return Entry{
		Scope:       scope,
		Key:         key,
		Fingerprint: fingerprint,
		State:       StatePending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

// classify decides the outcome for an existing, unexpired entry.
func classify(existing Entry, fingerprint string) (Outcome, error) {
	if existing.Fingerprint != fingerprint {
		return 0, ErrFingerprintMismatch
	}
	if existing.State == StateCompleted {
		return OutcomeReplay, nil
	}
	return OutcomeInFlight, nil
}

var hopHeaders = map[string]struct{}{
	"Connection":        {},
	"Content-Length":    {},
	"Date":              {},
	"Keep-Alive":        {},
	"Transfer-Encoding": {},
	"Upgrade":           {},
}

func storableHeader(h http.Header) map[string][]string {
	out := make(map[string][]string, len(h))
	for name, values := range h {
		name = http.CanonicalHeaderKey(name)
		if _, skip := hopHeaders[name]; skip {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
