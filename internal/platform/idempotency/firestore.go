package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/tillpoint/api/internal/platform/firestore"
)

const defaultCollection = "idempotency_keys"

// FirestoreStore shares entries across API instances through Firestore transactions.
type FirestoreStore struct {
	provider   *pfirestore.Provider
	collection string
}

// NewFirestoreStore constructs a store writing to collection, or idempotency_keys when blank.
func NewFirestoreStore(provider *pfirestore.Provider, collection string) *FirestoreStore {
	if collection == "" {
		collection = defaultCollection
	}
	return &FirestoreStore{provider: provider, collection: collection}
}

type firestoreEntry struct {
	Scope       string              `firestore:"scope"`
	Key         string              `firestore:"key"`
	Fingerprint string              `firestore:"fingerprint"`
	State       string              `firestore:"state"`
	Status      int                 `firestore:"status"`
	Header      map[string][]string `firestore:"header"`
	Body        []byte              `firestore:"body"`
	CreatedAt   time.Time           `firestore:"createdAt"`
	ExpiresAt   time.Time           `firestore:"expiresAt"`
}

func toFirestoreEntry(e Entry) firestoreEntry {
	return firestoreEntry{
		Scope: e.Scope, Key: e.Key, Fingerprint: e.Fingerprint, State: string(e.State),
		Status: e.Status, Header: e.Header, Body: e.Body, CreatedAt: e.CreatedAt, ExpiresAt: e.ExpiresAt,
	}
}

func (f firestoreEntry) entry() Entry {
	return Entry{
		Scope: f.Scope, Key: f.Key, Fingerprint: f.Fingerprint, State: State(f.State),
		Status: f.Status, Header: f.Header, Body: f.Body, CreatedAt: f.CreatedAt, ExpiresAt: f.ExpiresAt,
	}
}

func (s *FirestoreStore) doc(ctx context.Context, scope, key string) (*firestore.DocumentRef, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(s.collection).Doc(entryID(scope, key)), nil
}

// load reads the entry inside tx. A missing document yields ok=false.
func load(tx *firestore.Transaction, ref *firestore.DocumentRef) (Entry, bool, error) {
	snap, err := tx.Get(ref)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(pfirestore.WrapError("idempotency.get", err), &repoErr) && repoErr.IsNotFound() {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	var stored firestoreEntry
	if err := snap.DataTo(&stored); err != nil {
		return Entry{}, false, err
	}
	return stored.entry(), true, nil
}

func (s *FirestoreStore) Claim(ctx context.Context, scope, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Entry, error) {
	ref, err := s.doc(ctx, scope, key)
	if err != nil {
		return 0, Entry{}, err
	}

	var (
		outcome Outcome
		result  Entry
	)
	err = s.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		existing, ok, err := load(tx, ref)
		if err != nil {
			return err
		}
		if ok && !existing.expired(now) {
			result = existing
			outcome, err = classify(existing, fingerprint)
			return err
		}
		result = pendingEntry(scope, key, fingerprint, now, ttl)
		outcome = OutcomeClaimed
		return tx.Set(ref, toFirestoreEntry(result))
	})
	if errors.Is(err, ErrFingerprintMismatch) {
		return 0, Entry{}, ErrFingerprintMismatch
	}
	return outcome, result, err
}

func (s *FirestoreStore) Complete(ctx context.Context, scope, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	ref, err := s.doc(ctx, scope, key)
	if err != nil {
		return err
	}
	err = s.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		entry, ok, err := load(tx, ref)
		if err != nil {
			return err
		}
		if ok && entry.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
		if !ok {
			entry = pendingEntry(scope, key, fingerprint, now, ttl)
		}
		entry.State = StateCompleted
		entry.Status = resp.Status
		entry.Header = storableHeader(resp.Header)
		entry.Body = append([]byte(nil), resp.Body...)
		entry.ExpiresAt = now.Add(ttl)
		return tx.Set(ref, toFirestoreEntry(entry))
	})
	if errors.Is(err, ErrFingerprintMismatch) {
		return ErrFingerprintMismatch
	}
	return err
}

func (s *FirestoreStore) Release(ctx context.Context, scope, key string) error {
	ref, err := s.doc(ctx, scope, key)
	if err != nil {
		return err
	}
	_, err = ref.Delete(ctx)
	return pfirestore.WrapError("idempotency.release", err)
}

func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	if limit <= 0 {
		limit = 100
	}
	docs, err := client.Collection(s.collection).Where("expiresAt", "<=", now).Limit(limit).Documents(ctx).GetAll()
	if err != nil {
		return 0, pfirestore.WrapError("idempotency.cleanup", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}
	writer := client.BulkWriter(ctx)
	for _, doc := range docs {
		if _, err := writer.Delete(doc.Ref); err != nil {
			writer.End()
			return 0, pfirestore.WrapError("idempotency.cleanup", err)
		}
	}
	writer.End()
	return len(docs), nil
}
