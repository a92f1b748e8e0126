package display

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	snapshotKeyPrefix  = "display:snapshot:"
	defaultSnapshotTTL = 12 * time.Hour
	maxWatchRetries    = 3
)

// ErrSnapshotNotFound is returned when a terminal has no stored event.
var ErrSnapshotNotFound = errors.New("display: snapshot not found")

// SnapshotStore keeps the latest event per terminal in Redis. Older or duplicate sequences are
// ignored so redelivered messages never roll a screen back.
type SnapshotStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshotStore wraps client. A non-positive ttl uses the default.
func NewSnapshotStore(client *redis.Client, ttl time.Duration) *SnapshotStore {
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	return &SnapshotStore{client: client, ttl: ttl}
}

func snapshotKey(terminalID string) string { return snapshotKeyPrefix + terminalID }

// Publish stores event when it supersedes the current snapshot.
func (s *SnapshotStore) Publish(ctx context.Context, event Event) error {
	_, err := s.Save(ctx, event)
	return err
}

// Save reports whether event replaced the stored snapshot.
func (s *SnapshotStore) Save(ctx context.Context, event Event) (bool, error) {
	if err := event.Validate(); err != nil {
		return false, err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return false, fmt.Errorf("display: marshal snapshot: %w", err)
	}
	key := snapshotKey(event.TerminalID)

	stored := false
	apply := func(tx *redis.Tx) error {
		current, err := readSnapshot(ctx, tx, key)
		switch {
		case errors.Is(err, ErrSnapshotNotFound):
		case err != nil:
			return err
		case !event.Supersedes(current):
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		stored = err == nil
		return err
	}

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err = s.client.Watch(ctx, apply, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return false, fmt.Errorf("display: save snapshot: %w", err)
	}
	return stored, nil
}

// Latest returns the stored snapshot for terminalID.
func (s *SnapshotStore) Latest(ctx context.Context, terminalID string) (Event, error) {
	return readSnapshot(ctx, s.client, snapshotKey(terminalID))
}

// Ping checks the Redis connection.
func (s *SnapshotStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readSnapshot(ctx context.Context, client getter, key string) (Event, error) {
	data, err := client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Event{}, ErrSnapshotNotFound
	}
	if err != nil {
		return Event{}, fmt.Errorf("display: read snapshot: %w", err)
	}
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return Event{}, fmt.Errorf("display: decode snapshot: %w", err)
	}
	return event, nil
}
