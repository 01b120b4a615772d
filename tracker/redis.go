package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ruteri/artifact-resolver/interfaces"
)

// maxTxRetries bounds optimistic retries of Remove under contention.
const maxTxRetries = 64

// ErrTxConflict is returned when Remove keeps losing the optimistic lock.
var ErrTxConflict = errors.New("tracker transaction kept conflicting")

// RedisTracker stores records in Redis so several service instances share
// the same bookkeeping. Each repository is one hash at <prefix>:<repository>
// whose fields are coordinate strings and values JSON records. The set
// <prefix>:repositories indexes the hashes for Records.
type RedisTracker struct {
	client redis.UniversalClient
	prefix string
	log    *slog.Logger
	now    func() time.Time
}

// NewRedisTracker wraps an existing client. prefix namespaces every key.
func NewRedisTracker(client redis.UniversalClient, prefix string, log *slog.Logger) *RedisTracker {
	return &RedisTracker{
		client: client,
		prefix: prefix,
		log:    log,
		now:    time.Now,
	}
}

// Close closes the underlying client.
func (t *RedisTracker) Close() error {
	return t.client.Close()
}

func (t *RedisTracker) repositoryKey(repositoryID string) string {
	return t.prefix + ":" + repositoryID
}

func (t *RedisTracker) indexKey() string {
	return t.prefix + ":repositories"
}

// Upsert writes the record and indexes its repository in one transaction.
func (t *RedisTracker) Upsert(ctx context.Context, record interfaces.ResourceRecord) error {
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = t.now().UTC()
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	_, err = t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, t.repositoryKey(record.RepositoryID), record.Coordinate.String(), data)
		pipe.SAdd(ctx, t.indexKey(), record.RepositoryID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert record %s: %w", record.Coordinate, err)
	}
	return nil
}

// Remove marks matching existing records as deleted. The repository hash is
// WATCHed so a concurrent Upsert aborts and retries the transaction.
func (t *RedisTracker) Remove(ctx context.Context, repositoryID string, m interfaces.CoordinateMatcher) (int, error) {
	key := t.repositoryKey(repositoryID)
	removed := 0

	txf := func(tx *redis.Tx) error {
		removed = 0
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}

		now := t.now().UTC()
		updates := make(map[string]interface{})
		for field, raw := range fields {
			var rec interfaces.ResourceRecord
			if err := json.Unmarshal([]byte(raw), &rec); err != nil {
				return fmt.Errorf("failed to decode record %s: %w", field, err)
			}
			if rec.State != interfaces.StateExists || !m.Matches(rec.Coordinate) {
				continue
			}
			rec.State = interfaces.StateDeleted
			rec.UpdatedAt = now
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("failed to encode record %s: %w", field, err)
			}
			updates[field] = data
		}

		if len(updates) == 0 {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, updates)
			return nil
		})
		if err == nil {
			removed = len(updates)
		}
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := t.client.Watch(ctx, txf, key)
		if err == nil {
			return removed, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return 0, fmt.Errorf("failed to remove %s from %s: %w", m, repositoryID, err)
		}
		t.log.Debug("tracker transaction conflicted, retrying",
			slog.String("repository", repositoryID),
			slog.Int("attempt", attempt+1))
	}
	return 0, fmt.Errorf("%w: removing %s from %s", ErrTxConflict, m, repositoryID)
}

// Exists reports whether the coordinate has a record in StateExists.
func (t *RedisTracker) Exists(ctx context.Context, repositoryID string, c interfaces.ArtifactCoordinate) (bool, error) {
	rec, ok, err := t.Get(ctx, repositoryID, c)
	if err != nil || !ok {
		return false, err
	}
	return rec.State == interfaces.StateExists, nil
}

// Get returns the record in whatever state it is.
func (t *RedisTracker) Get(ctx context.Context, repositoryID string, c interfaces.ArtifactCoordinate) (interfaces.ResourceRecord, bool, error) {
	raw, err := t.client.HGet(ctx, t.repositoryKey(repositoryID), c.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return interfaces.ResourceRecord{}, false, nil
	}
	if err != nil {
		return interfaces.ResourceRecord{}, false, fmt.Errorf("failed to read record %s: %w", c, err)
	}

	var rec interfaces.ResourceRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return interfaces.ResourceRecord{}, false, fmt.Errorf("failed to decode record %s: %w", c, err)
	}
	return rec, true, nil
}

// Records returns every record ordered by repository and coordinate.
func (t *RedisTracker) Records(ctx context.Context) ([]interfaces.ResourceRecord, error) {
	repositories, err := t.client.SMembers(ctx, t.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}

	var out []interfaces.ResourceRecord
	for _, repositoryID := range repositories {
		fields, err := t.client.HGetAll(ctx, t.repositoryKey(repositoryID)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list records of %s: %w", repositoryID, err)
		}
		for field, raw := range fields {
			var rec interfaces.ResourceRecord
			if err := json.Unmarshal([]byte(raw), &rec); err != nil {
				return nil, fmt.Errorf("failed to decode record %s: %w", field, err)
			}
			out = append(out, rec)
		}
	}

	sortRecords(out)
	return out, nil
}

// Open returns the tracker described by rawURL. An empty URL or memory://
// selects a MemoryTracker; redis:// and rediss:// URLs connect to Redis and
// namespace keys with prefix.
func Open(ctx context.Context, rawURL, prefix string, log *slog.Logger) (interfaces.ResourceStateTracker, error) {
	if rawURL == "" || rawURL == "memory://" {
		return NewMemoryTracker(), nil
	}

	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse tracker URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to tracker at %s: %w", opts.Addr, err)
	}

	log.Info("using redis resource tracker", slog.String("addr", opts.Addr), slog.String("prefix", prefix))
	return NewRedisTracker(client, prefix, log), nil
}

var _ interfaces.ResourceStateTracker = (*RedisTracker)(nil)
var _ interfaces.ResourceStateTracker = (*MemoryTracker)(nil)
