// Package tracker holds ResourceStateTracker implementations: an in-process
// map for single instances and a Redis-backed variant for bookkeeping shared
// between instances.
package tracker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ruteri/artifact-resolver/interfaces"
)

type recordKey struct {
	repositoryID string
	coordinate   interfaces.ArtifactCoordinate
}

// MemoryTracker keeps records in a map guarded by a RWMutex. Records live as
// long as the process.
type MemoryTracker struct {
	mu      sync.RWMutex
	records map[recordKey]interfaces.ResourceRecord
	now     func() time.Time
}

// NewMemoryTracker creates an empty tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		records: make(map[recordKey]interfaces.ResourceRecord),
		now:     time.Now,
	}
}

// Upsert creates or replaces the record for its (repository, coordinate).
func (t *MemoryTracker) Upsert(_ context.Context, record interfaces.ResourceRecord) error {
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = t.now().UTC()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[recordKey{record.RepositoryID, record.Coordinate}] = record
	return nil
}

// Remove marks existing records matched by m as deleted.
func (t *MemoryTracker) Remove(_ context.Context, repositoryID string, m interfaces.CoordinateMatcher) (int, error) {
	now := t.now().UTC()

	t.mu.Lock()
	defer t.mu.Unlock()

	// Exact coordinates skip the scan.
	if c, ok := m.(interfaces.ArtifactCoordinate); ok {
		key := recordKey{repositoryID, c}
		rec, found := t.records[key]
		if !found || rec.State != interfaces.StateExists {
			return 0, nil
		}
		rec.State = interfaces.StateDeleted
		rec.UpdatedAt = now
		t.records[key] = rec
		return 1, nil
	}

	removed := 0
	for key, rec := range t.records {
		if key.repositoryID != repositoryID || rec.State != interfaces.StateExists || !m.Matches(key.coordinate) {
			continue
		}
		rec.State = interfaces.StateDeleted
		rec.UpdatedAt = now
		t.records[key] = rec
		removed++
	}
	return removed, nil
}

// Exists reports whether the coordinate has a record in StateExists.
func (t *MemoryTracker) Exists(ctx context.Context, repositoryID string, c interfaces.ArtifactCoordinate) (bool, error) {
	rec, ok, err := t.Get(ctx, repositoryID, c)
	if err != nil || !ok {
		return false, err
	}
	return rec.State == interfaces.StateExists, nil
}

// Get returns the record in whatever state it is.
func (t *MemoryTracker) Get(_ context.Context, repositoryID string, c interfaces.ArtifactCoordinate) (interfaces.ResourceRecord, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[recordKey{repositoryID, c}]
	return rec, ok, nil
}

// Records returns a copy of all records ordered by repository and coordinate.
func (t *MemoryTracker) Records(_ context.Context) ([]interfaces.ResourceRecord, error) {
	t.mu.RLock()
	out := make([]interfaces.ResourceRecord, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, rec)
	}
	t.mu.RUnlock()

	sortRecords(out)
	return out, nil
}

func sortRecords(records []interfaces.ResourceRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].RepositoryID != records[j].RepositoryID {
			return records[i].RepositoryID < records[j].RepositoryID
		}
		return records[i].Coordinate.String() < records[j].Coordinate.String()
	})
}
