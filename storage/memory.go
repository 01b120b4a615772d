package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ruteri/artifact-resolver/catalog"
	"github.com/ruteri/artifact-resolver/interfaces"
)

// MemoryAlias is the default alias of the in-memory resolver.
const MemoryAlias = "in-memory"

// DefaultPlaceholderSize is recorded for artifacts committed without content.
const DefaultPlaceholderSize = 10000

// MemoryResolver is a non-durable resolver for tests and benchmarks. Only
// existence and size are kept, in the tracker; reads synthesize filler bytes
// of the recorded size. Metadata descriptors are accepted and dropped.
type MemoryResolver struct {
	alias           string
	catalog         interfaces.StorageCatalog
	tracker         interfaces.ResourceStateTracker
	placeholderSize int64
	log             *slog.Logger

	initOnce sync.Once
}

// NewMemoryResolver creates an in-memory resolver. placeholderSize is
// recorded when a writer is committed with no bytes written.
func NewMemoryResolver(alias string, c interfaces.StorageCatalog, tracker interfaces.ResourceStateTracker, placeholderSize int64, log *slog.Logger) *MemoryResolver {
	if placeholderSize <= 0 {
		placeholderSize = DefaultPlaceholderSize
	}
	return &MemoryResolver{
		alias:           alias,
		catalog:         c,
		tracker:         tracker,
		placeholderSize: placeholderSize,
		log:             log,
	}
}

// Alias returns the resolver alias.
func (r *MemoryResolver) Alias() string {
	return r.alias
}

// Tracker exposes the resolver's bookkeeping.
func (r *MemoryResolver) Tracker() interfaces.ResourceStateTracker {
	return r.tracker
}

// GetInputStream returns filler bytes of the recorded size.
func (r *MemoryResolver) GetInputStream(ctx context.Context, repositoryID, path string) (io.ReadCloser, error) {
	t, err := resolveTarget(r.catalog, repositoryID, path)
	if err != nil {
		return nil, err
	}
	if t.metadata {
		return nil, interfaces.ErrArtifactNotFound
	}

	c, err := t.coordinate()
	if err != nil {
		return nil, err
	}

	rec, ok, err := r.tracker.Get(ctx, repositoryID, c)
	if err != nil {
		return nil, interfaces.NewIOError("read", repositoryID, path, err)
	}
	if !ok || rec.State != interfaces.StateExists {
		return nil, interfaces.ErrArtifactNotFound
	}

	return newFillerReader(rec.SizeBytes), nil
}

// GetOutputStream returns a writer that records the artifact on Commit.
func (r *MemoryResolver) GetOutputStream(ctx context.Context, repositoryID, path string) (interfaces.ArtifactWriter, error) {
	t, err := resolveTarget(r.catalog, repositoryID, path)
	if err != nil {
		return nil, err
	}
	if t.metadata {
		return &countingWriter{commit: func(int64) error { return nil }}, nil
	}

	c, err := t.coordinate()
	if err != nil {
		return nil, err
	}

	return &countingWriter{commit: func(n int64) error {
		if n == 0 {
			n = r.placeholderSize
		}
		err := r.tracker.Upsert(ctx, interfaces.ResourceRecord{
			RepositoryID: repositoryID,
			Coordinate:   c,
			SizeBytes:    n,
			State:        interfaces.StateExists,
		})
		if err != nil {
			return interfaces.NewIOError("commit", repositoryID, path, err)
		}
		r.log.Debug("recorded in-memory artifact",
			slog.String("repository", repositoryID),
			slog.String("coordinate", c.String()),
			slog.Int64("size", n))
		return nil
	}}, nil
}

// Delete marks the artifact, or every artifact of a version directory, as
// deleted. Metadata paths are a no-op since they are never recorded.
func (r *MemoryResolver) Delete(ctx context.Context, repositoryID, path string, force bool) error {
	t, err := resolveTarget(r.catalog, repositoryID, path)
	if err != nil {
		return err
	}
	if t.metadata {
		return nil
	}

	m, err := t.matcher(true)
	if err != nil {
		return err
	}

	n, err := r.tracker.Remove(ctx, repositoryID, m)
	if err != nil {
		return interfaces.NewIOError("delete", repositoryID, path, err)
	}
	if n == 0 && !force {
		return interfaces.ErrArtifactNotFound
	}

	r.log.Debug("removed in-memory artifacts",
		slog.String("repository", repositoryID),
		slog.String("match", m.String()),
		slog.Int("count", n))
	return nil
}

// DeleteTrash has nothing to do; the resolver keeps no trash.
func (r *MemoryResolver) DeleteTrash(ctx context.Context, repositoryID string) error {
	if _, _, err := catalog.Locate(r.catalog, repositoryID); err != nil {
		return err
	}
	r.log.Debug("in-memory resolver has no trash", slog.String("repository", repositoryID))
	return nil
}

// DeleteAllTrash has nothing to do; the resolver keeps no trash.
func (r *MemoryResolver) DeleteAllTrash(ctx context.Context) error {
	r.log.Debug("in-memory resolver has no trash")
	return nil
}

// Initialize logs the resolver configuration once.
func (r *MemoryResolver) Initialize(ctx context.Context) error {
	r.initOnce.Do(func() {
		r.log.Info("initialized in-memory resolver",
			slog.String("alias", r.alias),
			slog.Int64("placeholderSize", r.placeholderSize))
	})
	return nil
}

// Close releases the tracker if it holds connections.
func (r *MemoryResolver) Close() error {
	return closeTracker(r.tracker)
}

func closeTracker(t interfaces.ResourceStateTracker) error {
	if c, ok := t.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("failed to close tracker: %w", err)
		}
	}
	return nil
}
