package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	shell "github.com/ipfs/go-ipfs-api"

	"github.com/ruteri/artifact-resolver/catalog"
	"github.com/ruteri/artifact-resolver/interfaces"
)

// IPFSAlias is the default alias of the IPFS resolver.
const IPFSAlias = "ipfs"

// IPFSShell is the subset of the IPFS HTTP API the resolver uses.
// *shell.Shell implements it.
type IPFSShell interface {
	Add(r io.Reader, options ...shell.AddOpts) (string, error)
	Cat(path string) (io.ReadCloser, error)
	Unpin(path string) error
	IsUp() bool
}

// IPFSResolver stores artifact content in IPFS. Content addressing gives no
// way to list or look up by path, so the tracker is the source of truth: a
// commit adds the content and records its CID as the locator. Deleted content
// is unpinned once no existing record refers to it. Metadata descriptors are
// not stored and there is no trash.
type IPFSResolver struct {
	alias    string
	shell    IPFSShell
	catalog  interfaces.StorageCatalog
	tracker  interfaces.ResourceStateTracker
	spoolDir string
	log      *slog.Logger

	// mu serializes deletes against commits so no record can start
	// referring to a CID between the reference check and the unpin.
	mu sync.Mutex

	initOnce sync.Once
	initErr  error
}

// NewIPFSResolver creates an IPFS resolver.
func NewIPFSResolver(alias string, sh IPFSShell, c interfaces.StorageCatalog, tracker interfaces.ResourceStateTracker, log *slog.Logger) *IPFSResolver {
	return &IPFSResolver{
		alias:   alias,
		shell:   sh,
		catalog: c,
		tracker: tracker,
		log:     log,
	}
}

// NewIPFSShell connects to an IPFS API endpoint such as "localhost:5001".
func NewIPFSShell(apiAddr string, timeout time.Duration) *shell.Shell {
	sh := shell.NewShell(apiAddr)
	sh.SetTimeout(timeout)
	return sh
}

// Alias returns the resolver alias.
func (r *IPFSResolver) Alias() string {
	return r.alias
}

// Tracker exposes the resolver's bookkeeping.
func (r *IPFSResolver) Tracker() interfaces.ResourceStateTracker {
	return r.tracker
}

// GetInputStream cats the content recorded for the artifact.
func (r *IPFSResolver) GetInputStream(ctx context.Context, repositoryID, path string) (io.ReadCloser, error) {
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

	start := time.Now()
	rc, err := r.shell.Cat("/ipfs/" + rec.Locator)
	if err != nil {
		r.log.Error("Failed to fetch data from IPFS",
			slog.String("cid", rec.Locator),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, interfaces.NewIOError("read", repositoryID, path, err)
	}

	r.log.Debug("Fetched content from IPFS",
		slog.String("cid", rec.Locator),
		slog.String("coordinate", c.String()))
	return rc, nil
}

// GetOutputStream spools the upload and adds it to IPFS on Commit.
func (r *IPFSResolver) GetOutputStream(ctx context.Context, repositoryID, path string) (interfaces.ArtifactWriter, error) {
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

	w, err := newSpoolWriter(r.spoolDir, "ipfs-upload-*", func(f *os.File, size int64) error {
		r.mu.Lock()
		defer r.mu.Unlock()

		cid, err := r.shell.Add(f, shell.Pin(true))
		if err != nil {
			return interfaces.NewIOError("commit", repositoryID, path, fmt.Errorf("failed to add data to IPFS: %w", err))
		}
		if err := r.tracker.Upsert(ctx, interfaces.ResourceRecord{
			RepositoryID: repositoryID,
			Coordinate:   c,
			SizeBytes:    size,
			State:        interfaces.StateExists,
			Locator:      cid,
		}); err != nil {
			return interfaces.NewIOError("commit", repositoryID, path, err)
		}
		r.log.Debug("Stored content in IPFS",
			slog.String("cid", cid),
			slog.String("coordinate", c.String()),
			slog.Int64("size", size))
		return nil
	})
	if err != nil {
		return nil, interfaces.NewIOError("write", repositoryID, path, err)
	}
	return w, nil
}

// Delete marks matching records deleted and unpins content no longer
// referenced by an existing record.
func (r *IPFSResolver) Delete(ctx context.Context, repositoryID, path string, force bool) error {
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

	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.tracker.Records(ctx)
	if err != nil {
		return interfaces.NewIOError("delete", repositoryID, path, err)
	}

	candidates := make(map[string]bool)
	for _, rec := range records {
		if rec.RepositoryID == repositoryID && rec.State == interfaces.StateExists && m.Matches(rec.Coordinate) {
			candidates[rec.Locator] = true
		}
	}

	n, err := r.tracker.Remove(ctx, repositoryID, m)
	if err != nil {
		return interfaces.NewIOError("delete", repositoryID, path, err)
	}
	if n == 0 {
		if force {
			return nil
		}
		return interfaces.ErrArtifactNotFound
	}

	for _, rec := range records {
		if rec.State != interfaces.StateExists || !candidates[rec.Locator] {
			continue
		}
		if rec.RepositoryID == repositoryID && m.Matches(rec.Coordinate) {
			continue
		}
		// Still referenced by another artifact.
		delete(candidates, rec.Locator)
	}

	for cid := range candidates {
		if cid == "" {
			continue
		}
		if err := r.shell.Unpin("/ipfs/" + cid); err != nil && !strings.Contains(err.Error(), "not pinned") {
			r.log.Warn("Failed to unpin IPFS content", slog.String("cid", cid), "err", err)
		}
	}

	r.log.Debug("Deleted IPFS artifacts",
		slog.String("repository", repositoryID),
		slog.String("match", m.String()),
		slog.Int("count", n),
		slog.Int("unpinned", len(candidates)))
	return nil
}

// DeleteTrash is a no-op; deleted content is unpinned immediately.
func (r *IPFSResolver) DeleteTrash(ctx context.Context, repositoryID string) error {
	_, _, err := catalog.Locate(r.catalog, repositoryID)
	return err
}

// DeleteAllTrash is a no-op.
func (r *IPFSResolver) DeleteAllTrash(ctx context.Context) error {
	return nil
}

// Initialize checks that the IPFS node answers.
func (r *IPFSResolver) Initialize(ctx context.Context) error {
	r.initOnce.Do(func() {
		if !r.shell.IsUp() {
			r.initErr = fmt.Errorf("IPFS node for resolver %s is unavailable", r.alias)
			return
		}
		r.log.Info("initialized IPFS resolver", slog.String("alias", r.alias))
	})
	return r.initErr
}

// Close releases the tracker if it holds connections.
func (r *IPFSResolver) Close() error {
	return closeTracker(r.tracker)
}
