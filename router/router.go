// Package router dispatches artifact requests to the location resolver
// bound to the owning repository.
package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ruteri/artifact-resolver/catalog"
	"github.com/ruteri/artifact-resolver/interfaces"
	"github.com/ruteri/artifact-resolver/layout"
	"github.com/ruteri/artifact-resolver/metrics"
	"golang.org/x/sync/errgroup"
)

// ErrNotTracked is returned by Records for resolvers that keep no bookkeeping.
var ErrNotTracked = errors.New("resolver keeps no resource records")

// Resolvers looks up registered resolvers by alias.
type Resolvers interface {
	Lookup(alias string) (interfaces.LocationResolver, error)
	Resolvers() []interfaces.LocationResolver
}

// Router resolves repositories against the catalog and delegates to the
// resolver each repository declares.
type Router struct {
	log       *slog.Logger
	catalog   interfaces.StorageCatalog
	resolvers Resolvers
	metrics   *metrics.ResolverMetrics
}

// New creates a router. m may be nil.
//
// Parameters:
//   - log: Structured logger
//   - c: Catalog supplying storages and repositories
//   - resolvers: Sealed resolver registry
//   - m: Resolver metrics, nil disables recording
func New(log *slog.Logger, c interfaces.StorageCatalog, resolvers Resolvers, m *metrics.ResolverMetrics) *Router {
	return &Router{
		log:       log,
		catalog:   c,
		resolvers: resolvers,
		metrics:   m,
	}
}

// Resolve returns the storage and repository for repositoryID.
func (r *Router) Resolve(repositoryID string) (*interfaces.Storage, *interfaces.Repository, error) {
	storage, repo, err := catalog.Locate(r.catalog, repositoryID)
	if err != nil {
		r.log.Debug("repository not found in any storage", slog.String("repository", repositoryID))
		return nil, nil, err
	}
	r.log.Debug("resolved repository",
		slog.String("repository", repositoryID),
		slog.String("storage", storage.ID),
		slog.String("resolver", repo.ResolverAlias))
	return storage, repo, nil
}

// GetInputStream opens a committed artifact.
func (r *Router) GetInputStream(ctx context.Context, repositoryID, path string) (io.ReadCloser, error) {
	resolver, err := r.route(repositoryID, path, false)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rc, err := resolver.GetInputStream(ctx, repositoryID, path)
	r.observe(resolver.Alias(), "get", err, start)
	if err != nil {
		return nil, err
	}
	return &countingReader{ReadCloser: rc, alias: resolver.Alias(), metrics: r.metrics}, nil
}

// GetOutputStream opens a writer for the artifact. The caller must Close it.
func (r *Router) GetOutputStream(ctx context.Context, repositoryID, path string) (interfaces.ArtifactWriter, error) {
	resolver, err := r.route(repositoryID, path, false)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	w, err := resolver.GetOutputStream(ctx, repositoryID, path)
	r.observe(resolver.Alias(), "put", err, start)
	if err != nil {
		return nil, err
	}
	return &countingWriter{ArtifactWriter: w, alias: resolver.Alias(), metrics: r.metrics}, nil
}

// Delete removes an artifact or a version directory.
func (r *Router) Delete(ctx context.Context, repositoryID, path string, force bool) error {
	resolver, err := r.route(repositoryID, path, true)
	if err != nil {
		return err
	}

	start := time.Now()
	err = resolver.Delete(ctx, repositoryID, path, force)
	r.observe(resolver.Alias(), "delete", err, start)
	return err
}

// DeleteTrash empties the trash of one repository.
func (r *Router) DeleteTrash(ctx context.Context, repositoryID string) error {
	_, repo, err := r.Resolve(repositoryID)
	if err != nil {
		return err
	}
	resolver, err := r.resolvers.Lookup(repo.ResolverAlias)
	if err != nil {
		return err
	}

	start := time.Now()
	err = resolver.DeleteTrash(ctx, repositoryID)
	r.observe(resolver.Alias(), "delete_trash", err, start)
	if err == nil {
		r.log.Debug("emptied repository trash", slog.String("repository", repositoryID))
	}
	return err
}

// DeleteAllTrash empties the trash of every registered resolver concurrently.
// Failures of individual resolvers are joined; the others still run.
func (r *Router) DeleteAllTrash(ctx context.Context) error {
	resolvers := r.resolvers.Resolvers()
	errs := make([]error, len(resolvers))

	var g errgroup.Group
	for i, resolver := range resolvers {
		g.Go(func() error {
			start := time.Now()
			err := resolver.DeleteAllTrash(ctx)
			r.observe(resolver.Alias(), "delete_all_trash", err, start)
			if err != nil {
				r.log.Error("failed to empty trash", slog.String("resolver", resolver.Alias()), "err", err)
				errs[i] = fmt.Errorf("%s: %w", resolver.Alias(), err)
				return errs[i]
			}
			return nil
		})
	}

	// Without a derived context a failure does not cancel the other
	// resolvers, so every error is collected before joining.
	if err := g.Wait(); err != nil {
		return errors.Join(errs...)
	}
	r.log.Debug("emptied trash of all resolvers", slog.Int("resolvers", len(resolvers)))
	return nil
}

// Records returns the bookkeeping of the resolver registered under alias.
func (r *Router) Records(ctx context.Context, alias string) ([]interfaces.ResourceRecord, error) {
	resolver, err := r.resolvers.Lookup(alias)
	if err != nil {
		return nil, err
	}
	tracked, ok := resolver.(interfaces.TrackedResolver)
	if !ok || tracked.Tracker() == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotTracked, alias)
	}
	return tracked.Tracker().Records(ctx)
}

// route resolves the repository, checks the path against its layout and
// returns the bound resolver. Metadata paths are not parsed.
func (r *Router) route(repositoryID, path string, allowDirectory bool) (interfaces.LocationResolver, error) {
	_, repo, err := r.Resolve(repositoryID)
	if err != nil {
		return nil, err
	}

	l, err := layout.ForRepository(repo)
	if err != nil {
		return nil, err
	}
	if err := validatePath(l, path, allowDirectory); err != nil {
		r.observe(repo.ResolverAlias, "validate", err, time.Now())
		return nil, err
	}

	return r.resolvers.Lookup(repo.ResolverAlias)
}

func validatePath(l layout.Layout, path string, allowDirectory bool) error {
	if l.IsMetadataPath(path) {
		return nil
	}
	_, err := l.Parse(path)
	if err == nil || !allowDirectory {
		return err
	}
	if _, dirErr := l.ParseDirectory(path); dirErr == nil {
		return nil
	}
	return err
}

func (r *Router) observe(alias, operation string, err error, start time.Time) {
	r.metrics.Observe(alias, operation, outcome(err), time.Since(start))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, interfaces.ErrArtifactNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, interfaces.ErrMalformedPath):
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeError
	}
}

type countingReader struct {
	io.ReadCloser
	alias   string
	metrics *metrics.ResolverMetrics
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.ReadCloser.Read(p)
	c.metrics.AddBytes(c.alias, "out", int64(n))
	return n, err
}

type countingWriter struct {
	interfaces.ArtifactWriter
	alias   string
	metrics *metrics.ResolverMetrics
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.ArtifactWriter.Write(p)
	c.metrics.AddBytes(c.alias, "in", int64(n))
	return n, err
}
