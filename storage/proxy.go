package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/ruteri/artifact-resolver/interfaces"
)

// ProxyAlias is the default alias of the remote proxy resolver.
const ProxyAlias = "proxy"

// ProxyResolver serves repositories that mirror a remote repository. Reads
// are answered from a local file cache and fall through to
// Repository.RemoteURL on a miss; the fetched bytes are cached only once the
// upstream body has been read completely. Writes, deletes and trash act on
// the cache. Metadata descriptors are never cached because upstream keeps
// changing them.
type ProxyResolver struct {
	alias  string
	cache  *FileResolver
	client *retryablehttp.Client
	log    *slog.Logger
}

// NewProxyResolver creates a proxy resolver caching under cacheDir.
func NewProxyResolver(alias, cacheDir string, c interfaces.StorageCatalog, retries int, timeout time.Duration, log *slog.Logger) *ProxyResolver {
	client := retryablehttp.NewClient()
	client.RetryMax = retries
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = timeout
	client.Logger = log

	return &ProxyResolver{
		alias:  alias,
		cache:  NewFileResolver(alias, cacheDir, c, log),
		client: client,
		log:    log,
	}
}

// Alias returns the resolver alias.
func (r *ProxyResolver) Alias() string {
	return r.alias
}

// GetInputStream returns the cached artifact or streams it from upstream.
func (r *ProxyResolver) GetInputStream(ctx context.Context, repositoryID, path string) (io.ReadCloser, error) {
	t, err := resolveTarget(r.cache.catalog, repositoryID, path)
	if err != nil {
		return nil, err
	}

	if !t.metadata {
		rc, err := r.cache.GetInputStream(ctx, repositoryID, path)
		if err == nil {
			r.log.Debug("proxy cache hit", slog.String("repository", repositoryID), slog.String("path", t.path))
			return rc, nil
		}
		if !errors.Is(err, interfaces.ErrArtifactNotFound) {
			return nil, err
		}
	}

	if t.repository.RemoteURL == "" {
		return nil, interfaces.ErrArtifactNotFound
	}

	body, err := r.fetch(ctx, t.repository.RemoteURL, t.path)
	if err != nil {
		return nil, interfaces.NewIOError("fetch", repositoryID, path, err)
	}
	if t.metadata {
		return body, nil
	}

	w, err := r.cache.GetOutputStream(ctx, repositoryID, path)
	if err != nil {
		r.log.Warn("failed to open proxy cache entry, streaming uncached",
			slog.String("repository", repositoryID),
			slog.String("path", t.path),
			"err", err)
		return body, nil
	}
	return &cachingReader{body: body, cache: w, log: r.log, path: t.path}, nil
}

// fetch GETs remoteURL/path. Upstream 404 maps to ErrArtifactNotFound.
func (r *ProxyResolver) fetch(ctx context.Context, remoteURL, path string) (io.ReadCloser, error) {
	url := strings.TrimSuffix(remoteURL, "/") + "/" + path

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		r.log.Debug("fetched from upstream",
			slog.String("url", url),
			slog.Duration("duration", time.Since(start)))
		return resp.Body, nil
	case http.StatusNotFound, http.StatusGone:
		resp.Body.Close()
		return nil, interfaces.ErrArtifactNotFound
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("upstream %s returned %s", url, resp.Status)
	}
}

// GetOutputStream writes into the cache.
func (r *ProxyResolver) GetOutputStream(ctx context.Context, repositoryID, path string) (interfaces.ArtifactWriter, error) {
	return r.cache.GetOutputStream(ctx, repositoryID, path)
}

// Delete evicts from the cache.
func (r *ProxyResolver) Delete(ctx context.Context, repositoryID, path string, force bool) error {
	return r.cache.Delete(ctx, repositoryID, path, force)
}

// DeleteTrash empties the cache trash of one repository.
func (r *ProxyResolver) DeleteTrash(ctx context.Context, repositoryID string) error {
	return r.cache.DeleteTrash(ctx, repositoryID)
}

// DeleteAllTrash empties the cache trash of every bound repository.
func (r *ProxyResolver) DeleteAllTrash(ctx context.Context) error {
	return r.cache.DeleteAllTrash(ctx)
}

// Initialize prepares the cache directories.
func (r *ProxyResolver) Initialize(ctx context.Context) error {
	return r.cache.Initialize(ctx)
}

// cachingReader tees an upstream body into a cache writer and commits the
// cache entry when the body reaches EOF.
type cachingReader struct {
	body  io.ReadCloser
	cache interfaces.ArtifactWriter
	log   *slog.Logger
	path  string
}

func (c *cachingReader) Read(p []byte) (int, error) {
	n, err := c.body.Read(p)
	if n > 0 && c.cache != nil {
		if _, werr := c.cache.Write(p[:n]); werr != nil {
			c.log.Warn("failed to write proxy cache entry", slog.String("path", c.path), "err", werr)
			c.cache.Close()
			c.cache = nil
		}
	}
	if errors.Is(err, io.EOF) && c.cache != nil {
		if cerr := c.cache.Commit(); cerr != nil {
			c.log.Warn("failed to commit proxy cache entry", slog.String("path", c.path), "err", cerr)
		}
		c.cache = nil
	}
	return n, err
}

func (c *cachingReader) Close() error {
	if c.cache != nil {
		c.cache.Close()
		c.cache = nil
	}
	return c.body.Close()
}
