package interfaces

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// DefaultLayout is the layout used by repositories that do not declare one.
const DefaultLayout = "maven2"

// Repository is a named collection of artifacts within a storage, bound to
// one resolver alias.
type Repository struct {
	ID            string
	StorageID     string
	ResolverAlias string
	Layout        string

	// TrashEnabled makes deletes soft on backends that keep a trash.
	TrashEnabled bool

	// RemoteURL is the upstream base URL of a proxy repository.
	RemoteURL string
}

// LayoutName returns the repository layout, falling back to DefaultLayout.
func (r *Repository) LayoutName() string {
	if r.Layout == "" {
		return DefaultLayout
	}
	return r.Layout
}

// Storage is a named collection of repositories sharing a backing location.
type Storage struct {
	ID           string
	BaseLocation string
	Repositories map[string]*Repository
}

// ContainsRepository reports whether the storage holds the repository.
func (s *Storage) ContainsRepository(id string) bool {
	_, ok := s.Repositories[id]
	return ok
}

// StorageCatalog supplies the configured storages. Implementations hand out
// read-only snapshots; callers must not mutate what they receive.
type StorageCatalog interface {
	Storages() map[string]*Storage
}

// ArtifactWriter is the sink returned by GetOutputStream. Written bytes become
// visible only when Commit succeeds. Close releases the writer and discards
// anything not committed, so it is safe to defer on every path.
type ArtifactWriter interface {
	io.Writer

	// Commit makes the written bytes durable and observable.
	Commit() error

	// Close releases resources. After a successful Commit it is a no-op.
	Close() error
}

// LocationResolver routes artifact operations to one physical medium.
type LocationResolver interface {
	// Alias is the name repositories declare to select this resolver.
	Alias() string

	// GetInputStream opens a committed artifact. It returns ErrArtifactNotFound
	// when nothing was committed for the path. The caller closes the reader.
	GetInputStream(ctx context.Context, repositoryID, path string) (io.ReadCloser, error)

	// GetOutputStream opens a writer for the path.
	GetOutputStream(ctx context.Context, repositoryID, path string) (ArtifactWriter, error)

	// Delete removes the artifact or version directory at path. With force
	// unset, deleting something missing returns ErrArtifactNotFound.
	Delete(ctx context.Context, repositoryID, path string, force bool) error

	// DeleteTrash empties the trash of one repository.
	DeleteTrash(ctx context.Context, repositoryID string) error

	// DeleteAllTrash empties the trash of every repository using this resolver.
	DeleteAllTrash(ctx context.Context) error

	// Initialize prepares the resolver. Calling it again has no further effect.
	Initialize(ctx context.Context) error
}

// ResourceStateTracker keeps existence bookkeeping for backends with no
// authoritative way to query their medium. Implementations are safe for
// concurrent use.
type ResourceStateTracker interface {
	// Upsert creates or replaces the record for its (repository, coordinate).
	Upsert(ctx context.Context, record ResourceRecord) error

	// Remove marks every existing record matched by m as deleted and returns
	// how many changed.
	Remove(ctx context.Context, repositoryID string, m CoordinateMatcher) (int, error)

	// Exists reports whether the coordinate is currently present.
	Exists(ctx context.Context, repositoryID string, c ArtifactCoordinate) (bool, error)

	// Get returns the record for the coordinate, in any state.
	Get(ctx context.Context, repositoryID string, c ArtifactCoordinate) (ResourceRecord, bool, error)

	// Records returns a snapshot of every record for diagnostics.
	Records(ctx context.Context) ([]ResourceRecord, error)
}

// TrackedResolver is implemented by resolvers whose bookkeeping can be inspected.
type TrackedResolver interface {
	Tracker() ResourceStateTracker
}

var (
	// ErrArtifactNotFound is the negative result for reads and non-forced
	// deletes of artifacts that were never committed or have been deleted.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrRepositoryNotFound is returned when no storage contains the repository.
	ErrRepositoryNotFound = errors.New("repository not found")

	// ErrUnknownResolver is returned when a resolver alias was never registered.
	ErrUnknownResolver = errors.New("unknown resolver alias")

	// ErrUnknownLayout is returned for repository layouts with no parser.
	ErrUnknownLayout = errors.New("unknown repository layout")

	// ErrMalformedPath is wrapped by ParseError.
	ErrMalformedPath = errors.New("malformed artifact path")

	// ErrWriterClosed is returned when writing to or committing a writer that
	// was already committed or closed.
	ErrWriterClosed = errors.New("artifact writer already closed")

	// ErrInvalidLocationURI is returned when a resolver location URI is
	// malformed or uses an unsupported scheme.
	ErrInvalidLocationURI = errors.New("invalid resolver location URI")
)

// ParseError reports a path that does not match the repository layout.
type ParseError struct {
	Path   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s %q: %s", ErrMalformedPath, e.Path, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return ErrMalformedPath
}

// IOError annotates a failure of the underlying medium with the request it
// belonged to.
type IOError struct {
	Op           string
	RepositoryID string
	Path         string
	Err          error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s/%s: %v", e.Op, e.RepositoryID, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// NewIOError wraps err unless it is nil or already a sentinel negative result.
func NewIOError(op, repositoryID, path string, err error) error {
	if err == nil || errors.Is(err, ErrArtifactNotFound) {
		return err
	}
	return &IOError{Op: op, RepositoryID: repositoryID, Path: path, Err: err}
}
