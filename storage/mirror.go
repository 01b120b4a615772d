package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ruteri/artifact-resolver/interfaces"
)

// MirrorResolver replicates artifacts across member resolvers. Reads are
// served by the first member that has the artifact; writes, deletes and trash
// operations go to every member. A result is "not found" only when every
// member reports not found.
type MirrorResolver struct {
	alias   string
	members []interfaces.LocationResolver
	catalog interfaces.StorageCatalog
	log     *slog.Logger
}

// NewMirrorResolver creates a mirror over members, consulted in order.
func NewMirrorResolver(alias string, members []interfaces.LocationResolver, c interfaces.StorageCatalog, log *slog.Logger) *MirrorResolver {
	if log == nil {
		log = slog.Default()
	}
	return &MirrorResolver{
		alias:   alias,
		members: members,
		catalog: c,
		log:     log,
	}
}

// Alias returns the resolver alias.
func (m *MirrorResolver) Alias() string {
	return m.alias
}

// Members returns the member resolvers in read order.
func (m *MirrorResolver) Members() []interfaces.LocationResolver {
	return m.members
}

// GetInputStream reads from the first member that has the artifact.
func (m *MirrorResolver) GetInputStream(ctx context.Context, repositoryID, path string) (io.ReadCloser, error) {
	start := time.Now()
	var errs []error

	for _, member := range m.members {
		rc, err := member.GetInputStream(ctx, repositoryID, path)
		if err == nil {
			m.log.Debug("Read artifact from mirror member",
				slog.String("member", member.Alias()),
				slog.String("repository", repositoryID),
				slog.String("path", path),
				slog.Duration("duration", time.Since(start)))
			return rc, nil
		}
		if errors.Is(err, interfaces.ErrArtifactNotFound) {
			continue
		}
		if isRequestError(err) {
			return nil, err
		}

		errs = append(errs, fmt.Errorf("%s: %w", member.Alias(), err))
		m.log.Debug("Failed to read from mirror member",
			slog.String("member", member.Alias()),
			slog.String("path", path),
			"err", err)
	}

	if len(errs) == 0 {
		return nil, interfaces.ErrArtifactNotFound
	}

	m.log.Error("All mirror members failed to read artifact",
		slog.String("repository", repositoryID),
		slog.String("path", path),
		slog.Int("failed_members", len(errs)),
		slog.Duration("duration", time.Since(start)))
	return nil, interfaces.NewIOError("read", repositoryID, path, errors.Join(errs...))
}

// GetOutputStream opens a writer on every member. Commit commits each of
// them; a member failing to commit does not roll back the others.
func (m *MirrorResolver) GetOutputStream(ctx context.Context, repositoryID, path string) (interfaces.ArtifactWriter, error) {
	writers := make([]interfaces.ArtifactWriter, 0, len(m.members))
	aliases := make([]string, 0, len(m.members))

	for _, member := range m.members {
		w, err := member.GetOutputStream(ctx, repositoryID, path)
		if err != nil {
			for _, opened := range writers {
				opened.Close()
			}
			if isRequestError(err) {
				return nil, err
			}
			return nil, interfaces.NewIOError("write", repositoryID, path, fmt.Errorf("%s: %w", member.Alias(), err))
		}
		writers = append(writers, w)
		aliases = append(aliases, member.Alias())
	}

	return &mirrorWriter{writers: writers, aliases: aliases, log: m.log}, nil
}

// Delete deletes from every member.
func (m *MirrorResolver) Delete(ctx context.Context, repositoryID, path string, force bool) error {
	deleted := 0
	var errs []error

	for _, member := range m.members {
		err := member.Delete(ctx, repositoryID, path, false)
		switch {
		case err == nil:
			deleted++
		case errors.Is(err, interfaces.ErrArtifactNotFound):
		case isRequestError(err):
			return err
		default:
			errs = append(errs, fmt.Errorf("%s: %w", member.Alias(), err))
		}
	}

	if len(errs) > 0 {
		return interfaces.NewIOError("delete", repositoryID, path, errors.Join(errs...))
	}
	if deleted == 0 && !force {
		return interfaces.ErrArtifactNotFound
	}
	return nil
}

// DeleteTrash empties the trash of the repository on every member.
func (m *MirrorResolver) DeleteTrash(ctx context.Context, repositoryID string) error {
	return m.each(func(member interfaces.LocationResolver) error {
		return member.DeleteTrash(ctx, repositoryID)
	})
}

// DeleteAllTrash empties, on every member, the trash of the repositories
// bound to the mirror.
func (m *MirrorResolver) DeleteAllTrash(ctx context.Context) error {
	var errs []error
	for _, repo := range boundRepositories(m.catalog, m.alias) {
		if err := m.DeleteTrash(ctx, repo.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Initialize initializes every member.
func (m *MirrorResolver) Initialize(ctx context.Context) error {
	return m.each(func(member interfaces.LocationResolver) error {
		return member.Initialize(ctx)
	})
}

func (m *MirrorResolver) each(fn func(interfaces.LocationResolver) error) error {
	var errs []error
	for _, member := range m.members {
		if err := fn(member); err != nil {
			if isRequestError(err) {
				return err
			}
			errs = append(errs, fmt.Errorf("%s: %w", member.Alias(), err))
		}
	}
	return errors.Join(errs...)
}

// isRequestError reports errors caused by the request rather than a member,
// which every member would report alike.
func isRequestError(err error) bool {
	return errors.Is(err, interfaces.ErrMalformedPath) ||
		errors.Is(err, interfaces.ErrRepositoryNotFound) ||
		errors.Is(err, interfaces.ErrUnknownLayout)
}

type mirrorWriter struct {
	writers []interfaces.ArtifactWriter
	aliases []string
	log     *slog.Logger
	done    bool
}

func (w *mirrorWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, interfaces.ErrWriterClosed
	}
	for i, writer := range w.writers {
		n, err := writer.Write(p)
		if err != nil {
			return n, fmt.Errorf("%s: %w", w.aliases[i], err)
		}
		if n != len(p) {
			return n, fmt.Errorf("%s: %w", w.aliases[i], io.ErrShortWrite)
		}
	}
	return len(p), nil
}

func (w *mirrorWriter) Commit() error {
	if w.done {
		return interfaces.ErrWriterClosed
	}
	w.done = true

	var errs []error
	for i, writer := range w.writers {
		if err := writer.Commit(); err != nil {
			w.log.Warn("Failed to commit to mirror member", slog.String("member", w.aliases[i]), "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", w.aliases[i], err))
		}
	}
	return errors.Join(errs...)
}

func (w *mirrorWriter) Close() error {
	var errs []error
	for _, writer := range w.writers {
		if err := writer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	w.done = true
	return errors.Join(errs...)
}
