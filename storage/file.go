package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/ruteri/artifact-resolver/catalog"
	"github.com/ruteri/artifact-resolver/interfaces"
)

// FileSystemAlias is the default alias of the file system resolver.
const FileSystemAlias = "file-system"

const (
	tempDirName  = ".temp"
	trashDirName = ".trash"
)

// FileResolver stores artifacts on the local file system under
//
//	<baseDir>/<storage base location>/<repository>/<path>
//
// An absolute storage base location is used as is. Uploads are written to
// <repository>/.temp and renamed into place on Commit; deletes of
// repositories with trash enabled move content to <repository>/.trash.
type FileResolver struct {
	alias   string
	baseDir string
	catalog interfaces.StorageCatalog
	log     *slog.Logger

	initOnce sync.Once
	initErr  error
}

// NewFileResolver creates a file system resolver rooted at baseDir.
func NewFileResolver(alias, baseDir string, c interfaces.StorageCatalog, log *slog.Logger) *FileResolver {
	return &FileResolver{
		alias:   alias,
		baseDir: baseDir,
		catalog: c,
		log:     log,
	}
}

// Alias returns the resolver alias.
func (r *FileResolver) Alias() string {
	return r.alias
}

// BaseDir returns the root directory.
func (r *FileResolver) BaseDir() string {
	return r.baseDir
}

func (r *FileResolver) repositoryDir(s *interfaces.Storage, repo *interfaces.Repository) string {
	dir := storageDir(s)
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(r.baseDir, dir)
	}
	return filepath.Join(dir, repo.ID)
}

func (r *FileResolver) resolve(repositoryID, path string) (*target, string, error) {
	t, err := resolveTarget(r.catalog, repositoryID, path)
	if err != nil {
		return nil, "", err
	}
	return t, r.repositoryDir(t.storage, t.repository), nil
}

// GetInputStream opens the artifact file.
func (r *FileResolver) GetInputStream(ctx context.Context, repositoryID, path string) (io.ReadCloser, error) {
	t, repoDir, err := r.resolve(repositoryID, path)
	if err != nil {
		return nil, err
	}

	filePath := filepath.Join(repoDir, filepath.FromSlash(t.path))
	f, err := os.Open(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, interfaces.ErrArtifactNotFound
	}
	if err != nil {
		return nil, interfaces.NewIOError("read", repositoryID, path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, interfaces.NewIOError("read", repositoryID, path, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, interfaces.ErrArtifactNotFound
	}

	r.log.Debug("opened artifact file",
		slog.String("path", filePath),
		slog.Int64("size", info.Size()))
	return f, nil
}

// GetOutputStream returns a writer that lands the file atomically on Commit.
func (r *FileResolver) GetOutputStream(ctx context.Context, repositoryID, path string) (interfaces.ArtifactWriter, error) {
	t, repoDir, err := r.resolve(repositoryID, path)
	if err != nil {
		return nil, err
	}

	tempDir := filepath.Join(repoDir, tempDirName)
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, interfaces.NewIOError("write", repositoryID, path, fmt.Errorf("failed to create temp directory: %w", err))
	}

	filePath := filepath.Join(repoDir, filepath.FromSlash(t.path))
	w, err := newSpoolWriter(tempDir, "upload-*", func(f *os.File, size int64) error {
		if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
			return interfaces.NewIOError("commit", repositoryID, path, fmt.Errorf("failed to create directory: %w", err))
		}
		if err := os.Rename(f.Name(), filePath); err != nil {
			return interfaces.NewIOError("commit", repositoryID, path, err)
		}
		r.log.Debug("stored artifact file",
			slog.String("path", filePath),
			slog.Int64("size", size))
		return nil
	})
	if err != nil {
		return nil, interfaces.NewIOError("write", repositoryID, path, err)
	}
	return w, nil
}

// Delete removes a file or directory, moving it to the trash when the
// repository has trash enabled.
func (r *FileResolver) Delete(ctx context.Context, repositoryID, path string, force bool) error {
	t, repoDir, err := r.resolve(repositoryID, path)
	if err != nil {
		return err
	}

	filePath := filepath.Join(repoDir, filepath.FromSlash(t.path))
	if _, err := os.Lstat(filePath); errors.Is(err, os.ErrNotExist) {
		if force {
			return nil
		}
		return interfaces.ErrArtifactNotFound
	} else if err != nil {
		return interfaces.NewIOError("delete", repositoryID, path, err)
	}

	if !t.repository.TrashEnabled {
		if err := os.RemoveAll(filePath); err != nil {
			return interfaces.NewIOError("delete", repositoryID, path, err)
		}
		r.log.Debug("deleted artifact", slog.String("path", filePath))
		return nil
	}

	trashPath := filepath.Join(repoDir, trashDirName, filepath.FromSlash(t.path))
	if err := os.RemoveAll(trashPath); err != nil {
		return interfaces.NewIOError("delete", repositoryID, path, fmt.Errorf("failed to clear trash entry: %w", err))
	}
	if err := os.MkdirAll(filepath.Dir(trashPath), 0755); err != nil {
		return interfaces.NewIOError("delete", repositoryID, path, fmt.Errorf("failed to create trash directory: %w", err))
	}
	if err := os.Rename(filePath, trashPath); err != nil {
		return interfaces.NewIOError("delete", repositoryID, path, err)
	}

	r.log.Debug("moved artifact to trash",
		slog.String("path", filePath),
		slog.String("trash", trashPath))
	return nil
}

// DeleteTrash empties the repository trash.
func (r *FileResolver) DeleteTrash(ctx context.Context, repositoryID string) error {
	storage, repo, err := catalog.Locate(r.catalog, repositoryID)
	if err != nil {
		return err
	}

	trashDir := filepath.Join(r.repositoryDir(storage, repo), trashDirName)
	if err := os.RemoveAll(trashDir); err != nil {
		return interfaces.NewIOError("delete-trash", repositoryID, trashDirName, err)
	}

	r.log.Debug("emptied trash", slog.String("repository", repositoryID), slog.String("path", trashDir))
	return nil
}

// DeleteAllTrash empties the trash of every repository bound to this resolver.
func (r *FileResolver) DeleteAllTrash(ctx context.Context) error {
	var errs []error
	for _, repo := range boundRepositories(r.catalog, r.alias) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.DeleteTrash(ctx, repo.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Initialize creates the base directory and the directories of bound
// repositories.
func (r *FileResolver) Initialize(ctx context.Context) error {
	r.initOnce.Do(func() {
		if err := os.MkdirAll(r.baseDir, 0755); err != nil {
			r.initErr = fmt.Errorf("failed to create base directory: %w", err)
			return
		}
		storages := r.catalog.Storages()
		for _, repo := range boundRepositories(r.catalog, r.alias) {
			dir := r.repositoryDir(storages[repo.StorageID], repo)
			if err := os.MkdirAll(dir, 0755); err != nil {
				r.initErr = fmt.Errorf("failed to create repository directory %s: %w", dir, err)
				return
			}
		}
		r.log.Info("initialized file system resolver",
			slog.String("alias", r.alias),
			slog.String("baseDir", r.baseDir))
	})
	return r.initErr
}
