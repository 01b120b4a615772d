package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/atomic"

	"github.com/ruteri/artifact-resolver/interfaces"
)

// Validator vets a freshly loaded snapshot before it replaces the current one,
// e.g. checking that every repository names a registered resolver.
type Validator func(*Snapshot) error

// FileCatalog serves the storages declared in a catalog file. Reload swaps the
// snapshot atomically; a snapshot that fails to load or validate is discarded
// and the previous one stays current.
type FileCatalog struct {
	path     string
	log      *slog.Logger
	validate Validator

	current   atomic.Pointer[Snapshot]
	resolvers []ResolverConfig

	mu       sync.Mutex
	lastHash string
}

// NewFileCatalog loads the catalog file. The returned Config carries the
// resolvers section, which is read once at startup.
func NewFileCatalog(path string, log *slog.Logger) (*FileCatalog, *Config, error) {
	c := &FileCatalog{path: path, log: log}

	cfg, hash, err := c.load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	snapshot, err := cfg.Snapshot()
	if err != nil {
		return nil, nil, err
	}

	c.current.Store(snapshot)
	c.resolvers = cfg.Resolvers
	c.lastHash = hash
	return c, cfg, nil
}

// SetValidator installs the check applied to the current and future
// snapshots.
func (c *FileCatalog) SetValidator(v Validator) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := v(c.current.Load()); err != nil {
		return err
	}
	c.validate = v
	return nil
}

// Storages returns the current snapshot's storages.
func (c *FileCatalog) Storages() map[string]*interfaces.Storage {
	return c.current.Load().Storages()
}

// Snapshot returns the current snapshot.
func (c *FileCatalog) Snapshot() *Snapshot {
	return c.current.Load()
}

// Reload re-reads the file and swaps the snapshot if its content changed.
// It reports whether a new snapshot was installed.
func (c *FileCatalog) Reload() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg, hash, err := c.load()
	if err != nil {
		return false, err
	}
	if hash == c.lastHash {
		return false, nil
	}

	snapshot, err := cfg.Snapshot()
	if err != nil {
		return false, err
	}
	if c.validate != nil {
		if err := c.validate(snapshot); err != nil {
			return false, fmt.Errorf("rejected catalog reload: %w", err)
		}
	}
	if !reflect.DeepEqual(cfg.Resolvers, c.resolvers) {
		c.log.Warn("resolver section changed, restart to apply", slog.String("path", c.path))
	}

	c.current.Store(snapshot)
	c.lastHash = hash
	c.log.Info("storage catalog reloaded",
		slog.String("path", c.path),
		slog.Int("storages", len(snapshot.Storages())),
		slog.String("hash", hash[:8]))
	return true, nil
}

// Watch reloads the catalog when its file changes until ctx is done. The
// directory is watched so editors that save by renaming are picked up.
// Events are coalesced over the debounce interval.
func (c *FileCatalog) Watch(ctx context.Context, debounce time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create catalog watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(c.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(c.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				timer.Reset(debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.log.Error("catalog watcher error", "err", err)

		case <-timer.C:
			if _, err := c.Reload(); err != nil {
				c.log.Error("failed to reload storage catalog", slog.String("path", c.path), "err", err)
			}
		}
	}
}

func (c *FileCatalog) load() (*Config, string, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read catalog %s: %w", c.path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, "", err
	}
	sum := sha256.Sum256(data)
	return cfg, hex.EncodeToString(sum[:]), nil
}
