// Package catalog supplies the storage configuration the resolution layer
// routes against.
//
// A Snapshot is immutable once built. FileCatalog loads snapshots from a YAML
// file and swaps them atomically on reload, so requests in flight keep the
// snapshot they started with.
package catalog

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ruteri/artifact-resolver/interfaces"
)

var (
	// ErrDuplicateStorage is returned when two storages share an id.
	ErrDuplicateStorage = errors.New("duplicate storage id")

	// ErrDuplicateRepository is returned when a repository id appears in more
	// than one place. Repository ids are global across storages.
	ErrDuplicateRepository = errors.New("duplicate repository id")

	// ErrInvalidCatalog is returned for structurally invalid configuration.
	ErrInvalidCatalog = errors.New("invalid storage catalog")
)

// Snapshot is an immutable StorageCatalog.
type Snapshot struct {
	storages map[string]*interfaces.Storage
}

// NewSnapshot validates the storages and builds a snapshot from them. Each
// repository's StorageID is set to its owning storage.
func NewSnapshot(storages ...*interfaces.Storage) (*Snapshot, error) {
	s := &Snapshot{storages: make(map[string]*interfaces.Storage, len(storages))}
	owners := make(map[string]string)

	for _, storage := range storages {
		if storage.ID == "" {
			return nil, fmt.Errorf("%w: storage without id", ErrInvalidCatalog)
		}
		if _, ok := s.storages[storage.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStorage, storage.ID)
		}

		repositories := make(map[string]*interfaces.Repository, len(storage.Repositories))
		for id, repo := range storage.Repositories {
			if id == "" || repo.ID != id {
				return nil, fmt.Errorf("%w: repository %q of storage %s is keyed as %q", ErrInvalidCatalog, repo.ID, storage.ID, id)
			}
			if repo.ResolverAlias == "" {
				return nil, fmt.Errorf("%w: repository %s has no resolver", ErrInvalidCatalog, id)
			}
			if owner, ok := owners[id]; ok {
				return nil, fmt.Errorf("%w: %s in storages %s and %s", ErrDuplicateRepository, id, owner, storage.ID)
			}
			owners[id] = storage.ID

			copied := *repo
			copied.StorageID = storage.ID
			repositories[id] = &copied
		}

		s.storages[storage.ID] = &interfaces.Storage{
			ID:           storage.ID,
			BaseLocation: storage.BaseLocation,
			Repositories: repositories,
		}
	}

	return s, nil
}

// Storages returns the storages keyed by id.
func (s *Snapshot) Storages() map[string]*interfaces.Storage {
	return s.storages
}

// Locate finds the storage containing the repository. Storages are scanned
// in id order so the result does not depend on map iteration.
func Locate(c interfaces.StorageCatalog, repositoryID string) (*interfaces.Storage, *interfaces.Repository, error) {
	storages := c.Storages()
	for _, id := range sortedIDs(storages) {
		storage := storages[id]
		if repo, ok := storage.Repositories[repositoryID]; ok {
			return storage, repo, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: %s", interfaces.ErrRepositoryNotFound, repositoryID)
}

// Repositories lists every repository of the catalog ordered by storage id
// and then repository id.
func Repositories(c interfaces.StorageCatalog) []*interfaces.Repository {
	storages := c.Storages()
	var out []*interfaces.Repository
	for _, id := range sortedIDs(storages) {
		repos := storages[id].Repositories
		ids := make([]string, 0, len(repos))
		for repoID := range repos {
			ids = append(ids, repoID)
		}
		sort.Strings(ids)
		for _, repoID := range ids {
			out = append(out, repos[repoID])
		}
	}
	return out
}

func sortedIDs(storages map[string]*interfaces.Storage) []string {
	ids := make([]string, 0, len(storages))
	for id := range storages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
