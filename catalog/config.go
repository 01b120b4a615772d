package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ruteri/artifact-resolver/interfaces"
	"github.com/ruteri/artifact-resolver/layout"
)

// Config is the catalog file format:
//
//	resolvers:
//	  - alias: file-system
//	    location: file:///var/lib/artifacts
//	storages:
//	  - id: storage0
//	    baseLocation: storage0
//	    repositories:
//	      - id: releases
//	        resolver: file-system
//	        trash: true
//
// Environment references like ${S3_SECRET} are expanded before parsing.
type Config struct {
	Resolvers []ResolverConfig `yaml:"resolvers"`
	Storages  []StorageConfig  `yaml:"storages"`
}

// ResolverConfig binds an alias to a resolver location URI.
type ResolverConfig struct {
	Alias    string `yaml:"alias"`
	Location string `yaml:"location"`
}

// StorageConfig declares one storage and its repositories.
type StorageConfig struct {
	ID           string             `yaml:"id"`
	BaseLocation string             `yaml:"baseLocation"`
	Repositories []RepositoryConfig `yaml:"repositories"`
}

// RepositoryConfig declares one repository.
type RepositoryConfig struct {
	ID        string `yaml:"id"`
	Resolver  string `yaml:"resolver"`
	Layout    string `yaml:"layout"`
	Trash     bool   `yaml:"trash"`
	RemoteURL string `yaml:"remoteUrl"`
}

// Parse decodes a catalog document. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(data)))))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return &cfg, nil
}

// LoadFile reads and parses a catalog file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Snapshot validates the storages section and converts it to a Snapshot.
func (c *Config) Snapshot() (*Snapshot, error) {
	storages := make([]*interfaces.Storage, 0, len(c.Storages))
	for _, sc := range c.Storages {
		storage := &interfaces.Storage{
			ID:           sc.ID,
			BaseLocation: sc.BaseLocation,
			Repositories: make(map[string]*interfaces.Repository, len(sc.Repositories)),
		}
		for _, rc := range sc.Repositories {
			if rc.ID == "" {
				return nil, fmt.Errorf("%w: storage %s has a repository without id", ErrInvalidCatalog, sc.ID)
			}
			if _, ok := storage.Repositories[rc.ID]; ok {
				return nil, fmt.Errorf("%w: %s in storage %s", ErrDuplicateRepository, rc.ID, sc.ID)
			}
			if _, err := layout.Lookup(rc.Layout); err != nil {
				return nil, fmt.Errorf("repository %s: %w", rc.ID, err)
			}
			storage.Repositories[rc.ID] = &interfaces.Repository{
				ID:            rc.ID,
				ResolverAlias: rc.Resolver,
				Layout:        rc.Layout,
				TrashEnabled:  rc.Trash,
				RemoteURL:     rc.RemoteURL,
			}
		}
		storages = append(storages, storage)
	}
	return NewSnapshot(storages...)
}

// Validate checks the resolvers section for missing and repeated aliases.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Resolvers))
	for _, rc := range c.Resolvers {
		if rc.Alias == "" || rc.Location == "" {
			return fmt.Errorf("%w: resolver entries need an alias and a location", ErrInvalidCatalog)
		}
		if seen[rc.Alias] {
			return fmt.Errorf("%w: resolver alias %s declared twice", ErrInvalidCatalog, rc.Alias)
		}
		seen[rc.Alias] = true
	}
	return nil
}
