package storage

import (
	"path"
	"strings"

	"github.com/ruteri/artifact-resolver/catalog"
	"github.com/ruteri/artifact-resolver/interfaces"
	"github.com/ruteri/artifact-resolver/layout"
)

// target is a request path resolved against the catalog.
type target struct {
	storage    *interfaces.Storage
	repository *interfaces.Repository
	layout     layout.Layout

	// path is the cleaned repository-relative path without leading slash.
	path     string
	metadata bool
}

func resolveTarget(c interfaces.StorageCatalog, repositoryID, p string) (*target, error) {
	storage, repo, err := catalog.Locate(c, repositoryID)
	if err != nil {
		return nil, err
	}
	l, err := layout.ForRepository(repo)
	if err != nil {
		return nil, err
	}
	cleaned, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	return &target{
		storage:    storage,
		repository: repo,
		layout:     l,
		path:       cleaned,
		metadata:   l.IsMetadataPath(cleaned),
	}, nil
}

// matcher parses the path as an artifact file or, failing that, as a version
// directory. Directory matches are only meaningful for deletes.
func (t *target) matcher(allowDirectory bool) (interfaces.CoordinateMatcher, error) {
	c, err := t.layout.Parse(t.path)
	if err == nil {
		return c, nil
	}
	if allowDirectory {
		if prefix, dirErr := t.layout.ParseDirectory(t.path); dirErr == nil {
			return prefix, nil
		}
	}
	return nil, err
}

func (t *target) coordinate() (interfaces.ArtifactCoordinate, error) {
	return t.layout.Parse(t.path)
}

// cleanPath normalizes a repository-relative path. Hidden segments are
// rejected so requests cannot reach a resolver's .temp or .trash areas.
func cleanPath(p string) (string, error) {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return "", &interfaces.ParseError{Path: p, Reason: "empty path"}
	}
	for _, s := range strings.Split(trimmed, "/") {
		if s == "" || strings.HasPrefix(s, ".") {
			return "", &interfaces.ParseError{Path: p, Reason: "illegal path segment " + s}
		}
	}
	return path.Clean(trimmed), nil
}

// storageDir is the directory or key prefix of a storage within a resolver.
func storageDir(s *interfaces.Storage) string {
	if s.BaseLocation != "" {
		return s.BaseLocation
	}
	return s.ID
}

// boundRepositories lists the catalog's repositories that use alias.
func boundRepositories(c interfaces.StorageCatalog, alias string) []*interfaces.Repository {
	var out []*interfaces.Repository
	for _, repo := range catalog.Repositories(c) {
		if repo.ResolverAlias == alias {
			out = append(out, repo)
		}
	}
	return out
}
