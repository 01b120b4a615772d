// Package layout turns repository paths into artifact coordinates and back.
//
// A Layout is pure: it does no I/O and the same path always yields the same
// coordinate. For every coordinate that Format accepts,
// Parse(Format(c)) returns c.
package layout

import (
	"fmt"
	"sort"

	"github.com/ruteri/artifact-resolver/interfaces"
)

// Layout is the path grammar of a repository.
type Layout interface {
	// Name is the layout name repositories declare.
	Name() string

	// Parse converts an artifact file path to its coordinate.
	Parse(path string) (interfaces.ArtifactCoordinate, error)

	// ParseDirectory converts a version directory path to a coordinate prefix.
	ParseDirectory(path string) (interfaces.CoordinatePrefix, error)

	// Format is the canonical serializer for coordinates.
	Format(c interfaces.ArtifactCoordinate) (string, error)

	// IsMetadataPath reports whether path names a metadata descriptor.
	IsMetadataPath(path string) bool
}

var layouts = map[string]Layout{
	Maven2Name: Maven2{},
}

// Lookup returns the layout registered under name. An empty name selects
// the default layout.
func Lookup(name string) (Layout, error) {
	if name == "" {
		name = interfaces.DefaultLayout
	}
	l, ok := layouts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrUnknownLayout, name)
	}
	return l, nil
}

// Names returns the known layout names, sorted.
func Names() []string {
	names := make([]string, 0, len(layouts))
	for name := range layouts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ForRepository returns the layout of the repository.
func ForRepository(repo *interfaces.Repository) (Layout, error) {
	return Lookup(repo.LayoutName())
}
