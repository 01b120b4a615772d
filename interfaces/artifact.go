package interfaces

import (
	"regexp"
	"strings"
	"time"
)

// snapshotTimestamp matches the unique part of a timestamped snapshot version,
// e.g. the "20240101.120000-3" in "1.0-20240101.120000-3".
var snapshotTimestamp = regexp.MustCompile(`^(.*)-([0-9]{8}\.[0-9]{6})-([0-9]+)$`)

// SnapshotSuffix marks a version as a snapshot version directory.
const SnapshotSuffix = "SNAPSHOT"

// ArtifactCoordinate is the structured identity of an artifact file parsed
// from a request path. Equality is component-wise.
type ArtifactCoordinate struct {
	Namespace  string `json:"namespace"`
	Name       string `json:"name"`
	Version    string `json:"version"`
	Classifier string `json:"classifier,omitempty"`
	Extension  string `json:"extension"`
}

// String returns the coordinate as namespace:name:extension[:classifier]:version.
func (c ArtifactCoordinate) String() string {
	parts := []string{c.Namespace, c.Name, c.Extension}
	if c.Classifier != "" {
		parts = append(parts, c.Classifier)
	}
	parts = append(parts, c.Version)
	return strings.Join(parts, ":")
}

// BaseVersion returns the version directory the coordinate lives in.
// Timestamped snapshot versions map back to their -SNAPSHOT directory.
func (c ArtifactCoordinate) BaseVersion() string {
	m := snapshotTimestamp.FindStringSubmatch(c.Version)
	if m == nil {
		return c.Version
	}
	return m[1] + "-" + SnapshotSuffix
}

// IsSnapshot reports whether the coordinate belongs to a snapshot version.
func (c ArtifactCoordinate) IsSnapshot() bool {
	return strings.HasSuffix(c.BaseVersion(), "-"+SnapshotSuffix)
}

// Prefix returns the namespace/name/version prefix containing the coordinate.
func (c ArtifactCoordinate) Prefix() CoordinatePrefix {
	return CoordinatePrefix{Namespace: c.Namespace, Name: c.Name, Version: c.BaseVersion()}
}

// Matches reports whether other is exactly this coordinate.
func (c ArtifactCoordinate) Matches(other ArtifactCoordinate) bool {
	return c == other
}

// CoordinatePrefix selects every coordinate under a namespace, optionally
// narrowed to a name and a version directory.
type CoordinatePrefix struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name,omitempty"`
	Version   string `json:"version,omitempty"`
}

// Matches reports whether c lives under the prefix. Version is compared
// against the coordinate's base version so a -SNAPSHOT directory matches
// its timestamped files.
func (p CoordinatePrefix) Matches(c ArtifactCoordinate) bool {
	if p.Namespace != c.Namespace {
		return false
	}
	if p.Name != "" && p.Name != c.Name {
		return false
	}
	if p.Version != "" && p.Version != c.BaseVersion() {
		return false
	}
	return true
}

// String returns the prefix as namespace[:name[:version]].
func (p CoordinatePrefix) String() string {
	s := p.Namespace
	if p.Name != "" {
		s += ":" + p.Name
		if p.Version != "" {
			s += ":" + p.Version
		}
	}
	return s
}

// CoordinateMatcher selects records, either one exact coordinate or a prefix.
type CoordinateMatcher interface {
	Matches(ArtifactCoordinate) bool
	String() string
}

// ResourceState is the existence state of a tracked resource.
type ResourceState int

const (
	// StateUnknown is the state of a coordinate that was never committed.
	StateUnknown ResourceState = iota
	// StateExists is set when a write is committed.
	StateExists
	// StateDeleted is set by a delete. A later commit moves it back to StateExists.
	StateDeleted
)

// String returns the state name.
func (s ResourceState) String() string {
	switch s {
	case StateExists:
		return "EXISTS"
	case StateDeleted:
		return "DELETED"
	default:
		return "UNKNOWN"
	}
}

// ResourceRecord is the bookkeeping entry for one artifact in one repository.
type ResourceRecord struct {
	RepositoryID string             `json:"repository_id"`
	Coordinate   ArtifactCoordinate `json:"coordinate"`
	SizeBytes    int64              `json:"size_bytes"`
	State        ResourceState      `json:"state"`

	// Locator is the backend's own handle for the content, e.g. an IPFS CID.
	Locator   string    `json:"locator,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
