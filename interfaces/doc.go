// Package interfaces defines the core types and contracts of the artifact
// location resolution layer, separating them from their implementations.
//
// # Data Model
//
//   - Storage: a named collection of repositories sharing a backing location
//   - Repository: a named collection of artifacts bound to one resolver alias
//   - ArtifactCoordinate: namespace, name, version, classifier and extension
//     parsed from a request path
//   - ResourceRecord: existence bookkeeping for one coordinate in one repository
//
// # Contracts
//
//   - LocationResolver: read, write, delete and trash operations against one
//     physical medium, selected by its alias
//   - ArtifactWriter: a sink whose bytes become visible only on Commit
//   - StorageCatalog: read-only view of the configured storages
//   - ResourceStateTracker: concurrent-safe record store for backends that
//     cannot query their medium for existence
//
// # Record Lifecycle
//
// A record is created by the first committed write and never removed:
//
//	UNKNOWN --commit--> EXISTS --delete--> DELETED --commit--> EXISTS
//
// Paths of metadata descriptors (maven-metadata.xml and its checksums) are
// never recorded.
//
// # Errors
//
// ErrArtifactNotFound is a legitimate negative result rather than a failure.
// Malformed paths produce a *ParseError, failures of the medium an *IOError
// carrying the repository and path of the request.
package interfaces
