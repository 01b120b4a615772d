// Package storage provides the location resolvers that back artifact
// repositories, a registry mapping resolver aliases to them and a factory
// building them from location URIs.
//
// Every resolver implements interfaces.LocationResolver over one medium:
//
//   - in-memory: non-durable placeholder for tests and demos
//   - file-system: local directories with atomic rename on commit
//   - proxy: remote repository streamed through a file cache
//   - s3: S3 or S3-compatible object storage
//   - ipfs: content-addressed storage with tracker bookkeeping
//   - vault: small sensitive artifacts in a Vault KV v2 engine
//   - mirror: replication over other resolvers
//
// # Location URI Format
//
// Resolvers are declared in the catalog with a location URI:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - memory://?size=10000
//   - file:///var/lib/artifacts
//   - proxy:///var/cache/artifacts?retries=2&timeout=30s
//   - s3://bucket-name/prefix/?region=us-west-2
//   - ipfs://ipfs.example.com:5001/
//   - vault://vault.example.com:8200/secret/artifacts
//   - mirror://?members=file-system,s3
//
// # Writes
//
// GetOutputStream returns an interfaces.ArtifactWriter. Nothing written is
// observable until Commit returns successfully; Close without Commit
// discards the upload. Backends with real media spool uploads to a temporary
// file first, the file system resolver inside the repository's .temp
// directory so the final rename stays on one device.
//
// # Placeholder Content
//
// The in-memory resolver keeps no content at all. It records the number of
// bytes committed (or a placeholder size, 10000 by default, when nothing was
// written) and serves reads with deterministic filler bytes of that length.
// It exists to exercise routing and bookkeeping without a medium and must not
// be used where the artifacts matter.
//
// # Bookkeeping
//
// Resolvers without an authoritative way to query their medium (in-memory,
// ipfs) keep existence records in an interfaces.ResourceStateTracker.
// Metadata descriptor paths (maven-metadata.*) never produce records.
//
// # Trash
//
// Repositories with trash enabled get soft deletes on the file system, proxy
// and S3 resolvers: deleted content moves under the repository's .trash
// prefix until DeleteTrash empties it. The other resolvers delete
// immediately and treat the trash operations as no-ops.
package storage
