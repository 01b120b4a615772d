// Package main (cmd/httpserver) runs the artifact resolver service.
//
// At startup the service reads the catalog file, builds one location resolver
// per entry of its resolvers section, checks that every repository names a
// registered resolver and initializes the resolvers. Startup fails when any of
// these steps fails.
//
// Resolvers that keep no queryable medium (in-memory, ipfs) record existence
// in a resource tracker selected with --tracker. The default memory:// tracker
// is per process; a redis:// tracker is shared by every instance pointing at it.
//
// With --watch-catalog, edits to the storages section are picked up without a
// restart. A reload that references an unregistered resolver is rejected and
// the previous catalog stays in effect. The resolvers section is read once.
//
// The server implements graceful shutdown on receiving termination signals
// (SIGINT/SIGTERM) and supports health checks, metrics collection, and
// optional profiling endpoints.
//
// Example usage:
//
//	artifact-resolver --catalog=./catalog.yaml \
//	    --listen-addr=0.0.0.0:8080 \
//	    --tracker=redis://127.0.0.1:6379/0 \
//	    --watch-catalog
package main
