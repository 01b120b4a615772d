package main

import (
	"flag"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func newTestContext(t *testing.T, args ...string) *cli.Context {
	t.Helper()
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range appFlags {
		require.NoError(t, f.Apply(set))
	}
	require.NoError(t, set.Parse(args))
	return cli.NewContext(&cli.App{Flags: appFlags}, set, nil)
}

func writeCatalogFile(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func TestBootstrap(t *testing.T) {
	mr := miniredis.RunT(t)
	dataDir := t.TempDir()

	path := writeCatalogFile(t, `
resolvers:
  - alias: in-memory
    location: memory://?size=10000
  - alias: file-system
    location: file://`+dataDir+`
storages:
  - id: storage0
    repositories:
      - id: releases
        resolver: in-memory
      - id: files
        resolver: file-system
        trash: true
`)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cCtx := newTestContext(t, "--catalog", path, "--tracker", "redis://"+mr.Addr()+"/0", "--metrics-addr", "")

	svc, err := bootstrap(t.Context(), cCtx, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.registry.Close() })

	assert.Equal(t, []string{"file-system", "in-memory"}, svc.registry.Aliases())

	req := httptest.NewRequest(http.MethodPut, "/storages/releases/com/example/foo/1.0/foo-1.0.jar", http.NoBody)
	rec := httptest.NewRecorder()
	svc.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/storages/releases/com/example/foo/1.0/foo-1.0.jar", nil)
	rec = httptest.NewRecorder()
	svc.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10000, rec.Body.Len())

	keys := mr.Keys()
	assert.Contains(t, keys, "artifact-resolver:in-memory:releases")
}

func TestBootstrap_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "repository names unregistered resolver",
			doc: `
resolvers:
  - alias: in-memory
    location: memory://
storages:
  - id: storage0
    repositories:
      - id: releases
        resolver: s3-eu
`,
		},
		{
			name: "unsupported location scheme",
			doc: `
resolvers:
  - alias: ftp
    location: ftp://example.com/artifacts
storages: []
`,
		},
		{
			name: "duplicate repository across storages",
			doc: `
resolvers:
  - alias: in-memory
    location: memory://
storages:
  - id: storage0
    repositories:
      - id: releases
        resolver: in-memory
  - id: storage1
    repositories:
      - id: releases
        resolver: in-memory
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			cCtx := newTestContext(t, "--catalog", writeCatalogFile(t, tt.doc), "--metrics-addr", "")

			_, err := bootstrap(t.Context(), cCtx, logger)
			assert.Error(t, err)
		})
	}
}
