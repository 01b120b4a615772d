package storage

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ruteri/artifact-resolver/catalog"
	"github.com/ruteri/artifact-resolver/interfaces"
)

const (
	jarPath     = "com/example/foo/1.0/foo-1.0.jar"
	sourcesPath = "com/example/foo/1.0/foo-1.0-sources.jar"
	pomPath     = "com/example/foo/2.0/foo-2.0.pom"
	versionDir  = "com/example/foo/1.0"
	metaPath    = "com/example/foo/maven-metadata.xml"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestCatalog puts the repositories in storage0. Without repositories it
// binds "releases" and "snapshots" (trash enabled) to alias.
func newTestCatalog(t *testing.T, alias string, repos ...*interfaces.Repository) *catalog.Snapshot {
	t.Helper()
	if len(repos) == 0 {
		repos = []*interfaces.Repository{
			{ID: "releases", ResolverAlias: alias},
			{ID: "snapshots", ResolverAlias: alias, TrashEnabled: true},
		}
	}
	byID := make(map[string]*interfaces.Repository, len(repos))
	for _, r := range repos {
		byID[r.ID] = r
	}
	snap, err := catalog.NewSnapshot(&interfaces.Storage{ID: "storage0", Repositories: byID})
	require.NoError(t, err)
	return snap
}

func writeArtifact(t *testing.T, r interfaces.LocationResolver, repositoryID, path string, data []byte) {
	t.Helper()
	w, err := r.GetOutputStream(t.Context(), repositoryID, path)
	require.NoError(t, err)
	defer w.Close()

	if len(data) > 0 {
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Commit())
}

func readArtifact(t *testing.T, r interfaces.LocationResolver, repositoryID, path string) ([]byte, error) {
	t.Helper()
	rc, err := r.GetInputStream(t.Context(), repositoryID, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data, nil
}
