package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/artifact-resolver/catalog"
	"github.com/ruteri/artifact-resolver/interfaces"
	"github.com/ruteri/artifact-resolver/metrics"
	"github.com/ruteri/artifact-resolver/storage"
	"github.com/ruteri/artifact-resolver/tracker"
)

const jarPath = "com/example/foo/1.0/foo-1.0.jar"

// MockResolver implements interfaces.LocationResolver for testing
type MockResolver struct {
	mock.Mock
	alias string
}

func (m *MockResolver) Alias() string {
	return m.alias
}

func (m *MockResolver) GetInputStream(ctx context.Context, repositoryID, path string) (io.ReadCloser, error) {
	args := m.Called(ctx, repositoryID, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

func (m *MockResolver) GetOutputStream(ctx context.Context, repositoryID, path string) (interfaces.ArtifactWriter, error) {
	args := m.Called(ctx, repositoryID, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(interfaces.ArtifactWriter), args.Error(1)
}

func (m *MockResolver) Delete(ctx context.Context, repositoryID, path string, force bool) error {
	return m.Called(ctx, repositoryID, path, force).Error(0)
}

func (m *MockResolver) DeleteTrash(ctx context.Context, repositoryID string) error {
	return m.Called(ctx, repositoryID).Error(0)
}

func (m *MockResolver) DeleteAllTrash(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockResolver) Initialize(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testEnv binds "releases" in storage0 to an in-memory resolver and
// "mirrored" in storage1 to a mock.
type testEnv struct {
	router   *Router
	catalog  *catalog.Snapshot
	registry *storage.Registry
	memory   *storage.MemoryResolver
	mock     *MockResolver
	metrics  *metrics.ResolverMetrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := newTestLogger()

	snap, err := catalog.NewSnapshot(
		&interfaces.Storage{ID: "storage0", Repositories: map[string]*interfaces.Repository{
			"releases": {ID: "releases", ResolverAlias: storage.MemoryAlias},
		}},
		&interfaces.Storage{ID: "storage1", Repositories: map[string]*interfaces.Repository{
			"mirrored": {ID: "mirrored", ResolverAlias: "mock"},
			"orphan":   {ID: "orphan", ResolverAlias: "missing"},
			"exotic":   {ID: "exotic", ResolverAlias: "mock", Layout: "npm"},
		}},
	)
	require.NoError(t, err)

	memory := storage.NewMemoryResolver(storage.MemoryAlias, snap, tracker.NewMemoryTracker(), 0, log)
	mockResolver := &MockResolver{alias: "mock"}

	registry := storage.NewRegistry(log)
	require.NoError(t, registry.Register(memory))
	require.NoError(t, registry.Register(mockResolver))
	registry.Seal()

	m, err := metrics.NewResolverMetrics("test", prometheus.NewRegistry())
	require.NoError(t, err)

	return &testEnv{
		router:   New(log, snap, registry, m),
		catalog:  snap,
		registry: registry,
		memory:   memory,
		mock:     mockResolver,
		metrics:  m,
	}
}

func readAll(t *testing.T, r *Router, repositoryID, path string) ([]byte, error) {
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

func TestRouter_Resolve(t *testing.T) {
	env := newTestEnv(t)

	storage0, repo, err := env.router.Resolve("releases")
	require.NoError(t, err)
	assert.Equal(t, "storage0", storage0.ID)
	assert.Equal(t, "releases", repo.ID)
	assert.Equal(t, storage.MemoryAlias, repo.ResolverAlias)

	storage1, repo, err := env.router.Resolve("mirrored")
	require.NoError(t, err)
	assert.Equal(t, "storage1", storage1.ID)
	assert.Equal(t, "storage1", repo.StorageID)

	_, _, err = env.router.Resolve("nope")
	assert.ErrorIs(t, err, interfaces.ErrRepositoryNotFound)
}

func TestRouter_ReleasesScenario(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "declared placeholder size", payload: nil},
		{name: "written content", payload: make([]byte, 10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			_, err := readAll(t, env.router, "releases", jarPath)
			require.ErrorIs(t, err, interfaces.ErrArtifactNotFound)

			w, err := env.router.GetOutputStream(t.Context(), "releases", jarPath)
			require.NoError(t, err)
			if tt.payload != nil {
				_, err = w.Write(tt.payload)
				require.NoError(t, err)
			}
			require.NoError(t, w.Commit())
			require.NoError(t, w.Close())

			data, err := readAll(t, env.router, "releases", jarPath)
			require.NoError(t, err)
			assert.Len(t, data, 10000)

			require.NoError(t, env.router.Delete(t.Context(), "releases", jarPath, false))
			_, err = readAll(t, env.router, "releases", jarPath)
			assert.ErrorIs(t, err, interfaces.ErrArtifactNotFound)
		})
	}
}

func TestRouter_RequestErrors(t *testing.T) {
	tests := []struct {
		name         string
		repositoryID string
		path         string
		wantErr      error
	}{
		{name: "unknown repository", repositoryID: "nope", path: jarPath, wantErr: interfaces.ErrRepositoryNotFound},
		{name: "malformed path", repositoryID: "mirrored", path: "com/example", wantErr: interfaces.ErrMalformedPath},
		{name: "hidden segment", repositoryID: "mirrored", path: "com/example/.trash/1.0/foo-1.0.jar", wantErr: interfaces.ErrMalformedPath},
		{name: "version directory is not an artifact", repositoryID: "mirrored", path: "com/example/foo/1.0", wantErr: interfaces.ErrMalformedPath},
		{name: "unregistered alias", repositoryID: "orphan", path: jarPath, wantErr: interfaces.ErrUnknownResolver},
		{name: "unknown layout", repositoryID: "exotic", path: jarPath, wantErr: interfaces.ErrUnknownLayout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			_, err := env.router.GetInputStream(t.Context(), tt.repositoryID, tt.path)
			assert.ErrorIs(t, err, tt.wantErr)

			_, err = env.router.GetOutputStream(t.Context(), tt.repositoryID, tt.path)
			assert.ErrorIs(t, err, tt.wantErr)

			env.mock.AssertNotCalled(t, "GetInputStream", mock.Anything, mock.Anything, mock.Anything)
			env.mock.AssertNotCalled(t, "GetOutputStream", mock.Anything, mock.Anything, mock.Anything)
		})
	}

	var parseErr *interfaces.ParseError
	env := newTestEnv(t)
	_, err := env.router.GetInputStream(t.Context(), "mirrored", "com/example")
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "com/example", parseErr.Path)
}

func TestRouter_Delete(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		force      bool
		setupMocks func(*MockResolver)
		wantErr    error
	}{
		{
			name:  "artifact",
			path:  jarPath,
			force: false,
			setupMocks: func(m *MockResolver) {
				m.On("Delete", mock.Anything, "mirrored", jarPath, false).Return(nil)
			},
		},
		{
			name:  "version directory",
			path:  "com/example/foo/1.0",
			force: true,
			setupMocks: func(m *MockResolver) {
				m.On("Delete", mock.Anything, "mirrored", "com/example/foo/1.0", true).Return(nil)
			},
		},
		{
			name: "metadata bypasses parsing",
			path: "com/example/foo/maven-metadata.xml",
			setupMocks: func(m *MockResolver) {
				m.On("Delete", mock.Anything, "mirrored", "com/example/foo/maven-metadata.xml", false).Return(nil)
			},
		},
		{
			name: "resolver not found is passed through",
			path: jarPath,
			setupMocks: func(m *MockResolver) {
				m.On("Delete", mock.Anything, "mirrored", jarPath, false).Return(interfaces.ErrArtifactNotFound)
			},
			wantErr: interfaces.ErrArtifactNotFound,
		},
		{
			name:       "malformed artifact is not widened to a directory",
			path:       "com/example/foo/1.0/bar.jar",
			force:      true,
			setupMocks: func(m *MockResolver) {},
			wantErr:    interfaces.ErrMalformedPath,
		},
		{
			name:       "too short to be a directory",
			path:       "com/example",
			setupMocks: func(m *MockResolver) {},
			wantErr:    interfaces.ErrMalformedPath,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			tt.setupMocks(env.mock)

			err := env.router.Delete(t.Context(), "mirrored", tt.path, tt.force)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			env.mock.AssertExpectations(t)
		})
	}
}

func TestRouter_DeleteTrash(t *testing.T) {
	env := newTestEnv(t)
	env.mock.On("DeleteTrash", mock.Anything, "mirrored").Return(nil)

	require.NoError(t, env.router.DeleteTrash(t.Context(), "mirrored"))
	require.NoError(t, env.router.DeleteTrash(t.Context(), "releases"))
	require.NoError(t, env.router.DeleteTrash(t.Context(), "releases"))
	assert.ErrorIs(t, env.router.DeleteTrash(t.Context(), "nope"), interfaces.ErrRepositoryNotFound)
	assert.ErrorIs(t, env.router.DeleteTrash(t.Context(), "orphan"), interfaces.ErrUnknownResolver)

	env.mock.AssertExpectations(t)
}

func TestRouter_DeleteAllTrash(t *testing.T) {
	testErr := errors.New("bucket unavailable")

	tests := []struct {
		name       string
		setupMocks func(*MockResolver)
		wantErr    error
	}{
		{
			name: "all succeed",
			setupMocks: func(m *MockResolver) {
				m.On("DeleteAllTrash", mock.Anything).Return(nil)
			},
		},
		{
			name: "failure is joined",
			setupMocks: func(m *MockResolver) {
				m.On("DeleteAllTrash", mock.Anything).Return(testErr)
			},
			wantErr: testErr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			tt.setupMocks(env.mock)

			err := env.router.DeleteAllTrash(t.Context())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Contains(t, err.Error(), "mock")
			} else {
				assert.NoError(t, err)
			}
			env.mock.AssertExpectations(t)
			assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.Operations.WithLabelValues(storage.MemoryAlias, "delete_all_trash", metrics.OutcomeOK)))
		})
	}
}

func TestRouter_DeleteAllTrashJoinsEveryFailure(t *testing.T) {
	log := newTestLogger()
	errA := errors.New("bucket unavailable")
	errB := errors.New("vault sealed")

	failingA := &MockResolver{alias: "s3-eu"}
	failingA.On("DeleteAllTrash", mock.Anything).Return(errA)
	failingB := &MockResolver{alias: "vault"}
	failingB.On("DeleteAllTrash", mock.Anything).Return(errB)
	healthy := &MockResolver{alias: "file-system"}
	healthy.On("DeleteAllTrash", mock.Anything).Return(nil)

	registry := storage.NewRegistry(log)
	for _, m := range []*MockResolver{failingA, failingB, healthy} {
		require.NoError(t, registry.Register(m))
	}
	registry.Seal()

	snap, err := catalog.NewSnapshot()
	require.NoError(t, err)
	rm, err := metrics.NewResolverMetrics("test", prometheus.NewRegistry())
	require.NoError(t, err)

	err = New(log, snap, registry, rm).DeleteAllTrash(t.Context())
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Contains(t, err.Error(), "s3-eu")
	assert.Contains(t, err.Error(), "vault")

	for _, m := range []*MockResolver{failingA, failingB, healthy} {
		m.AssertExpectations(t)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(rm.Operations.WithLabelValues("file-system", "delete_all_trash", metrics.OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(rm.Operations.WithLabelValues("vault", "delete_all_trash", metrics.OutcomeError)))
}

func TestRouter_Records(t *testing.T) {
	env := newTestEnv(t)

	w, err := env.router.GetOutputStream(t.Context(), "releases", jarPath)
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())

	records, err := env.router.Records(t.Context(), storage.MemoryAlias)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "releases", records[0].RepositoryID)
	assert.Equal(t, int64(5), records[0].SizeBytes)
	assert.Equal(t, interfaces.StateExists, records[0].State)

	_, err = env.router.Records(t.Context(), "mock")
	assert.ErrorIs(t, err, ErrNotTracked)

	_, err = env.router.Records(t.Context(), "missing")
	assert.ErrorIs(t, err, interfaces.ErrUnknownResolver)
}

func TestRouter_Metrics(t *testing.T) {
	env := newTestEnv(t)

	_, err := readAll(t, env.router, "releases", jarPath)
	require.ErrorIs(t, err, interfaces.ErrArtifactNotFound)

	w, err := env.router.GetOutputStream(t.Context(), "releases", jarPath)
	require.NoError(t, err)
	_, err = w.Write(make([]byte, 42))
	require.NoError(t, err)
	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())

	data, err := readAll(t, env.router, "releases", jarPath)
	require.NoError(t, err)
	require.Len(t, data, 42)

	_, err = env.router.GetInputStream(t.Context(), "releases", "com/example")
	require.Error(t, err)

	ops := env.metrics.Operations
	assert.Equal(t, 1.0, testutil.ToFloat64(ops.WithLabelValues(storage.MemoryAlias, "get", metrics.OutcomeNotFound)))
	assert.Equal(t, 1.0, testutil.ToFloat64(ops.WithLabelValues(storage.MemoryAlias, "get", metrics.OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(ops.WithLabelValues(storage.MemoryAlias, "put", metrics.OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(ops.WithLabelValues(storage.MemoryAlias, "validate", metrics.OutcomeRejected)))
	assert.Equal(t, 42.0, testutil.ToFloat64(env.metrics.Bytes.WithLabelValues(storage.MemoryAlias, "in")))
	assert.Equal(t, 42.0, testutil.ToFloat64(env.metrics.Bytes.WithLabelValues(storage.MemoryAlias, "out")))
}

func TestRouter_NilMetrics(t *testing.T) {
	env := newTestEnv(t)
	r := New(newTestLogger(), env.catalog, env.registry, nil)

	w, err := r.GetOutputStream(t.Context(), "releases", jarPath)
	require.NoError(t, err)
	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())

	data, err := readAll(t, r, "releases", jarPath)
	require.NoError(t, err)
	assert.Len(t, data, storage.DefaultPlaceholderSize)
}
