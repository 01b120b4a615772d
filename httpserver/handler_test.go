package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/artifact-resolver/catalog"
	"github.com/ruteri/artifact-resolver/interfaces"
	"github.com/ruteri/artifact-resolver/router"
	"github.com/ruteri/artifact-resolver/storage"
	"github.com/ruteri/artifact-resolver/tracker"
)

const jarURL = "/storages/releases/com/example/foo/1.0/foo-1.0.jar"

// MockRouter implements ArtifactRouter for testing
type MockRouter struct {
	mock.Mock
}

func (m *MockRouter) GetInputStream(ctx context.Context, repositoryID, path string) (io.ReadCloser, error) {
	args := m.Called(ctx, repositoryID, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

func (m *MockRouter) GetOutputStream(ctx context.Context, repositoryID, path string) (interfaces.ArtifactWriter, error) {
	args := m.Called(ctx, repositoryID, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(interfaces.ArtifactWriter), args.Error(1)
}

func (m *MockRouter) Delete(ctx context.Context, repositoryID, path string, force bool) error {
	return m.Called(ctx, repositoryID, path, force).Error(0)
}

func (m *MockRouter) DeleteTrash(ctx context.Context, repositoryID string) error {
	return m.Called(ctx, repositoryID).Error(0)
}

func (m *MockRouter) DeleteAllTrash(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockRouter) Records(ctx context.Context, alias string) ([]interfaces.ResourceRecord, error) {
	args := m.Called(ctx, alias)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]interfaces.ResourceRecord), args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, r ArtifactRouter) *Server {
	t.Helper()
	log := newTestLogger()
	srv, err := New(&HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      log,
		GracefulShutdownDuration: time.Second,
	}, NewHandler(r, log), nil)
	require.NoError(t, err)
	return srv
}

// newStackServer wires "releases" to an in-memory resolver and "files"
// (trash enabled) to a file-system resolver, both in storage0.
func newStackServer(t *testing.T) *Server {
	t.Helper()
	log := newTestLogger()

	snap, err := catalog.NewSnapshot(&interfaces.Storage{ID: "storage0", Repositories: map[string]*interfaces.Repository{
		"releases": {ID: "releases", ResolverAlias: storage.MemoryAlias},
		"files":    {ID: "files", ResolverAlias: storage.FileSystemAlias, TrashEnabled: true},
	}})
	require.NoError(t, err)

	registry := storage.NewRegistry(log)
	require.NoError(t, registry.Register(storage.NewMemoryResolver(storage.MemoryAlias, snap, tracker.NewMemoryTracker(), 0, log)))
	require.NoError(t, registry.Register(storage.NewFileResolver(storage.FileSystemAlias, t.TempDir(), snap, log)))
	registry.Seal()
	require.NoError(t, registry.Initialize(t.Context()))

	return newTestServer(t, router.New(log, snap, registry, nil))
}

func do(t *testing.T, srv *Server, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestArtifactLifecycle_InMemory(t *testing.T) {
	srv := newStackServer(t)

	rec := do(t, srv, http.MethodGet, jarURL, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodPut, jarURL, http.NoBody)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, srv, http.MethodGet, jarURL, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, storage.DefaultPlaceholderSize, rec.Body.Len())
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))

	rec = do(t, srv, http.MethodGet, "/api/v1/records/"+storage.MemoryAlias, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var records []interfaces.ResourceRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, int64(storage.DefaultPlaceholderSize), records[0].SizeBytes)
	assert.Equal(t, interfaces.StateExists, records[0].State)

	rec = do(t, srv, http.MethodDelete, jarURL, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, srv, http.MethodGet, jarURL, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodDelete, jarURL, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodDelete, jarURL+"?force=true", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestArtifactLifecycle_FileSystem(t *testing.T) {
	srv := newStackServer(t)
	url := "/storages/files/com/example/foo/1.0/foo-1.0.jar"
	payload := []byte("jar bytes")

	rec := do(t, srv, http.MethodPut, url, bytes.NewReader(payload))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, srv, http.MethodGet, url, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payload, rec.Body.Bytes())

	rec = do(t, srv, http.MethodDelete, "/storages/files/com/example/foo/1.0", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, srv, http.MethodGet, url, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	for range 2 {
		rec = do(t, srv, http.MethodDelete, "/api/v1/trash/files", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		rec = do(t, srv, http.MethodDelete, "/api/v1/trash", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}

	rec = do(t, srv, http.MethodGet, "/api/v1/records/"+storage.FileSystemAlias, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestErrors_Stack(t *testing.T) {
	srv := newStackServer(t)

	tests := []struct {
		name       string
		method     string
		target     string
		wantStatus int
	}{
		{name: "unknown repository", method: http.MethodGet, target: "/storages/nope/com/example/foo/1.0/foo-1.0.jar", wantStatus: http.StatusNotFound},
		{name: "malformed path", method: http.MethodGet, target: "/storages/releases/com/example", wantStatus: http.StatusBadRequest},
		{name: "hidden segment", method: http.MethodPut, target: "/storages/files/com/example/.temp/1.0/foo-1.0.jar", wantStatus: http.StatusBadRequest},
		{name: "invalid force", method: http.MethodDelete, target: jarURL + "?force=maybe", wantStatus: http.StatusBadRequest},
		{name: "unknown trash repository", method: http.MethodDelete, target: "/api/v1/trash/nope", wantStatus: http.StatusNotFound},
		{name: "unknown alias records", method: http.MethodGet, target: "/api/v1/records/missing", wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, tt.method, tt.target, nil)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

type failingBody struct{}

func (failingBody) Read([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

type mockWriter struct {
	mock.Mock
	bytes.Buffer
}

func (w *mockWriter) Commit() error { return w.Called().Error(0) }
func (w *mockWriter) Close() error  { return w.Called().Error(0) }

func TestHandler_ErrorMapping(t *testing.T) {
	ioErr := interfaces.NewIOError("read", "releases", "com/example/foo/1.0/foo-1.0.jar", errors.New("disk failure"))

	tests := []struct {
		name       string
		method     string
		body       io.Reader
		setupMocks func(*MockRouter)
		wantStatus int
	}{
		{
			name:   "io error on read",
			method: http.MethodGet,
			setupMocks: func(m *MockRouter) {
				m.On("GetInputStream", mock.Anything, "releases", "com/example/foo/1.0/foo-1.0.jar").Return(nil, ioErr)
			},
			wantStatus: http.StatusBadGateway,
		},
		{
			name:   "unknown resolver",
			method: http.MethodGet,
			setupMocks: func(m *MockRouter) {
				m.On("GetInputStream", mock.Anything, "releases", mock.Anything).Return(nil, fmt.Errorf("%w: gone", interfaces.ErrUnknownResolver))
			},
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:   "commit failure",
			method: http.MethodPut,
			body:   strings.NewReader("data"),
			setupMocks: func(m *MockRouter) {
				w := &mockWriter{}
				w.On("Commit").Return(interfaces.NewIOError("commit", "releases", "x", errors.New("bucket gone")))
				w.On("Close").Return(nil)
				m.On("GetOutputStream", mock.Anything, "releases", mock.Anything).Return(w, nil)
			},
			wantStatus: http.StatusBadGateway,
		},
		{
			name:   "aborted upload is not committed",
			method: http.MethodPut,
			body:   failingBody{},
			setupMocks: func(m *MockRouter) {
				w := &mockWriter{}
				w.On("Close").Return(nil)
				m.On("GetOutputStream", mock.Anything, "releases", mock.Anything).Return(w, nil)
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:   "delete forwards force",
			method: http.MethodDelete,
			setupMocks: func(m *MockRouter) {
				m.On("Delete", mock.Anything, "releases", "com/example/foo/1.0/foo-1.0.jar", false).Return(ioErr)
			},
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &MockRouter{}
			tt.setupMocks(m)
			srv := newTestServer(t, m)

			rec := do(t, srv, tt.method, jarURL, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			m.AssertExpectations(t)

			for _, call := range m.Calls {
				if call.Method != "GetOutputStream" {
					continue
				}
				w := call.ReturnArguments.Get(0).(*mockWriter)
				w.AssertExpectations(t)
				if tt.name == "aborted upload is not committed" {
					w.AssertNotCalled(t, "Commit")
				}
			}
		})
	}
}

func TestHandler_DeleteAllTrashFailure(t *testing.T) {
	m := &MockRouter{}
	m.On("DeleteAllTrash", mock.Anything).Return(errors.Join(errors.New("s3: access denied")))
	srv := newTestServer(t, m)

	rec := do(t, srv, http.MethodDelete, "/api/v1/trash", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	m.AssertExpectations(t)
}

func TestHandler_EmptyRecords(t *testing.T) {
	m := &MockRouter{}
	m.On("Records", mock.Anything, "in-memory").Return(nil, nil)
	srv := newTestServer(t, m)

	rec := do(t, srv, http.MethodGet, "/api/v1/records/in-memory", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t, &MockRouter{})

	tests := []struct {
		target     string
		wantStatus int
		wantBody   string
	}{
		{target: "/livez", wantStatus: http.StatusOK, wantBody: `{"status":"alive"}`},
		{target: "/readyz", wantStatus: http.StatusOK, wantBody: `{"status":"ready"}`},
		{target: "/drain", wantStatus: http.StatusOK, wantBody: `{"status":"draining"}`},
		{target: "/drain", wantStatus: http.StatusOK, wantBody: `{"status":"already draining"}`},
		{target: "/readyz", wantStatus: http.StatusServiceUnavailable, wantBody: `{"status":"not ready"}`},
		{target: "/undrain", wantStatus: http.StatusOK, wantBody: `{"status":"ready"}`},
		{target: "/undrain", wantStatus: http.StatusOK, wantBody: `{"status":"already ready"}`},
		{target: "/readyz", wantStatus: http.StatusOK, wantBody: `{"status":"ready"}`},
	}

	for _, tt := range tests {
		rec := do(t, srv, http.MethodGet, tt.target, nil)
		assert.Equal(t, tt.wantStatus, rec.Code, tt.target)
		assert.JSONEq(t, tt.wantBody, rec.Body.String(), tt.target)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "artifact not found", err: interfaces.ErrArtifactNotFound, want: http.StatusNotFound},
		{name: "repository not found", err: fmt.Errorf("%w: x", interfaces.ErrRepositoryNotFound), want: http.StatusNotFound},
		{name: "not tracked", err: router.ErrNotTracked, want: http.StatusNotFound},
		{name: "parse error", err: &interfaces.ParseError{Path: "a", Reason: "b"}, want: http.StatusBadRequest},
		{name: "io error", err: &interfaces.IOError{Op: "read", Err: errors.New("x")}, want: http.StatusBadGateway},
		{name: "request error", err: &RequestError{StatusCode: http.StatusTeapot, Err: errors.New("x")}, want: http.StatusTeapot},
		{name: "unknown resolver", err: interfaces.ErrUnknownResolver, want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
