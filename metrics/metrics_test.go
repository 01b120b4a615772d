package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolverMetrics(t *testing.T) {
	m, err := NewResolverMetrics("test", prometheus.NewRegistry())
	require.NoError(t, err)

	m.Observe("in-memory", "get", OutcomeOK, 10*time.Millisecond)
	m.Observe("in-memory", "get", OutcomeOK, 20*time.Millisecond)
	m.Observe("in-memory", "get", OutcomeNotFound, time.Millisecond)
	m.AddBytes("in-memory", "out", 10000)
	m.AddBytes("in-memory", "out", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Operations.WithLabelValues("in-memory", "get", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("in-memory", "get", OutcomeNotFound)))
	assert.Equal(t, 10000.0, testutil.ToFloat64(m.Bytes.WithLabelValues("in-memory", "out")))
}

func TestResolverMetrics_Nil(t *testing.T) {
	var m *ResolverMetrics
	assert.NotPanics(t, func() {
		m.Observe("a", "get", OutcomeOK, time.Second)
		m.AddBytes("a", "in", 1)
	})
}

func TestResolverMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewResolverMetrics("test", reg)
	require.NoError(t, err)
	_, err = NewResolverMetrics("test", reg)
	assert.Error(t, err)
}

func TestMetricsServer_Handler(t *testing.T) {
	srv, err := New("test", "127.0.0.1:0")
	require.NoError(t, err)
	srv.Resolver().Observe("file-system", "put", OutcomeOK, time.Millisecond)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `test_resolver_operations_total{alias="file-system",operation="put",outcome="ok"} 1`))
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}
