/*
Package httpserver exposes the artifact router over HTTP.

Requests are routed with chi and access-logged through the flashbots
httplogger middleware. Metrics are served by a separate listener.

# Artifact Endpoints

  - GET /storages/{repositoryId}/{path} - Stream a committed artifact
  - PUT /storages/{repositoryId}/{path} - Store the body; committed only when fully received
  - DELETE /storages/{repositoryId}/{path}[?force=true] - Delete an artifact or version directory

# Maintenance Endpoints

  - DELETE /api/v1/trash/{repositoryId} - Empty one repository's trash
  - DELETE /api/v1/trash - Empty the trash of every resolver
  - GET /api/v1/records/{alias} - List the resource records of a tracked resolver
  - GET /livez - Liveness check
  - GET /readyz - Readiness check
  - GET /drain - Gracefully mark server as not ready
  - GET /undrain - Mark server as ready
  - /debug/* - pprof, when enabled

# Status Codes

  - 404 - artifact not found, repository not found, resolver keeps no records
  - 400 - malformed artifact path or query parameter
  - 502 - failure of the underlying medium
  - 500 - unregistered resolver alias and other misconfiguration

# Example Usage

	metricsSrv, err := metrics.New(common.MetricsNamespace, ":9090")
	if err != nil {
		return err
	}
	r := router.New(logger, catalog, registry, metricsSrv.Resolver())

	cfg := &httpserver.HTTPServerConfig{
		ListenAddr:               ":8080",
		MetricsAddr:              ":9090",
		Log:                      logger,
		DrainDuration:            30 * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
	}
	server, err := httpserver.New(cfg, httpserver.NewHandler(r, logger), metricsSrv)
	if err != nil {
		return err
	}
	server.RunInBackground()
	defer server.Shutdown()
*/
package httpserver
