package flags

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/ruteri/artifact-resolver/common"
	"github.com/ruteri/artifact-resolver/httpserver"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String(LogServiceFlag.Name)

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) *httpserver.HTTPServerConfig {
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &httpserver.HTTPServerConfig{
		ListenAddr:               cCtx.String(ListenAddrFlag.Name),
		MetricsAddr:              cCtx.String(MetricsAddrFlag.Name),
		Log:                      logger,
		EnablePprof:              cCtx.Bool(PprofFlag.Name),
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		// Artifact transfers can be long; the write deadline covers the whole response.
		WriteTimeout: 10 * time.Minute,
	}
}

// LoadClientCert loads the client certificate presented to remote resolvers.
// It returns nil when no certificate is configured.
func LoadClientCert(cCtx *cli.Context) (*tls.Certificate, error) {
	certFile := cCtx.String(ClientCertFlag.Name)
	keyFile := cCtx.String(ClientKeyFlag.Name)
	if certFile == "" && keyFile == "" {
		return nil, nil
	}
	if certFile == "" || keyFile == "" {
		return nil, fmt.Errorf("both --%s and --%s are required", ClientCertFlag.Name, ClientKeyFlag.Name)
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}
	return &cert, nil
}

var ListenAddrFlag = &cli.StringFlag{
	Name:    "listen-addr",
	Value:   "127.0.0.1:8080",
	Usage:   "address to listen on for API",
	EnvVars: []string{"LISTEN_ADDR"},
}

var CatalogFileFlag = &cli.StringFlag{
	Name:     "catalog",
	Required: true,
	Usage:    "YAML file declaring resolvers, storages and repositories",
	EnvVars:  []string{"CATALOG_FILE"},
}

var WatchCatalogFlag = &cli.BoolFlag{
	Name:  "watch-catalog",
	Value: false,
	Usage: "reload storages and repositories when the catalog file changes",
}

var TrackerURLFlag = &cli.StringFlag{
	Name:    "tracker",
	Value:   "memory://",
	Usage:   "resource tracker for resolvers without a queryable medium: memory:// or redis://host:port/db",
	EnvVars: []string{"TRACKER_URL"},
}

var ClientCertFlag = &cli.StringFlag{
	Name:  "client-cert",
	Usage: "PEM client certificate presented to vault resolvers",
}

var ClientKeyFlag = &cli.StringFlag{
	Name:  "client-key",
	Usage: "PEM private key of --client-cert",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}
var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: "artifact-resolver",
	Usage: "add 'service' tag to logs",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}
