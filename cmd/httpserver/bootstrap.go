package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v2"

	"github.com/ruteri/artifact-resolver/catalog"
	"github.com/ruteri/artifact-resolver/cmd/flags"
	"github.com/ruteri/artifact-resolver/common"
	"github.com/ruteri/artifact-resolver/httpserver"
	"github.com/ruteri/artifact-resolver/interfaces"
	"github.com/ruteri/artifact-resolver/metrics"
	"github.com/ruteri/artifact-resolver/router"
	"github.com/ruteri/artifact-resolver/storage"
	"github.com/ruteri/artifact-resolver/tracker"
)

// trackerPrefix namespaces shared tracker keys per resolver alias.
const trackerPrefix = "artifact-resolver"

type service struct {
	catalog  *catalog.FileCatalog
	registry *storage.Registry
	server   *httpserver.Server
}

// bootstrap loads the catalog, builds and initializes every declared
// resolver and assembles the HTTP server. Nothing is listening yet.
func bootstrap(ctx context.Context, cCtx *cli.Context, logger *slog.Logger) (*service, error) {
	catalogPath := cCtx.String(flags.CatalogFileFlag.Name)
	trackerURL := cCtx.String(flags.TrackerURLFlag.Name)

	logger.Info("Loading storage catalog", "path", catalogPath)
	fileCatalog, cfg, err := catalog.NewFileCatalog(catalogPath, logger)
	if err != nil {
		return nil, err
	}

	trackerFor := func(ctx context.Context, alias string) (interfaces.ResourceStateTracker, error) {
		return tracker.Open(ctx, trackerURL, fmt.Sprintf("%s:%s", trackerPrefix, alias), logger)
	}

	factory := storage.NewResolverFactory(logger, fileCatalog, trackerFor)
	clientCert, err := flags.LoadClientCert(cCtx)
	if err != nil {
		return nil, err
	}
	if clientCert != nil {
		factory = factory.WithTLSAuth(*clientCert)
	}

	registry := storage.NewRegistry(logger)
	if err := factory.RegisterAll(ctx, registry, cfg.Resolvers); err != nil {
		return nil, errors.Join(err, registry.Close())
	}
	registry.Seal()

	if err := fileCatalog.SetValidator(func(s *catalog.Snapshot) error {
		return registry.Validate(s)
	}); err != nil {
		return nil, errors.Join(fmt.Errorf("catalog references unregistered resolvers: %w", err), registry.Close())
	}

	if err := registry.Initialize(ctx); err != nil {
		return nil, errors.Join(err, registry.Close())
	}
	logger.Info("Resolvers initialized", "aliases", registry.Aliases())

	serverCfg := flags.ConfigureServer(cCtx, logger)
	metricsSrv, err := metrics.New(common.MetricsNamespace, serverCfg.MetricsAddr)
	if err != nil {
		return nil, errors.Join(err, registry.Close())
	}

	r := router.New(logger, fileCatalog, registry, metricsSrv.Resolver())
	server, err := httpserver.New(serverCfg, httpserver.NewHandler(r, logger), metricsSrv)
	if err != nil {
		return nil, errors.Join(err, registry.Close())
	}

	return &service{
		catalog:  fileCatalog,
		registry: registry,
		server:   server,
	}, nil
}
