package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ruteri/artifact-resolver/cmd/flags"
)

// catalogDebounce coalesces bursts of file events from editors and config
// management tools into one reload.
const catalogDebounce = 500 * time.Millisecond

var appFlags = append([]cli.Flag{
	flags.ListenAddrFlag,
	flags.CatalogFileFlag,
	flags.WatchCatalogFlag,
	flags.TrackerURLFlag,
	flags.ClientCertFlag,
	flags.ClientKeyFlag,
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:  "artifact-resolver",
		Usage: "Serve artifact repositories from pluggable storage resolvers",
		Flags: appFlags,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			ctx, cancel := context.WithCancel(cCtx.Context)
			defer cancel()

			svc, err := bootstrap(ctx, cCtx, logger)
			if err != nil {
				logger.Error("Failed to start", "err", err)
				return err
			}

			if cCtx.Bool(flags.WatchCatalogFlag.Name) {
				go func() {
					if err := svc.catalog.Watch(ctx, catalogDebounce); err != nil {
						logger.Error("Catalog watcher stopped", "err", err)
					}
				}()
			}

			logger.Info("Starting server")
			svc.server.RunInBackground()

			// Wait for termination signal
			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			svc.server.Shutdown()
			cancel()
			if err := svc.registry.Close(); err != nil {
				logger.Error("Failed to close resolvers", "err", err)
			}
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
