package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"dealfiles/internal/blobstore"
	"dealfiles/internal/config"
	"dealfiles/internal/server"
	"dealfiles/internal/store"
	"dealfiles/internal/store/pgcatalog"
)

// catalogBackend is what srv needs from a metadata backend.
type catalogBackend interface {
	store.AttachmentCatalog
	store.DealRegistry
	Close() error
}

func newSrvCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "srv",
		Short: "Run the dealfiles API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg == nil {
				return fmt.Errorf("config not initialized")
			}

			logger := slog.Default().With("component", "server")

			addr, err := server.ListenAddr(cfg.APIURL)
			if err != nil {
				return err
			}

			catalog, err := openCatalog(cfg, logger)
			if err != nil {
				return err
			}
			defer catalog.Close()

			logger.Info("opening blob store", "root", cfg.Blobs.Root)
			blobs, err := blobstore.NewLocalFS(cfg.Blobs.Root)
			if err != nil {
				return err
			}

			srv := server.New(addr, catalog, catalog, blobs, server.Options{
				MaxUploadBytes:     cfg.Uploads.MaxUploadBytes,
				MultipartMaxMemory: cfg.Uploads.MultipartMaxMemory,
				OrphanGrace:        cfg.OrphanGraceDuration(),
				APIToken:           cfg.APIToken,
				Logger:             logger,
			})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.ListenAndServe(ctx)
		},
	}
}

func openCatalog(cfg *config.Config, logger *slog.Logger) (catalogBackend, error) {
	switch cfg.Catalog.Driver {
	case config.CatalogDriverPostgres:
		logger.Info("opening postgres catalog")
		catalog, err := pgcatalog.Open(cfg.Catalog.DSN)
		if err != nil {
			return nil, err
		}
		return catalog, nil
	case config.CatalogDriverSQLite, "":
		if cfg.DBPath == "" {
			return nil, fmt.Errorf("db path is required")
		}
		logger.Info("opening database", "path", cfg.DBPath)
		st, err := store.Open(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unsupported catalog driver %q", cfg.Catalog.Driver)
	}
}
