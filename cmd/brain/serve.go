//go:build !test

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jbweber/homelab/brain/internal/api"
	"github.com/jbweber/homelab/brain/internal/config"
	"github.com/jbweber/homelab/brain/internal/domain"
	"github.com/jbweber/homelab/brain/internal/efi"
	"github.com/jbweber/homelab/brain/internal/gateway"
	"github.com/jbweber/homelab/brain/internal/logging"
	"github.com/jbweber/homelab/brain/internal/metrics"
	"github.com/jbweber/homelab/brain/internal/remote"
	"github.com/jbweber/homelab/brain/internal/repository"
	"github.com/jbweber/homelab/brain/internal/service"
	"github.com/jbweber/homelab/brain/internal/storage"
	"github.com/jbweber/homelab/brain/internal/systemdisk"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log, closer, err := setupLogging(cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

func newMigrateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the inventory database and exit",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log, closer, err := setupLogging(cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			ds, err := cfg.InitializeDatabase()
			if err != nil {
				return err
			}
			log.WithField("db_path", cfg.DBPath).Info("database is up to date")
			return ds.DB.Close()
		},
	}
}

// setupLogging builds the process logger and points the standard logger,
// used by the backend clients, at the same output.
func setupLogging(cfg *config.Config) (*logrus.Logger, io.Closer, error) {
	log, closer, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	std := logrus.StandardLogger()
	std.SetOutput(log.Out)
	std.SetFormatter(log.Formatter)
	std.SetLevel(log.Level)
	std.ReplaceHooks(log.Hooks)
	return log, closer, nil
}

func serve(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	ds, err := cfg.InitializeDatabase()
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer ds.DB.Close()
	inv := repository.NewInventory(ds)

	collector := metrics.NewCollector()
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collector,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store := storage.NewClient(storage.Options{
		Port:               cfg.Storage.Port,
		Username:           cfg.Storage.Username,
		Password:           cfg.Storage.Password,
		Timeout:            cfg.Storage.Timeout,
		TokenTTL:           cfg.Storage.TokenTTL,
		InsecureSkipVerify: cfg.Storage.InsecureSkipVerify,
		OnLogin:            collector.ObserveLogin,
	})
	agent := gateway.NewClient(gateway.Options{
		Port:          cfg.Agent.Port,
		Username:      cfg.Agent.Username,
		Password:      cfg.Agent.Password,
		Timeout:       cfg.Agent.Timeout,
		TokenTTL:      cfg.Agent.TokenTTL,
		BlockUser:     cfg.Agent.BlockUser,
		BlockPassword: cfg.Agent.BlockPassword,
		VQCount:       cfg.Agent.VQCount,
		VQSize:        cfg.Agent.VQSize,
		OnLogin:       collector.ObserveLogin,
	})
	boot := efi.NewManager(remote.NewSSHExecutor(cfg.Remote.Timeout), efi.Options{
		Loader:        cfg.Provision.EFILoader,
		SettleDelay:   cfg.Provision.SettleDelay,
		SizeTolerance: cfg.Provision.SizeToleranceGB * domain.GiB,
	})

	stores := api.Stores{
		Hosts:      service.NewHosts(inv, boot, cfg.Provision.BMCOctet, cfg.Provision.BMCValue),
		Gateways:   service.NewGateways(inv, agent),
		Images:     service.NewImages(inv, store, cfg.Provision.SnapshotName, collector),
		Interfaces: service.NewInterfaces(inv, agent, collector),
		SystemDisks: systemdisk.NewService(inv, store, agent, boot, systemdisk.Options{
			ClonePool:    cfg.Provision.ClonePool,
			ImagePool:    cfg.Provision.ImagePool,
			SnapshotName: cfg.Provision.SnapshotName,
			Nameservers:  cfg.Provision.Nameservers,
		}, collector),
	}

	r := chi.NewRouter()
	api.NewAPI(log, stores, promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).RegisterRoutes(r)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.WithField("listen", cfg.Listen).Info("starting brain API")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
