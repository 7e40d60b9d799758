package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quantalpha/riskgate/internal/config"
	httpserver "github.com/quantalpha/riskgate/internal/interfaces/http"
	"github.com/quantalpha/riskgate/internal/metrics"
	"github.com/quantalpha/riskgate/internal/persistence"
	"github.com/quantalpha/riskgate/internal/persistence/postgres"
	"github.com/quantalpha/riskgate/internal/risk"
)

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the risk admission HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to YAML config (defaults apply when empty)")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
		log.Info().Str("path", configPath).Msg("configuration loaded")
	} else {
		log.Info().Msg("no config file given, using defaults")
	}

	controller := risk.NewController(cfg.Limits, cfg.StrategyLimits, cfg.KillSwitch)
	reg := metrics.NewRegistry()

	var audit persistence.AuditRepo
	if cfg.Audit.Enabled {
		db, err := postgres.Connect(cfg.Audit.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect audit database: %w", err)
		}
		defer db.Close()
		audit = postgres.NewAuditRepo(db, cfg.Audit.Timeout.Std())
		log.Info().Msg("decision audit log enabled")
	}

	if cfg.Checkpoint.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr: cfg.Checkpoint.RedisAddr,
			DB:   cfg.Checkpoint.RedisDB,
		})
		defer client.Close()

		store := risk.NewCheckpointStore(client, cfg.Checkpoint)
		if snap, ok, err := store.Load(ctx); err != nil {
			log.Warn().Err(err).Msg("checkpoint load failed, starting fresh")
		} else if ok {
			controller.Restore(snap)
			log.Info().
				Time("snapshot_time", snap.SnapshotTime).
				Bool("kill_switch", snap.KillSwitchActive).
				Msg("risk state restored from checkpoint")
		}
		go store.Run(ctx, controller, cfg.Checkpoint.Interval.Std())
	}

	server := httpserver.NewServer(cfg.Server, controller, reg, audit)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
