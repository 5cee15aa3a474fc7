package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/oddsforge/pickgate/internal/audit"
	"github.com/oddsforge/pickgate/internal/cache"
	"github.com/oddsforge/pickgate/internal/config"
	"github.com/oddsforge/pickgate/internal/engine"
	"github.com/oddsforge/pickgate/internal/hardstop"
	httpserver "github.com/oddsforge/pickgate/internal/interfaces/http"
	"github.com/oddsforge/pickgate/internal/interfaces/ws"
	applog "github.com/oddsforge/pickgate/internal/log"
	"github.com/oddsforge/pickgate/internal/persistence"
	"github.com/oddsforge/pickgate/internal/persistence/memory"
	"github.com/oddsforge/pickgate/internal/persistence/postgres"
	"github.com/oddsforge/pickgate/internal/policy"
)

var servePretty bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the policy evaluation engine",
	Long: `Start the HTTP server exposing evaluation, hard-stop and policy
config endpoints. With an empty database DSN the engine runs on
in-memory repositories, which is only suitable for development.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&servePretty, "pretty", false, "Human-readable log output")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return err
	}
	applog.Setup(cfg.LogLevel, servePretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		hardStopRepo hardstop.StateRepo
		versionRepo  policy.VersionRepo
		decisionRepo persistence.DecisionRepo
		auditSink    audit.Sink
	)

	if cfg.Database.DSN != "" {
		db, err := postgres.Connect(ctx, cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			return err
		}

		hardStopRepo = postgres.NewHardStopRepo(db, cfg.Database.Timeout)
		versionRepo = postgres.NewVersionRepo(db, cfg.Database.Timeout)
		decisionRepo = postgres.NewDecisionRepo(db, cfg.Database.Timeout)
		auditSink = postgres.NewAuditSink(db, cfg.Database.Timeout)
		log.Info().Msg("Using postgres persistence")
	} else {
		hardStopRepo = memory.NewHardStopRepo()
		versionRepo = memory.NewVersionRepo()
		decisionRepo = memory.NewDecisionRepo()
		auditSink = audit.LogSink{}
		log.Warn().Msg("No database DSN configured, using in-memory persistence")
	}

	recorder := audit.NewBreakerRecorder(auditSink)
	versions := policy.NewVersionStore(versionRepo, recorder)
	machine := hardstop.NewMachine(hardStopRepo, recorder)

	eng := engine.New(versions, machine, decisionRepo, recorder).
		WithDecisionAuditPolicy(cfg.Audit.FailOpenDecisions)

	if err := seedPolicy(ctx, versions, cfg.PolicyPath); err != nil {
		return err
	}

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, running without cache")
		} else {
			eng.WithCache(cache.New(client, cfg.Redis.TTL))
			defer client.Close()
			log.Info().Str("addr", cfg.Redis.Addr).Msg("Redis cache enabled")
		}
	}

	hub := ws.NewHub()
	defer hub.Close()
	eng.WithBroadcast(hub.Broadcast)

	metrics := httpserver.NewMetricsRegistry()
	server := httpserver.NewServer(httpserver.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}, eng, hub, metrics)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// seedPolicy writes the bootstrap version when the ledger is empty
func seedPolicy(ctx context.Context, versions *policy.VersionStore, path string) error {
	if _, err := versions.ActiveConfig(ctx); err == nil {
		return nil
	} else if !policy.IsKind(err, policy.KindNotFound) {
		return err
	}

	cfg, err := policy.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("failed to load bootstrap policy: %w", err)
	}
	if _, err := versions.CreateVersion(ctx, *cfg, "bootstrap"); err != nil {
		return err
	}
	log.Info().Str("path", path).Str("version", cfg.Version).Msg("Seeded initial policy version")
	return nil
}
