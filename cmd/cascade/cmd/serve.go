package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/solatis/cascade/internal/core/api"
	"github.com/solatis/cascade/internal/core/auth"
	"github.com/solatis/cascade/internal/core/config"
	"github.com/solatis/cascade/internal/core/db"
	"github.com/solatis/cascade/internal/core/server"
	"github.com/solatis/cascade/internal/rules"
	"github.com/solatis/cascade/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gRPC cascade service",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "0.0.0.0", "gRPC server host")
	serveCmd.Flags().Int("port", 50061, "gRPC server port")
	serveCmd.Flags().String("metrics-addr", ":9090", "metrics and health listen address (empty disables)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Metrics.Addr, _ = cmd.Flags().GetString("metrics-addr")
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	database, queries, rs, err := openStore()
	if err != nil {
		return err
	}
	defer database.Close()

	if err := requireMigrations(database); err != nil {
		return err
	}

	secrets, err := config.HMACSecrets()
	if err != nil {
		return fmt.Errorf("failed to load HMAC secrets: %w", err)
	}
	if len(secrets) == 0 {
		return fmt.Errorf("no HMAC secrets configured (set %s_HMAC_SECRET environment variable)", config.EnvPrefix)
	}

	metrics := telemetry.NewMetrics()
	engine := rules.NewEngine(
		rules.WithPassBudget(cfg.Engine.PassBudget),
		rules.WithLogger(logger.Named("engine")),
		rules.WithObserver(metrics),
	)

	service, err := api.NewCascadeService(rs, engine, cfg, logger.Named("api"))
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	grpcServer, err := server.NewGRPCServer(cfg, service, auth.NewAuthenticator(secrets, queries), logger.Named("grpc"), metrics.UnaryInterceptor())
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 2)

	var metricsServer *http.Server
	if cfg.Metrics.Addr != "" {
		metricsServer = metrics.Server(cfg.Metrics.Addr, database.PingContext)
		go func() {
			logger.Info("metrics listening", zap.String("addr", cfg.Metrics.Addr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	logger.Info("starting cascade service",
		zap.String("version", Version),
		zap.String("addr", grpcServer.Addr()),
		zap.Int("pass_budget", engine.PassBudget()),
	)
	go func() {
		errChan <- grpcServer.Start(ctx)
	}()

	var runErr error
	select {
	case runErr = <-errChan:
	case <-ctx.Done():
		logger.Info("shutting down gracefully")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	if err := grpcServer.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// requireMigrations refuses to serve against a schema that is behind.
func requireMigrations(database *sqlx.DB) error {
	statuses, err := db.MigrateStatus(database)
	if err != nil {
		return fmt.Errorf("failed to check migrations: %w", err)
	}
	for _, st := range statuses {
		if !st.Applied {
			return fmt.Errorf("migration %s not applied - run 'cascade migrate up' first", st.ID)
		}
	}
	return nil
}
