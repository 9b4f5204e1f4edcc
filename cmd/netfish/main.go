package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"netfish/internal/config"
	"netfish/internal/database"
	"netfish/internal/harvest"
	"netfish/internal/metrics"
	"netfish/internal/server"
	"netfish/internal/session"
	"netfish/internal/simulator"
)

func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, closeRepo := openRepository(ctx, logger, cfg.Database)
	defer closeRepo()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics("netfish", reg)

	engine := simulator.NewEngine(logger, cfg.Simulation)
	defer engine.Destroy()

	sess := session.New(logger, engine, repo)
	go sess.Run(ctx)

	srv := server.New(logger, cfg, server.Deps{
		Engine:   engine,
		Session:  sess,
		Harvest:  harvest.NewService(logger, repo, engine, cfg.Harvest),
		Repo:     repo,
		Metrics:  m,
		Gatherer: reg,
	})
	go srv.Hub().Run(ctx)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("HTTP server listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	engine.Destroy()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", "error", err)
	}
}

// openRepository connects to postgres when configured and falls back to
// discarding writes otherwise.
func openRepository(ctx context.Context, logger *slog.Logger, cfg config.DatabaseConfig) (database.Repository, func()) {
	if !cfg.Enabled() {
		logger.Info("No database configured, history is not persisted")
		return database.Discard{}, func() {}
	}

	repo, err := database.NewPostgresRepository(ctx, cfg.DSN())
	if err != nil {
		logger.Error("Failed to connect to database, history is not persisted", "error", err)
		return database.Discard{}, func() {}
	}
	if err := repo.Migrate(ctx); err != nil {
		logger.Error("Failed to migrate database", "error", err)
		repo.Close()
		return database.Discard{}, func() {}
	}
	logger.Info("Connected to database", "host", cfg.Host, "db", cfg.DBName)
	return repo, repo.Close
}
