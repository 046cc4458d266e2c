package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clubhouse/meetings-server/internal/api"
	"github.com/clubhouse/meetings-server/internal/config"
	"github.com/clubhouse/meetings-server/internal/live"
	"github.com/clubhouse/meetings-server/internal/metrics"
	"github.com/clubhouse/meetings-server/internal/repository"
	"github.com/clubhouse/meetings-server/internal/service"
	"github.com/clubhouse/meetings-server/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration
	cfg := config.LoadConfig()

	logger := utils.NewLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	// Set up database connection
	db, err := config.SetupDatabase(cfg)
	if err != nil {
		logger.Error("failed to set up database", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("database ready", "driver", cfg.Database.Driver)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(registry)
	if err != nil {
		logger.Error("failed to set up metrics", "error", err)
		os.Exit(1)
	}

	// Create repository, live registry and service
	repo := repository.NewSQLRepository(db)
	viewers := live.NewRegistry(logger, m)
	svc := service.NewDefaultService(repo, viewers, service.Options{
		DefaultLanguage: cfg.Meeting.DefaultLanguage,
		Logger:          logger,
		Metrics:         m,
	})

	// Create API handler
	opts := api.Options{
		Logger:      logger,
		IdleTimeout: cfg.Server.WSIdleTimeout,
	}
	if cfg.Server.MetricsEnabled {
		opts.Gatherer = registry
	}
	handler := api.NewHandler(svc, viewers, api.NewJWTVerifier(cfg.Auth.JWTSecret), opts)

	// Set up Gin router
	router := gin.New()
	router.Use(gin.Recovery(), api.RequestLogger(logger))
	handler.SetupRoutes(router)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Shutdown does not wait for hijacked websocket connections
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
		}
	}()

	// Start server
	logger.Info("starting server", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
