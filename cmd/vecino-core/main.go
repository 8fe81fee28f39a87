package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vecinoapp/vecino-core/internal/cache"
	"github.com/vecinoapp/vecino-core/internal/config"
	"github.com/vecinoapp/vecino-core/internal/database"
	"github.com/vecinoapp/vecino-core/internal/gateway"
	"github.com/vecinoapp/vecino-core/internal/journal"
	"github.com/vecinoapp/vecino-core/internal/payment"
	"github.com/vecinoapp/vecino-core/internal/server"
	"github.com/vecinoapp/vecino-core/internal/verification"
	"github.com/vecinoapp/vecino-core/pkg/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	// Create logger; an unset LOG_LEVEL means info
	zapLogger, err := logger.NewLogger(os.Getenv("LOG_LEVEL"))
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		zapLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Connect to PostgreSQL
	db, err := database.NewPostgresDB(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	if err != nil {
		zapLogger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}

	journalStore, err := journal.NewStore(db, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to initialize journal store", zap.Error(err))
	}

	// Redis is optional; without it the payment snapshot cache is disabled
	var snapshots *cache.Snapshots
	if cfg.Redis.Address != "" {
		redisClient, err := database.NewRedisClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			zapLogger.Warn("Redis unavailable, running without snapshot cache", zap.Error(err))
		} else {
			snapshots = cache.NewSnapshots(redisClient, 30*time.Minute, zapLogger)
		}
	}

	gatewayClient, err := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.RequestTimeout, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create gateway client", zap.Error(err))
	}

	verifications, err := verification.NewManager(verification.ManagerConfig{
		Gateway:        gatewayClient,
		Journal:        journalStore,
		Logger:         zapLogger,
		PollInterval:   cfg.Polling.Interval,
		DefaultPageURL: cfg.Handoff.BaseURL,
		QRSize:         cfg.Handoff.QRSize,
	})
	if err != nil {
		zapLogger.Fatal("Failed to create verification manager", zap.Error(err))
	}

	payments, err := payment.NewManager(payment.ManagerConfig{
		Gateway:     gatewayClient,
		Journal:     journalStore,
		Cache:       snapshots,
		Logger:      zapLogger,
		Interval:    cfg.Polling.Interval,
		MaxAttempts: cfg.Polling.MaxAttempts,
	})
	if err != nil {
		zapLogger.Fatal("Failed to create payment manager", zap.Error(err))
	}

	// HTTP surface
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	server.Routes(router.Group("/api/v1"), verifications, payments, zapLogger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		zapLogger.Info("Starting API server", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start API server", zap.Error(err))
		}
	}()

	// Wait for interrupt to shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		zapLogger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	// Stop the live controllers; their poll loops end here
	payments.Shutdown()
	verifications.Shutdown()

	zapLogger.Info("Server exited properly")
}
