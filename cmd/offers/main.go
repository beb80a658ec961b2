package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roadcall/roadside-dispatch/internal/incidents"
	"github.com/roadcall/roadside-dispatch/internal/offers"
	"github.com/roadcall/roadside-dispatch/internal/vendors"
	"github.com/roadcall/roadside-dispatch/pkg/clock"
	"github.com/roadcall/roadside-dispatch/pkg/common"
	"github.com/roadcall/roadside-dispatch/pkg/config"
	"github.com/roadcall/roadside-dispatch/pkg/database"
	"github.com/roadcall/roadside-dispatch/pkg/errors"
	"github.com/roadcall/roadside-dispatch/pkg/eventbus"
	"github.com/roadcall/roadside-dispatch/pkg/logger"
	"github.com/roadcall/roadside-dispatch/pkg/middleware"
	"github.com/roadcall/roadside-dispatch/pkg/websocket"
	"go.uber.org/zap"
)

const (
	serviceName = "offers-service"
	version     = "1.0.0"
)

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if err := logger.Init(cfg.Server.Environment); err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting offers service",
		zap.String("service", serviceName),
		zap.String("version", version),
		zap.String("environment", cfg.Server.Environment),
	)

	sentryConfig := errors.DefaultSentryConfig()
	sentryConfig.DSN = cfg.Sentry.DSN
	sentryConfig.Environment = cfg.Server.Environment
	sentryConfig.ServerName = serviceName
	sentryConfig.Release = version
	if err := errors.InitSentry(sentryConfig); err != nil {
		logger.Warn("failed to initialize sentry, continuing without error tracking", zap.Error(err))
	} else {
		defer errors.Flush(2 * time.Second)
	}

	db, err := database.NewPostgresPool(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	if err := database.RunMigrations(&cfg.Database, "migrations"); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	bus, err := eventbus.New(eventbus.Config{
		URL:        cfg.NATS.URL,
		Name:       serviceName,
		StreamName: cfg.NATS.StreamName,
	})
	if err != nil {
		logger.Fatal("failed to connect to event bus", zap.Error(err))
	}
	defer bus.Close()

	hub := websocket.NewHub()
	go hub.Run()

	offerRepo := offers.NewRepository(db)
	incidentRepo := incidents.NewRepository(db)
	vendorRepo := vendors.NewRepository(db)
	service := offers.NewService(offerRepo, incidentRepo, vendorRepo, bus, hub, clock.Real{})
	handler := offers.NewHandler(service)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := offers.NewSweeper(offerRepo, bus, clock.Real{}, offers.DefaultSweepInterval)
	go sweeper.Run(rootCtx)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RecoveryWithSentry())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestLogger(serviceName))
	router.Use(middleware.Metrics(serviceName))
	router.Use(middleware.CORS(cfg.Server.CORSOrigins))

	router.GET("/health", common.HealthCheck(serviceName, version))
	router.GET("/health/live", common.LivenessProbe(serviceName, version))
	router.GET("/health/ready", common.ReadinessProbe(serviceName, version, map[string]func() error{
		"database": func() error { return db.Ping(context.Background()) },
		"nats": func() error {
			if !bus.Connected() {
				return fmt.Errorf("nats disconnected")
			}
			return nil
		},
	}))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Vendor apps hold a websocket open to receive offer pushes.
	router.GET("/ws/vendors/:vendor_id", websocket.ServeVendor(hub))

	api := router.Group("/api/v1")
	handler.RegisterRoutes(api)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("offers service listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-rootCtx.Done()

	logger.Info("shutting down offers service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
}
