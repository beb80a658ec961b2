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

	"github.com/roadcall/roadside-dispatch/internal/dispatch"
	"github.com/roadcall/roadside-dispatch/internal/incidents"
	"github.com/roadcall/roadside-dispatch/internal/matching"
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
	redisclient "github.com/roadcall/roadside-dispatch/pkg/redis"
	"go.uber.org/zap"
)

const (
	serviceName = "dispatch-service"
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

	logger.Info("starting dispatch service",
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

	redisCli, err := redisclient.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisCli.Close()

	bus, err := eventbus.New(eventbus.Config{
		URL:        cfg.NATS.URL,
		Name:       serviceName,
		StreamName: cfg.NATS.StreamName,
	})
	if err != nil {
		logger.Fatal("failed to connect to event bus", zap.Error(err))
	}
	defer bus.Close()

	provider, err := config.NewMatchingProvider(cfg.Matching)
	if err != nil {
		logger.Fatal("invalid matching config", zap.Error(err))
	}

	incidentRepo := incidents.NewRepository(db)
	vendorRepo := vendors.NewRepository(db)
	geoIndex := vendors.NewGeoIndex(redisCli)
	directory := vendors.NewService(vendorRepo, geoIndex)
	matcher := matching.NewMatcher(directory, geoIndex)

	offerRepo := offers.NewRepository(db)
	// The dispatch service fans out offers directly; vendor pushes happen
	// in the offers service, so no hub here.
	offerService := offers.NewService(offerRepo, incidentRepo, vendorRepo, bus, nil, clock.Real{})

	engine := dispatch.NewEngine(
		matcher,
		incidentRepo,
		offerService,
		vendorRepo,
		bus,
		provider,
		clock.Real{},
		dispatch.NewRedisDeduper(redisCli),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := engine.Start(rootCtx, bus); err != nil {
		logger.Fatal("failed to start dispatch engine", zap.Error(err))
	}

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RecoveryWithSentry())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestLogger(serviceName))
	router.Use(middleware.Metrics(serviceName))

	router.GET("/health", common.HealthCheck(serviceName, version))
	router.GET("/health/live", common.LivenessProbe(serviceName, version))
	router.GET("/health/ready", common.ReadinessProbe(serviceName, version, map[string]func() error{
		"database": func() error { return db.Ping(context.Background()) },
		"redis":    func() error { return redisCli.Ping(context.Background()).Err() },
		"nats": func() error {
			if !bus.Connected() {
				return fmt.Errorf("nats disconnected")
			}
			return nil
		},
	}))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Manual re-dispatch after an escalation, driven by a dispatcher.
	router.POST("/api/v1/dispatch/:incident_id", redispatchHandler(engine, incidentRepo))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("dispatch service listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-rootCtx.Done()

	logger.Info("shutting down dispatch service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
	engine.Wait()
}
