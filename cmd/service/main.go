package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sightama/canifuckingdownwindtoday/internal/cache"
	"github.com/sightama/canifuckingdownwindtoday/internal/circuitbreaker"
	"github.com/sightama/canifuckingdownwindtoday/internal/config"
	"github.com/sightama/canifuckingdownwindtoday/internal/generator"
	httphandler "github.com/sightama/canifuckingdownwindtoday/internal/http"
	"github.com/sightama/canifuckingdownwindtoday/internal/lifecycle"
	"github.com/sightama/canifuckingdownwindtoday/internal/observability"
	"github.com/sightama/canifuckingdownwindtoday/internal/sensor"
	"github.com/sightama/canifuckingdownwindtoday/internal/service"
)

func main() {
	// Local development convenience; missing .env is fine.
	_ = godotenv.Load()

	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	sensorClient, err := sensor.NewSpotClient(cfg.SensorToken, cfg.SensorSpotID, cfg.SensorAPIURL, cfg.SensorTimeout)
	if err != nil {
		logger.Fatal("sensor client", zap.Error(err))
	}

	genLimiter := rate.NewLimiter(rate.Limit(cfg.GeneratorRateLimit), cfg.GeneratorRateBurst)
	genClient, err := generator.NewClient(cfg.GeneratorAPIKey, cfg.GeneratorAPIURL, cfg.GeneratorModel, cfg.Personas, cfg.GeneratorTimeout, genLimiter)
	if err != nil {
		logger.Fatal("generator client", zap.Error(err))
	}

	if cfg.CircuitBreakerEnabled {
		cb := circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition("generator", from.String(), to.String())
				observability.CircuitBreakerState.WithLabelValues("generator").Set(float64(to))
			},
		})
		genClient.SetCircuitBreaker(cb)
		observability.CircuitBreakerState.WithLabelValues("generator").Set(0)
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	var poolStore cache.PoolStore
	var memcacheCloser *cache.MemcachedPoolStore
	switch cfg.PoolBackend {
	case "memcached":
		mc, err := cache.NewMemcachedPoolStore(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached pool store", zap.Error(err))
		}
		memcacheCloser = mc
		poolStore = mc
		logger.Info("offline pool backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		poolStore = cache.NewMemoryPoolStore()
		logger.Info("offline pool backend: in_memory")
	}

	store := cache.NewStore(cfg.SnapshotTTL, cfg.VariationTTL, poolStore)
	orchestrator := service.NewOrchestrator(sensorClient, genClient, store,
		cfg.Personas, cfg.SourceStaleThreshold, cfg.RegenDelta, logger)

	healthConfig := &httphandler.HealthConfig{
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		StartTime:        time.Now(),
	}
	if memcacheCloser != nil {
		healthConfig.PoolPing = memcacheCloser.Ping
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(orchestrator, cfg.Personas, healthConfig, logger)

	if cfg.WarmCache {
		go func() {
			warmCtx, warmCancel := context.WithTimeout(context.Background(), 3*time.Minute)
			defer warmCancel()
			orchestrator.Warmup(warmCtx)
		}()
	}

	maintCtx, maintCancel := context.WithCancel(context.Background())
	defer maintCancel()
	if cfg.MaintenanceInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.MaintenanceInterval)
			defer ticker.Stop()
			for {
				select {
				case <-maintCtx.Done():
					return
				case <-ticker.C:
					orchestrator.CheckAndRefresh(maintCtx)
				}
			}
		}()
		logger.Info("maintenance loop started", zap.Duration("interval", cfg.MaintenanceInterval))
	}

	router := mux.NewRouter()
	router.Use(httphandler.CorrelationIDMiddleware(logger))
	router.Use(httphandler.MetricsMiddleware)
	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())
	api := router.PathPrefix("/").Subrouter()
	api.Use(httphandler.RateLimitMiddleware(limiter))
	api.Use(httphandler.TimeoutMiddleware(cfg.RequestTimeout))
	api.HandleFunc("/conditions", handler.GetConditions).Methods("GET")
	api.HandleFunc("/conditions/initial/{persona}", handler.GetInitialConditions).Methods("GET")
	api.HandleFunc("/conditions/refresh", handler.PostRefresh).Methods("POST")
	api.HandleFunc("/variation/{mode}/{persona}", handler.GetVariation).Methods("GET")
	api.HandleFunc("/recommendations", handler.GetRecommendations).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	maintCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
