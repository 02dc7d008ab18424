package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/mohamedkhairy/indicator-engine/internal/api"
	"github.com/mohamedkhairy/indicator-engine/internal/config"
	"github.com/mohamedkhairy/indicator-engine/internal/distribution"
	"github.com/mohamedkhairy/indicator-engine/internal/indicator"
	"github.com/mohamedkhairy/indicator-engine/internal/pubsub"
	"github.com/mohamedkhairy/indicator-engine/internal/storage"
	"github.com/mohamedkhairy/indicator-engine/internal/wsgateway"
	"github.com/mohamedkhairy/indicator-engine/pkg/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.LogLevel, cfg.Environment); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting indicator engine service",
		logger.String("symbol", cfg.Engine.Symbol),
		logger.Duration("base_timeframe", cfg.Engine.BaseTimeframe),
		logger.Int("health_port", cfg.Engine.HealthCheckPort),
		logger.String("stream", cfg.Feed.StreamName),
	)

	// Initialize Redis client
	redisClient, err := pubsub.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to initialize Redis client",
			logger.ErrorField(err),
		)
	}
	defer redisClient.Close()

	// Initialize indicator registry
	indicatorRegistry := indicator.NewIndicatorRegistry()
	if err := indicator.RegisterAllIndicators(indicatorRegistry); err != nil {
		logger.Fatal("Failed to register indicators",
			logger.ErrorField(err),
		)
	}

	logger.Info("Registered indicators",
		logger.Int("count", len(indicatorRegistry.ListAvailable())),
	)

	// Initialize indicator engine
	engine := indicator.NewEngine(indicator.EngineConfig{
		Symbol:        cfg.Engine.Symbol,
		BaseTimeframe: cfg.Engine.BaseTimeframe,
		MaxBars:       cfg.Engine.MaxBars,
	}, indicatorRegistry)

	// Initialize distribution channel
	channel := distribution.NewChannel(distribution.Config{
		Capacity:        cfg.Channel.Capacity,
		MaxSeriesPoints: cfg.Channel.MaxSeriesPoints,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := channel.Start(ctx); err != nil {
		logger.Fatal("Failed to start distribution channel",
			logger.ErrorField(err),
		)
	}
	defer channel.Stop()

	pipeline := indicator.NewPipeline(engine, channel)

	// Redis publisher subscribes before anything is published so it sees
	// the backfilled series too
	var publisher *indicator.Publisher
	if cfg.Publisher.Enabled {
		publisher = indicator.NewPublisher(redisClient, indicator.PublisherConfigFrom(cfg.Publisher))
		publisher.Attach(channel)
		defer publisher.Detach()
		pipeline.OnRemove(publisher.Forget)
	}

	// Register configured indicators
	specs, err := config.LoadIndicatorSpecs(cfg.Engine.SpecsFile)
	if err != nil {
		logger.Fatal("Failed to load indicator specs",
			logger.ErrorField(err),
			logger.String("path", cfg.Engine.SpecsFile),
		)
	}
	for _, spec := range specs {
		if err := pipeline.AddIndicator(spec); err != nil {
			logger.Fatal("Failed to register indicator",
				logger.ErrorField(err),
				logger.String("id", spec.ID),
			)
		}
	}

	// Backfill from TimescaleDB. The engine still runs without history.
	if cfg.Database.Enabled && cfg.Engine.BackfillBars > 0 {
		backfill(ctx, cfg, pipeline)
	}

	// Initialize bar consumer
	barConsumer := indicator.NewBarConsumer(
		redisClient,
		pubsub.StreamConsumerConfigFromFeed(cfg.Feed),
		pipeline,
		cfg.Engine.Symbol,
	)
	if err := barConsumer.Start(); err != nil {
		logger.Fatal("Failed to start bar consumer",
			logger.ErrorField(err),
		)
	}
	defer barConsumer.Stop()

	// WebSocket hub and admin API
	hub := wsgateway.NewHub(cfg.WSGateway, engine)
	if err := hub.Start(); err != nil {
		logger.Fatal("Failed to start WebSocket hub",
			logger.ErrorField(err),
		)
	}
	defer hub.Stop()
	hub.Attach(channel)

	var wg sync.WaitGroup
	var servers []*http.Server

	if cfg.WSGateway.Enabled {
		router := mux.NewRouter()
		router.Handle("/ws", hub)
		api.Mount(router, api.NewIndicatorHandler(pipeline), cfg.WSGateway.APIRateLimit)

		servers = append(servers, serve(&wg, "WebSocket gateway", &http.Server{
			Addr:        fmt.Sprintf(":%d", cfg.WSGateway.Port),
			Handler:     router,
			ReadTimeout: 15 * time.Second,
			IdleTimeout: 120 * time.Second,
		}))
	}

	// Setup health and metrics server
	healthRouter := setupHealthAndMetricsServer(redisClient, barConsumer, channel, hub)
	servers = append(servers, serve(&wg, "health and metrics", &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Engine.HealthCheckPort),
		Handler:      healthRouter,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}))

	logger.Info("Indicator engine service started",
		logger.Int("indicators", len(specs)),
		logger.String("consumer_group", cfg.Feed.ConsumerGroup),
	)

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutting down indicator engine service")

	// Shut down HTTP servers
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown failed",
				logger.String("addr", srv.Addr),
				logger.ErrorField(err),
			)
		}
	}

	// Stop consuming before draining what is already queued
	barConsumer.Stop()
	if err := channel.Flush(shutdownCtx); err != nil {
		logger.Warn("Distribution channel not drained",
			logger.Int("pending", channel.Pending()),
			logger.ErrorField(err),
		)
	}

	wg.Wait()

	logger.Info("Indicator engine service stopped",
		logger.Uint64("updates_dropped", channel.Dropped()),
	)
}

func backfill(ctx context.Context, cfg *config.Config, pipeline *indicator.Pipeline) {
	store, err := storage.NewTimescaleDBClient(cfg.Database)
	if err != nil {
		logger.Warn("TimescaleDB unavailable, starting without history",
			logger.ErrorField(err),
		)
		return
	}
	defer store.Close()

	loadCtx, loadCancel := context.WithTimeout(ctx, 30*time.Second)
	defer loadCancel()

	n, err := pipeline.Backfill(loadCtx, store, cfg.Engine.Symbol, cfg.Engine.BackfillBars)
	if err != nil {
		logger.Warn("Backfill failed, starting without history",
			logger.ErrorField(err),
		)
		return
	}
	logger.Info("Backfill complete",
		logger.Int("candles", n),
	)
}

func serve(wg *sync.WaitGroup, name string, srv *http.Server) *http.Server {
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("Starting HTTP server",
			logger.String("server", name),
			logger.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed",
				logger.String("server", name),
				logger.ErrorField(err),
			)
		}
	}()
	return srv
}

// setupHealthAndMetricsServer sets up HTTP endpoints for health checks and metrics
func setupHealthAndMetricsServer(
	redisClient storage.RedisClient,
	consumer *pubsub.StreamConsumer,
	channel *distribution.Channel,
	hub *wsgateway.Hub,
) *mux.Router {
	router := mux.NewRouter()

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		healthStatus := map[string]interface{}{
			"status":    "UP",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"checks": map[string]interface{}{
				"consumer": map[string]interface{}{
					"running": consumer.IsRunning(),
					"stats":   consumer.GetStats(),
				},
				"channel": map[string]interface{}{
					"pending": channel.Pending(),
					"dropped": channel.Dropped(),
				},
				"websocket": hub.GetStats(),
			},
		}

		if !consumer.IsRunning() {
			status = http.StatusServiceUnavailable
			healthStatus["status"] = "DOWN"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(healthStatus)
	}).Methods("GET")

	// Readiness probe
	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if consumer.IsRunning() && redisClient.Ping(ctx) == nil {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("READY"))
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("NOT READY"))
		}
	}).Methods("GET")

	// Liveness probe
	router.HandleFunc("/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("LIVE"))
	}).Methods("GET")

	// Metrics endpoint
	router.Handle("/metrics", promhttp.Handler())

	return router
}
