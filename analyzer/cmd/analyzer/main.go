package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	httpSwagger "github.com/swaggo/http-swagger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	_ "github.com/Krimson/msna-analyzer/analyzer/docs" // Swagger docs
	"github.com/Krimson/msna-analyzer/analyzer/internal/batch"
	"github.com/Krimson/msna-analyzer/analyzer/internal/config"
	"github.com/Krimson/msna-analyzer/analyzer/internal/health"
	"github.com/Krimson/msna-analyzer/analyzer/internal/logging"
	"github.com/Krimson/msna-analyzer/analyzer/internal/metrics"
	"github.com/Krimson/msna-analyzer/analyzer/internal/session"
	"github.com/Krimson/msna-analyzer/analyzer/internal/websocket"
)

// @title MSNA Analyzer API
// @version 1.0
// @description Разметка вспышек MSNA по циклам ЭКГ
// @host localhost:8080
// @BasePath /
// @schemes http

func main() {
	configPath := flag.String("config", os.Getenv("ANALYZER_CONFIG"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	log := logging.Component(logger, "main")
	log.WithFields(logrus.Fields{
		"http_port": cfg.HTTPPort,
		"grpc_port": cfg.GRPCPort,
		"fs":        cfg.Analysis.SampleRate,
	}).Info("Starting analyzer server...")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	cache := session.NewRedisStore(redisClient, cfg.SessionTTL())
	if err := cache.Ping(ctx); err != nil {
		log.WithError(err).Fatal("Failed to connect to Redis")
	}

	// PostgreSQL
	repo, err := session.NewPostgresRepositoryFromDSN(cfg.PostgresDSN)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to PostgreSQL")
	}
	defer repo.Close()
	if err := repo.EnsureSchema(ctx); err != nil {
		log.WithError(err).Fatal("Failed to prepare database schema")
	}

	// Метрики
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Ход автоматической разметки: батчер -> websocket
	hub := websocket.NewHub(logger)
	go hub.Run(ctx)

	batcher := batch.NewBatcher(cfg, batch.MultiSink{hub, &batch.LogSink{Log: logger}}, logger)

	manager := session.NewManager(cfg, cache, repo, batcher, m, logger)
	handler := session.NewHTTPHandler(manager, cfg.MaxUploadBytes, logger)

	router := mux.NewRouter()
	handler.RegisterRoutes(router)
	router.HandleFunc("/ws", hub.HandleWebSocket)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	router.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
		httpSwagger.DeepLinking(true),
		httpSwagger.DocExpansion("list"),
		httpSwagger.DomID("swagger-ui"),
	))

	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      enableCORS(router),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// gRPC health
	grpcServer := grpc.NewServer()
	healthServer := health.NewHealthServer(logger)
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	address := fmt.Sprintf(":%s", cfg.GRPCPort)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		log.WithError(err).Fatalf("Failed to listen on %s", address)
	}

	healthServer.SetServingStatus("")
	healthServer.SetServingStatus(health.ServiceAnalyzer)
	go healthServer.RunProbes(ctx, 10*time.Second, map[string]health.Probe{
		health.ServiceCache: cache.Ping,
		health.ServiceStore: repo.Ping,
	})

	serverErrChan := make(chan error, 2)
	go func() {
		log.WithField("address", address).Info("gRPC health server listening")
		if err := grpcServer.Serve(listener); err != nil {
			serverErrChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()
	go func() {
		log.WithField("address", httpServer.Addr).Info("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrChan:
		log.WithError(err).Error("Server error")

	case sig := <-shutdownChan:
		log.WithField("signal", sig.String()).Info("Received signal, starting graceful shutdown...")
	}

	healthServer.SetNotServingStatus("")
	healthServer.SetNotServingStatus(health.ServiceAnalyzer)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server forced to shutdown")
	}

	// проходы останавливаются до батчера, чтобы их последний ход ушел клиентам
	manager.Close()
	batcher.Stop()

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		log.Warn("Graceful shutdown timeout, forcing stop")
		grpcServer.Stop()
	}

	healthServer.Shutdown()
	stop()

	log.Info("Server stopped")
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			return
		}

		next.ServeHTTP(w, r)
	})
}
