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

	"sagerspace-tracker/internal/cache"
	"sagerspace-tracker/internal/config"
	"sagerspace-tracker/internal/consumer"
	"sagerspace-tracker/internal/database"
	"sagerspace-tracker/internal/httpapi"
	logpkg "sagerspace-tracker/internal/logger"
	"sagerspace-tracker/internal/metrics"
	mqttcommon "sagerspace-tracker/internal/mqtt"
	rediscommon "sagerspace-tracker/internal/redis"
	"sagerspace-tracker/internal/repository"
	"sagerspace-tracker/internal/service"
	"sagerspace-tracker/internal/surface"
	"sagerspace-tracker/internal/timeutil"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	registryCacheTTL = 5 * time.Minute
	shutdownTimeout  = 10 * time.Second
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	log, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "sagerspace-tracker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting sagerspace-tracker service",
		zap.String("ingest_mode", cfg.Ingest.Mode),
		zap.Duration("stale_window", cfg.Tracking.StaleWindow),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cancel, cfg, log); err != nil {
		log.Error("Service error", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
	log.Info("Service stopped")
}

func run(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, log *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	exporter := metrics.NewExporter(reg)

	hub := surface.NewHub(log)
	sinks := []service.MetricsSink{exporter}

	// Redis：Streams 接入或指标缓存任一需要时才连接
	var redisClient *redis.Client
	if cfg.Ingest.Mode == config.IngestModeStream || cfg.MetricsCache.Enabled {
		client, err := rediscommon.Connect(ctx, &cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		redisClient = client
		log.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
	}

	var publisher *cache.Publisher
	if cfg.MetricsCache.Enabled {
		publisher = cache.NewPublisher(cache.NewRedisKVStore(redisClient), cfg.MetricsCache.TTL, log)
		sinks = append(sinks, publisher)
	}

	svc := service.NewTrackerService(
		service.Options{
			StaleWindow: cfg.Tracking.StaleWindow,
			Debug:       cfg.Tracking.DebugInvariants,
		},
		service.Dependencies{
			Surface:  hub,
			Camera:   hub,
			Clock:    timeutil.RealClock{},
			Exporter: exporter,
			Sinks:    sinks,
			Logger:   log,
		},
	)
	svc.AddSelectionListener(hub)
	hub.OnSelect(func(trackID string) {
		if err := svc.Select(ctx, trackID); err != nil && !errors.Is(err, service.ErrTrackNotFound) {
			log.Warn("Failed to select track", zap.String("track_id", trackID), zap.Error(err))
		}
	})

	// 注册表补全（可选）
	var sink consumer.Sink = svc
	if cfg.Registry.Enabled {
		db, err := database.NewPostgresDB(ctx, &cfg.Database, log)
		if err != nil {
			return err
		}
		defer db.Close()
		repo := repository.NewRegistryRepository(db, log)
		sink = consumer.NewEnrichingSink(svc, repository.NewRegistryEnricher(repo, registryCacheTTL, log))
		log.Info("Registry enrichment enabled", zap.String("db", cfg.Database.Database))
	}

	adapter, err := newAdapter(cfg, redisClient, sink, svc, log)
	if err != nil {
		return err
	}
	svc.AddAdapter(adapter)

	gin.SetMode(gin.ReleaseMode)
	server := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: httpapi.NewRouter(httpapi.Config{
			Tracker:   svc,
			WebSocket: http.HandlerFunc(hub.ServeWS),
			Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			Logger:    log,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 2)
	if err := svc.Start(ctx); err != nil {
		errChan <- err
	}
	go func() {
		log.Info("HTTP server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()

	// 监听系统信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case runErr = <-errChan:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// 先停接入与同步（清空地图面），再关 HTTP
	if err := svc.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping tracker service", zap.Error(err))
	}
	cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down HTTP server", zap.Error(err))
	}
	if publisher != nil {
		if err := publisher.Clear(shutdownCtx); err != nil {
			log.Warn("Failed to clear metrics cache", zap.Error(err))
		}
	}
	return runErr
}

func newAdapter(cfg *config.Config, redisClient *redis.Client, sink consumer.Sink, status consumer.StatusReporter, log *zap.Logger) (service.Adapter, error) {
	switch cfg.Ingest.Mode {
	case config.IngestModeMQTT:
		client := mqttcommon.NewClient(&cfg.MQTT, log)
		return consumer.NewMQTTConsumer(client, cfg.Ingest.MQTT.Topic, cfg.MQTT.QoS, sink, status, log), nil
	case config.IngestModeStream:
		return consumer.NewStreamConsumer(redisClient, consumer.StreamConfig{
			Stream:        cfg.Ingest.Stream.Name,
			ConsumerGroup: cfg.Ingest.Stream.ConsumerGroup,
			ConsumerName:  cfg.Ingest.Stream.ConsumerName,
			BatchSize:     int64(cfg.Ingest.Stream.BatchSize),
			Block:         cfg.Ingest.Stream.Block,
		}, sink, status, log), nil
	case config.IngestModePoll:
		return consumer.NewPoller(cfg.Ingest.Poll.URL, cfg.Ingest.Poll.Interval, timeutil.RealClock{}, sink, status, log), nil
	default:
		return nil, fmt.Errorf("unsupported ingest mode: %s", cfg.Ingest.Mode)
	}
}
