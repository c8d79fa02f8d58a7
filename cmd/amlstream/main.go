package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Aidin1998/amlstream/internal/cache"
	"github.com/Aidin1998/amlstream/internal/cases"
	"github.com/Aidin1998/amlstream/internal/config"
	"github.com/Aidin1998/amlstream/internal/detection"
	"github.com/Aidin1998/amlstream/internal/events"
	"github.com/Aidin1998/amlstream/internal/ingest"
	"github.com/Aidin1998/amlstream/internal/metrics"
	"github.com/Aidin1998/amlstream/internal/monitoring"
	redisconf "github.com/Aidin1998/amlstream/internal/redis"
	"github.com/Aidin1998/amlstream/internal/server"
	"github.com/Aidin1998/amlstream/internal/streaming"
	"github.com/Aidin1998/amlstream/internal/telemetry"
	"github.com/Aidin1998/amlstream/pkg/logger"
	"github.com/Aidin1998/amlstream/pkg/models"
	"github.com/Aidin1998/amlstream/pkg/validation"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	bootLogger, err := logger.NewLogger("info")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	cfg, err := config.Load(bootLogger, *configPath)
	if err != nil {
		bootLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	zapLogger, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()
	zapLogger.Info("Configuration loaded", zap.String("config", cfg.String()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		Tracing: cfg.Tracing.Enabled,
		Metrics: cfg.Tracing.Metrics,
	})
	if err != nil {
		zapLogger.Fatal("Failed to set up telemetry", zap.Error(err))
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			zapLogger.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.New(reg)

	var (
		store       cache.Store
		redisClient goredis.UniversalClient
	)
	switch cfg.Cache.Backend {
	case config.BackendRedis:
		redisClient, err = redisconf.NewClient(ctx, &cfg.Redis, zapLogger.Sugar())
		if err != nil {
			zapLogger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		store = cache.NewRedisStore(redisClient, cache.RedisStoreOptions{
			KeyPrefix:      cfg.Cache.KeyPrefix,
			OpTimeout:      cfg.Cache.OpTimeout,
			CompressionMin: int64(cfg.Cache.CompressionMin),
		})
	default:
		store = cache.NewMemoryStore(nil)
	}

	db, err := cases.Open(cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to open case database", zap.Error(err))
	}
	repo := cases.NewRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		zapLogger.Fatal("Failed to migrate case database", zap.Error(err))
	}
	caseLookup := cases.NewCachedLookup(store, repo, cases.DefaultCacheTTL, zapLogger)

	sinks := []events.Sink{events.NewLogSink(zapLogger)}
	if cfg.Kafka.Enabled {
		kafkaSink := events.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic, zapLogger)
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
	}
	if cfg.Events.RedisStream && redisClient != nil {
		sinks = append(sinks, events.NewRedisStreamSink(redisClient, cfg.Events.StreamPrefix, cfg.Events.StreamMaxLen, zapLogger))
	}
	if cfg.Events.WebhookURL != "" {
		sinks = append(sinks, events.NewWebhookSink(cfg.Events.WebhookURL, cfg.Events.WebhookTimeout, zapLogger))
	}

	periods, err := cfg.Velocity.ToPeriods()
	if err != nil {
		zapLogger.Fatal("Invalid velocity configuration", zap.Error(err))
	}

	engine := detection.NewEngine(detection.EngineOptions{
		Logger:    zapLogger,
		Threshold: cfg.Detection.EngineThreshold,
		OnFailure: collector.DetectorFailed,
		OnDetected: func(t models.PatternType) {
			collector.PatternDetected(string(t))
		},
	})

	proc, err := streaming.NewProcessor(streaming.Options{
		Logger:           zapLogger,
		Store:            store,
		Monitor:          monitoring.NewRuleMonitor(),
		Cases:            caseLookup,
		Sink:             events.NewMultiSink(zapLogger, sinks...),
		Engine:           engine,
		Validator:        validation.NewValidator(zapLogger),
		Metrics:          collector,
		Tracer:           otel.Tracer("github.com/Aidin1998/amlstream/internal/streaming"),
		Window:           cfg.Window,
		Periods:          periods,
		Risk:             cfg.Risk,
		PatternThreshold: cfg.Detection.StreamThreshold,
		SLA:              cfg.Processor.SLA,
		CacheTimeout:     cfg.Cache.OpTimeout,
		CaseTimeout:      cfg.Processor.CaseTimeout,
		BatchWorkers:     cfg.Processor.BatchWorkers,
	})
	if err != nil {
		zapLogger.Fatal("Failed to create stream processor", zap.Error(err))
	}

	httpServer := server.NewServer(zapLogger, proc, server.Options{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		ServiceName:  cfg.Tracing.ServiceName,
		Gatherer:     reg,
		Metrics:      collector,
		Cases:        cases.NewService(repo, caseLookup, zapLogger),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpServer.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		zapLogger.Info("Shutting down HTTP server")
		return httpServer.Shutdown(shutdownCtx)
	})

	if cfg.Kafka.Enabled {
		consumer := ingest.NewConsumer(ingest.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.IngestTopic,
			GroupID: cfg.Kafka.GroupID,
		}, proc, zapLogger)
		g.Go(func() error {
			defer consumer.Close()
			err := consumer.Run(gctx)
			zapLogger.Info("Transaction consumer stopped", zap.Any("stats", consumer.Stats()))
			return err
		})
	}

	if err := g.Wait(); err != nil {
		zapLogger.Error("Service stopped with error", zap.Error(err))
		return
	}
	zapLogger.Info("Service stopped")
}
