package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/fathima-sithara/realtime-service/internal/api"
	"github.com/fathima-sithara/realtime-service/internal/auth"
	"github.com/fathima-sithara/realtime-service/internal/config"
	"github.com/fathima-sithara/realtime-service/internal/coordinator"
	"github.com/fathima-sithara/realtime-service/internal/discovery"
	"github.com/fathima-sithara/realtime-service/internal/documents"
	"github.com/fathima-sithara/realtime-service/internal/enrichment"
	"github.com/fathima-sithara/realtime-service/internal/events"
	"github.com/fathima-sithara/realtime-service/internal/hub"
	"github.com/fathima-sithara/realtime-service/internal/jobs"
	"github.com/fathima-sithara/realtime-service/internal/kafka"
	"github.com/fathima-sithara/realtime-service/internal/media"
	"github.com/fathima-sithara/realtime-service/internal/metrics"
	"github.com/fathima-sithara/realtime-service/internal/protocol"
	"github.com/fathima-sithara/realtime-service/internal/redis"
	"github.com/fathima-sithara/realtime-service/internal/registry"
	"github.com/fathima-sithara/realtime-service/internal/repository"
	"github.com/fathima-sithara/realtime-service/internal/rooms"
	"github.com/fathima-sithara/realtime-service/internal/storage"
	"github.com/fathima-sithara/realtime-service/internal/utils"
	"github.com/fathima-sithara/realtime-service/internal/ws"
)

func main() {
	_ = godotenv.Load()

	defaultPath := os.Getenv("CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = "./config/config.yaml"
	}
	configPath := flag.String("config", defaultPath, "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	zl, err := utils.NewLogger(cfg.Development(), cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer zl.Sync()
	logger := zl.Sugar()

	var jv *auth.JWTValidator
	if cfg.JWT.Algorithm == "RS256" {
		jv, err = auth.NewJWTValidatorRS256(cfg.JWT.PublicKeyPath)
	} else {
		jv, err = auth.NewJWTValidatorHS256(cfg.JWT.HSSecret)
	}
	if err != nil {
		logger.Fatalw("jwt validator init", "error", err)
	}

	metrics.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatalw("storage init", "driver", cfg.Storage.Driver, "error", err)
	}

	queue := jobs.New(cfg.Jobs.Workers, cfg.Jobs.QueueSize, logger)

	var publisher events.Publisher = events.Nop{}
	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
		publisher = producer
	}
	emitter := events.NewEmitter(publisher, queue)

	reg := registry.New()
	h := hub.New(reg, logger)

	roomOpts := rooms.Options{HistoryLimit: cfg.Realtime.HistoryLimit}
	if cfg.Enrichment.Enabled {
		client := enrichment.NewClient(enrichment.ClientConfig{
			SentimentURL:    cfg.Enrichment.SentimentURL,
			TranslateURL:    cfg.Enrichment.TranslateURL,
			Languages:       cfg.Enrichment.Languages,
			Timeout:         time.Duration(cfg.Enrichment.TimeoutSeconds) * time.Second,
			RetryMaxElapsed: time.Duration(cfg.Enrichment.MaxRetrySeconds) * time.Second,
		}, logger)
		roomOpts.Enricher = enrichment.NewService(client, store, h, emitter, queue, logger)
	}

	deps := coordinator.Deps{
		Registry:  reg,
		Hub:       h,
		Rooms:     rooms.NewManager(reg, h, store, queue, emitter, roomOpts, logger),
		Documents: documents.NewManager(reg, h, store, emitter, cfg.Realtime.Palette, logger),
		Store:     store,
		Queue:     queue,
		Emitter:   emitter,
	}
	var presence *redis.Store
	apiOpts := api.Options{}
	if cfg.Redis.Enabled {
		rc := redis.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		presence = redis.NewStore(rc, cfg.Redis.Prefix, cfg.PresenceTTL)
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := presence.Ping(pingCtx); err != nil {
			logger.Fatalw("redis ping", "addr", cfg.Redis.Addr, "error", err)
		}
		pingCancel()
		deps.Mirror = presence
		apiOpts.Limiter = redis.NewRateLimiter(rc, cfg.Redis.Prefix, cfg.Redis.RateLimit,
			time.Duration(cfg.Redis.RateWindowSeconds)*time.Second)
	}
	co := coordinator.New(deps, logger)

	var consumer *kafka.Consumer
	if cfg.Kafka.Enabled && cfg.Kafka.TopicBroadcast != "" {
		consumer = kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicBroadcast, cfg.Kafka.GroupID, logger)
		go consumer.Start(ctx, co.HandleBroadcastCommand)
	}

	wsrv := ws.NewServer(co, ws.Config{
		PingInterval:    cfg.PingInterval,
		WriteDeadline:   cfg.WriteDeadline,
		MaxMessageSize:  cfg.WS.MaxMessageSizeBytes,
		SendBuffer:      cfg.WS.SendBuffer,
		RateLimitPerSec: cfg.WS.RateLimitPerSec,
		RateBurst:       cfg.WS.RateBurst,
		Limits: protocol.Limits{
			MaxMessageLength: cfg.Realtime.MaxMessageLength,
			MaxDocumentBytes: cfg.Realtime.MaxDocumentBytes,
		},
	}, logger)

	if cfg.Media.Enabled {
		objects, err := storage.NewS3Store(ctx, cfg.Media.Region, cfg.Media.Bucket, cfg.Media.Endpoint, cfg.Media.PublicRead)
		if err != nil {
			logger.Fatalw("s3 init", "bucket", cfg.Media.Bucket, "error", err)
		}
		apiOpts.Uploads = media.NewService(objects, store, cfg.PresignTTL, cfg.Media.MaxUploadBytes, logger)
	}
	app := api.NewServer(co, wsrv, jv, apiOpts, logger)

	var registrar *discovery.Registrar
	if cfg.Discovery.Enabled {
		registrar, err = discovery.NewRegistrar(discovery.Config{
			ConsulAddr:    cfg.Discovery.ConsulAddr,
			ServiceName:   cfg.App.Name,
			ServiceID:     cfg.Discovery.ServiceID,
			Address:       cfg.Discovery.Address,
			Port:          cfg.App.Port,
			Tags:          cfg.Discovery.Tags,
			CheckInterval: time.Duration(cfg.Discovery.CheckIntervalSeconds) * time.Second,
		}, logger)
		if err != nil {
			logger.Fatalw("consul client", "error", err)
		}
	}

	errs := make(chan error, 1)
	go func() {
		addr := ":" + cfg.App.PortString()
		logger.Infow("starting realtime service", "addr", addr, "storage", cfg.Storage.Driver,
			"redis", cfg.Redis.Enabled, "kafka", cfg.Kafka.Enabled, "enrichment", cfg.Enrichment.Enabled)
		errs <- app.Listen(addr)
	}()
	if registrar != nil {
		if err := registrar.Register(); err != nil {
			logger.Warnw("service registration", "error", err)
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case e := <-errs:
		logger.Errorw("server error", "error", e)
	case s := <-sig:
		logger.Infow("signal received", "signal", s.String())
	}

	if registrar != nil {
		if err := registrar.Deregister(); err != nil {
			logger.Warnw("service deregistration", "error", err)
		}
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warnw("fiber shutdown", "error", err)
	}
	cancel()
	if consumer != nil {
		_ = consumer.Close(shutdownCtx)
	}
	if err := queue.Close(shutdownCtx); err != nil {
		logger.Warnw("job queue drain", "error", err)
	}
	if producer != nil {
		_ = producer.Close(shutdownCtx)
	}
	if presence != nil {
		_ = presence.Close()
	}
	if err := store.Close(shutdownCtx); err != nil {
		logger.Warnw("storage close", "error", err)
	}
	logger.Info("shutting down")
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (repository.Gateway, error) {
	var gw repository.Gateway
	switch cfg.Storage.Driver {
	case "memory":
		gw = repository.NewMemoryStore()
	default:
		client, err := repository.NewMongoClient(ctx, cfg.Mongo.URI, cfg.MongoTimeout)
		if err != nil {
			return nil, err
		}
		ms := repository.NewMongoStore(client, cfg.Mongo.Database, cfg.MongoTimeout)
		if err := ms.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		gw = ms
	}
	if cfg.Storage.SeedPath != "" {
		if err := repository.LoadSeed(ctx, gw, cfg.Storage.SeedPath); err != nil {
			return nil, err
		}
		logger.Infow("seed applied", "path", cfg.Storage.SeedPath)
	}
	return gw, nil
}
