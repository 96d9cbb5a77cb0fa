package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/denisok6893-rgb/estate-matching/internal/cache"
	"github.com/denisok6893-rgb/estate-matching/internal/config"
	"github.com/denisok6893-rgb/estate-matching/internal/events"
	httpapi "github.com/denisok6893-rgb/estate-matching/internal/http"
	"github.com/denisok6893-rgb/estate-matching/internal/logger"
	"github.com/denisok6893-rgb/estate-matching/internal/matching"
	"github.com/denisok6893-rgb/estate-matching/internal/service"
	"github.com/denisok6893-rgb/estate-matching/internal/storage"
	"github.com/denisok6893-rgb/estate-matching/internal/tracing"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.New("error", "json").Fatal("load config", zap.Error(err))
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format).With(
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Environment),
	)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("api stopped", zap.Error(err))
	}
	log.Info("api stopped")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		ServiceName: cfg.App.Name,
		Environment: cfg.App.Environment,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	store, err := storage.OpenSQLite(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	weights := matching.DefaultWeights()
	if cfg.Matching.WeightsFile != "" {
		weights, err = matching.LoadWeightsFromFile(cfg.Matching.WeightsFile)
		if err != nil {
			log.Warn("use default weights", zap.String("path", cfg.Matching.WeightsFile), zap.Error(err))
		}
	}
	engine := matching.NewEngine(weights)

	opts := []service.Option{service.WithLogger(log)}

	if cfg.Redis.Enabled {
		rc, err := cache.NewRedisCache(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer rc.Close()
		opts = append(opts, service.WithCache(rc, cfg.Matching.ScoreCacheTTL))
		log.Info("score cache on redis", zap.String("addr", cfg.Redis.Address))
	} else {
		opts = append(opts, service.WithCache(cache.NewInMemoryCache(), cfg.Matching.ScoreCacheTTL))
	}

	if cfg.Kafka.Enabled {
		pub, err := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			WriteTimeout: cfg.Kafka.WriteTimeout,
			BatchTimeout: cfg.Kafka.BatchTimeout,
			MaxAttempts:  3,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := pub.Close(); err != nil {
				log.Warn("kafka publisher close", zap.Error(err))
			}
		}()
		opts = append(opts, service.WithPublisher(pub))
		log.Info("match events on kafka", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	svc := service.New(store, engine, opts...)
	seedCatalog(ctx, svc, cfg.Database, log)

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: httpapi.NewServer(svc, httpapi.Options{
			Logger:          log,
			AllowedOrigins:  cfg.Server.AllowedOrigins,
			MaxBodyBytes:    cfg.Server.MaxBodyBytes,
			DefaultMinScore: cfg.Matching.MinScore,
		}).Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("API listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

// seedCatalog loads the JSON datasets when present. A missing file only
// means the catalog starts empty.
func seedCatalog(ctx context.Context, svc *service.Service, db config.DatabaseConfig, log *zap.Logger) {
	properties, err := storage.LoadPropertiesFromFile(db.SeedProperties)
	if err != nil {
		log.Warn("no property seed loaded", zap.String("path", db.SeedProperties), zap.Error(err))
	}
	prospects, err := storage.LoadProspectsFromFile(db.SeedProspects)
	if err != nil {
		log.Warn("no prospect seed loaded", zap.String("path", db.SeedProspects), zap.Error(err))
	}
	if len(properties) == 0 && len(prospects) == 0 {
		return
	}
	if err := svc.SeedCatalog(ctx, properties, prospects); err != nil {
		log.Error("seed catalog", zap.Error(err))
	}
}
