package workerapp

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ivankudzin/tgvault/internal/config"
	s3infra "github.com/ivankudzin/tgvault/internal/infra/s3"
	tginfra "github.com/ivankudzin/tgvault/internal/infra/telegram"
	"github.com/ivankudzin/tgvault/internal/queue/rabbitmq"
	pgrepo "github.com/ivankudzin/tgvault/internal/repo/postgres"
	redrepo "github.com/ivankudzin/tgvault/internal/repo/redis"
	filessvc "github.com/ivankudzin/tgvault/internal/services/files"
)

// App is the queue-draining stage: it owns the consumer loop and the full
// download/upload/metadata pipeline behind it.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	consumer *rabbitmq.Consumer
	postgres *pgxpool.Pool
	redis    *goredis.Client
	s3       *minio.Client
	service  *filessvc.Service
}

func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return nil, fmt.Errorf("telegram bot token is required for the worker")
	}

	pool, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("init postgres for worker: %w", err)
	}

	s3Client, err := s3infra.NewClient(s3infra.Config{
		Endpoint:  cfg.S3.Endpoint,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		UseSSL:    cfg.S3.UseSSL,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init s3 for worker: %w", err)
	}

	fileClient, err := tginfra.NewFileClient(tginfra.FileClientConfig{
		Token:           cfg.Telegram.Token,
		APIBase:         cfg.Telegram.APIBase,
		FileBase:        cfg.Telegram.FileBase,
		GetFileTimeout:  cfg.Telegram.GetFileTimeout,
		DownloadTimeout: cfg.Telegram.DownloadTimeout,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init telegram file client: %w", err)
	}

	storage := filessvc.NewS3Storage(s3Client, cfg.S3.Bucket)
	fileRepo := pgrepo.NewFileRepo(pool)
	service := filessvc.NewService(fileClient, storage, fileRepo, logger)

	redisClient := redrepo.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	service.AttachStats(redrepo.NewStatsRepo(redisClient))

	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:            cfg.Queue.URL,
		Queue:          cfg.Queue.Name,
		PrefetchCount:  cfg.Queue.PrefetchCount,
		RequeueOnError: cfg.Queue.RequeueOnError,
	}, logger)
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("init rabbitmq consumer: %w", err)
	}

	return &App{
		cfg:      cfg,
		logger:   logger,
		consumer: consumer,
		postgres: pool,
		redis:    redisClient,
		s3:       s3Client,
		service:  service,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	a.logger.Info("worker started", zap.String("queue", a.cfg.Queue.Name))

	return a.consumer.Run(ctx, func(ctx context.Context, rec rabbitmq.Record) error {
		return a.service.HandleRecord(ctx, rec.Body)
	})
}

func (a *App) Close() {
	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			a.logger.Error("close rabbitmq consumer", zap.Error(err))
		}
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("close redis client", zap.Error(err))
		}
	}
}
