package ingressapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"

	"github.com/ivankudzin/tgvault/internal/config"
	s3infra "github.com/ivankudzin/tgvault/internal/infra/s3"
	"github.com/ivankudzin/tgvault/internal/queue/rabbitmq"
	pgrepo "github.com/ivankudzin/tgvault/internal/repo/postgres"
	filessvc "github.com/ivankudzin/tgvault/internal/services/files"
	ingestsvc "github.com/ivankudzin/tgvault/internal/services/ingest"
	"github.com/ivankudzin/tgvault/internal/transport/http/handlers"
)

// App is the webhook-facing stage: it acknowledges Telegram fast and
// hands the raw body to the queue. It also exposes a read-only listing of
// stored files, which is the only place this stage touches Postgres/S3.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	server     *http.Server
	producer   *rabbitmq.Producer
	postgres   *pgxpool.Pool
	s3         *minio.Client
	httpRouter http.Handler
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	r := chi.NewRouter()
	ApplyMiddlewares(r, log)

	var producer *rabbitmq.Producer
	if p, err := rabbitmq.NewProducer(cfg.Queue.URL, cfg.Queue.Name, log); err != nil {
		// Webhook acking must survive a dead broker; updates are dropped
		// until the broker is back.
		log.Warn("rabbitmq init failed, continuing in degraded mode", zap.Error(err))
	} else {
		producer = p
	}

	var pool *pgxpool.Pool
	if p, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN); err != nil {
		log.Warn("postgres init failed, continuing in degraded mode", zap.Error(err))
	} else {
		pool = p
	}

	var s3Client *minio.Client
	if c, err := s3infra.NewClient(s3infra.Config{
		Endpoint:  cfg.S3.Endpoint,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		UseSSL:    cfg.S3.UseSSL,
	}); err != nil {
		log.Warn("s3 init failed, continuing in degraded mode", zap.Error(err))
	} else {
		s3Client = c
	}

	var ingestService *ingestsvc.Service
	if producer != nil {
		ingestService = ingestsvc.NewService(producer)
	}

	fileRepo := pgrepo.NewFileRepo(pool)
	storage := filessvc.NewS3Storage(s3Client, cfg.S3.Bucket)
	filesService := filessvc.NewService(nil, storage, fileRepo, log)

	webhookHandler := handlers.NewWebhookHandler(ingestService, log)
	filesHandler := handlers.NewFilesHandler(filesService, log)

	r.Post("/webhook", webhookHandler.Handle)
	r.Get("/files/{chatID}", filesHandler.List)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	return &App{
		cfg:        cfg,
		logger:     log,
		server:     server,
		producer:   producer,
		postgres:   pool,
		s3:         s3Client,
		httpRouter: r,
	}, nil
}

func (a *App) Run() error {
	a.logger.Info("ingress server started", zap.String("addr", a.cfg.HTTP.Addr))
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error

	if err := a.server.Shutdown(ctx); err != nil {
		shutdownErr = err
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}
	if a.postgres != nil {
		a.postgres.Close()
	}

	return shutdownErr
}

func (a *App) Handler() http.Handler {
	return a.httpRouter
}
