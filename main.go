package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/snaphub/internal/analyzer"
	"github.com/example/snaphub/internal/auth"
	"github.com/example/snaphub/internal/config"
	"github.com/example/snaphub/internal/handlers"
	"github.com/example/snaphub/internal/ledger"
	"github.com/example/snaphub/internal/logging"
	"github.com/example/snaphub/internal/metrics"
	"github.com/example/snaphub/internal/storage"
	"github.com/example/snaphub/internal/usecase"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.Debug)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	uploads := initLedger(ctx, cfg, logger)
	store := storage.NewDiskStore(cfg.StorageRoot)
	verifier := auth.NewVerifier(cfg.JWTSecret)

	recorder, err := metrics.NewRecorder("snaphub", nil)
	if err != nil {
		logger.Fatal("failed to register metrics", zap.Error(err))
	}

	var cache usecase.Cache
	if cfg.RedisAddr != "" {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		defer redisCancel()
		cache = usecase.NewRedisCache(initRedis(redisCtx, cfg, logger))
	}

	registry := analyzer.NewRemoteRegistry(cfg.InferenceBaseURL, nil, logger)

	ingestion := usecase.NewIngestionService(verifier, store, uploads, cfg.PublicBaseURL, recorder, logger)
	dispatch := usecase.NewDispatchService(uploads, store, registry, cache, recorder, logger)

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	r.MaxMultipartMemory = cfg.MaxUploadBytes()

	handlers.RegisterRoutes(r, handlers.Deps{
		Ingestion:      ingestion,
		Dispatch:       dispatch,
		Uploads:        uploads,
		Logger:         logger,
		StaticRoot:     cfg.StorageRoot,
		MaxUploadBytes: cfg.MaxUploadBytes(),
		SnapClient:     &http.Client{Timeout: cfg.SnapTimeout()},
	})

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	logger.Info("snaphub API listening", zap.String("addr", cfg.ListenAddr), zap.String("ledger", cfg.LedgerBackend))
	if err := serveHTTPServer(server, 15*time.Second, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initLedger(ctx context.Context, cfg *config.Config, logger *zap.Logger) ledger.Ledger {
	if cfg.LedgerBackend == "postgres" {
		gl := gormlogger.Default.LogMode(gormlogger.Warn)
		db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{Logger: gl})
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}

		sqlDB, err := db.DB()
		if err != nil {
			logger.Fatal("failed to access db handle", zap.Error(err))
		}
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetConnMaxLifetime(time.Hour)

		if err := sqlDB.PingContext(ctx); err != nil {
			logger.Fatal("database ping failed", zap.Error(err))
		}

		l := ledger.NewGormLedger(db, logger)
		if err := l.AutoMigrate(ctx); err != nil {
			logger.Fatal("auto migrate failed", zap.Error(err))
		}
		return l
	}
	return ledger.NewFileLedger(cfg.LedgerPath)
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
