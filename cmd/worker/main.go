package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/vocalize/tts-server/internal/module/tts"
	"github.com/vocalize/tts-server/internal/module/tts/engine"
	"github.com/vocalize/tts-server/internal/module/tts/queue"
	"github.com/vocalize/tts-server/internal/module/tts/storage"
	"github.com/vocalize/tts-server/internal/module/tts/task"
	"github.com/vocalize/tts-server/internal/module/tts/uploader"
	"github.com/vocalize/tts-server/internal/module/tts/worker"
	"github.com/vocalize/tts-server/internal/shared/cache"
	"github.com/vocalize/tts-server/internal/shared/config"
	"github.com/vocalize/tts-server/internal/shared/database"
	"github.com/vocalize/tts-server/internal/shared/logger"
	"github.com/vocalize/tts-server/internal/utils/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zapLog, err := logger.NewZapLogger(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = zapLog.Sync() }()

	db, err := database.New(&cfg.Database)
	if err != nil {
		zapLog.Fatal("connect database", zap.Error(err))
	}
	defer func() { _ = database.Close(db) }()

	if err := db.AutoMigrate(&task.Task{}); err != nil {
		zapLog.Fatal("migrate schema", zap.Error(err))
	}

	redisClient, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		zapLog.Fatal("connect redis", zap.Error(err))
	}
	defer func() { _ = cache.Close(redisClient) }()

	files, err := storage.NewFileStore(cfg.Storage.Root)
	if err != nil {
		zapLog.Fatal("open file store", zap.Error(err))
	}

	var up uploader.Uploader
	if s3up, err := uploader.NewS3Uploader(&uploader.Config{
		Endpoint:        cfg.Storage.Endpoint,
		Region:          cfg.Storage.Region,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		Bucket:          cfg.Storage.Bucket,
		RemotePath:      cfg.Storage.RemotePath,
	}); err != nil {
		zapLog.Warn("object storage disabled", zap.Error(err))
	} else {
		up = s3up
	}

	w := worker.New(
		task.NewRepository(db),
		queue.New(redisClient, cfg.TTS.QueueName),
		files,
		engine.NewHTTPEngine(&engine.HTTPEngineConfig{
			URL:              cfg.Engine.URL,
			Timeout:          cfg.Engine.Timeout,
			FailureThreshold: cfg.Engine.FailureThreshold,
			BreakerTimeout:   cfg.Engine.BreakerTimeout,
		}),
		up,
		tts.NewStatusCache(redisClient, cfg.TTS.StatusCacheTTL),
		redisClient,
		metrics.New("tts_worker"),
		zapLog,
		worker.Config{
			PollInterval:      cfg.TTS.PollInterval,
			PollBackoffMax:    cfg.TTS.PollBackoffMax,
			LivenessThreshold: cfg.TTS.LivenessThreshold,
			RecoveryInterval:  cfg.TTS.RecoveryInterval,
			CallbackTimeout:   cfg.TTS.CallbackTimeout,
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Pick up work abandoned by a previous run before polling starts.
	w.RecoverOrphans(ctx)
	w.Run(ctx)
}
