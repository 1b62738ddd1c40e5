package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/vocalize/tts-server/internal/module/tts"
	"github.com/vocalize/tts-server/internal/module/tts/engine"
	"github.com/vocalize/tts-server/internal/module/tts/queue"
	"github.com/vocalize/tts-server/internal/module/tts/storage"
	"github.com/vocalize/tts-server/internal/module/tts/task"
	"github.com/vocalize/tts-server/internal/module/tts/voice"
	"github.com/vocalize/tts-server/internal/shared/cache"
	"github.com/vocalize/tts-server/internal/shared/config"
	"github.com/vocalize/tts-server/internal/shared/database"
	"github.com/vocalize/tts-server/internal/shared/logger"
)

func main() {
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logg := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	db, err := database.New(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	defer func() { _ = database.Close(db) }()

	redisClient, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect redis: %v", err)
	}
	defer func() { _ = cache.Close(redisClient) }()

	files, err := storage.NewFileStore(cfg.Storage.Root)
	if err != nil {
		log.Fatalf("Failed to open file store: %v", err)
	}

	svc := tts.NewService(
		task.NewRepository(db),
		queue.New(redisClient, cfg.TTS.QueueName),
		files,
		engine.NewHTTPEngine(&engine.HTTPEngineConfig{URL: cfg.Engine.URL}),
		nil,
		voice.NewRegistry(cfg.TTS.VoiceFile, redisClient, cfg.TTS.VoiceCacheTTL),
		tts.NewStatusCache(redisClient, cfg.TTS.StatusCacheTTL),
		nil,
		logg,
		tts.ServiceConfig{RetentionPeriod: cfg.TTS.RetentionPeriod},
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweep(ctx, logg, svc)
	if *once {
		return
	}

	ticker := time.NewTicker(cfg.TTS.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep(ctx, logg, svc)
		}
	}
}

func sweep(ctx context.Context, logg *logger.Logger, svc *tts.Service) {
	removed, err := svc.RemoveExpired(ctx)
	if err != nil {
		logg.Error("cleanup sweep failed", logger.Err(err))
		return
	}
	logg.Info("cleanup sweep finished", "removed", removed)
}
