package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/vocalize/tts-server/internal/module/tts"
	"github.com/vocalize/tts-server/internal/module/tts/engine"
	"github.com/vocalize/tts-server/internal/module/tts/handler"
	"github.com/vocalize/tts-server/internal/module/tts/queue"
	"github.com/vocalize/tts-server/internal/module/tts/storage"
	"github.com/vocalize/tts-server/internal/module/tts/task"
	"github.com/vocalize/tts-server/internal/module/tts/uploader"
	"github.com/vocalize/tts-server/internal/module/tts/voice"
	"github.com/vocalize/tts-server/internal/shared/cache"
	"github.com/vocalize/tts-server/internal/shared/config"
	"github.com/vocalize/tts-server/internal/shared/database"
	"github.com/vocalize/tts-server/internal/shared/logger"
	"github.com/vocalize/tts-server/internal/utils/metrics"
	"github.com/vocalize/tts-server/internal/utils/middleware"
)

// App wires the HTTP server's dependencies.
type App struct {
	cfg    *config.Config
	log    *logger.Logger
	db     *gorm.DB
	redis  redis.UniversalClient
	router *gin.Engine

	service *tts.Service
}

// New builds the application from configuration. Redis is required: the
// task queue and status cache live there.
func New(cfg *config.Config) (*App, error) {
	log := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&task.Task{}); err != nil {
		return nil, err
	}

	redisClient, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		return nil, err
	}

	files, err := storage.NewFileStore(cfg.Storage.Root)
	if err != nil {
		return nil, err
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
		log.Warn("object storage disabled", logger.Err(err))
	} else {
		up = s3up
	}

	m := metrics.New("tts")

	svc := tts.NewService(
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
		voice.NewRegistry(cfg.TTS.VoiceFile, redisClient, cfg.TTS.VoiceCacheTTL),
		tts.NewStatusCache(redisClient, cfg.TTS.StatusCacheTTL),
		m,
		log,
		tts.ServiceConfig{
			MaxOnlineTextLength: cfg.TTS.MaxOnlineTextLength,
			MaxLongTextLength:   cfg.TTS.MaxLongTextLength,
			RetentionPeriod:     cfg.TTS.RetentionPeriod,
		},
	)

	a := &App{
		cfg:     cfg,
		log:     log,
		db:      db,
		redis:   redisClient,
		service: svc,
	}
	a.setupRouter(m)
	return a, nil
}

func (a *App) setupRouter(m *metrics.Metrics) {
	if strings.ToLower(a.cfg.Log.Level) != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.Recovery(a.log))
	router.Use(middleware.RequestID())
	router.Use(middleware.Logging(a.log))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	router.Use(middleware.Metrics(m))

	router.GET("/health", a.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/")
	api.Use(middleware.APIKeyAuth(a.cfg.Server.APIKey))
	handler.New(a.service).RegisterRoutes(api)

	a.router = router
}

// health reports component availability. The engine being down degrades
// the report but the endpoint still answers 200; only a dead database or
// Redis makes the service unusable.
func (a *App) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	components := gin.H{
		"database": "ok",
		"redis":    "ok",
		"engine":   "ok",
	}
	status := http.StatusOK

	if err := database.Ping(a.db); err != nil {
		components["database"] = "unavailable"
		status = http.StatusServiceUnavailable
	}
	if err := a.redis.Ping(ctx).Err(); err != nil {
		components["redis"] = "unavailable"
		status = http.StatusServiceUnavailable
	}
	if !a.service.EngineHealthy(ctx) {
		components["engine"] = "unavailable"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "unhealthy"
	}
	body := gin.H{
		"status":     state,
		"components": components,
	}
	if stats, err := a.service.GetStats(ctx); err == nil {
		body["stats"] = stats
	}
	c.JSON(status, body)
}

// Router returns the HTTP handler.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Stop releases the application's connections.
func (a *App) Stop() {
	if err := cache.Close(a.redis); err != nil {
		a.log.Warn("close redis", logger.Err(err))
	}
	if err := database.Close(a.db); err != nil {
		a.log.Warn("close database", logger.Err(err))
	}
}
