package worker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vocalize/tts-server/internal/module/tts"
	"github.com/vocalize/tts-server/internal/module/tts/callback"
	"github.com/vocalize/tts-server/internal/module/tts/engine"
	"github.com/vocalize/tts-server/internal/module/tts/queue"
	"github.com/vocalize/tts-server/internal/module/tts/storage"
	"github.com/vocalize/tts-server/internal/module/tts/subtitle"
	"github.com/vocalize/tts-server/internal/module/tts/task"
	"github.com/vocalize/tts-server/internal/module/tts/uploader"
	"github.com/vocalize/tts-server/internal/utils/metrics"
)

// recoveryLockKey guards the orphan sweep so only one worker runs it per
// interval.
const recoveryLockKey = "tts:lock:recovery"

// Config holds worker loop timing.
type Config struct {
	PollInterval      time.Duration
	PollBackoffMax    time.Duration
	LivenessThreshold time.Duration
	RecoveryInterval  time.Duration
	CallbackTimeout   time.Duration
}

// Worker drains the long-text queue: claim, synthesize, persist results,
// deliver the callback. Several workers can run against the same queue;
// the store's conditional claim is the only arbiter of ownership.
type Worker struct {
	repo      task.Repository
	queue     *queue.Queue
	files     *storage.FileStore
	engine    engine.Engine
	uploader  uploader.Uploader
	subtitles *subtitle.Generator
	notifier  *callback.Notifier
	cache     *tts.StatusCache
	redis     redis.UniversalClient
	metrics   *metrics.Metrics
	log       *zap.Logger
	cfg       Config
}

// New creates a worker. The uploader may be nil.
func New(
	repo task.Repository,
	q *queue.Queue,
	files *storage.FileStore,
	eng engine.Engine,
	up uploader.Uploader,
	cache *tts.StatusCache,
	client redis.UniversalClient,
	m *metrics.Metrics,
	log *zap.Logger,
	cfg Config,
) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.PollBackoffMax <= 0 {
		cfg.PollBackoffMax = 2 * cfg.PollInterval
	}
	if cfg.LivenessThreshold <= 0 {
		cfg.LivenessThreshold = 30 * time.Minute
	}
	if cfg.RecoveryInterval <= 0 {
		cfg.RecoveryInterval = time.Minute
	}

	return &Worker{
		repo:      repo,
		queue:     q,
		files:     files,
		engine:    eng,
		uploader:  up,
		subtitles: subtitle.NewGenerator(),
		notifier:  callback.NewNotifier(cfg.CallbackTimeout),
		cache:     cache,
		redis:     client,
		metrics:   m,
		log:       log,
		cfg:       cfg,
	}
}

// Run processes tasks until the context is cancelled. The recovery sweep
// runs on its own ticker.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("worker started",
		zap.String("queue", w.queue.Name()),
		zap.Duration("poll_interval", w.cfg.PollInterval))

	go w.recoveryLoop(ctx)

	delay := w.cfg.PollInterval
	for {
		if ctx.Err() != nil {
			w.log.Info("worker stopped")
			return
		}

		taskID, ok := w.next(ctx)
		if !ok {
			select {
			case <-ctx.Done():
				w.log.Info("worker stopped")
				return
			case <-time.After(delay):
			}
			// Back off while idle so an empty queue is not hot-polled.
			delay *= 2
			if delay > w.cfg.PollBackoffMax {
				delay = w.cfg.PollBackoffMax
			}
			continue
		}
		delay = w.cfg.PollInterval

		w.Process(ctx, taskID)
	}
}

// next returns the next candidate task ID: the queue first, then the
// oldest pending task in the store. The store scan catches tasks whose
// queue entry was lost.
func (w *Worker) next(ctx context.Context) (string, bool) {
	taskID, err := w.queue.Pop(ctx)
	if err == nil {
		return taskID, true
	}
	if !errors.Is(err, queue.ErrEmpty) {
		w.log.Warn("queue pop failed", zap.Error(err))
	}

	t, err := w.repo.OldestPending(ctx)
	if err != nil {
		if !errors.Is(err, task.ErrTaskNotFound) {
			w.log.Warn("pending scan failed", zap.Error(err))
		}
		return "", false
	}
	return t.TaskID, true
}

// Process runs one task end to end. A failed claim means another worker
// owns the task or it is already terminal; either way there is nothing
// to do.
func (w *Worker) Process(ctx context.Context, taskID string) {
	claimed, err := w.repo.ClaimProcessing(ctx, taskID)
	if err != nil {
		w.log.Error("claim failed", zap.String("task_id", taskID), zap.Error(err))
		return
	}
	if !claimed {
		return
	}
	w.cache.Invalidate(ctx, taskID)

	t, err := w.repo.Get(ctx, taskID)
	if err != nil {
		w.log.Error("load claimed task failed", zap.String("task_id", taskID), zap.Error(err))
		return
	}

	w.log.Info("processing task",
		zap.String("task_id", taskID),
		zap.String("voice", t.Voice),
		zap.Int("text_length", t.TextLength))

	start := time.Now()
	if err := w.synthesize(ctx, t, start); err != nil {
		w.fail(ctx, t, err, start)
		return
	}
}

func (w *Worker) synthesize(ctx context.Context, t *task.Task, start time.Time) error {
	text, err := w.files.ReadText(t.TaskID)
	if err != nil {
		return err
	}

	seed := int64(8)
	if t.Metadata != nil && t.Metadata.Seed != nil {
		seed = *t.Metadata.Seed
	}

	syn, err := w.engine.Synthesize(ctx, t.Voice, text, seed)
	if err != nil {
		return err
	}
	audioDuration := syn.Duration()
	if w.metrics != nil {
		w.metrics.RecordSynthesis(t.Voice, time.Since(start), audioDuration)
	}

	wavBytes := engine.EncodeWAV(syn.SampleRate, syn.Samples)
	audioRef, fileSize, err := w.files.SaveAudio(t.TaskID, wavBytes)
	if err != nil {
		return err
	}

	srt := w.subtitles.Generate(text, audioDuration)
	subtitleRef, err := w.files.SaveSubtitle(t.TaskID, srt)
	if err != nil {
		return err
	}

	audioURL, subtitleURL := w.upload(ctx, t.TaskID, wavBytes, srt)

	processingTime := time.Since(start).Seconds()
	res := &task.TerminalResult{
		AudioRef:       audioRef,
		SubtitleRef:    subtitleRef,
		AudioURL:       audioURL,
		SubtitleURL:    subtitleURL,
		ProcessingTime: processingTime,
		Duration:       audioDuration,
		FileSize:       fileSize,
	}
	if err := w.repo.Complete(ctx, t.TaskID, res); err != nil {
		return err
	}
	w.cache.Invalidate(ctx, t.TaskID)
	if w.metrics != nil {
		w.metrics.RecordTaskProcessed(string(task.StatusCompleted), time.Since(start))
	}

	w.log.Info("task completed",
		zap.String("task_id", t.TaskID),
		zap.Float64("duration", audioDuration),
		zap.Float64("processing_time", processingTime),
		zap.Int64("file_size", fileSize))

	w.deliverCallback(ctx, t.CallbackURL, &callback.Payload{
		TaskID:         t.TaskID,
		Status:         string(task.StatusCompleted),
		AudioURL:       audioURL,
		SubtitleURL:    subtitleURL,
		ProcessingTime: processingTime,
		Duration:       audioDuration,
		FileSize:       fileSize,
	})
	return nil
}

// upload pushes artifacts to object storage. Failures leave the URLs nil;
// the task still completes with local refs.
func (w *Worker) upload(ctx context.Context, taskID string, wav []byte, srt string) (audioURL, subtitleURL *string) {
	if w.uploader == nil {
		return nil, nil
	}

	if url, err := w.uploader.Upload(ctx, taskID+".wav", wav, "audio/wav"); err == nil {
		audioURL = &url
	} else {
		w.log.Warn("audio upload failed", zap.String("task_id", taskID), zap.Error(err))
	}

	if url, err := w.uploader.Upload(ctx, taskID+".srt", []byte(srt), "text/plain"); err == nil {
		subtitleURL = &url
	} else {
		w.log.Warn("subtitle upload failed", zap.String("task_id", taskID), zap.Error(err))
	}
	return audioURL, subtitleURL
}

func (w *Worker) fail(ctx context.Context, t *task.Task, cause error, start time.Time) {
	w.log.Error("task failed",
		zap.String("task_id", t.TaskID),
		zap.Error(cause))

	if err := w.repo.Fail(ctx, t.TaskID, cause.Error()); err != nil {
		w.log.Error("mark task failed", zap.String("task_id", t.TaskID), zap.Error(err))
		return
	}
	w.cache.Invalidate(ctx, t.TaskID)
	if w.metrics != nil {
		w.metrics.RecordTaskProcessed(string(task.StatusFailed), time.Since(start))
	}

	msg := cause.Error()
	w.deliverCallback(ctx, t.CallbackURL, &callback.Payload{
		TaskID: t.TaskID,
		Status: string(task.StatusFailed),
		Error:  &msg,
	})
}

// deliverCallback posts the terminal payload once. Delivery failure is
// logged and never retried; the task's state is already final.
func (w *Worker) deliverCallback(ctx context.Context, url string, payload *callback.Payload) {
	if url == "" {
		return
	}

	err := w.notifier.Notify(ctx, url, payload)
	if w.metrics != nil {
		w.metrics.RecordCallback(err == nil)
	}
	if err != nil {
		w.log.Warn("callback delivery failed",
			zap.String("task_id", payload.TaskID),
			zap.String("url", url),
			zap.Error(err))
	}
}

func (w *Worker) recoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.RecoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RecoverOrphans(ctx)
		}
	}
}

// RecoverOrphans requeues processing tasks whose claim is older than the
// liveness threshold; their worker is presumed dead. A Redis lock keeps
// concurrent sweeps from doubling up, but requeue itself is a conditional
// update, so a duplicate sweep is safe anyway.
func (w *Worker) RecoverOrphans(ctx context.Context) {
	if w.redis != nil {
		ok, err := w.redis.SetNX(ctx, recoveryLockKey, 1, w.cfg.RecoveryInterval).Result()
		if err != nil {
			w.log.Warn("recovery lock failed", zap.Error(err))
			return
		}
		if !ok {
			return
		}
	}

	orphans, err := w.repo.ListOrphanedProcessing(ctx, w.cfg.LivenessThreshold)
	if err != nil {
		w.log.Error("orphan scan failed", zap.Error(err))
		return
	}

	for _, t := range orphans {
		if !t.CanTransition(task.StatusPending) {
			continue
		}
		if err := w.repo.Requeue(ctx, t.TaskID); err != nil {
			if !errors.Is(err, task.ErrTaskNotFound) {
				w.log.Warn("requeue failed", zap.String("task_id", t.TaskID), zap.Error(err))
			}
			continue
		}
		w.cache.Invalidate(ctx, t.TaskID)
		if err := w.queue.Push(ctx, t.TaskID, t.Priority); err != nil {
			// Still pending in the store; the scan fallback will find it.
			w.log.Warn("requeue push failed", zap.String("task_id", t.TaskID), zap.Error(err))
		}
		w.log.Info("orphaned task requeued", zap.String("task_id", t.TaskID))
	}
}
