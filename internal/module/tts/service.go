package tts

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vocalize/tts-server/internal/module/tts/engine"
	"github.com/vocalize/tts-server/internal/module/tts/queue"
	"github.com/vocalize/tts-server/internal/module/tts/storage"
	"github.com/vocalize/tts-server/internal/module/tts/subtitle"
	"github.com/vocalize/tts-server/internal/module/tts/task"
	"github.com/vocalize/tts-server/internal/module/tts/uploader"
	"github.com/vocalize/tts-server/internal/module/tts/voice"
	apperrors "github.com/vocalize/tts-server/internal/shared/errors"
	"github.com/vocalize/tts-server/internal/shared/logger"
	"github.com/vocalize/tts-server/internal/utils/metrics"
	"github.com/vocalize/tts-server/internal/utils/random"
)

// defaultSeed matches the engine's default when a request omits one.
const defaultSeed int64 = 8

// estimatedSecondsPerChar is the rough processing estimate returned at
// submission time.
const estimatedSecondsPerChar = 0.1

// ServiceConfig holds service limits and retention settings.
type ServiceConfig struct {
	MaxOnlineTextLength int
	MaxLongTextLength   int
	RetentionPeriod     time.Duration
}

// Service implements the synthesis operations behind the HTTP API.
type Service struct {
	repo      task.Repository
	queue     *queue.Queue
	files     *storage.FileStore
	engine    engine.Engine
	uploader  uploader.Uploader
	subtitles *subtitle.Generator
	voices    *voice.Registry
	cache     *StatusCache
	metrics   *metrics.Metrics
	log       *logger.Logger
	cfg       ServiceConfig
}

// NewService wires a Service. The uploader may be nil when object storage
// is not configured; tasks then complete with local files only.
func NewService(
	repo task.Repository,
	q *queue.Queue,
	files *storage.FileStore,
	eng engine.Engine,
	up uploader.Uploader,
	voices *voice.Registry,
	cache *StatusCache,
	m *metrics.Metrics,
	log *logger.Logger,
	cfg ServiceConfig,
) *Service {
	return &Service{
		repo:      repo,
		queue:     q,
		files:     files,
		engine:    eng,
		uploader:  up,
		subtitles: subtitle.NewGenerator(),
		voices:    voices,
		cache:     cache,
		metrics:   m,
		log:       log,
		cfg:       cfg,
	}
}

// OnlineRequest is a synchronous synthesis request.
type OnlineRequest struct {
	Text  string `json:"text" binding:"required"`
	Voice string `json:"voice" binding:"required"`
	Seed  *int64 `json:"seed,omitempty"`
}

// OnlineResult is the synchronous synthesis response. Audio is hex-encoded
// WAV bytes in the audio_base64 field, matching the wire format clients
// already parse.
type OnlineResult struct {
	TaskID         string  `json:"task_id"`
	Audio          string  `json:"audio_base64"`
	SRT            string  `json:"srt"`
	SampleRate     int     `json:"sample_rate"`
	Duration       float64 `json:"duration"`
	ProcessingTime float64 `json:"processing_time"`
	AudioURL       *string `json:"audio_url"`
	SubtitleURL    *string `json:"srt_url"`
}

// SubmitRequest is an asynchronous long-text synthesis request.
type SubmitRequest struct {
	Text        string         `json:"text" binding:"required"`
	Voice       string         `json:"voice" binding:"required"`
	CallbackURL string         `json:"callback_url,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Priority    int            `json:"priority,omitempty"`
	Seed        *int64         `json:"seed,omitempty"`
}

// SubmitResult acknowledges an accepted long-text task.
type SubmitResult struct {
	TaskID                  string  `json:"task_id"`
	Status                  string  `json:"status"`
	Message                 string  `json:"message"`
	TextLength              int     `json:"text_length"`
	QueueLength             int64   `json:"queue_length"`
	EstimatedProcessingTime float64 `json:"estimated_processing_time"`
}

// Stats summarizes the task population and queue depth.
type Stats struct {
	Tasks map[task.Status]int64 `json:"tasks"`
	Queue struct {
		Name   string `json:"name"`
		Length int64  `json:"length"`
	} `json:"queue"`
}

// SynthesizeOnline runs a short synthesis synchronously and records it as
// a completed task. The full pipeline runs inline: synthesize, encode,
// save, subtitle, upload, complete.
func (s *Service) SynthesizeOnline(ctx context.Context, req *OnlineRequest) (*OnlineResult, error) {
	if err := s.validateText(req.Text, s.cfg.MaxOnlineTextLength); err != nil {
		return nil, err
	}
	if err := s.validateVoice(ctx, req.Voice); err != nil {
		return nil, err
	}

	seed := defaultSeed
	if req.Seed != nil {
		seed = *req.Seed
	}

	taskID, err := random.TaskID()
	if err != nil {
		return nil, apperrors.Internal("generate task id", err)
	}

	textRef, err := s.files.SaveText(taskID, req.Text)
	if err != nil {
		return nil, apperrors.Storage("save task text", err)
	}

	t := &task.Task{
		TaskID:      taskID,
		Type:        task.TypeOnline,
		Status:      task.StatusPending,
		Voice:       req.Voice,
		TextPreview: task.Preview(req.Text),
		TextLength:  len([]rune(req.Text)),
		TextRef:     textRef,
		Metadata:    &task.Metadata{Seed: &seed},
	}
	if err := s.repo.Create(ctx, t); err != nil {
		_ = s.files.RemoveTask(taskID)
		return nil, apperrors.Storage("create task", err)
	}
	if s.metrics != nil {
		s.metrics.RecordTaskSubmitted(string(task.TypeOnline))
	}

	claimed, err := s.repo.ClaimProcessing(ctx, taskID)
	if err != nil {
		return nil, apperrors.Storage("claim task", err)
	}
	if !claimed {
		// The row is no longer pending, so another actor owns it; leave
		// the record and its files to that owner.
		return nil, apperrors.Conflict("task claimed concurrently")
	}

	start := time.Now()
	syn, err := s.engine.Synthesize(ctx, req.Voice, req.Text, seed)
	if err != nil {
		s.failTask(ctx, taskID, err)
		if errors.Is(err, engine.ErrEngineUnavailable) {
			return nil, apperrors.Unavailable("synthesis engine unavailable")
		}
		return nil, apperrors.Synthesis("synthesis failed", err)
	}
	processingTime := time.Since(start).Seconds()
	audioDuration := syn.Duration()

	if s.metrics != nil {
		s.metrics.RecordSynthesis(req.Voice, time.Since(start), audioDuration)
	}

	wavBytes := engine.EncodeWAV(syn.SampleRate, syn.Samples)
	audioRef, fileSize, err := s.files.SaveAudio(taskID, wavBytes)
	if err != nil {
		s.failTask(ctx, taskID, err)
		return nil, apperrors.Storage("save audio", err)
	}

	srt := s.subtitles.Generate(req.Text, audioDuration)
	subtitleRef, err := s.files.SaveSubtitle(taskID, srt)
	if err != nil {
		s.failTask(ctx, taskID, err)
		return nil, apperrors.Storage("save subtitle", err)
	}

	audioURL, subtitleURL := s.uploadArtifacts(ctx, taskID, wavBytes, srt)

	res := &task.TerminalResult{
		AudioRef:       audioRef,
		SubtitleRef:    subtitleRef,
		AudioURL:       audioURL,
		SubtitleURL:    subtitleURL,
		ProcessingTime: processingTime,
		Duration:       audioDuration,
		FileSize:       fileSize,
	}
	if err := s.repo.Complete(ctx, taskID, res); err != nil {
		return nil, apperrors.Storage("complete task", err)
	}
	s.cache.Invalidate(ctx, taskID)
	if s.metrics != nil {
		s.metrics.RecordTaskProcessed(string(task.StatusCompleted), time.Since(start))
	}

	return &OnlineResult{
		TaskID:         taskID,
		Audio:          hex.EncodeToString(wavBytes),
		SRT:            srt,
		SampleRate:     syn.SampleRate,
		Duration:       audioDuration,
		ProcessingTime: processingTime,
		AudioURL:       audioURL,
		SubtitleURL:    subtitleURL,
	}, nil
}

// SubmitLongText durably records a long-text task and enqueues it. The
// store write happens before the queue push: a task that exists only in
// the queue would be lost on restart, while a stored task missing from
// the queue is still found by the pending-scan fallback.
func (s *Service) SubmitLongText(ctx context.Context, req *SubmitRequest) (*SubmitResult, error) {
	if err := s.validateText(req.Text, s.cfg.MaxLongTextLength); err != nil {
		return nil, err
	}
	if err := s.validateVoice(ctx, req.Voice); err != nil {
		return nil, err
	}

	taskID, err := random.TaskID()
	if err != nil {
		return nil, apperrors.Internal("generate task id", err)
	}

	textRef, err := s.files.SaveText(taskID, req.Text)
	if err != nil {
		return nil, apperrors.Storage("save task text", err)
	}

	meta := &task.Metadata{Seed: req.Seed}
	if len(req.Metadata) > 0 {
		meta.Extra = req.Metadata
	}

	t := &task.Task{
		TaskID:      taskID,
		Type:        task.TypeLongText,
		Status:      task.StatusPending,
		Voice:       req.Voice,
		TextPreview: task.Preview(req.Text),
		TextLength:  len([]rune(req.Text)),
		TextRef:     textRef,
		Priority:    req.Priority,
		CallbackURL: req.CallbackURL,
		Metadata:    meta,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		_ = s.files.RemoveTask(taskID)
		return nil, apperrors.Storage("create task", err)
	}
	if s.metrics != nil {
		s.metrics.RecordTaskSubmitted(string(task.TypeLongText))
	}

	if err := s.queue.Push(ctx, taskID, req.Priority); err != nil {
		// The task is durable; the pending-scan fallback will pick it up.
		s.log.Warn("queue push failed, task will be found by store scan",
			"task_id", taskID, logger.Err(err))
	}

	queueLength, err := s.queue.Length(ctx)
	if err != nil {
		queueLength = -1
	}

	return &SubmitResult{
		TaskID:                  taskID,
		Status:                  string(task.StatusPending),
		Message:                 "Task submitted successfully",
		TextLength:              len([]rune(req.Text)),
		QueueLength:             queueLength,
		EstimatedProcessingTime: float64(len([]rune(req.Text))) * estimatedSecondsPerChar,
	}, nil
}

// GetStatus returns a task's current record, serving from the status
// cache when possible.
func (s *Service) GetStatus(ctx context.Context, taskID string) (*task.Task, error) {
	if cached := s.cache.Get(ctx, taskID); cached != nil {
		if s.metrics != nil {
			s.metrics.RecordCacheHit("task_status")
		}
		return cached, nil
	}
	if s.metrics != nil {
		s.metrics.RecordCacheMiss("task_status")
	}

	t, err := s.repo.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			return nil, apperrors.NotFound("task")
		}
		return nil, apperrors.Storage("get task", err)
	}

	s.cache.Set(ctx, t)
	return t, nil
}

// GetResultAudio returns the audio bytes for a completed task.
func (s *Service) GetResultAudio(ctx context.Context, taskID string) ([]byte, *task.Task, error) {
	t, data, err := s.readArtifact(ctx, taskID, func(t *task.Task) string { return t.AudioRef })
	if err != nil {
		return nil, nil, err
	}
	return data, t, nil
}

// GetResultSubtitle returns the SRT content for a completed task.
func (s *Service) GetResultSubtitle(ctx context.Context, taskID string) ([]byte, *task.Task, error) {
	t, data, err := s.readArtifact(ctx, taskID, func(t *task.Task) string { return t.SubtitleRef })
	if err != nil {
		return nil, nil, err
	}
	return data, t, nil
}

func (s *Service) readArtifact(ctx context.Context, taskID string, ref func(*task.Task) string) (*task.Task, []byte, error) {
	t, err := s.GetStatus(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}

	if t.Status != task.StatusCompleted {
		return nil, nil, apperrors.Validation(
			fmt.Sprintf("task not completed, current status: %s", t.Status))
	}
	if ref(t) == "" {
		return nil, nil, apperrors.NotFound("task artifact")
	}

	data, err := s.files.ReadFile(ref(t))
	if err != nil {
		return nil, nil, apperrors.NotFound("task artifact")
	}
	return t, data, nil
}

// ListTasks lists tasks with optional filters.
func (s *Service) ListTasks(ctx context.Context, filter *task.Filter) ([]*task.Task, error) {
	tasks, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, apperrors.Storage("list tasks", err)
	}
	return tasks, nil
}

// GetStats summarizes task counts and queue depth.
func (s *Service) GetStats(ctx context.Context) (*Stats, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, apperrors.Storage("count tasks", err)
	}

	length, err := s.queue.Length(ctx)
	if err != nil {
		s.log.Warn("queue length unavailable", logger.Err(err))
		length = -1
	}
	if s.metrics != nil && length >= 0 {
		s.metrics.SetQueueDepth(s.queue.Name(), length)
	}

	stats := &Stats{Tasks: counts}
	stats.Queue.Name = s.queue.Name()
	stats.Queue.Length = length
	return stats, nil
}

// Voices returns the voice catalog.
func (s *Service) Voices(ctx context.Context) (*voice.Catalog, error) {
	cat, err := s.voices.Catalog(ctx)
	if err != nil {
		return nil, apperrors.Internal("load voice catalog", err)
	}
	return cat, nil
}

// RemoveExpired deletes terminal tasks older than the retention period,
// together with their files and cache entries. Returns the number of
// tasks removed.
func (s *Service) RemoveExpired(ctx context.Context) (int, error) {
	expired, err := s.repo.ListExpired(ctx, s.cfg.RetentionPeriod)
	if err != nil {
		return 0, apperrors.Storage("list expired tasks", err)
	}

	removed := 0
	for _, t := range expired {
		// Never delete a task that has not reached a terminal state.
		if !t.IsTerminal() {
			continue
		}
		if err := s.files.RemoveTask(t.TaskID); err != nil {
			s.log.Warn("remove task files failed", "task_id", t.TaskID, logger.Err(err))
			continue
		}
		if err := s.repo.Delete(ctx, t.TaskID); err != nil && !errors.Is(err, task.ErrTaskNotFound) {
			s.log.Warn("delete expired task failed", "task_id", t.TaskID, logger.Err(err))
			continue
		}
		s.cache.Invalidate(ctx, t.TaskID)
		removed++
	}

	if removed > 0 {
		s.log.Info("expired tasks removed", "count", removed)
	}
	return removed, nil
}

// EngineHealthy reports whether the synthesis engine responds to probes.
func (s *Service) EngineHealthy(ctx context.Context) bool {
	return s.engine.HealthCheck(ctx) == nil
}

func (s *Service) validateText(text string, maxLen int) error {
	if strings.TrimSpace(text) == "" {
		return apperrors.Validation("text must not be empty")
	}
	if n := len([]rune(text)); n > maxLen {
		return apperrors.Validation(
			fmt.Sprintf("text length %d exceeds limit of %d characters", n, maxLen))
	}
	return nil
}

func (s *Service) validateVoice(ctx context.Context, name string) error {
	if err := s.voices.Validate(ctx, name); err != nil {
		if errors.Is(err, voice.ErrUnknownVoice) {
			return apperrors.Validation(fmt.Sprintf("unknown voice: %s", name))
		}
		return apperrors.Internal("validate voice", err)
	}
	return nil
}

// uploadArtifacts pushes audio and subtitles to object storage. Upload
// failure leaves the URLs nil; the local refs stay valid either way.
func (s *Service) uploadArtifacts(ctx context.Context, taskID string, wav []byte, srt string) (audioURL, subtitleURL *string) {
	if s.uploader == nil {
		return nil, nil
	}

	if url, err := s.uploader.Upload(ctx, taskID+".wav", wav, "audio/wav"); err == nil {
		audioURL = &url
	} else {
		s.log.Warn("audio upload failed", "task_id", taskID, logger.Err(err))
	}

	if url, err := s.uploader.Upload(ctx, taskID+".srt", []byte(srt), "text/plain"); err == nil {
		subtitleURL = &url
	} else {
		s.log.Warn("subtitle upload failed", "task_id", taskID, logger.Err(err))
	}
	return audioURL, subtitleURL
}

func (s *Service) failTask(ctx context.Context, taskID string, cause error) {
	if err := s.repo.Fail(ctx, taskID, cause.Error()); err != nil {
		s.log.Error("mark task failed", "task_id", taskID, logger.Err(err))
	}
	s.cache.Invalidate(ctx, taskID)
	if s.metrics != nil {
		s.metrics.RecordTaskProcessed(string(task.StatusFailed), 0)
	}
}
