package tts

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/vocalize/tts-server/internal/module/tts/engine"
	"github.com/vocalize/tts-server/internal/module/tts/queue"
	"github.com/vocalize/tts-server/internal/module/tts/storage"
	"github.com/vocalize/tts-server/internal/module/tts/task"
	"github.com/vocalize/tts-server/internal/module/tts/uploader"
	"github.com/vocalize/tts-server/internal/module/tts/voice"
	apperrors "github.com/vocalize/tts-server/internal/shared/errors"
	"github.com/vocalize/tts-server/internal/shared/logger"
)

// stubEngine returns canned synthesis results or a canned error.
type stubEngine struct {
	sampleRate int
	samples    []int16
	err        error
	calls      int
}

func (e *stubEngine) Synthesize(_ context.Context, _, _ string, _ int64) (*engine.Synthesis, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return &engine.Synthesis{SampleRate: e.sampleRate, Samples: e.samples}, nil
}

func (e *stubEngine) HealthCheck(context.Context) error {
	return e.err
}

// stubUploader records uploaded file names and returns deterministic URLs.
type stubUploader struct {
	err   error
	files []string
}

func (u *stubUploader) Upload(_ context.Context, filename string, _ []byte, _ string) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	u.files = append(u.files, filename)
	return "https://cdn.example.com/tts_files/" + filename, nil
}

func (u *stubUploader) Delete(context.Context, string) error {
	return nil
}

type serviceFixture struct {
	svc    *Service
	db     *gorm.DB
	repo   task.Repository
	queue  *queue.Queue
	files  *storage.FileStore
	engine *stubEngine
	redis  redis.UniversalClient
}

func newServiceFixture(t *testing.T, eng *stubEngine, up *stubUploader) *serviceFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&task.Task{}))
	repo := task.NewRepository(db)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	files, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)

	voicePath := filepath.Join(t.TempDir(), "voices.json")
	require.NoError(t, os.WriteFile(voicePath, []byte(`{"alloy": {}, "nova": {}}`), 0o644))
	voices := voice.NewRegistry(voicePath, client, time.Hour)

	q := queue.New(client, "long_text")
	cache := NewStatusCache(client, 2*time.Hour)
	log := logger.New(&logger.Config{Level: "error", Output: io.Discard})

	var uploaderArg uploader.Uploader
	if up != nil {
		uploaderArg = up
	}

	svc := NewService(repo, q, files, eng, uploaderArg, voices, cache, nil, log, ServiceConfig{
		MaxOnlineTextLength: 300,
		MaxLongTextLength:   50000,
		RetentionPeriod:     7 * 24 * time.Hour,
	})

	return &serviceFixture{svc: svc, db: db, repo: repo, queue: q, files: files, engine: eng, redis: client}
}

func TestSynthesizeOnline(t *testing.T) {
	eng := &stubEngine{sampleRate: 16000, samples: make([]int16, 16000)}
	up := &stubUploader{}
	f := newServiceFixture(t, eng, up)
	ctx := context.Background()

	res, err := f.svc.SynthesizeOnline(ctx, &OnlineRequest{Text: "Hello world.", Voice: "alloy"})
	require.NoError(t, err)

	assert.Len(t, res.TaskID, 10)
	assert.Equal(t, 16000, res.SampleRate)
	assert.Equal(t, 1.0, res.Duration)
	assert.NotEmpty(t, res.SRT)
	require.NotNil(t, res.AudioURL)
	assert.Contains(t, *res.AudioURL, res.TaskID)

	// Artifacts are handed to the uploader by bare file name; the uploader
	// owns the remote-path prefix.
	assert.Equal(t, []string{res.TaskID + ".wav", res.TaskID + ".srt"}, up.files)

	// Hex payload decodes to a WAV file.
	raw, err := hex.DecodeString(res.Audio)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(raw[0:4]))

	// The task record is terminal and carries the result fields.
	rec, err := f.repo.Get(ctx, res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, rec.Status)
	assert.Equal(t, task.TypeOnline, rec.Type)
	assert.Equal(t, 1.0, rec.Duration)
	assert.NotZero(t, rec.FileSize)

	// Files exist on disk.
	_, err = f.files.ReadFile(rec.AudioRef)
	require.NoError(t, err)
	_, err = f.files.ReadFile(rec.SubtitleRef)
	require.NoError(t, err)
}

func TestSynthesizeOnlineUploadFailureIsNonFatal(t *testing.T) {
	eng := &stubEngine{sampleRate: 16000, samples: make([]int16, 8000)}
	up := &stubUploader{err: errors.New("bucket unavailable")}
	f := newServiceFixture(t, eng, up)

	res, err := f.svc.SynthesizeOnline(context.Background(), &OnlineRequest{Text: "Hi.", Voice: "alloy"})
	require.NoError(t, err)
	assert.Nil(t, res.AudioURL)
	assert.Nil(t, res.SubtitleURL)

	rec, err := f.repo.Get(context.Background(), res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, rec.Status)
	assert.NotEmpty(t, rec.AudioRef)
}

func TestSynthesizeOnlineEngineFailure(t *testing.T) {
	eng := &stubEngine{err: errors.New("model crashed")}
	f := newServiceFixture(t, eng, nil)
	ctx := context.Background()

	_, err := f.svc.SynthesizeOnline(ctx, &OnlineRequest{Text: "Hello.", Voice: "alloy"})
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "SYNTHESIS_ERROR", appErr.Code)

	// The failure is recorded on the task.
	tasks, err := f.repo.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, task.StatusFailed, tasks[0].Status)
	require.NotNil(t, tasks[0].ErrorMessage)
	assert.Contains(t, *tasks[0].ErrorMessage, "model crashed")
}

// claimStubRepo overrides ClaimProcessing on a real repository.
type claimStubRepo struct {
	task.Repository
	claimed bool
	err     error
}

func (r *claimStubRepo) ClaimProcessing(context.Context, string) (bool, error) {
	return r.claimed, r.err
}

func TestSynthesizeOnlineClaimLost(t *testing.T) {
	f := newServiceFixture(t, &stubEngine{sampleRate: 16000, samples: make([]int16, 100)}, nil)
	f.svc.repo = &claimStubRepo{Repository: f.repo, claimed: false}

	_, err := f.svc.SynthesizeOnline(context.Background(), &OnlineRequest{Text: "Hi.", Voice: "alloy"})
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "CONFLICT", appErr.Code)
	assert.Zero(t, f.engine.calls, "engine must not run without a claim")
}

func TestSynthesizeOnlineClaimStorageError(t *testing.T) {
	f := newServiceFixture(t, &stubEngine{sampleRate: 16000, samples: make([]int16, 100)}, nil)
	f.svc.repo = &claimStubRepo{Repository: f.repo, err: errors.New("connection reset")}

	_, err := f.svc.SynthesizeOnline(context.Background(), &OnlineRequest{Text: "Hi.", Voice: "alloy"})
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "STORAGE_ERROR", appErr.Code)
	assert.Contains(t, appErr.Error(), "connection reset")
}

func TestSynthesizeOnlineValidation(t *testing.T) {
	f := newServiceFixture(t, &stubEngine{sampleRate: 16000}, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  *OnlineRequest
	}{
		{"empty text", &OnlineRequest{Text: "   ", Voice: "alloy"}},
		{"text too long", &OnlineRequest{Text: strings.Repeat("a", 301), Voice: "alloy"}},
		{"unknown voice", &OnlineRequest{Text: "Hi.", Voice: "ghost"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SynthesizeOnline(ctx, tt.req)
			var appErr *apperrors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, "VALIDATION_ERROR", appErr.Code)
			assert.Zero(t, f.engine.calls, "engine must not be called on invalid input")
		})
	}
}

func TestSubmitLongText(t *testing.T) {
	f := newServiceFixture(t, &stubEngine{sampleRate: 16000}, nil)
	ctx := context.Background()

	text := strings.Repeat("Long text for synthesis. ", 40)
	res, err := f.svc.SubmitLongText(ctx, &SubmitRequest{
		Text:        text,
		Voice:       "nova",
		CallbackURL: "https://example.com/done",
		Priority:    3,
		Metadata:    map[string]any{"source": "test"},
	})
	require.NoError(t, err)

	assert.Len(t, res.TaskID, 10)
	assert.Equal(t, "pending", res.Status)
	assert.Equal(t, len([]rune(text)), res.TextLength)
	assert.InDelta(t, float64(len([]rune(text)))*0.1, res.EstimatedProcessingTime, 0.001)

	// Task is durable with the full text in the file store.
	rec, err := f.repo.Get(ctx, res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, rec.Status)
	assert.Equal(t, 3, rec.Priority)
	assert.Equal(t, "https://example.com/done", rec.CallbackURL)
	assert.LessOrEqual(t, len([]rune(rec.TextPreview)), task.TextPreviewLength)

	stored, err := f.files.ReadText(res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, text, stored)

	// Task is queued.
	id, err := f.queue.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.TaskID, id)
}

func TestSubmitLongTextValidation(t *testing.T) {
	f := newServiceFixture(t, &stubEngine{}, nil)
	ctx := context.Background()

	_, err := f.svc.SubmitLongText(ctx, &SubmitRequest{
		Text:  strings.Repeat("a", 50001),
		Voice: "alloy",
	})
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "VALIDATION_ERROR", appErr.Code)
}

func TestGetStatusCaching(t *testing.T) {
	f := newServiceFixture(t, &stubEngine{}, nil)
	ctx := context.Background()

	res, err := f.svc.SubmitLongText(ctx, &SubmitRequest{Text: "Some text.", Voice: "alloy"})
	require.NoError(t, err)

	// First read populates the cache.
	got, err := f.svc.GetStatus(ctx, res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, got.Status)

	// Mutate the store behind the cache; the cached record is served.
	claimed, err := f.repo.ClaimProcessing(ctx, res.TaskID)
	require.NoError(t, err)
	require.True(t, claimed)

	got, err = f.svc.GetStatus(ctx, res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, got.Status)

	// After invalidation the fresh state is visible.
	NewStatusCache(f.redis, time.Hour).Invalidate(ctx, res.TaskID)
	got, err = f.svc.GetStatus(ctx, res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusProcessing, got.Status)
}

func TestGetStatusNotFound(t *testing.T) {
	f := newServiceFixture(t, &stubEngine{}, nil)

	_, err := f.svc.GetStatus(context.Background(), "missing123")
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "NOT_FOUND", appErr.Code)
}

func TestGetResultAudio(t *testing.T) {
	eng := &stubEngine{sampleRate: 16000, samples: make([]int16, 4000)}
	f := newServiceFixture(t, eng, nil)
	ctx := context.Background()

	res, err := f.svc.SynthesizeOnline(ctx, &OnlineRequest{Text: "Hello.", Voice: "alloy"})
	require.NoError(t, err)

	data, rec, err := f.svc.GetResultAudio(ctx, res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, res.TaskID, rec.TaskID)

	srt, _, err := f.svc.GetResultSubtitle(ctx, res.TaskID)
	require.NoError(t, err)
	assert.Contains(t, string(srt), "-->")
}

func TestGetResultAudioNotCompleted(t *testing.T) {
	f := newServiceFixture(t, &stubEngine{}, nil)
	ctx := context.Background()

	res, err := f.svc.SubmitLongText(ctx, &SubmitRequest{Text: "Queued text.", Voice: "alloy"})
	require.NoError(t, err)

	_, _, err = f.svc.GetResultAudio(ctx, res.TaskID)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "VALIDATION_ERROR", appErr.Code)
	assert.Contains(t, appErr.Message, "pending")
}

func TestGetStats(t *testing.T) {
	f := newServiceFixture(t, &stubEngine{sampleRate: 16000, samples: make([]int16, 100)}, nil)
	ctx := context.Background()

	_, err := f.svc.SubmitLongText(ctx, &SubmitRequest{Text: "One.", Voice: "alloy"})
	require.NoError(t, err)
	_, err = f.svc.SubmitLongText(ctx, &SubmitRequest{Text: "Two.", Voice: "alloy"})
	require.NoError(t, err)
	_, err = f.svc.SynthesizeOnline(ctx, &OnlineRequest{Text: "Three.", Voice: "alloy"})
	require.NoError(t, err)

	stats, err := f.svc.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Tasks[task.StatusPending])
	assert.Equal(t, int64(1), stats.Tasks[task.StatusCompleted])
	assert.Equal(t, "long_text", stats.Queue.Name)
	assert.Equal(t, int64(2), stats.Queue.Length)
}

func TestVoices(t *testing.T) {
	f := newServiceFixture(t, &stubEngine{}, nil)

	cat, err := f.svc.Voices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"alloy", "nova"}, cat.Voices)
	assert.Equal(t, 2, cat.Total)
}

func TestRemoveExpired(t *testing.T) {
	eng := &stubEngine{sampleRate: 16000, samples: make([]int16, 100)}
	f := newServiceFixture(t, eng, nil)
	ctx := context.Background()

	res, err := f.svc.SynthesizeOnline(ctx, &OnlineRequest{Text: "Old one.", Voice: "alloy"})
	require.NoError(t, err)
	keep, err := f.svc.SynthesizeOnline(ctx, &OnlineRequest{Text: "Fresh.", Voice: "alloy"})
	require.NoError(t, err)

	// Age the first completion past retention.
	old := time.Now().Add(-8 * 24 * time.Hour)
	require.NoError(t, f.db.Model(&task.Task{}).
		Where("task_id = ?", res.TaskID).
		Update("completed_at", old).Error)

	removed, err := f.svc.RemoveExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	// Expired task is gone from store and disk; the fresh one survives.
	_, err = f.repo.Get(ctx, res.TaskID)
	assert.ErrorIs(t, err, task.ErrTaskNotFound)
	_, statErr := os.Stat(f.files.TaskDir(res.TaskID))
	assert.True(t, os.IsNotExist(statErr))

	rec, err := f.repo.Get(ctx, keep.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, rec.Status)
}
