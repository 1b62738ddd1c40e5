package uploader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/vocalize/tts-server/internal/shared/errors"
)

func newTestUploader(t *testing.T, endpoint string) *S3Uploader {
	t.Helper()

	u, err := NewS3Uploader(&Config{
		Endpoint:        endpoint,
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		Bucket:          "media",
		RemotePath:      "tts_files",
	})
	require.NoError(t, err)
	u.retryDelay = time.Millisecond
	return u
}

func TestNewS3UploaderIncompleteConfig(t *testing.T) {
	_, err := NewS3Uploader(&Config{Endpoint: "https://s3.example.com"})
	assert.Error(t, err)
}

func TestKeyAppliesRemotePath(t *testing.T) {
	u := newTestUploader(t, "https://s3.example.com")
	assert.Equal(t, "tts_files/abc123XYZ0.wav", u.Key("abc123XYZ0.wav"))
}

func TestUploadPrefixesRemotePath(t *testing.T) {
	var gotPath, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
	}))
	defer srv.Close()

	u := newTestUploader(t, srv.URL)
	url, err := u.Upload(context.Background(), "abc123XYZ0.wav", []byte("RIFFdata"), "audio/wav")
	require.NoError(t, err)

	// Path-style request: /<bucket>/<remote_path>/<filename>.
	assert.Equal(t, "/media/tts_files/abc123XYZ0.wav", gotPath)
	assert.Equal(t, "audio/wav", gotContentType)
	assert.Equal(t, srv.URL+"/media/tts_files/abc123XYZ0.wav", url)
}

func TestUploadRetriesThenFails(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	u := newTestUploader(t, srv.URL)
	_, err := u.Upload(context.Background(), "abc123XYZ0.wav", []byte("RIFFdata"), "audio/wav")
	require.Error(t, err)
	assert.GreaterOrEqual(t, attempts.Load(), int32(3))

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "UPLOAD_ERROR", appErr.Code)
}
