package callback

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/vocalize/tts-server/internal/shared/errors"
)

func TestNotifyDelivers(t *testing.T) {
	var received Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
	}))
	defer srv.Close()

	url := "https://cdn.example.com/a.wav"
	n := NewNotifier(5 * time.Second)
	err := n.Notify(context.Background(), srv.URL, &Payload{
		TaskID:         "task123456",
		Status:         "completed",
		AudioURL:       &url,
		ProcessingTime: 2.5,
		Duration:       10.0,
		FileSize:       4096,
	})
	require.NoError(t, err)

	assert.Equal(t, "task123456", received.TaskID)
	assert.Equal(t, "completed", received.Status)
	require.NotNil(t, received.AudioURL)
	assert.Equal(t, url, *received.AudioURL)
	assert.Nil(t, received.Error)
}

func TestNotifyFailedTaskPayload(t *testing.T) {
	var received Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
	}))
	defer srv.Close()

	errMsg := "engine unreachable"
	n := NewNotifier(5 * time.Second)
	err := n.Notify(context.Background(), srv.URL, &Payload{
		TaskID: "task123456",
		Status: "failed",
		Error:  &errMsg,
	})
	require.NoError(t, err)

	assert.Equal(t, "failed", received.Status)
	require.NotNil(t, received.Error)
	assert.Equal(t, errMsg, *received.Error)
	assert.Nil(t, received.AudioURL)
}

func TestNotifyNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewNotifier(5 * time.Second)
	err := n.Notify(context.Background(), srv.URL, &Payload{TaskID: "x", Status: "completed"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "CALLBACK_ERROR", appErr.Code)
}

func TestNotifyUnreachable(t *testing.T) {
	n := NewNotifier(time.Second)
	err := n.Notify(context.Background(), "http://127.0.0.1:1/callback", &Payload{TaskID: "x"})
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "CALLBACK_ERROR", appErr.Code)
}
