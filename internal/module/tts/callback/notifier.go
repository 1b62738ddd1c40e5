package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/vocalize/tts-server/internal/shared/errors"
)

// Payload is the JSON body posted to a task's callback URL when it
// reaches a terminal state.
type Payload struct {
	TaskID         string  `json:"task_id"`
	Status         string  `json:"status"`
	AudioURL       *string `json:"audio_url,omitempty"`
	SubtitleURL    *string `json:"srt_url,omitempty"`
	ProcessingTime float64 `json:"processing_time,omitempty"`
	Duration       float64 `json:"duration,omitempty"`
	FileSize       int64   `json:"file_size,omitempty"`
	Error          *string `json:"error,omitempty"`
}

// Notifier delivers terminal-state callbacks. Delivery is attempted once;
// failures are reported to the caller for logging but never affect the
// task's state.
type Notifier struct {
	client *http.Client
}

// NewNotifier creates a notifier with the given delivery timeout.
func NewNotifier(timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Notifier{
		client: &http.Client{Timeout: timeout},
	}
}

// Notify posts the payload to the callback URL. A non-2xx response counts
// as a delivery failure.
func (n *Notifier) Notify(ctx context.Context, url string, payload *Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal callback payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return apperrors.Callback("deliver callback", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperrors.Callback(fmt.Sprintf("callback returned %d", resp.StatusCode), nil)
	}
	return nil
}
