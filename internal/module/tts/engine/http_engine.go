package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrEngineUnavailable is returned when the circuit breaker is open and
// calls are being shed without reaching the engine.
var ErrEngineUnavailable = errors.New("synthesis engine unavailable")

// HTTPEngineConfig configures the HTTP engine client.
type HTTPEngineConfig struct {
	URL              string
	Timeout          time.Duration
	FailureThreshold uint32
	BreakerTimeout   time.Duration
}

// HTTPEngine talks to a standalone synthesis service over HTTP. A circuit
// breaker sheds calls after consecutive failures so a dead engine fails
// fast instead of tying up workers on timeouts.
type HTTPEngine struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*Synthesis]
}

// NewHTTPEngine creates an HTTP engine client.
func NewHTTPEngine(cfg *HTTPEngineConfig) *HTTPEngine {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	breakerTimeout := cfg.BreakerTimeout
	if breakerTimeout == 0 {
		breakerTimeout = 60 * time.Second
	}

	settings := gobreaker.Settings{
		Name:     "tts-engine",
		Interval: 60 * time.Second,
		Timeout:  breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	}

	return &HTTPEngine{
		baseURL: cfg.URL,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker[*Synthesis](settings),
	}
}

type synthesizeRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
	Seed  int64  `json:"seed"`
}

type synthesizeResponse struct {
	SampleRate int    `json:"sample_rate"`
	Audio      string `json:"audio"` // base64 PCM16 little-endian
}

// Synthesize renders text through the remote engine.
func (e *HTTPEngine) Synthesize(ctx context.Context, voice, text string, seed int64) (*Synthesis, error) {
	result, err := e.breaker.Execute(func() (*Synthesis, error) {
		return e.synthesize(ctx, voice, text, seed)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
		}
		return nil, err
	}
	return result, nil
}

func (e *HTTPEngine) synthesize(ctx context.Context, voice, text string, seed int64) (*Synthesis, error) {
	body, err := json.Marshal(synthesizeRequest{Text: text, Voice: voice, Seed: seed})
	if err != nil {
		return nil, fmt.Errorf("marshal synthesis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("synthesis engine returned %d: %s", resp.StatusCode, msg)
	}

	var sr synthesizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode synthesis response: %w", err)
	}
	if sr.SampleRate <= 0 {
		return nil, fmt.Errorf("synthesis response has invalid sample rate %d", sr.SampleRate)
	}

	raw, err := base64.StdEncoding.DecodeString(sr.Audio)
	if err != nil {
		return nil, fmt.Errorf("decode synthesis audio: %w", err)
	}
	if len(raw)%2 != 0 {
		return nil, errors.New("synthesis audio has odd byte length")
	}

	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}

	return &Synthesis{SampleRate: sr.SampleRate, Samples: samples}, nil
}

// HealthCheck probes the engine's health endpoint.
func (e *HTTPEngine) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("engine health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("engine health check returned %d", resp.StatusCode)
	}
	return nil
}
