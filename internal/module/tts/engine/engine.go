package engine

import (
	"context"
)

// Synthesis is the raw output of a synthesis call: mono PCM16 samples at
// the engine's native sample rate.
type Synthesis struct {
	SampleRate int
	Samples    []int16
}

// Duration returns the audio length in seconds.
func (s *Synthesis) Duration() float64 {
	if s.SampleRate <= 0 {
		return 0
	}
	return float64(len(s.Samples)) / float64(s.SampleRate)
}

// Engine synthesizes speech from text.
type Engine interface {
	// Synthesize renders the text with the given voice. The seed makes
	// generation reproducible; pass the same seed to get the same audio.
	Synthesize(ctx context.Context, voice, text string, seed int64) (*Synthesis, error)

	// HealthCheck verifies the engine is reachable and ready.
	HealthCheck(ctx context.Context) error
}
