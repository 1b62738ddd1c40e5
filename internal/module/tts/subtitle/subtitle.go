package subtitle

import (
	"fmt"
	"strings"
)

// Generator produces SRT subtitles from synthesized text.
//
// Segment timing is allocated proportionally to character count across the
// audio duration, clamped to [MinDuration, MaxDuration] per segment.
type Generator struct {
	MaxCharsPerSegment int
	MinDuration        float64
	MaxDuration        float64
}

// NewGenerator returns a generator with the default segment limits.
func NewGenerator() *Generator {
	return &Generator{
		MaxCharsPerSegment: 30,
		MinDuration:        1.5,
		MaxDuration:        6.0,
	}
}

// breakRunes are the punctuation marks segments break on, covering both
// ASCII and full-width CJK forms.
const breakRunes = ",.;!?，。；！？、"

func isBreak(r rune) bool {
	return strings.ContainsRune(breakRunes, r)
}

// Generate renders SRT content for the given text and audio duration.
// Empty or whitespace-only text yields an empty string.
func (g *Generator) Generate(text string, audioDuration float64) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	segments := g.split(text)
	if len(segments) == 0 {
		return ""
	}

	return g.render(segments, audioDuration)
}

// split breaks text at punctuation, keeping the punctuation attached to the
// preceding run, then re-splits any segment still over the length limit.
func (g *Generator) split(text string) []string {
	var primary []string
	var current strings.Builder

	for _, r := range text {
		current.WriteRune(r)
		if isBreak(r) {
			if s := strings.TrimSpace(current.String()); s != "" {
				primary = append(primary, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		primary = append(primary, s)
	}

	var final []string
	for _, seg := range primary {
		if len([]rune(seg)) <= g.MaxCharsPerSegment {
			final = append(final, seg)
			continue
		}
		final = append(final, g.splitLong(seg)...)
	}
	return final
}

// splitLong chops an over-long segment into runs of at most
// MaxCharsPerSegment runes, breaking at spaces where possible.
func (g *Generator) splitLong(seg string) []string {
	var result []string
	var current []rune
	lastSpace := -1

	for _, r := range seg {
		current = append(current, r)
		if r == ' ' {
			lastSpace = len(current) - 1
		}
		if len(current) >= g.MaxCharsPerSegment {
			cut := len(current)
			if lastSpace > 0 {
				cut = lastSpace
			}
			if s := strings.TrimSpace(string(current[:cut])); s != "" {
				result = append(result, s)
			}
			current = append([]rune(nil), current[cut:]...)
			lastSpace = -1
		}
	}
	if s := strings.TrimSpace(string(current)); s != "" {
		result = append(result, s)
	}
	return result
}

func (g *Generator) render(segments []string, audioDuration float64) string {
	totalChars := 0
	for _, s := range segments {
		totalChars += len([]rune(s))
	}

	var b strings.Builder
	currentTime := 0.0

	for i, seg := range segments {
		ratio := 1.0 / float64(len(segments))
		if totalChars > 0 {
			ratio = float64(len([]rune(seg))) / float64(totalChars)
		}

		duration := audioDuration * ratio
		if duration < g.MinDuration {
			duration = g.MinDuration
		}
		if duration > g.MaxDuration {
			duration = g.MaxDuration
		}

		start := currentTime
		end := currentTime + duration
		if end > audioDuration {
			end = audioDuration
		}

		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, FormatTime(start), FormatTime(end), seg)
		currentTime = end
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// FormatTime renders seconds as an SRT timestamp (HH:MM:SS,mmm).
func FormatTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	totalMillis := int64(seconds * 1000)
	hours := totalMillis / 3600000
	minutes := (totalMillis % 3600000) / 60000
	secs := (totalMillis % 60000) / 1000
	millis := totalMillis % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, millis)
}
