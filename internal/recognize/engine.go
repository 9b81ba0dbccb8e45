package recognize

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/snarg/scribe/internal/audio"
)

// ErrRecognition wraps any failure of the underlying speech-to-text engine.
// Recognition failures are terminal for the job; nothing retries them.
var ErrRecognition = errors.New("recognition failed")

// Task selects the engine output language: transcribe keeps the source
// language, translate produces the engine's fixed target language.
type Task string

const (
	TaskTranscribe Task = "transcribe"
	TaskTranslate  Task = "translate"
)

// ParseTask validates a task mode string.
func ParseTask(s string) (Task, error) {
	switch Task(s) {
	case TaskTranscribe, TaskTranslate:
		return Task(s), nil
	case "":
		return TaskTranscribe, nil
	}
	return "", errors.New("unknown task: " + s)
}

// Engine is the interface for speech-to-text backends.
type Engine interface {
	Recognize(ctx context.Context, wf *audio.Waveform, task Task) (*Result, error)
	Name() string  // "whisper"
	Model() string // model identifier for logs
}

// Segment is one recognized utterance span. Segments are produced as a unit
// by the engine adapter and never mutated afterward.
type Segment struct {
	Start float64 `json:"start"` // seconds
	End   float64 `json:"end"`   // seconds
	Text  string  `json:"text"`
}

// Result is the common transcription result from any engine.
// Segments are ordered by start time and always present, even when the
// caller only wants plain text.
type Result struct {
	Text     string
	Language string
	Duration float64 // audio duration in seconds
	Segments []Segment
}

// normalize enforces the Result post-conditions: segments sorted by start,
// empty-text segments dropped, full text derived from segments when the
// engine omits it.
func (r *Result) normalize() {
	kept := r.Segments[:0]
	for _, s := range r.Segments {
		if strings.TrimSpace(s.Text) != "" {
			kept = append(kept, s)
		}
	}
	r.Segments = kept

	sort.SliceStable(r.Segments, func(i, j int) bool {
		return r.Segments[i].Start < r.Segments[j].Start
	})

	if strings.TrimSpace(r.Text) == "" && len(r.Segments) > 0 {
		parts := make([]string, 0, len(r.Segments))
		for _, s := range r.Segments {
			parts = append(parts, strings.TrimSpace(s.Text))
		}
		r.Text = strings.Join(parts, " ")
	}
}
