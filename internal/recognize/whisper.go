package recognize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/snarg/scribe/internal/audio"
)

// WhisperClient calls an OpenAI-compatible /v1/audio/transcriptions endpoint.
// The engine is a shared, resource-heavy singleton; callers must route every
// Recognize call through the pipeline gate so it is never invoked concurrently.
type WhisperClient struct {
	url      string
	model    string
	timeout  time.Duration
	client   *http.Client
	defaults WhisperOpts
}

// WhisperOpts are optional per-client decoding parameters. Zero-value fields
// are omitted from the request so servers with their own defaults keep them.
type WhisperOpts struct {
	Temperature float64
	Language    string // hint for transcribe; ignored by translate
}

type whisperResponse struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
	Segments []whisperSegment `json:"segments"`
}

type whisperSegment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// NewWhisperClient creates a new Whisper HTTP client.
func NewWhisperClient(url, model string, timeout time.Duration) *WhisperClient {
	return &WhisperClient{
		url:     url,
		model:   model,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

func (wc *WhisperClient) Name() string  { return "whisper" }
func (wc *WhisperClient) Model() string { return wc.model }

// SetDefaults sets decoding parameters applied to every Recognize call.
func (wc *WhisperClient) SetDefaults(opts WhisperOpts) { wc.defaults = opts }

// Recognize sends the canonical waveform to the Whisper API and returns the
// full text plus timed segments. Segment timestamps are always requested,
// regardless of the output encoding the caller will pick.
func (wc *WhisperClient) Recognize(ctx context.Context, wf *audio.Waveform, task Task) (*Result, error) {
	return wc.recognize(ctx, wf, task, wc.defaults)
}

// RecognizeWithOpts is Recognize with explicit decoding parameters.
func (wc *WhisperClient) RecognizeWithOpts(ctx context.Context, wf *audio.Waveform, task Task, opts WhisperOpts) (*Result, error) {
	return wc.recognize(ctx, wf, task, opts)
}

func (wc *WhisperClient) recognize(ctx context.Context, wf *audio.Waveform, task Task, opts WhisperOpts) (*Result, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("%w: create form file: %v", ErrRecognition, err)
	}
	if _, err := part.Write(wf.WAV()); err != nil {
		return nil, fmt.Errorf("%w: copy audio data: %v", ErrRecognition, err)
	}

	if wc.model != "" {
		w.WriteField("model", wc.model)
	}
	w.WriteField("task", string(task))
	w.WriteField("response_format", "verbose_json")
	w.WriteField("timestamp_granularities[]", "segment")

	if opts.Language != "" && task == TaskTranscribe {
		w.WriteField("language", opts.Language)
	}
	if opts.Temperature > 0 {
		w.WriteField("temperature", fmt.Sprintf("%.2f", opts.Temperature))
	}

	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wc.url, &buf)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrRecognition, err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := wc.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecognition, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrRecognition, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: engine returned status %d: %s", ErrRecognition, resp.StatusCode, truncate(body, 200))
	}

	var wr whisperResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrRecognition, err)
	}

	result := &Result{
		Text:     wr.Text,
		Language: wr.Language,
		Duration: wr.Duration,
		Segments: make([]Segment, 0, len(wr.Segments)),
	}
	for _, s := range wr.Segments {
		result.Segments = append(result.Segments, Segment{Start: s.Start, End: s.End, Text: s.Text})
	}
	result.normalize()

	return result, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
