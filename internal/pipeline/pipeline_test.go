package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/scribe/internal/artifact"
	"github.com/snarg/scribe/internal/audio"
	"github.com/snarg/scribe/internal/notify"
	"github.com/snarg/scribe/internal/recognize"
)

// canonicalWAV builds a valid mono 16 kHz 16-bit WAV container holding the
// given number of zero samples.
func canonicalWAV(samples int) []byte {
	pcm := make([]byte, samples*2)
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))     // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1))     // mono
	binary.Write(&buf, binary.LittleEndian, uint32(16000)) // sample rate
	binary.Write(&buf, binary.LittleEndian, uint32(32000)) // byte rate
	binary.Write(&buf, binary.LittleEndian, uint16(2))     // block align
	binary.Write(&buf, binary.LittleEndian, uint16(16))    // bits per sample
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

type fakeFetcher struct {
	calls atomic.Int32
	err   error
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return canonicalWAV(16000), nil
}

type fakeNormalizer struct {
	calls      atomic.Int32
	lastFormat audio.Format
}

func (n *fakeNormalizer) Normalize(ctx context.Context, raw []byte, format audio.Format) (*audio.Waveform, error) {
	n.calls.Add(1)
	n.lastFormat = format
	return audio.ParseWAV(canonicalWAV(16000))
}

// fakeEngine tracks how many callers are inside Recognize at once.
type fakeEngine struct {
	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
	err      error
	result   *recognize.Result
}

func (e *fakeEngine) Recognize(ctx context.Context, wf *audio.Waveform, task recognize.Task) (*recognize.Result, error) {
	e.calls.Add(1)
	cur := e.inFlight.Add(1)
	for {
		max := e.maxSeen.Load()
		if cur <= max || e.maxSeen.CompareAndSwap(max, cur) {
			break
		}
	}
	defer e.inFlight.Add(-1)

	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.err != nil {
		return nil, e.err
	}
	if e.result != nil {
		return e.result, nil
	}
	return &recognize.Result{
		Text:     "hello world",
		Language: "en",
		Duration: 1.0,
		Segments: []recognize.Segment{{Start: 0, End: 1, Text: "hello world"}},
	}, nil
}

func (e *fakeEngine) Name() string  { return "fake" }
func (e *fakeEngine) Model() string { return "fake-1" }

type fakeNotifier struct {
	mu     sync.Mutex
	events []notify.CompletionEvent
}

func (n *fakeNotifier) JobCompleted(ev notify.CompletionEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

type fixture struct {
	pipeline   *Pipeline
	fetcher    *fakeFetcher
	normalizer *fakeNormalizer
	engine     *fakeEngine
	notifier   *fakeNotifier
	dir        string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := artifact.NewStore(dir, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	f := &fixture{
		fetcher:    &fakeFetcher{},
		normalizer: &fakeNormalizer{},
		engine:     &fakeEngine{},
		notifier:   &fakeNotifier{},
		dir:        dir,
	}
	f.pipeline = New(Options{
		Normalizer: f.normalizer,
		Fetcher:    f.fetcher,
		Engine:     f.engine,
		Store:      store,
		Notifier:   f.notifier,
		Log:        zerolog.Nop(),
	})
	return f
}

func (f *fixture) artifactCount(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	return len(entries)
}

func TestRunUploadPersist(t *testing.T) {
	f := newFixture(t)

	res, err := f.pipeline.Run(context.Background(), Job{
		Filename:     "talk.mp3",
		Data:         []byte("fake-mp3"),
		FormatHint:   "mp3",
		Task:         recognize.TaskTranscribe,
		OutputFormat: "srt",
		Persist:      true,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !strings.Contains(res.Content, "-->") {
		t.Errorf("srt content missing timing line: %q", res.Content)
	}
	if !strings.HasPrefix(res.ArtifactName, "talk_transcribe_") || !strings.HasSuffix(res.ArtifactName, ".srt") {
		t.Errorf("artifact name = %q", res.ArtifactName)
	}
	if f.artifactCount(t) != 1 {
		t.Errorf("artifact count = %d, want 1", f.artifactCount(t))
	}
	if f.normalizer.lastFormat != audio.FormatMP3 {
		t.Errorf("normalizer saw format %q, want mp3", f.normalizer.lastFormat)
	}
	if f.fetcher.calls.Load() != 0 {
		t.Error("fetcher must not run for uploads")
	}

	if len(f.notifier.events) != 1 {
		t.Fatalf("notifier events = %d, want 1", len(f.notifier.events))
	}
	ev := f.notifier.events[0]
	if ev.Artifact != res.ArtifactName || ev.Task != "transcribe" || ev.Encoding != "srt" || ev.Segments != 1 {
		t.Errorf("unexpected completion event: %+v", ev)
	}
}

func TestRunNoPersist(t *testing.T) {
	f := newFixture(t)

	res, err := f.pipeline.Run(context.Background(), Job{
		Data:         []byte("x"),
		FormatHint:   "wav",
		Task:         recognize.TaskTranslate,
		OutputFormat: "text",
		Persist:      false,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Content != "hello world" {
		t.Errorf("content = %q", res.Content)
	}
	if res.ArtifactName != "" || res.ArtifactPath != "" {
		t.Errorf("ephemeral job produced artifact %q", res.ArtifactName)
	}
	if f.artifactCount(t) != 0 {
		t.Error("ephemeral job wrote to the output dir")
	}
}

func TestRunRemoteUsesFetcher(t *testing.T) {
	f := newFixture(t)

	res, err := f.pipeline.Run(context.Background(), Job{
		SourceURL:    "https://www.youtube.com/watch?v=abc123",
		Task:         recognize.TaskTranscribe,
		OutputFormat: "vtt",
		Persist:      true,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if f.fetcher.calls.Load() != 1 {
		t.Errorf("fetcher calls = %d, want 1", f.fetcher.calls.Load())
	}
	if f.normalizer.lastFormat != audio.FormatWAV {
		t.Errorf("fetched audio must be normalized as wav, got %q", f.normalizer.lastFormat)
	}
	if !strings.HasPrefix(res.ArtifactName, "youtube_abc123_transcribe_") {
		t.Errorf("artifact name = %q", res.ArtifactName)
	}
}

func TestRunFailFast(t *testing.T) {
	t.Run("unknown_encoding", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.pipeline.Run(context.Background(), Job{
			Data:         []byte("x"),
			FormatHint:   "wav",
			Task:         recognize.TaskTranscribe,
			OutputFormat: "xml",
		})
		if err == nil {
			t.Fatal("expected error for unknown encoding")
		}
		if n := f.fetcher.calls.Load() + f.normalizer.calls.Load() + f.engine.calls.Load(); n != 0 {
			t.Errorf("%d stage calls before validation, want 0", n)
		}
	})

	t.Run("unknown_format_hint", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.pipeline.Run(context.Background(), Job{
			Data:         []byte("x"),
			FormatHint:   "flac",
			Task:         recognize.TaskTranscribe,
			OutputFormat: "text",
		})
		if !errors.Is(err, audio.ErrUnsupportedFormat) {
			t.Fatalf("error = %v, want ErrUnsupportedFormat", err)
		}
		if n := f.fetcher.calls.Load() + f.normalizer.calls.Load() + f.engine.calls.Load(); n != 0 {
			t.Errorf("%d stage calls before validation, want 0", n)
		}
	})
}

func TestRunRecognitionFailureWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.engine.err = recognize.ErrRecognition

	_, err := f.pipeline.Run(context.Background(), Job{
		Data:         []byte("x"),
		FormatHint:   "wav",
		Task:         recognize.TaskTranscribe,
		OutputFormat: "srt",
		Persist:      true,
	})
	if !errors.Is(err, recognize.ErrRecognition) {
		t.Fatalf("error = %v, want ErrRecognition", err)
	}
	if f.artifactCount(t) != 0 {
		t.Error("failed job left an artifact behind")
	}
	if len(f.notifier.events) != 0 {
		t.Error("failed job published a completion event")
	}
}

func TestRunFetchFailure(t *testing.T) {
	f := newFixture(t)
	f.fetcher.err = errors.New("download failed")

	_, err := f.pipeline.Run(context.Background(), Job{
		SourceURL:    "https://youtu.be/xyz",
		Task:         recognize.TaskTranscribe,
		OutputFormat: "text",
	})
	if err == nil {
		t.Fatal("expected fetch error")
	}
	if f.engine.calls.Load() != 0 {
		t.Error("engine ran despite fetch failure")
	}
}

func TestRunTextFallback(t *testing.T) {
	f := newFixture(t)
	f.engine.result = &recognize.Result{Text: "  plain text only  ", Language: "en", Duration: 2}

	res, err := f.pipeline.Run(context.Background(), Job{
		Data:         []byte("x"),
		FormatHint:   "wav",
		Task:         recognize.TaskTranscribe,
		OutputFormat: "text",
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Content != "plain text only" {
		t.Errorf("content = %q, want text fallback from result", res.Content)
	}
}

func TestRunSerializesRecognition(t *testing.T) {
	f := newFixture(t)
	f.engine.delay = 10 * time.Millisecond

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.pipeline.Run(context.Background(), Job{
				Data:         []byte("x"),
				FormatHint:   "wav",
				Task:         recognize.TaskTranscribe,
				OutputFormat: "text",
			})
			if err != nil {
				t.Errorf("Run failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if f.engine.calls.Load() != n {
		t.Errorf("engine calls = %d, want %d", f.engine.calls.Load(), n)
	}
	if max := f.engine.maxSeen.Load(); max != 1 {
		t.Errorf("max concurrent recognitions = %d, want 1", max)
	}
}

func TestRunCanceledWhileQueued(t *testing.T) {
	f := newFixture(t)
	f.engine.delay = 200 * time.Millisecond

	// First job occupies the gate.
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(started)
		f.pipeline.Run(context.Background(), Job{
			Data: []byte("x"), FormatHint: "wav",
			Task: recognize.TaskTranscribe, OutputFormat: "text",
		})
		close(done)
	}()
	<-started
	time.Sleep(20 * time.Millisecond)

	// Second job is canceled while waiting for the slot.
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := f.pipeline.Run(ctx, Job{
			Data: []byte("x"), FormatHint: "wav",
			Task: recognize.TaskTranscribe, OutputFormat: "text",
		})
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("queued job error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("canceled job never returned")
	}

	<-done
	if f.engine.calls.Load() != 1 {
		t.Errorf("engine calls = %d, want 1 (canceled job must not reach the engine)", f.engine.calls.Load())
	}
}
