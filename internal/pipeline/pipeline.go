package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/scribe/internal/artifact"
	"github.com/snarg/scribe/internal/audio"
	"github.com/snarg/scribe/internal/metrics"
	"github.com/snarg/scribe/internal/notify"
	"github.com/snarg/scribe/internal/recognize"
	"github.com/snarg/scribe/internal/subtitle"
)

// Job is one transcription request. It is a transient execution context
// owned by the request handler for its lifetime; jobs are never persisted.
// Exactly one of SourceURL or Data is the input.
type Job struct {
	SourceURL    string // remote origin
	Filename     string // upload origin, used for artifact naming
	Data         []byte // upload payload
	FormatHint   string // upload container hint (wav|mp3|webm)
	Task         recognize.Task
	OutputFormat string // text|srt|vtt|sbv
	Persist      bool
}

// JobResult is the outcome of a successful pipeline run.
type JobResult struct {
	Content      string
	Result       *recognize.Result
	ArtifactName string // filename with extension, when persisted
	ArtifactPath string // storage path, when persisted
}

// Fetcher resolves a URL to WAV-container audio bytes.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Normalizer decodes hinted audio bytes into the canonical waveform.
type Normalizer interface {
	Normalize(ctx context.Context, raw []byte, format audio.Format) (*audio.Waveform, error)
}

// Notifier receives completion events for persisted and ephemeral jobs.
type Notifier interface {
	JobCompleted(ev notify.CompletionEvent)
}

// Options configures a Pipeline.
type Options struct {
	Normalizer Normalizer
	Fetcher    Fetcher
	Engine     recognize.Engine
	Gate       *Gate
	Store      *artifact.Store
	Notifier   Notifier // optional
	Log        zerolog.Logger
}

// Pipeline runs transcription jobs end to end: input acquisition,
// normalization, serialized recognition, encoding, and persistence.
// It is safe for concurrent use; the only cross-job serialization point
// is the recognition gate.
type Pipeline struct {
	normalizer Normalizer
	fetcher    Fetcher
	engine     recognize.Engine
	gate       *Gate
	store      *artifact.Store
	notifier   Notifier
	log        zerolog.Logger
	now        func() time.Time
}

// New creates a Pipeline. A nil Gate gets a fresh single-slot gate.
func New(opts Options) *Pipeline {
	gate := opts.Gate
	if gate == nil {
		gate = NewGate()
	}
	return &Pipeline{
		normalizer: opts.Normalizer,
		fetcher:    opts.Fetcher,
		engine:     opts.Engine,
		gate:       gate,
		store:      opts.Store,
		notifier:   opts.Notifier,
		log:        opts.Log,
		now:        time.Now,
	}
}

// Run executes one job. Every failure is terminal for the job and typed;
// no artifact is ever written unless the whole pipeline succeeded and the
// job asked for persistence.
func (p *Pipeline) Run(ctx context.Context, job Job) (*JobResult, error) {
	start := p.now()

	// Fail fast: reject unknown encodings and format hints before any
	// fetch, decode, or engine work is spent.
	encoding, err := subtitle.ParseEncoding(job.OutputFormat)
	if err != nil {
		metrics.JobsTotal.WithLabelValues(string(job.Task), "rejected").Inc()
		return nil, err
	}

	format := audio.FormatWAV // the fetcher always hands over a WAV container
	if job.SourceURL == "" {
		format, err = audio.ParseFormat(job.FormatHint)
		if err != nil {
			metrics.JobsTotal.WithLabelValues(string(job.Task), "rejected").Inc()
			return nil, err
		}
	}

	raw := job.Data
	if job.SourceURL != "" {
		raw, err = p.stageFetch(ctx, job.SourceURL)
		if err != nil {
			return nil, p.failed(job, err)
		}
	}

	wf, err := p.stageNormalize(ctx, raw, format)
	if err != nil {
		return nil, p.failed(job, err)
	}

	res, err := p.stageRecognize(ctx, wf, job.Task)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			metrics.JobsTotal.WithLabelValues(string(job.Task), "canceled").Inc()
			return nil, err
		}
		return nil, p.failed(job, err)
	}

	content, err := subtitle.Encode(res.Segments, encoding)
	if err != nil {
		return nil, p.failed(job, err)
	}
	if encoding == subtitle.EncodingText && content == "" {
		content = strings.TrimSpace(res.Text)
	}

	out := &JobResult{Content: content, Result: res}

	if job.Persist {
		origin := artifact.Origin{URL: job.SourceURL, Filename: job.Filename}
		name := artifact.Name(origin, job.Task, p.now())
		path, err := p.store.Save(name, encoding, []byte(content))
		if err != nil {
			return nil, p.failed(job, fmt.Errorf("save artifact: %w", err))
		}
		out.ArtifactName = name + encoding.Ext()
		out.ArtifactPath = path
	}

	if p.notifier != nil {
		p.notifier.JobCompleted(notify.CompletionEvent{
			Artifact:        out.ArtifactName,
			Task:            string(job.Task),
			Encoding:        string(encoding),
			Language:        res.Language,
			DurationSeconds: res.Duration,
			Segments:        len(res.Segments),
		})
	}

	metrics.JobsTotal.WithLabelValues(string(job.Task), "completed").Inc()
	p.log.Info().
		Str("task", string(job.Task)).
		Str("encoding", string(encoding)).
		Int("segments", len(res.Segments)).
		Str("artifact", out.ArtifactName).
		Dur("elapsed", p.now().Sub(start)).
		Msg("job completed")

	return out, nil
}

func (p *Pipeline) stageFetch(ctx context.Context, url string) ([]byte, error) {
	defer observe("fetch", p.now())
	return p.fetcher.Fetch(ctx, url)
}

func (p *Pipeline) stageNormalize(ctx context.Context, raw []byte, format audio.Format) (*audio.Waveform, error) {
	defer observe("normalize", p.now())
	return p.normalizer.Normalize(ctx, raw, format)
}

// stageRecognize holds the gate for exactly the duration of the engine
// call. A context that fires while queued removes the job from the wait
// queue without the gate ever being held.
func (p *Pipeline) stageRecognize(ctx context.Context, wf *audio.Waveform, task recognize.Task) (*recognize.Result, error) {
	if err := p.gate.Acquire(ctx); err != nil {
		return nil, err
	}
	defer p.gate.Release()
	defer observe("recognize", p.now())
	return p.engine.Recognize(ctx, wf, task)
}

func (p *Pipeline) failed(job Job, err error) error {
	metrics.JobsTotal.WithLabelValues(string(job.Task), "failed").Inc()
	p.log.Warn().Err(err).Str("task", string(job.Task)).Msg("job failed")
	return err
}

func observe(stage string, start time.Time) {
	metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
