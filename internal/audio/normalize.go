package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// ErrUnsupportedFormat indicates a format hint outside the enumerated set.
// Hints are matched exactly; the normalizer never sniffs content.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Format is a caller-supplied input container/codec hint.
type Format string

const (
	FormatWAV  Format = "wav"
	FormatMP3  Format = "mp3"
	FormatWebM Format = "webm"
)

// ParseFormat validates a format hint string.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatWAV:
		return FormatWAV, nil
	case FormatMP3:
		return FormatMP3, nil
	case FormatWebM:
		return FormatWebM, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// demuxer maps a format hint to the ffmpeg demuxer name. webm is read by
// the matroska demuxer; "webm" is only a muxer on the output side.
func (f Format) demuxer() string {
	if f == FormatWebM {
		return "matroska"
	}
	return string(f)
}

// ffmpegAvailable caches whether ffmpeg is in PATH (checked once at startup).
var ffmpegAvailable *bool

// CheckFFmpeg checks if ffmpeg is available in PATH. Call once at startup.
func CheckFFmpeg(path string) bool {
	if ffmpegAvailable != nil {
		return *ffmpegAvailable
	}
	if path == "" {
		path = "ffmpeg"
	}
	_, err := exec.LookPath(path)
	avail := err == nil
	ffmpegAvailable = &avail
	return avail
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, stdin []byte, name string, args ...string) (stdout []byte, stderr string, err error)
}

// execRunner executes commands via os/exec, feeding stdin from memory and
// capturing both output streams.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.String(), err
}

// Normalizer decodes arbitrary input audio into the canonical waveform.
// Decoding is delegated to ffmpeg; the normalizer itself holds no state
// beyond configuration and leaves no scratch files (pipe in, pipe out).
type Normalizer struct {
	ffmpegPath string
	runner     commandRunner
	log        zerolog.Logger
}

// NewNormalizer creates a Normalizer using the given ffmpeg binary.
func NewNormalizer(ffmpegPath string, log zerolog.Logger) *Normalizer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Normalizer{
		ffmpegPath: ffmpegPath,
		runner:     execRunner{},
		log:        log.With().Str("component", "normalizer").Logger(),
	}
}

// Normalize decodes raw bytes in the hinted format into a canonical
// mono 16 kHz PCM waveform. Input that is already canonical WAV passes
// through without re-encoding.
func (n *Normalizer) Normalize(ctx context.Context, raw []byte, format Format) (*Waveform, error) {
	if _, err := ParseFormat(string(format)); err != nil {
		return nil, err
	}

	// Fast path only: already-canonical PCM WAV is passed through without
	// re-encoding. Everything else — float or extensible WAV the header
	// reader does not speak, wrong rate, corrupt input — goes to ffmpeg,
	// which decides what is actually decodable.
	if format == FormatWAV {
		if wf, err := ParseWAV(raw); err == nil && wf.Canonical() {
			return wf, nil
		}
	}

	// ffmpeg: decode hinted container from stdin, resample to canonical
	// form, write a WAV container to stdout.
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", "error",
		"-f", format.demuxer(),
		"-i", "pipe:0",
		"-vn",
		"-ac", fmt.Sprintf("%d", Channels),
		"-ar", fmt.Sprintf("%d", SampleRate),
		"-c:a", "pcm_s16le",
		"-f", "wav",
		"pipe:1",
	}

	out, stderr, err := n.runner.Run(ctx, raw, n.ffmpegPath, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg: %v: %s", ErrDecode, err, lastLine(stderr))
	}

	wf, err := ParseWAV(out)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg produced unreadable output: %w", err)
	}
	if !wf.Canonical() {
		return nil, fmt.Errorf("%w: ffmpeg output is not canonical (%d Hz, %d ch)", ErrDecode, wf.SampleRate(), wf.Channels())
	}

	n.log.Debug().
		Str("format", string(format)).
		Int("input_bytes", len(raw)).
		Dur("duration", wf.Duration()).
		Msg("normalized")

	return wf, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
