package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrFetch wraps any failure while resolving or downloading remote audio:
// network errors, unresolvable URLs, or no audio stream found.
var ErrFetch = errors.New("remote audio fetch failed")

// ytdlpAvailable caches whether yt-dlp is in PATH (checked once at startup).
var ytdlpAvailable *bool

// CheckYTDLP checks if yt-dlp is available in PATH. Call once at startup.
func CheckYTDLP(path string) bool {
	if ytdlpAvailable != nil {
		return *ytdlpAvailable
	}
	if path == "" {
		path = "yt-dlp"
	}
	_, err := exec.LookPath(path)
	avail := err == nil
	ytdlpAvailable = &avail
	return avail
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stderr string, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.String(), err
}

// Fetcher downloads the best available audio track for a URL via yt-dlp,
// transcoded to a WAV container so downstream always sees a single
// container type from this path.
type Fetcher struct {
	ytdlpPath string
	runner    commandRunner
	log       zerolog.Logger
}

// NewFetcher creates a Fetcher using the given yt-dlp binary.
func NewFetcher(ytdlpPath string, log zerolog.Logger) *Fetcher {
	if ytdlpPath == "" {
		ytdlpPath = "yt-dlp"
	}
	return &Fetcher{
		ytdlpPath: ytdlpPath,
		runner:    execRunner{},
		log:       log.With().Str("component", "fetcher").Logger(),
	}
}

// Fetch resolves and downloads the best audio stream for the URL, returning
// WAV-container bytes. All scratch storage lives in a per-call temp
// directory that is removed on every exit path, including mid-download
// failures of the external tool.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, fmt.Errorf("%w: empty url", ErrFetch)
	}

	scratch, err := os.MkdirTemp("", "scribe-fetch-*")
	if err != nil {
		return nil, fmt.Errorf("%w: create scratch dir: %v", ErrFetch, err)
	}
	defer os.RemoveAll(scratch)

	stem := "yt_audio_" + uuid.NewString()
	args := []string{
		"-f", "bestaudio/best",
		"-x",
		"--audio-format", "wav",
		"--audio-quality", "192K",
		"--no-playlist",
		"--quiet",
		"-o", filepath.Join(scratch, stem+".%(ext)s"),
		rawURL,
	}

	stderr, err := f.runner.Run(ctx, f.ytdlpPath, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: yt-dlp: %v: %s", ErrFetch, err, lastLine(stderr))
	}

	data, err := os.ReadFile(filepath.Join(scratch, stem+".wav"))
	if err != nil {
		return nil, fmt.Errorf("%w: no audio stream produced for %s", ErrFetch, rawURL)
	}

	f.log.Debug().Str("url", rawURL).Int("bytes", len(data)).Msg("remote audio fetched")
	return data, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
