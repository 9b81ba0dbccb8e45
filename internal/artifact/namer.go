package artifact

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/snarg/scribe/internal/recognize"
)

// Origin describes where a job's input came from. At most one field is set.
type Origin struct {
	URL      string // remote origin
	Filename string // upload origin
}

// Name derives a stable, filesystem-safe identifier for a job's output.
// The unix timestamp gives practical uniqueness across repeated jobs with
// the same origin and task; two jobs finishing within the same second with
// identical origin/task collide and the later write wins. That is accepted
// behavior, not a bug.
func Name(origin Origin, task recognize.Task, now time.Time) string {
	ts := now.Unix()

	if origin.URL != "" {
		if id := youtubeID(origin.URL); id != "" {
			return fmt.Sprintf("youtube_%s_%s_%d", id, task, ts)
		}
		return fmt.Sprintf("youtube_%s_%d", task, ts)
	}

	if origin.Filename != "" {
		if stem := cleanStem(origin.Filename); stem != "" {
			return fmt.Sprintf("%s_%s_%d", stem, task, ts)
		}
	}

	return fmt.Sprintf("audio_%s_%d", task, ts)
}

// youtubeID extracts the video identifier from the two supported URL
// families: youtube.com/watch?v=<id> and youtu.be/<id>. Returns "" when
// the URL does not yield one. Video identifiers are alnum plus _ and -;
// anything else in the extracted value is dropped.
func youtubeID(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	var id string
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	switch {
	case host == "youtube.com" || strings.HasSuffix(host, ".youtube.com"):
		id = u.Query().Get("v")
	case host == "youtu.be":
		id = strings.TrimPrefix(strings.TrimSuffix(u.Path, "/"), "/")
	}

	var b strings.Builder
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
			b.WriteRune(c)
		}
	}
	return b.String()
}

// cleanStem strips a filename to alnum/./_/- characters and drops the
// extension. The result is safe to embed in an artifact name.
func cleanStem(filename string) string {
	var b strings.Builder
	for _, c := range filename {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteRune(c)
		case c == '.', c == '_', c == '-':
			b.WriteRune(c)
		}
	}
	clean := b.String()
	if i := strings.LastIndexByte(clean, '.'); i >= 0 {
		clean = clean[:i]
	}
	return strings.Trim(clean, ".")
}
