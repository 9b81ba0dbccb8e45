package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/scribe/internal/subtitle"
)

// ErrNotFound indicates the named artifact does not exist in the store.
// Names that try to escape the storage root report the same error.
var ErrNotFound = errors.New("artifact not found")

// Info describes one stored artifact.
type Info struct {
	Name    string    `json:"filename"`
	Size    int64     `json:"size"`
	Created time.Time `json:"created"`
}

// Store persists encoded transcripts in a single flat directory. The
// directory listing is the index; there is no manifest. Same-name writes
// overwrite (last writer wins).
type Store struct {
	root   string
	mirror *Mirror
	log    zerolog.Logger
}

// NewStore creates the storage root if needed. mirror may be nil.
func NewStore(root string, mirror *Mirror, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir %s: %w", root, err)
	}
	return &Store{
		root:   root,
		mirror: mirror,
		log:    log.With().Str("component", "artifact-store").Logger(),
	}, nil
}

// Dir returns the storage root path.
func (s *Store) Dir() string { return s.root }

// Writable reports whether the storage root currently accepts writes.
// Used by the health endpoint.
func (s *Store) Writable() bool {
	f, err := os.CreateTemp(s.root, ".healthcheck-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}

// Save writes content under {name}{ext} with the extension chosen from the
// encoding. The write is atomic (temp file + rename) so a crashed save
// never leaves a partial artifact behind.
func (s *Store) Save(name string, encoding subtitle.Encoding, content []byte) (string, error) {
	filename := name + encoding.Ext()
	if !safeName(filename) {
		return "", fmt.Errorf("unsafe artifact name %q", filename)
	}
	path := filepath.Join(s.root, filename)

	tmp, err := os.CreateTemp(s.root, ".artifact-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("rename: %w", err)
	}

	if s.mirror != nil {
		s.mirror.Enqueue(filename, content, encoding.ContentType())
	}

	s.log.Debug().Str("artifact", filename).Int("bytes", len(content)).Msg("artifact saved")
	return path, nil
}

// List enumerates stored artifacts, newest first. Scratch files from
// in-flight atomic writes are skipped.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read output dir: %w", err)
	}

	infos := make([]Info, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, Info{
			Name:    e.Name(),
			Size:    fi.Size(),
			Created: fi.ModTime(),
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Created.After(infos[j].Created) })
	return infos, nil
}

// Read returns the named artifact's bytes. Names containing path
// separators or traversal components never reach the filesystem: the
// stem can embed caller-influenced text, so anything that would resolve
// outside the root reports ErrNotFound.
func (s *Store) Read(name string) ([]byte, error) {
	if !safeName(name) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	data, err := os.ReadFile(filepath.Join(s.root, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", name, err)
	}
	return data, nil
}

// safeName accepts only bare filenames that stay inside the flat root.
func safeName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) {
		return false
	}
	if strings.HasPrefix(name, ".") {
		return false
	}
	return filepath.Base(name) == name
}
