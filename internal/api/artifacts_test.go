package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/snarg/scribe/internal/artifact"
	"github.com/snarg/scribe/internal/subtitle"
)

func newArtifactsFixture(t *testing.T) (*artifact.Store, http.Handler) {
	t.Helper()
	store, err := artifact.NewStore(t.TempDir(), nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	r := chi.NewRouter()
	NewArtifactsHandler(store, zerolog.Nop()).Routes(r)
	return store, r
}

func TestListFiles(t *testing.T) {
	store, router := newArtifactsFixture(t)

	if _, err := store.Save("talk_transcribe_1", subtitle.EncodingSRT, []byte("srt body")); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Save("talk_translate_2", subtitle.EncodingText, []byte("txt body")); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/files", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Files []artifact.Info `json:"files"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if len(resp.Files) != 2 {
		t.Errorf("files = %d, want 2", len(resp.Files))
	}
}

func TestListFilesEmpty(t *testing.T) {
	_, router := newArtifactsFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/files", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Files []artifact.Info `json:"files"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.Files == nil || len(resp.Files) != 0 {
		t.Errorf("empty store must list as [], got %s", rec.Body.String())
	}
}

func TestDownload(t *testing.T) {
	store, router := newArtifactsFixture(t)
	if _, err := store.Save("talk_transcribe_1", subtitle.EncodingSRT, []byte("srt body")); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/download/talk_transcribe_1.srt", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "srt body" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-subrip" {
		t.Errorf("content-type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="talk_transcribe_1.srt"` {
		t.Errorf("content-disposition = %q", cd)
	}
}

func TestDownloadNotFound(t *testing.T) {
	_, router := newArtifactsFixture(t)

	for _, name := range []string{"missing.txt", ".env", "..%2Fescape.txt"} {
		req := httptest.NewRequest(http.MethodGet, "/download/"+name, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("download %q: status = %d, want 404", name, rec.Code)
		}
	}
}

func TestContentTypeFor(t *testing.T) {
	cases := map[string]string{
		"a.srt": "application/x-subrip",
		"a.vtt": "text/vtt",
		"a.txt": "text/plain; charset=utf-8",
		"a.sbv": "text/plain; charset=utf-8",
	}
	for name, want := range cases {
		if got := contentTypeFor(name); got != want {
			t.Errorf("contentTypeFor(%q) = %q, want %q", name, got, want)
		}
	}
}
