package api

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/snarg/scribe/internal/pipeline"
	"github.com/snarg/scribe/internal/recognize"
)

// JobRunner abstracts the pipeline so handlers can be tested with a fake.
type JobRunner interface {
	Run(ctx context.Context, job pipeline.Job) (*pipeline.JobResult, error)
}

// JobsHandler handles transcription and translation job submission.
type JobsHandler struct {
	runner         JobRunner
	maxUploadBytes int64
	log            zerolog.Logger
}

// NewJobsHandler creates the job submission handler.
func NewJobsHandler(runner JobRunner, maxUploadBytes int64, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		runner:         runner,
		maxUploadBytes: maxUploadBytes,
		log:            log.With().Str("handler", "jobs").Logger(),
	}
}

// Routes registers the job submission endpoints.
func (h *JobsHandler) Routes(r chi.Router) {
	r.Post("/transcribe", h.Transcribe)
	r.Post("/translate", h.Translate)
	r.Post("/transcribe-youtube", h.TranscribeYouTube)
	r.Post("/translate-youtube", h.TranslateYouTube)
	r.Post("/main", h.Legacy)
}

// Transcribe handles POST /api/v1/transcribe: multipart upload with a
// format hint, same-language output.
func (h *JobsHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, recognize.TaskTranscribe)
}

// Translate handles POST /api/v1/translate: multipart upload, output
// translated to the engine's target language.
func (h *JobsHandler) Translate(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, recognize.TaskTranslate)
}

func (h *JobsHandler) upload(w http.ResponseWriter, r *http.Request, task recognize.Task) {
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read uploaded file")
		return
	}

	formatHint := r.FormValue("format")
	if formatHint == "" {
		formatHint = r.FormValue("file_format")
	}

	task, err = formTask(r, task)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := pipeline.Job{
		Filename:     header.Filename,
		Data:         data,
		FormatHint:   formatHint,
		Task:         task,
		OutputFormat: r.FormValue("output_format"),
		Persist:      FormBool(r, "save_file", true),
	}
	h.run(w, r, job)
}

// formTask reads the optional per-request task override; the route's task
// stands when the field is absent.
func formTask(r *http.Request, def recognize.Task) (recognize.Task, error) {
	v := r.FormValue("task")
	if v == "" {
		return def, nil
	}
	return recognize.ParseTask(v)
}

type youtubeRequest struct {
	URL          string `json:"url"`
	OutputFormat string `json:"output_format"`
	SaveFile     *bool  `json:"save_file"`
}

// TranscribeYouTube handles POST /api/v1/transcribe-youtube.
func (h *JobsHandler) TranscribeYouTube(w http.ResponseWriter, r *http.Request) {
	h.youtube(w, r, recognize.TaskTranscribe)
}

// TranslateYouTube handles POST /api/v1/translate-youtube.
func (h *JobsHandler) TranslateYouTube(w http.ResponseWriter, r *http.Request) {
	h.youtube(w, r, recognize.TaskTranslate)
}

func (h *JobsHandler) youtube(w http.ResponseWriter, r *http.Request, task recognize.Task) {
	var req youtubeRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		WriteError(w, http.StatusBadRequest, "url is required")
		return
	}

	persist := true
	if req.SaveFile != nil {
		persist = *req.SaveFile
	}

	job := pipeline.Job{
		SourceURL:    req.URL,
		Task:         task,
		OutputFormat: req.OutputFormat,
		Persist:      persist,
	}
	h.run(w, r, job)
}

// Legacy handles POST /api/v1/main: upload, plain text output, always
// persisted. Kept for clients of the original endpoint.
func (h *JobsHandler) Legacy(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read uploaded file")
		return
	}

	formatHint := r.FormValue("format")
	if formatHint == "" {
		formatHint = r.FormValue("file_format")
	}

	task, err := formTask(r, recognize.TaskTranscribe)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := pipeline.Job{
		Filename:   header.Filename,
		Data:       data,
		FormatHint: formatHint,
		Task:       task,
		Persist:    true,
	}
	h.run(w, r, job)
}

func (h *JobsHandler) run(w http.ResponseWriter, r *http.Request, job pipeline.Job) {
	result, err := h.runner.Run(r.Context(), job)
	if err != nil {
		writePipelineError(w, err)
		return
	}

	key := "transcription"
	if job.Task == recognize.TaskTranslate {
		key = "translation"
	}
	resp := map[string]any{key: result.Content}
	if result.ArtifactPath != "" {
		resp["file_saved"] = result.ArtifactPath
	}
	WriteJSON(w, http.StatusOK, resp)
}
