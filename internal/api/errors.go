package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/snarg/scribe/internal/artifact"
	"github.com/snarg/scribe/internal/audio"
	"github.com/snarg/scribe/internal/fetch"
	"github.com/snarg/scribe/internal/recognize"
	"github.com/snarg/scribe/internal/subtitle"
)

// statusClientClosedRequest mirrors nginx's 499 for requests abandoned by
// the client while queued or in flight.
const statusClientClosedRequest = 499

// errorStatus maps pipeline error taxonomy to HTTP status codes. The
// failing stage is identifiable from the wrapped sentinel's message.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, subtitle.ErrUnknownEncoding),
		errors.Is(err, audio.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, artifact.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, audio.ErrDecode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, fetch.ErrFetch),
		errors.Is(err, recognize.ErrRecognition):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	}
	return http.StatusInternalServerError
}

// writePipelineError renders a job failure as JSON.
func writePipelineError(w http.ResponseWriter, err error) {
	WriteError(w, errorStatus(err), err.Error())
}
