package web

// errors.go maps service errors to HTTP responses.
//
// The technical error is logged with the request ID; the client gets the
// user message from core.MapError plus its code. A rejected sheet also
// carries the full validation report so every finding can be shown.

import (
	"context"
	"errors"
	"net/http"

	"github.com/JonMunkholm/itemstage/internal/core"
	"github.com/JonMunkholm/itemstage/internal/extract"
	"github.com/JonMunkholm/itemstage/internal/logging"
)

// ErrorResponse represents the JSON structure for API error responses.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
	Action  string                 `json:"action,omitempty"`
	Code    string                 `json:"code"`
	Report  *core.ValidationReport `json:"report,omitempty"`
}

// errBadRequest marks malformed request input.
var errBadRequest = errors.New("bad request")

// statusFor picks the HTTP status for an error.
func statusFor(err error) int {
	var rejected *core.ValidationRejectedError
	var tooBig *http.MaxBytesError

	switch {
	case errors.Is(err, core.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.As(err, &rejected), errors.Is(err, core.ErrHeaderMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrWriterBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrInvalidTransition),
		errors.Is(err, core.ErrSessionBusy),
		errors.Is(err, core.ErrNoStageRun),
		errors.Is(err, core.ErrStaleChange):
		return http.StatusConflict
	case errors.Is(err, extract.ErrFileTooLarge), errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errBadRequest),
		errors.Is(err, extract.ErrEmptyFile),
		errors.Is(err, extract.ErrNoFile),
		errors.Is(err, core.ErrEmptySelection),
		errors.Is(err, core.ErrInvalidDiffID),
		errors.Is(err, core.ErrFieldNotComparable):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes its user-facing JSON form.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := core.MapError(err)

	log := logging.FromContext(r.Context()).With(
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"code", msg.Code,
		"error", err.Error(),
	)
	if status >= http.StatusInternalServerError {
		log.Error("request error")
	} else {
		log.Warn("request rejected")
	}

	resp := ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	}
	var rejected *core.ValidationRejectedError
	if errors.As(err, &rejected) {
		resp.Report = rejected.Report
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "30")
	}
	writeJSON(w, status, resp)
}
