package web

// errors.go turns service errors into JSON error responses.
//
// The technical error is logged with the request id; the client receives the
// mapped user message and its support code.

import (
	"errors"
	"net/http"

	"github.com/JonMunkholm/ingest/internal/blob"
	"github.com/JonMunkholm/ingest/internal/core"
	"github.com/JonMunkholm/ingest/internal/logging"
)

var (
	errRateLimited   = errors.New("rate limit exceeded")
	errInvalidJobID  = errors.New("invalid request: job id must be a UUID")
	errInvalidBody   = errors.New("invalid request body")
	errMissingChunks = errors.New("invalid chunk parameters")
)

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// respondError logs err and writes its user-facing form.
func respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	msg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}

	writeJSON(w, status, ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// statusFor picks the HTTP status for a service error.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrJobNotFound), errors.Is(err, blob.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidChunk),
		errors.Is(err, core.ErrInvalidMapping),
		errors.Is(err, core.ErrEmptyFile),
		errors.Is(err, core.ErrNoFile),
		errors.Is(err, errInvalidJobID),
		errors.Is(err, errInvalidBody),
		errors.Is(err, errMissingChunks):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrJobActive),
		errors.Is(err, core.ErrInvalidTransition),
		errors.Is(err, core.ErrUploadIncomplete):
		return http.StatusConflict
	case errors.Is(err, core.ErrTooManyUploads), errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, core.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrHeaderTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
