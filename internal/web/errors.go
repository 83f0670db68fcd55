package web

// Every handler error goes through respondError. The technical error is
// logged with the request ID and the client gets the mapped UserMessage:
// JSON for /api routes and JSON-accepting clients, an HTML page otherwise.

import (
	"errors"
	"net/http"
	"strings"

	"github.com/JonMunkholm/delimload/internal/delimited"
	"github.com/JonMunkholm/delimload/internal/ingest"
	"github.com/JonMunkholm/delimload/internal/logging"
	"github.com/JonMunkholm/delimload/internal/store"
	"github.com/JonMunkholm/delimload/internal/web/templates"
)

// Request errors raised by the handlers themselves.
var (
	errFileTooLarge = errors.New("file too large")
	errNoFile       = errors.New("no file provided")
	errMissingURI   = errors.New("missing uri parameter")
)

// ErrorResponse is the JSON body of an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// statusFor picks the HTTP status for err.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ingest.ErrIngestNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ingest.ErrIngestRunning):
		return http.StatusConflict
	case errors.Is(err, ingest.ErrTooManyIngests):
		return http.StatusServiceUnavailable
	case errors.Is(err, ingest.ErrInvalidID),
		errors.Is(err, errNoFile),
		errors.Is(err, errMissingURI),
		errors.Is(err, delimited.ErrInvalidDelimiter),
		errors.Is(err, delimited.ErrUnknownEncoding):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := ingest.MapError(err)

	log := logging.FromContext(r.Context())
	args := []any{"path", r.URL.Path, "method", r.Method, "status", status, "error", err, "code", msg.Code}
	if status >= 500 {
		log.Error("request error", args...)
	} else {
		log.Warn("request error", args...)
	}

	if wantsJSON(r) {
		writeJSON(w, status, ErrorResponse{
			Error:   msg.Message,
			Message: msg.Message,
			Action:  msg.Action,
			Code:    msg.Code,
		})
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	templates.ErrorPage(msg.Message, msg.Action, msg.Code).Render(r.Context(), w)
}

func wantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
