package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/bamsammich/warren/internal/linkerr"
)

// Problem is an RFC 7807 problem details response.
type Problem struct {
	Type     string `json:"type,omitempty"`
	Title    string `json:"title"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	Code     string `json:"code,omitempty"`
	Status   int    `json:"status"`
}

// ContentTypeProblemJSON is the Content-Type for RFC 7807 problem responses.
const ContentTypeProblemJSON = "application/problem+json"

func writeProblem(w http.ResponseWriter, p Problem) {
	if p.Type == "" {
		p.Type = "about:blank"
	}
	w.Header().Set("Content-Type", ContentTypeProblemJSON)
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func badRequest(w http.ResponseWriter, detail string) {
	writeProblem(w, Problem{Title: "Bad Request", Status: http.StatusBadRequest, Detail: detail})
}

func notFound(w http.ResponseWriter, detail string) {
	writeProblem(w, Problem{Title: "Not Found", Status: http.StatusNotFound, Detail: detail})
}

func internalError(w http.ResponseWriter, detail string) {
	writeProblem(w, Problem{Title: "Internal Server Error", Status: http.StatusInternalServerError, Detail: detail})
}

// statusOf maps an error code to its HTTP status and problem title.
func statusOf(code linkerr.Code) (int, string) {
	switch code {
	case linkerr.AccessDenied:
		return http.StatusForbidden, "Forbidden"
	case linkerr.NotFound, linkerr.SourceNotFound:
		return http.StatusNotFound, "Not Found"
	case linkerr.NotAFile, linkerr.NotASymlink:
		return http.StatusBadRequest, "Bad Request"
	case linkerr.DestinationExists:
		return http.StatusConflict, "Conflict"
	case linkerr.UpdateIncomplete:
		return http.StatusInternalServerError, "Update Incomplete"
	default:
		return http.StatusInternalServerError, "Internal Server Error"
	}
}

// writeError writes the problem for err. Classified errors carry only the
// client-supplied path and a fixed description; anything else is logged and
// answered with fallback.
func writeError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var le *linkerr.Error
	if !errors.As(err, &le) {
		slog.Error(fallback, "error", err, "path", r.URL.Path)
		internalError(w, fallback)
		return
	}

	status, title := statusOf(le.Code)
	detail := linkerr.Describe(le.Code)
	if le.Path != "" {
		detail = le.Path + ": " + detail
	}
	if status >= http.StatusInternalServerError {
		slog.Error(fallback, "error", err, "path", r.URL.Path)
	}
	writeProblem(w, Problem{
		Title:    title,
		Status:   status,
		Detail:   detail,
		Code:     le.Code.String(),
		Instance: r.URL.Path,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
