package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

const problemContentType = "application/problem+json"

// Problem is an RFC 7807 error body. Code is a stable machine-readable
// identifier in the VQ/API namespace.
type Problem struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Code      string `json:"code"`
	Detail    string `json:"detail,omitempty"`
	Instance  string `json:"instance,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (p *Problem) Error() string { return p.Code + ": " + p.Detail }

// problemCodes maps the statuses the API emits to stable codes.
var problemCodes = map[int]string{
	http.StatusBadRequest:          "VQ/API/BAD_REQUEST",
	http.StatusUnauthorized:        "VQ/API/UNAUTHENTICATED",
	http.StatusForbidden:           "VQ/API/FORBIDDEN",
	http.StatusNotFound:            "VQ/API/NOT_FOUND",
	http.StatusMethodNotAllowed:    "VQ/API/METHOD_NOT_ALLOWED",
	http.StatusConflict:            "VQ/API/CONFLICT",
	http.StatusTooManyRequests:     "VQ/API/RATE_LIMITED",
	http.StatusInternalServerError: "VQ/API/INTERNAL",
}

// NewProblem fills the title and code from status.
func NewProblem(status int, detail string) *Problem {
	code, ok := problemCodes[status]
	if !ok {
		code = "VQ/API/HTTP_" + strconv.Itoa(status)
	}
	return &Problem{
		Type:   "urn:verifiquant:problem:" + strconv.Itoa(status),
		Title:  http.StatusText(status),
		Status: status,
		Code:   code,
		Detail: detail,
	}
}

// Write sends p, tagged with r's path and request ID when r is non-nil.
func (p *Problem) Write(w http.ResponseWriter, r *http.Request) {
	if r != nil {
		p.Instance = r.URL.Path
		p.RequestID = w.Header().Get(requestIDHeader)
	}
	w.Header().Set("Content-Type", problemContentType)
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// WriteProblem writes a problem body for status.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	NewProblem(status, detail).Write(w, r)
}

// writeInternal answers 500. err stays in the server log.
func (s *Server) writeInternal(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.ErrorContext(r.Context(), "internal error", "path", r.URL.Path, "error", err)
	WriteProblem(w, r, http.StatusInternalServerError, "internal error, retry later")
}

// WriteRateLimited answers 429 with a whole-second Retry-After of at least one.
func WriteRateLimited(w http.ResponseWriter, r *http.Request, wait time.Duration) {
	secs := int((wait + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	WriteProblem(w, r, http.StatusTooManyRequests, "rate limit exceeded")
}
