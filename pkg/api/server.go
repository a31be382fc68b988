// Package api serves the solver over HTTP: solve, catalog browsing, audit
// trails, and evidence-pack export. Errors outside a solve result are RFC
// 7807 problem details.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Mindburn-Labs/verifiquant/pkg/artifacts"
	"github.com/Mindburn-Labs/verifiquant/pkg/audit"
	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
	"github.com/Mindburn-Labs/verifiquant/pkg/observability"
	"github.com/Mindburn-Labs/verifiquant/pkg/registry"
	"github.com/Mindburn-Labs/verifiquant/pkg/solver"
)

// MessageEmptyQuestion is returned for a blank question.
const MessageEmptyQuestion = "question must not be empty"

const maxBodyBytes = 1 << 20

// Solver answers one request.
type Solver interface {
	Solve(ctx context.Context, req solver.Request) contracts.SolveResult
}

// Options wires a Server. Solver and Catalog are required; the audit
// endpoints are mounted only when Recorder is set.
type Options struct {
	Solver       Solver
	Catalog      *registry.Registry
	DomainLabels map[string]string
	Recorder     *audit.Recorder
	Exporter     *audit.Exporter
	Archive      *artifacts.Archive
	SLO          *observability.SLOTracker
	// AuditGuard wraps the audit endpoints, typically with a role check.
	AuditGuard func(http.Handler) http.Handler
	Logger     *slog.Logger
}

type Server struct {
	opts    Options
	logger  *slog.Logger
	started time.Time
}

func NewServer(opts Options) (*Server, error) {
	if opts.Solver == nil || opts.Catalog == nil {
		return nil, errors.New("api: solver and catalog are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.AuditGuard == nil {
		opts.AuditGuard = func(h http.Handler) http.Handler { return h }
	}
	return &Server{opts: opts, logger: opts.Logger.With("component", "api"), started: time.Now()}, nil
}

// Handler returns the routed mux. Middleware is applied by the caller.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/solve", s.handleSolve)
	mux.HandleFunc("GET /api/domains", s.handleDomains)
	mux.HandleFunc("GET /api/cards", s.handleCards)
	mux.HandleFunc("GET /api/cards/{id}", s.handleCard)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.opts.Recorder != nil {
		mux.Handle("GET /api/audit/{request_id}", s.opts.AuditGuard(http.HandlerFunc(s.handleTrail)))
	}
	if s.opts.Exporter != nil {
		mux.Handle("POST /api/audit/export", s.opts.AuditGuard(http.HandlerFunc(s.handleExport)))
	}
	return mux
}

// SolveRequest is the body of POST /api/solve.
type SolveRequest struct {
	Question string             `json:"question"`
	Domain   string             `json:"domain,omitempty"`
	Topic    string             `json:"topic,omitempty"`
	Values   map[string]float64 `json:"values,omitempty"`
}

func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req SolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, &contracts.Errored{Message: MessageEmptyQuestion})
		return
	}

	result := s.opts.Solver.Solve(r.Context(), solver.Request{
		ClientRequestID: r.Header.Get(requestIDHeader),
		Question:        strings.TrimSpace(req.Question),
		Domain:          req.Domain,
		Topic:           req.Topic,
		Values:          req.Values,
	})
	w.Header().Set(solveIDHeader, contracts.RequestIDOf(result))

	if s.opts.Archive != nil {
		if hash, err := s.opts.Archive.PutResult(context.WithoutCancel(r.Context()), result); err != nil {
			s.logger.ErrorContext(r.Context(), "archive result", "request_id", contracts.RequestIDOf(result), "error", err)
		} else {
			w.Header().Set("X-Archive-Hash", hash)
		}
	}
	writeJSON(w, statusFor(result), result)
}

// statusFor keeps refusals at 200: a refusal is a complete answer.
func statusFor(r contracts.SolveResult) int {
	e, ok := r.(*contracts.Errored)
	if !ok {
		return http.StatusOK
	}
	switch e.Code {
	case contracts.CodeUpstreamData:
		return http.StatusBadGateway
	case contracts.CodeRequestCancelled:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// DomainsResponse feeds domain and topic pickers.
type DomainsResponse struct {
	Domains map[string][]string `json:"domains"`
	Labels  map[string]string   `json:"labels,omitempty"`
}

func (s *Server) handleDomains(w http.ResponseWriter, _ *http.Request) {
	labels := make(map[string]string)
	for _, d := range s.opts.Catalog.DomainNames() {
		if l, ok := s.opts.DomainLabels[d]; ok {
			labels[d] = l
		}
	}
	writeJSON(w, http.StatusOK, DomainsResponse{Domains: s.opts.Catalog.Domains(), Labels: labels})
}

// CardSummary is the catalog listing entry.
type CardSummary struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"short_description,omitempty"`
	Domain      string   `json:"domain"`
	Topic       string   `json:"topic"`
	Version     string   `json:"version,omitempty"`
	Inputs      []string `json:"inputs"`
	OutputVar   string   `json:"output_var"`
	Tags        []string `json:"tags,omitempty"`
}

func summarize(e *registry.Entry) CardSummary {
	c := e.Card
	return CardSummary{
		ID: c.ID, Name: c.Name, Description: c.Description,
		Domain: c.Domain, Topic: c.Topic, Version: c.Version,
		Inputs: c.RequiredInputs(), OutputVar: c.OutputVar, Tags: c.Tags,
	}
}

func (s *Server) handleCards(w http.ResponseWriter, r *http.Request) {
	domain, topic := r.URL.Query().Get("domain"), r.URL.Query().Get("topic")
	out := []CardSummary{}
	for _, e := range s.opts.Catalog.Entries() {
		if domain != "" && !strings.EqualFold(domain, e.Card.Domain) {
			continue
		}
		if topic != "" && !strings.EqualFold(topic, e.Card.Topic) {
			continue
		}
		out = append(out, summarize(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCard(w http.ResponseWriter, r *http.Request) {
	e, err := s.opts.Catalog.Get(r.PathValue("id"))
	if err != nil {
		WriteProblem(w, r, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, e.Card)
}

// HealthResponse reports liveness and, when tracked, the solve SLO.
type HealthResponse struct {
	Status string                   `json:"status"`
	Cards  int                      `json:"cards"`
	Uptime string                   `json:"uptime"`
	SLO    *observability.SLOStatus `json:"slo,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{Status: "ok", Cards: s.opts.Catalog.Len(), Uptime: time.Since(s.started).Round(time.Second).String()}
	if s.opts.SLO != nil {
		if st, err := s.opts.SLO.Status(observability.OperationSolve); err == nil {
			resp.SLO = st
			if !st.InCompliance {
				resp.Status = "degraded"
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTrail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("request_id")
	trail := s.opts.Recorder.Trail(id)
	if len(trail) == 0 {
		WriteProblem(w, r, http.StatusNotFound, "no audit trail for request "+id)
		return
	}
	writeJSON(w, http.StatusOK, trail)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req audit.ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}

	pack, sum, err := s.opts.Exporter.GeneratePack(r.Context(), req)
	switch {
	case errors.Is(err, audit.ErrInvalidTimeRange):
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, audit.ErrNothingToExport):
		WriteProblem(w, r, http.StatusNotFound, err.Error())
		return
	case err != nil:
		s.writeInternal(w, r, err)
		return
	}

	if s.opts.Archive != nil {
		if hash, err := s.opts.Archive.PutPack(context.WithoutCancel(r.Context()), req.RequestID, pack); err != nil {
			s.logger.ErrorContext(r.Context(), "archive evidence pack", "error", err)
		} else {
			w.Header().Set("X-Archive-Hash", hash)
		}
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="evidence-pack.zip"`)
	w.Header().Set("X-Pack-SHA256", sum)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pack)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
