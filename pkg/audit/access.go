package audit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/verifiquant/pkg/store"
)

// AccessEvent is one API call as seen by the access log. Subjects of access
// entries are "actor:<id>", so they never collide with request ids.
type AccessEvent struct {
	ID         string    `json:"id"`
	ActorID    string    `json:"actor_id"`
	Roles      []string  `json:"roles,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Status     int       `json:"status"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// requestIDHeader is set on the request by the request-id middleware.
const requestIDHeader = "X-Request-ID"

// ActorFunc reports the authenticated caller of a request, if any.
type ActorFunc func(ctx context.Context) (id string, roles []string, ok bool)

// AccessLog appends API access events to the chained audit store, so that
// access and solve records share one tamper-evident sequence.
type AccessLog struct {
	store  *store.AuditStore
	logger *slog.Logger
	skip   map[string]bool
	actor  ActorFunc
	now    func() time.Time
}

// NewAccessLog records every path except the ones in skip.
func NewAccessLog(s *store.AuditStore, logger *slog.Logger, skip ...string) *AccessLog {
	if logger == nil {
		logger = slog.Default()
	}
	l := &AccessLog{
		store:  s,
		logger: logger.With("component", "access_log"),
		skip:   make(map[string]bool, len(skip)),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, p := range skip {
		l.skip[p] = true
	}
	return l
}

// WithActor sets how the caller is identified. Without it every event is
// attributed to "anonymous".
func (l *AccessLog) WithActor(fn ActorFunc) *AccessLog {
	l.actor = fn
	return l
}

// Record appends evt. Unauthenticated callers are logged as "anonymous".
func (l *AccessLog) Record(_ context.Context, evt AccessEvent) error {
	if l.store == nil {
		return fmt.Errorf("access log: audit store not configured")
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.ActorID == "" {
		evt.ActorID = "anonymous"
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = l.now()
	}
	meta := map[string]string{"status": fmt.Sprint(evt.Status)}
	if evt.RequestID != "" {
		meta["request_id"] = evt.RequestID
	}
	_, err := l.store.Append(store.EntryTypeAccess, "actor:"+evt.ActorID, evt.Method+" "+evt.Path, evt, meta)
	return err
}

// Middleware records each request after it is served. It must run inside
// the authentication middleware to see the principal. A failed append is
// logged and never fails the request.
func (l *AccessLog) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.skip[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		start := l.now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		evt := AccessEvent{
			RequestID:  r.Header.Get(requestIDHeader),
			Method:     r.Method,
			Path:       r.URL.Path,
			Status:     sw.status,
			DurationMS: l.now().Sub(start).Milliseconds(),
		}
		if l.actor != nil {
			if id, roles, ok := l.actor(r.Context()); ok {
				evt.ActorID, evt.Roles = id, roles
			}
		}
		if err := l.Record(r.Context(), evt); err != nil {
			l.logger.WarnContext(r.Context(), "access event dropped", "path", r.URL.Path, "error", err)
		}
	})
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status, w.wroteHeader = code, true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
