package audit_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/verifiquant/pkg/audit"
	"github.com/Mindburn-Labs/verifiquant/pkg/auth"
	"github.com/Mindburn-Labs/verifiquant/pkg/store"
)

func TestAccessLogMiddleware(t *testing.T) {
	s := store.NewAuditStore()
	log := audit.NewAccessLog(s, nil, "/health").WithActor(auth.Actor)

	h := auth.RequestIDMiddleware(log.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/audit/export" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})))

	serve := func(path string, ctxFn func(*http.Request) *http.Request) {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set(auth.RequestIDHeader, "req-acc-1")
		if ctxFn != nil {
			req = ctxFn(req)
		}
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
	serve("/health", nil)
	serve("/api/cards", nil)
	serve("/api/audit/export", func(r *http.Request) *http.Request {
		return r.WithContext(auth.WithPrincipal(r.Context(), &auth.Principal{ID: "analyst-7", Roles: []string{auth.RoleSolver}}))
	})

	entries := s.Query(store.QueryFilter{EntryType: store.EntryTypeAccess})
	require.Len(t, entries, 2)

	assert.Equal(t, "actor:anonymous", entries[0].Subject)
	assert.Equal(t, "GET /api/cards", entries[0].Action)
	assert.Equal(t, "req-acc-1", entries[0].Metadata["request_id"])

	var evt audit.AccessEvent
	require.NoError(t, json.Unmarshal(entries[1].Payload, &evt))
	assert.Equal(t, "analyst-7", evt.ActorID)
	assert.Equal(t, http.StatusForbidden, evt.Status)
	assert.Equal(t, []string{auth.RoleSolver}, evt.Roles)
	require.NoError(t, s.VerifyChain())
}

func TestAccessLogWithoutStore(t *testing.T) {
	err := audit.NewAccessLog(nil, nil).Record(context.Background(), audit.AccessEvent{Method: "GET", Path: "/x"})
	assert.Error(t, err)
}

func TestExporter_GeneratePack_InvalidTimeRange(t *testing.T) {
	exporter := audit.NewExporter(store.NewAuditStore(), store.NewMemoryReceiptStore())
	req := audit.ExportRequest{StartTime: time.Now(), EndTime: time.Now().Add(-time.Hour)}

	_, _, err := exporter.GeneratePack(context.Background(), req)
	assert.ErrorIs(t, err, audit.ErrInvalidTimeRange)
}

func TestExporter_GeneratePack_FailClosedWithoutStore(t *testing.T) {
	_, _, err := audit.NewExporter(nil, nil).GeneratePack(context.Background(), audit.ExportRequest{})
	assert.ErrorIs(t, err, audit.ErrStoreNotConfigured)
}

func TestExporter_GeneratePack_NothingToExport(t *testing.T) {
	exporter := audit.NewExporter(store.NewAuditStore(), store.NewMemoryReceiptStore())
	_, _, err := exporter.GeneratePack(context.Background(), audit.ExportRequest{RequestID: "nope"})
	assert.ErrorIs(t, err, audit.ErrNothingToExport)
}

func TestRecorderCatalog(t *testing.T) {
	s := store.NewAuditStore()
	rec := audit.NewRecorder(s)
	require.NoError(t, rec.Catalog(context.Background(), "builtin", map[string]string{"sharpe_ratio": "1.0.0"}))

	entries := s.Query(store.QueryFilter{EntryType: store.EntryTypeCatalog})
	require.Len(t, entries, 1)
	assert.Equal(t, "builtin", entries[0].Subject)
	assert.JSONEq(t, `{"cards":{"sharpe_ratio":"1.0.0"},"source":"builtin"}`, string(entries[0].Payload))
}
