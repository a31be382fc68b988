package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
	"github.com/Mindburn-Labs/verifiquant/pkg/util/resiliency"
)

func TestHTTPResolver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req resolveRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.ElementsMatch(t, []string{"mean", "std", "rf"}, req.Names)

		_ = json.NewEncoder(w).Encode(resolveResponse{
			Bindings: []contracts.Binding{
				{Name: "mean", Value: 0.08, Provenance: contracts.Provenance{Source: "returns-api", Reference: "fund/42"}},
				{Name: "rf", Value: 0.02},
				{Name: "beta", Value: 1.1, Provenance: contracts.Provenance{Source: "returns-api"}},
			},
		})
	}))
	defer srv.Close()

	h := NewHTTPResolver(srv.URL, "secret", resiliency.NewClient("data", time.Second))
	res, err := h.Resolve(context.Background(), []string{"mean", "std", "rf"})
	require.NoError(t, err)

	assert.Equal(t, contracts.ProvenanceService, res.Bound["mean"].Provenance.Kind)
	assert.NotContains(t, res.Bound, "rf", "unsourced values are dropped")
	assert.NotContains(t, res.Bound, "beta")
	assert.Equal(t, []string{"std", "rf"}, res.Missing)
}

func TestHTTPResolverServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "warehouse down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := Bounded{Next: NewHTTPResolver(srv.URL, "", resiliency.NewClient("data", time.Second)), Timeout: time.Second}
	_, err := r.Resolve(context.Background(), []string{"mean"})

	var up *contracts.UpstreamDataError
	require.True(t, errors.As(err, &up), "got %v", err)
	assert.Contains(t, err.Error(), "503")
}
