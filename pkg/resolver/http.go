package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
	"github.com/Mindburn-Labs/verifiquant/pkg/util/resiliency"
)

// maxResponseBytes bounds what a data service may send back.
const maxResponseBytes = 1 << 20

// HTTPResolver asks a remote data service for bindings.
//
// Request:  POST {"names": [...]}
// Response: {"bindings": [{"name", "value", "provenance"}], "missing": [...]}
type HTTPResolver struct {
	endpoint string
	token    string
	client   *resiliency.Client
}

func NewHTTPResolver(endpoint, token string, client *resiliency.Client) *HTTPResolver {
	return &HTTPResolver{endpoint: endpoint, token: token, client: client}
}

type resolveRequest struct {
	Names []string `json:"names"`
}

type resolveResponse struct {
	Bindings []contracts.Binding `json:"bindings"`
	Missing  []string            `json:"missing"`
}

func (h *HTTPResolver) Resolve(ctx context.Context, names []string) (contracts.Resolution, error) {
	body, err := json.Marshal(resolveRequest{Names: dedupe(names)})
	if err != nil {
		return contracts.Resolution{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return contracts.Resolution{}, fmt.Errorf("data service: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return contracts.Resolution{}, fmt.Errorf("data service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return contracts.Resolution{}, fmt.Errorf("data service: status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var payload resolveResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err != nil {
		return contracts.Resolution{}, fmt.Errorf("data service: decode: %w", err)
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	out := newResolution(len(names))
	for _, b := range payload.Bindings {
		// Unsourced or unrequested values are dropped, never trusted.
		if !wanted[b.Name] || b.Provenance.IsZero() {
			continue
		}
		if b.Provenance.Kind == "" {
			b.Provenance.Kind = contracts.ProvenanceService
		}
		out.Bound[b.Name] = b
	}
	out.Missing = missingFrom(names, out.Bound)
	return out, nil
}
