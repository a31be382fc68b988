// Package llm is a minimal chat-completion client for OpenAI-compatible
// endpoints.
package llm

import (
	"context"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Roles used in Message.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

type Client interface {
	Chat(ctx context.Context, messages []Message, options *SamplingOptions) (*Response, error)
}

type SamplingOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	Seed        int64   `json:"seed"`
	// JSONMode asks the endpoint to constrain output to a JSON object.
	JSONMode bool `json:"-"`
}

type Response struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
}
