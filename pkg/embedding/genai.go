// Package embedding produces text embeddings for semantic card retrieval.
package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// DefaultModel is used when none is configured.
const DefaultModel = "gemini-embedding-001"

// TaskSemanticSimilarity compares questions against card descriptions.
const TaskSemanticSimilarity = "SEMANTIC_SIMILARITY"

// GenAIEngine embeds text with a Gemini embedding model.
type GenAIEngine struct {
	client   *genai.Client
	model    string
	taskType string
}

// Options configures a GenAIEngine. BaseURL overrides the API endpoint.
type Options struct {
	APIKey   string
	Model    string
	TaskType string
	BaseURL  string
}

func NewGenAIEngine(ctx context.Context, opts Options) (*GenAIEngine, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.TaskType == "" {
		opts.TaskType = TaskSemanticSimilarity
	}

	cc := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAIEngine{client: client, model: opts.Model, taskType: opts.TaskType}, nil
}

// Embed returns one vector per text, in order.
func (e *GenAIEngine) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}
	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{TaskType: e.taskType})
	if err != nil {
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("GenAI returned %d embeddings for %d texts", len(result.Embeddings), len(texts))
	}

	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("empty embedding for text %d", i)
		}
		out[i] = emb.Values
	}
	return out, nil
}

// Name identifies the engine in logs.
func (e *GenAIEngine) Name() string {
	return "genai:" + e.model
}
