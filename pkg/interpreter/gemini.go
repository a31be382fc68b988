package interpreter

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
)

// DefaultGeminiModel is used when none is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiInterpreter asks a Gemini model for the plan in JSON mode.
type GeminiInterpreter struct {
	client *genai.Client
	model  string
	vocab  *Vocabulary
}

func NewGeminiInterpreter(ctx context.Context, apiKey, model string, vocab *Vocabulary) (*GeminiInterpreter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiInterpreter{client: client, model: model, vocab: vocab}, nil
}

func (g *GeminiInterpreter) Interpret(ctx context.Context, question string) (*contracts.TaskPlan, error) {
	q := strings.TrimSpace(question)
	if q == "" {
		return nil, &contracts.InterpretationError{Question: question, Err: errEmptyQuestion}
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromText(q, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(g.vocab.Prompt(), genai.RoleUser),
			ResponseMIMEType:  "application/json",
			Temperature:       genai.Ptr[float32](0),
		},
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &contracts.InterpretationError{Question: q, Err: fmt.Errorf("GenAI generate failed: %w", err)}
	}
	return g.vocab.ParsePlan(q, result.Text())
}
