package interpreter

import (
	"context"
	"errors"
	"strings"

	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
	"github.com/Mindburn-Labs/verifiquant/pkg/llm"
)

var errEmptyQuestion = errors.New("question must not be empty")

// ChatInterpreter asks an OpenAI-compatible model for the plan.
type ChatInterpreter struct {
	client llm.Client
	vocab  *Vocabulary
}

func NewChatInterpreter(client llm.Client, vocab *Vocabulary) *ChatInterpreter {
	return &ChatInterpreter{client: client, vocab: vocab}
}

func (c *ChatInterpreter) Interpret(ctx context.Context, question string) (*contracts.TaskPlan, error) {
	q := strings.TrimSpace(question)
	if q == "" {
		return nil, &contracts.InterpretationError{Question: question, Err: errEmptyQuestion}
	}
	resp, err := c.client.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: c.vocab.Prompt()},
		{Role: llm.RoleUser, Content: q},
	}, &llm.SamplingOptions{Temperature: 0, Seed: 1, JSONMode: true})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &contracts.InterpretationError{Question: q, Err: err}
	}
	return c.vocab.ParsePlan(q, resp.Content)
}
