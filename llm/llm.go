// Package llm abstracts chat-completion providers, including their
// function-calling form used for agent tool selection.
package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fabfab/rainbow-agent/config"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one conversation turn. Assistant turns may carry tool calls;
// tool turns carry the call result and echo the call id.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolCall is a provider-issued request to run a named tool. Arguments is
// the raw JSON argument object.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Tool describes an invocable capability to the model. Parameters is a JSON
// schema object.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Decision is the outcome of one decide step: either a single tool call or
// a final answer.
type Decision struct {
	ToolCall    *ToolCall
	FinalAnswer string
}

type Client interface {
	Generate(ctx context.Context, messages []Message) (string, error)
	// Decide lets the model pick at most one of the offered tools. When the
	// model answers directly the decision carries FinalAnswer instead.
	Decide(ctx context.Context, messages []Message, tools []Tool) (Decision, error)
}

type Options struct {
	Provider string
	Model    string

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

func NewClient(cfg config.Config) (Client, error) {
	opts := Options{
		Provider:      cfg.LLM.Provider,
		Model:         cfg.LLM.Model,
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	}

	switch opts.Provider {
	case config.ProviderOllama:
		return NewOllamaClient(opts), nil
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		return NewOpenAIClient(opts), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", opts.Provider)
	}
}
