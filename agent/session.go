package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/fabfab/rainbow-agent/llm"
	"github.com/fabfab/rainbow-agent/search"
)

const defaultMaxIterations = 10

// Status is the session state machine position. A session is Idle between
// user messages; one message drives Deciding and ToolExecuting until the
// session responds.
type Status int

const (
	StatusIdle Status = iota
	StatusDeciding
	StatusToolExecuting
	StatusResponding
)

const fallbackAnswer = "I could not find an answer to your question, neither in the local collection nor on the web."

const orchestratorSystemPrompt = "You are a retrieval-augmented assistant with two tools. " +
	"Always try local_search first. Use web_search only after local_search replied " + NoAnswerSentinel + ", " +
	"and never repeat a web search query already issued in this conversation. " +
	"When you have enough information, answer the user directly instead of calling a tool."

type Options struct {
	Collection    string
	MaxIterations int
}

// Session binds one conversation's memory, tool invocation history, and
// iteration bookkeeping. A session handles one message at a time; distinct
// sessions are independent.
type Session struct {
	id      string
	llm     llm.Client
	local   *LocalAnswer
	web     search.Provider
	logger  *log.Logger
	options Options

	mu          sync.Mutex
	status      Status
	memory      []llm.Message
	invocations []ToolInvocation
}

func NewSession(client llm.Client, local *LocalAnswer, web search.Provider, logger *log.Logger, options Options) *Session {
	if logger == nil {
		logger = log.Default()
	}
	if options.MaxIterations <= 0 {
		options.MaxIterations = defaultMaxIterations
	}

	return &Session{
		id:      uuid.NewString(),
		llm:     client,
		local:   local,
		web:     web,
		logger:  logger,
		options: options,
	}
}

func (s *Session) ID() string {
	return s.id
}

// Memory returns a copy of the conversation turns recorded so far.
func (s *Session) Memory() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Message(nil), s.memory...)
}

// Respond runs the decision loop for one user message and returns the final
// answer. Tool failures are fed back to the model rather than surfaced; the
// only error cases are a missing LLM client and context cancellation, which
// is honored between iterations.
func (s *Session) Respond(ctx context.Context, message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", fmt.Errorf("message cannot be empty")
	}
	if s.llm == nil {
		return "", fmt.Errorf("llm client is not configured")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	userMessage := llm.Message{Role: llm.RoleUser, Content: message}

	transcript := make([]llm.Message, 0, len(s.memory)+2)
	transcript = append(transcript, llm.Message{Role: llm.RoleSystem, Content: orchestratorSystemPrompt})
	transcript = append(transcript, s.memory...)
	transcript = append(transcript, userMessage)

	answer := ""
	for iteration := 0; iteration < s.options.MaxIterations; iteration++ {
		s.status = StatusDeciding
		if err := ctx.Err(); err != nil {
			s.status = StatusIdle
			return "", err
		}

		decision, err := s.llm.Decide(ctx, transcript, toolDescriptions())
		if err != nil {
			s.logger.Printf("session %s: decide failed at iteration %d: %v", s.id, iteration, err)
			break
		}

		if decision.ToolCall == nil {
			answer = strings.TrimSpace(decision.FinalAnswer)
			break
		}

		s.status = StatusToolExecuting
		invocation := s.executeTool(ctx, *decision.ToolCall)
		s.invocations = append(s.invocations, invocation)

		transcript = append(transcript,
			llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{*decision.ToolCall}},
			llm.Message{Role: llm.RoleTool, ToolCallID: decision.ToolCall.ID, Content: invocation.replayContent()},
		)
	}

	s.status = StatusResponding
	if answer == "" {
		answer = s.bestEffortAnswer(ctx, transcript)
	}

	s.memory = append(s.memory, userMessage, llm.Message{Role: llm.RoleAssistant, Content: answer})
	s.status = StatusIdle
	return answer, nil
}

// executeTool dispatches one tool call. Every failure mode, including an
// unknown tool name or malformed arguments, becomes invocation data the
// model sees next iteration.
func (s *Session) executeTool(ctx context.Context, call llm.ToolCall) ToolInvocation {
	kind, ok := toolKindFromName(call.Name)
	if !ok {
		return ToolInvocation{
			Kind:  ToolUnknown,
			Input: call.Arguments,
			Err:   fmt.Errorf("unknown tool %q", call.Name),
		}
	}

	var args toolArgs
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return ToolInvocation{Kind: kind, Input: call.Arguments, Err: fmt.Errorf("malformed tool arguments: %w", err)}
	}
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return ToolInvocation{Kind: kind, Err: fmt.Errorf("tool %s called without a query", kind)}
	}

	switch kind {
	case ToolLocalAnswer:
		if s.local == nil {
			return ToolInvocation{Kind: kind, Input: query, Err: fmt.Errorf("local answer tool is not configured")}
		}
		result, err := s.local.Run(ctx, s.options.Collection, query)
		if err != nil {
			return ToolInvocation{Kind: kind, Input: query, Err: err}
		}
		return ToolInvocation{Kind: kind, Input: query, Output: result.Answer}
	case ToolWebSearch:
		if s.web == nil {
			return ToolInvocation{Kind: kind, Input: query, Err: fmt.Errorf("web search is not configured")}
		}
		if s.alreadySearched(query) {
			return ToolInvocation{
				Kind:  kind,
				Input: query,
				Err:   fmt.Errorf("query %q was already searched in this conversation", query),
			}
		}
		results, err := s.web.Search(ctx, query)
		if err != nil {
			return ToolInvocation{Kind: kind, Input: query, Err: err}
		}
		return ToolInvocation{Kind: kind, Input: query, Output: results}
	}

	return ToolInvocation{Kind: kind, Input: query, Err: fmt.Errorf("unhandled tool kind %d", kind)}
}

func (s *Session) alreadySearched(query string) bool {
	for _, invocation := range s.invocations {
		if invocation.Kind == ToolWebSearch && invocation.Err == nil && invocation.Input == query {
			return true
		}
	}
	return false
}

// bestEffortAnswer produces the terminal answer when the loop ended without
// one: ask the model to wrap up from the transcript, and fall back to a
// fixed degraded message if even that fails.
func (s *Session) bestEffortAnswer(ctx context.Context, transcript []llm.Message) string {
	prompt := append(append([]llm.Message(nil), stripToolCalls(transcript)...), llm.Message{
		Role:    llm.RoleUser,
		Content: "Give your best final answer now using everything gathered above. Do not call any tool.",
	})

	answer, err := s.llm.Generate(ctx, prompt)
	if err != nil {
		s.logger.Printf("session %s: best-effort answer failed: %v", s.id, err)
		return fallbackAnswer
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return fallbackAnswer
	}
	return answer
}

// stripToolCalls rewrites tool-call turns as plain text so the wrap-up
// request is valid for providers that demand a tool response after every
// tool call.
func stripToolCalls(transcript []llm.Message) []llm.Message {
	plain := make([]llm.Message, 0, len(transcript))
	for _, msg := range transcript {
		switch {
		case len(msg.ToolCalls) > 0:
			calls := make([]string, 0, len(msg.ToolCalls))
			for _, call := range msg.ToolCalls {
				calls = append(calls, fmt.Sprintf("%s(%s)", call.Name, call.Arguments))
			}
			plain = append(plain, llm.Message{
				Role:    llm.RoleAssistant,
				Content: "Called " + strings.Join(calls, ", "),
			})
		case msg.Role == llm.RoleTool:
			plain = append(plain, llm.Message{
				Role:    llm.RoleUser,
				Content: "Tool result:\n" + msg.Content,
			})
		default:
			plain = append(plain, msg)
		}
	}
	return plain
}

func (i ToolInvocation) replayContent() string {
	if i.Err != nil {
		return fmt.Sprintf("tool error: %v", i.Err)
	}
	return i.Output
}
