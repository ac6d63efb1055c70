// Package agent runs the bounded decision loop that answers a user message
// with the local knowledge base, the web, or the model alone.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/fabfab/rainbow-agent/knowledge"
	"github.com/fabfab/rainbow-agent/llm"
	"github.com/fabfab/rainbow-agent/retrieval"
)

// NoAnswerSentinel is the exact reply the local-answer prompt demands when
// the retrieved context cannot answer the question.
const NoAnswerSentinel = "NO_ANSWER_FOUND"

// ToolKind is the closed set of tools the orchestrator can dispatch.
type ToolKind int

const (
	ToolLocalAnswer ToolKind = iota
	ToolWebSearch

	// ToolUnknown marks an invocation whose tool name did not resolve.
	ToolUnknown ToolKind = -1
)

func (k ToolKind) String() string {
	switch k {
	case ToolLocalAnswer:
		return "local_search"
	case ToolWebSearch:
		return "web_search"
	}
	return "unknown"
}

func toolKindFromName(name string) (ToolKind, bool) {
	switch name {
	case "local_search":
		return ToolLocalAnswer, true
	case "web_search":
		return ToolWebSearch, true
	}
	return 0, false
}

// ToolInvocation records one tool execution for loop bookkeeping and for
// replay into the model's function-calling context.
type ToolInvocation struct {
	Kind   ToolKind
	Input  string
	Output string
	Err    error
}

type toolArgs struct {
	Query string `json:"query"`
}

var queryParameters = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query": {
			"type": "string",
			"description": "A precise, self-contained question or search query."
		}
	},
	"required": ["query"]
}`)

func toolDescriptions() []llm.Tool {
	return []llm.Tool{
		{
			Name: ToolLocalAnswer.String(),
			Description: "Look for the answer in the local document collection. " +
				"Try this tool first for every factual question. " +
				"It replies " + NoAnswerSentinel + " when the collection cannot answer.",
			Parameters: queryParameters,
		},
		{
			Name: ToolWebSearch.String(),
			Description: "Search the public web and return ranked results as text. " +
				"Use it only after " + ToolLocalAnswer.String() + " replied " + NoAnswerSentinel + ". " +
				"Never repeat a query you already searched in this conversation.",
			Parameters: queryParameters,
		},
	}
}

// Source attributes part of a local answer to an ingested document.
type Source struct {
	Path    string
	Title   string
	Score   float64
	Related []knowledge.Related
}

// LocalResult is the outcome of one local-answer run. NoAnswer is set when
// retrieval came up empty or the model replied with the sentinel.
type LocalResult struct {
	Answer   string
	Sources  []Source
	NoAnswer bool
}

// LocalAnswer answers a question strictly from the ingested collection:
// retrieve, assemble under the token budget, then one QA completion.
type LocalAnswer struct {
	retriever   *retrieval.Retriever
	llm         llm.Client
	graph       *knowledge.Graph
	counter     retrieval.TokenCounter
	tokenBudget int
	logger      *log.Logger
}

func NewLocalAnswer(retriever *retrieval.Retriever, client llm.Client, graph *knowledge.Graph, counter retrieval.TokenCounter, tokenBudget int, logger *log.Logger) *LocalAnswer {
	if logger == nil {
		logger = log.Default()
	}
	if counter == nil {
		counter = retrieval.EstimateCounter{}
	}
	if tokenBudget <= 0 {
		tokenBudget = 15360
	}

	return &LocalAnswer{
		retriever:   retriever,
		llm:         client,
		graph:       graph,
		counter:     counter,
		tokenBudget: tokenBudget,
		logger:      logger,
	}
}

func (t *LocalAnswer) Run(ctx context.Context, collection, question string) (LocalResult, error) {
	candidates, err := t.retriever.Retrieve(ctx, collection, question)
	if err != nil {
		return LocalResult{}, fmt.Errorf("retrieve candidates: %w", err)
	}
	if len(candidates) == 0 {
		t.logger.Printf("no candidates for question in collection %q", collection)
		return LocalResult{Answer: NoAnswerSentinel, NoAnswer: true}, nil
	}

	block := retrieval.Assemble(candidates, t.tokenBudget, t.counter)
	if block.Text == "" {
		return LocalResult{Answer: NoAnswerSentinel, NoAnswer: true}, nil
	}

	answer, err := t.llm.Generate(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: localAnswerSystemPrompt},
		{Role: llm.RoleUser, Content: formatLocalAnswerPrompt(block.Text, question)},
	})
	if err != nil {
		return LocalResult{}, fmt.Errorf("question answering: %w", err)
	}

	answer = strings.TrimSpace(answer)
	result := LocalResult{
		Answer:  answer,
		Sources: t.collectSources(ctx, collection, candidates),
	}
	if answer == "" || strings.Contains(answer, NoAnswerSentinel) {
		result.Answer = NoAnswerSentinel
		result.NoAnswer = true
	}
	return result, nil
}

// collectSources lists the distinct documents behind the candidates,
// keeping each document's best dense score, enriched with related documents
// from the knowledge graph when one is wired.
func (t *LocalAnswer) collectSources(ctx context.Context, collection string, candidates []retrieval.Candidate) []Source {
	order := make([]string, 0)
	byPath := make(map[string]*Source)
	for i := range candidates {
		candidate := &candidates[i]
		src, ok := byPath[candidate.DocumentPath]
		if !ok {
			order = append(order, candidate.DocumentPath)
			byPath[candidate.DocumentPath] = &Source{
				Path:  candidate.DocumentPath,
				Title: candidate.DocumentTitle,
				Score: candidate.Similarity,
			}
			continue
		}
		if candidate.Similarity > src.Score {
			src.Score = candidate.Similarity
		}
	}

	if t.graph != nil {
		related, err := t.graph.RelatedDocuments(ctx, collection, order)
		if err != nil {
			t.logger.Printf("related documents lookup failed: %v", err)
		} else {
			for path, entries := range related {
				if src, ok := byPath[path]; ok {
					src.Related = entries
				}
			}
		}
	}

	sources := make([]Source, 0, len(order))
	for _, path := range order {
		sources = append(sources, *byPath[path])
	}
	return sources
}

const localAnswerSystemPrompt = "You are a question answering assistant. " +
	"Answer strictly from the knowledge base content supplied between the quotes. " +
	"If the content cannot answer the question, reply with exactly " + NoAnswerSentinel + " and nothing else."

func formatLocalAnswerPrompt(context, question string) string {
	builder := &strings.Builder{}
	builder.WriteString("Knowledge base content:\n“")
	builder.WriteString(context)
	builder.WriteString("”\n\nMy question is: ")
	builder.WriteString(question)
	return builder.String()
}
