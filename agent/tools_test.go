package agent

import (
	"context"
	"testing"
)

func TestToolKindNames(t *testing.T) {
	cases := []struct {
		kind ToolKind
		name string
	}{
		{ToolLocalAnswer, "local_search"},
		{ToolWebSearch, "web_search"},
	}
	for _, tc := range cases {
		if tc.kind.String() != tc.name {
			t.Fatalf("expected %q, got %q", tc.name, tc.kind.String())
		}
		kind, ok := toolKindFromName(tc.name)
		if !ok || kind != tc.kind {
			t.Fatalf("round trip failed for %q", tc.name)
		}
	}
	if _, ok := toolKindFromName("teleport"); ok {
		t.Fatal("expected unknown name to be rejected")
	}
}

func TestToolDescriptionsMatchKinds(t *testing.T) {
	tools := toolDescriptions()
	if len(tools) != 2 {
		t.Fatalf("expected two tools, got %d", len(tools))
	}
	for _, tool := range tools {
		if _, ok := toolKindFromName(tool.Name); !ok {
			t.Fatalf("tool %q does not map to a kind", tool.Name)
		}
		if len(tool.Parameters) == 0 {
			t.Fatalf("tool %q has no parameter schema", tool.Name)
		}
	}
}

func TestLocalAnswerReturnsGroundedAnswer(t *testing.T) {
	qa := &scriptedLLM{answer: "Yes, cats are mammals."}
	local, _ := newAnimalFixture(t, qa)

	result, err := local.Run(context.Background(), "animals", "are cats mammals?")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.NoAnswer {
		t.Fatal("expected an answer from the collection")
	}
	if result.Answer != "Yes, cats are mammals." {
		t.Fatalf("unexpected answer %q", result.Answer)
	}
	if len(result.Sources) != 1 || result.Sources[0].Path != "doc-0.md" {
		t.Fatalf("expected the cats document as the sole source, got %+v", result.Sources)
	}
}

func TestLocalAnswerNormalizesEmbeddedSentinel(t *testing.T) {
	qa := &scriptedLLM{answer: "I am sorry, " + NoAnswerSentinel + "."}
	local, _ := newAnimalFixture(t, qa)

	result, err := local.Run(context.Background(), "animals", "are cats mammals?")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.NoAnswer {
		t.Fatal("expected the embedded sentinel to mark the result as no-answer")
	}
	if result.Answer != NoAnswerSentinel {
		t.Fatalf("expected the bare sentinel, got %q", result.Answer)
	}
}

func TestLocalAnswerEmptyRetrievalSkipsModel(t *testing.T) {
	qa := &scriptedLLM{answer: "must not be asked"}
	local, _ := newAnimalFixture(t, qa)

	result, err := local.Run(context.Background(), "no_such_collection", "anything at all")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.NoAnswer || result.Answer != NoAnswerSentinel {
		t.Fatalf("expected the sentinel for an empty collection, got %+v", result)
	}
	if qa.generateCalls != 0 {
		t.Fatalf("expected no completion for empty retrieval, got %d", qa.generateCalls)
	}
}
