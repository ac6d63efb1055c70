package ingestion

import (
	"strings"
	"testing"
)

func TestSplitTextCoversWholeText(t *testing.T) {
	text := strings.Repeat("abcdefghij", 50)

	for _, tc := range []struct {
		size    int
		overlap int
	}{
		{size: 100, overlap: 0},
		{size: 100, overlap: 20},
		{size: 37, overlap: 5},
		{size: 1000, overlap: 100},
	} {
		chunks := SplitText(text, tc.size, tc.overlap)
		if len(chunks) == 0 {
			t.Fatalf("size=%d overlap=%d: expected chunks", tc.size, tc.overlap)
		}

		for i, chunk := range chunks {
			if len([]rune(chunk)) > tc.size {
				t.Fatalf("size=%d overlap=%d: chunk %d has %d runes", tc.size, tc.overlap, i, len([]rune(chunk)))
			}
		}

		// Reassemble: drop each chunk's first overlap runes after the first
		// chunk; the concatenation must equal the original text.
		var rebuilt strings.Builder
		for i, chunk := range chunks {
			runes := []rune(chunk)
			if i == 0 {
				rebuilt.WriteString(chunk)
				continue
			}
			if len(runes) < tc.overlap {
				t.Fatalf("size=%d overlap=%d: chunk %d shorter than overlap", tc.size, tc.overlap, i)
			}
			rebuilt.WriteString(string(runes[tc.overlap:]))
		}
		if rebuilt.String() != text {
			t.Fatalf("size=%d overlap=%d: chunks do not cover the text", tc.size, tc.overlap)
		}
	}
}

func TestSplitTextPrefersParagraphBoundaries(t *testing.T) {
	text := "First paragraph with some words.\n\nSecond paragraph that continues for a while longer."

	chunks := SplitText(text, 60, 5)
	if len(chunks) < 2 {
		t.Fatalf("expected a split, got %d chunks", len(chunks))
	}
	if !strings.HasSuffix(chunks[0], "\n\n") {
		t.Fatalf("expected first chunk to end at the paragraph boundary, got %q", chunks[0])
	}
}

func TestSplitTextSingleChunk(t *testing.T) {
	chunks := SplitText("short text", 100, 10)
	if len(chunks) != 1 {
		t.Fatalf("expected one chunk, got %d", len(chunks))
	}
	if chunks[0] != "short text" {
		t.Fatalf("unexpected chunk %q", chunks[0])
	}
}

func TestSplitTextEmpty(t *testing.T) {
	if chunks := SplitText("", 100, 10); len(chunks) != 0 {
		t.Fatalf("expected no chunks for empty text, got %d", len(chunks))
	}
	if chunks := SplitText("  \n\n  ", 100, 10); len(chunks) != 0 {
		t.Fatalf("expected no chunks for blank text, got %d", len(chunks))
	}
}

func TestSplitTextOverlapRepeatsTail(t *testing.T) {
	text := strings.Repeat("x", 30)
	chunks := SplitText(text, 20, 5)
	if len(chunks) != 2 {
		t.Fatalf("expected two chunks, got %d", len(chunks))
	}
	if got := chunks[0][len(chunks[0])-5:]; got != chunks[1][:5] {
		t.Fatalf("expected overlap of 5, got %q vs %q", got, chunks[1][:5])
	}
}
