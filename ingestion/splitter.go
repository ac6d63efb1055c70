package ingestion

import "strings"

// SplitText cuts text into windows of at most size characters with overlap
// characters of look-back between consecutive windows. When a window would
// cut mid-paragraph, the cut moves back to the last blank-line boundary
// inside the window, as long as that still makes progress past the overlap.
// The windows cover the whole text with no gaps.
func SplitText(text string, size, overlap int) []string {
	runes := []rune(strings.ReplaceAll(text, "\r\n", "\n"))
	if len(runes) == 0 || strings.TrimSpace(string(runes)) == "" {
		return nil
	}
	if size <= 0 {
		return nil
	}

	chunks := make([]string, 0, len(runes)/size+1)
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}

		if cut := lastParagraphBreak(runes[start:end]); cut > overlap {
			end = start + cut
		}

		chunks = append(chunks, string(runes[start:end]))
		start = end - overlap
	}

	return chunks
}

// lastParagraphBreak returns the offset just past the final blank-line
// separator in window, or 0 when the window holds a single paragraph.
func lastParagraphBreak(window []rune) int {
	for i := len(window) - 1; i > 0; i-- {
		if window[i] == '\n' && window[i-1] == '\n' {
			return i + 1
		}
	}
	return 0
}
