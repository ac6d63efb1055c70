package retrieval

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// bm25Index is a term-frequency index over a small candidate set, rebuilt
// fresh for every query.
type bm25Index struct {
	termFreqs  []map[string]int
	docFreqs   map[string]int
	docLengths []int
	avgDocLen  float64
}

// buildBM25Index indexes texts by position. It returns nil when there is
// nothing to index.
func buildBM25Index(texts []string) *bm25Index {
	if len(texts) == 0 {
		return nil
	}

	idx := &bm25Index{
		termFreqs:  make([]map[string]int, len(texts)),
		docFreqs:   make(map[string]int),
		docLengths: make([]int, len(texts)),
	}

	totalLen := 0
	for i, text := range texts {
		terms := tokenizeTerms(text)
		freqs := make(map[string]int, len(terms))
		for _, term := range terms {
			freqs[term]++
		}
		for term := range freqs {
			idx.docFreqs[term]++
		}
		idx.termFreqs[i] = freqs
		idx.docLengths[i] = len(terms)
		totalLen += len(terms)
	}

	if len(idx.docFreqs) == 0 {
		return nil
	}

	idx.avgDocLen = float64(totalLen) / float64(len(texts))
	return idx
}

// score ranks the indexed documents against the raw query terms, returning
// document positions in descending BM25 score. Documents scoring zero keep
// their original relative order at the tail.
func (idx *bm25Index) score(query string) []int {
	terms := tokenizeTerms(query)
	scores := make([]float64, len(idx.termFreqs))

	totalDocs := float64(len(idx.termFreqs))
	for _, term := range terms {
		df, ok := idx.docFreqs[term]
		if !ok {
			continue
		}
		idf := logIDF(totalDocs, float64(df))
		for docPos, freqs := range idx.termFreqs {
			tf := float64(freqs[term])
			if tf == 0 {
				continue
			}
			docLen := float64(idx.docLengths[docPos])
			norm := tf * (bm25K1 + 1) / (tf + bm25K1*(1-bm25B+bm25B*docLen/idx.avgDocLen))
			scores[docPos] += idf * norm
		}
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})
	return order
}

func logIDF(totalDocs, df float64) float64 {
	// Standard BM25 idf with +1 smoothing so common terms never go negative.
	return math.Log((totalDocs-df+0.5)/(df+0.5) + 1)
}

func tokenizeTerms(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
