package index

import (
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/harborstone/dealgraph/pkg/utils"
)

// Okapi BM25 parameters (Robertson & Zaragoza 2009). k1 controls term
// frequency saturation, b controls document length normalization.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// LexicalIndex is an in-memory inverted index with BM25 ranking over fact
// claim text.
type LexicalIndex struct {
	mu          sync.RWMutex
	postings    map[string]map[string]int // term -> doc id -> term frequency
	docTerms    map[string][]string       // doc id -> distinct terms, for removal
	docLengths  map[string]int
	totalTokens int
}

// NewLexicalIndex creates an empty index.
func NewLexicalIndex() *LexicalIndex {
	return &LexicalIndex{
		postings:   make(map[string]map[string]int),
		docTerms:   make(map[string][]string),
		docLengths: make(map[string]int),
	}
}

// Index tokenizes text and stores it under id, replacing any prior entry.
func (ix *LexicalIndex) Index(id, text string) {
	if id == "" {
		return
	}
	tokens := tokenize(text)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.removeLocked(id)
	if len(tokens) == 0 {
		return
	}

	freq := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		freq[tok]++
	}

	terms := make([]string, 0, len(freq))
	for term, tf := range freq {
		docs := ix.postings[term]
		if docs == nil {
			docs = make(map[string]int)
			ix.postings[term] = docs
		}
		docs[id] = tf
		terms = append(terms, term)
	}
	ix.docTerms[id] = terms
	ix.docLengths[id] = len(tokens)
	ix.totalTokens += len(tokens)
}

// Remove drops id from the index. Removing an unknown id is a no-op.
func (ix *LexicalIndex) Remove(id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(id)
}

func (ix *LexicalIndex) removeLocked(id string) {
	terms, ok := ix.docTerms[id]
	if !ok {
		return
	}
	for _, term := range terms {
		docs := ix.postings[term]
		delete(docs, id)
		if len(docs) == 0 {
			delete(ix.postings, term)
		}
	}
	ix.totalTokens -= ix.docLengths[id]
	delete(ix.docTerms, id)
	delete(ix.docLengths, id)
}

// Search returns up to limit ids ranked by BM25 score against query, best
// first. Only documents sharing at least one query term score at all.
func (ix *LexicalIndex) Search(query string, limit int) []utils.Scored {
	tokens := tokenize(query)
	if len(tokens) == 0 || limit <= 0 {
		return nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	n := len(ix.docLengths)
	if n == 0 {
		return nil
	}
	avgLen := float64(ix.totalTokens) / float64(n)

	// Repeated query terms contribute once per occurrence, which is the
	// standard treatment for short queries.
	scores := make(map[string]float64)
	for _, term := range tokens {
		docs := ix.postings[term]
		if len(docs) == 0 {
			continue
		}
		df := float64(len(docs))
		idf := math.Log(1 + (float64(n)-df+0.5)/(df+0.5))
		for id, tf := range docs {
			tfNorm := float64(tf) * (bm25K1 + 1) /
				(float64(tf) + bm25K1*(1-bm25B+bm25B*float64(ix.docLengths[id])/avgLen))
			scores[id] += idf * tfNorm
		}
	}

	top := utils.NewTopK(limit)
	for id, score := range scores {
		top.Add(id, score)
	}
	return top.Results()
}

// Count returns the number of indexed documents.
func (ix *LexicalIndex) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docLengths)
}

// tokenize lowercases text and splits it into alphanumeric runs, so
// "Q3_revenue: $5.2M" yields ["q3", "revenue", "5", "2m"].
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
