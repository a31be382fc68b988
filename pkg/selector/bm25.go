package selector

import (
	"math"
	"strings"

	"github.com/Mindburn-Labs/verifiquant/pkg/registry"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// bm25Index is a lexical index over card text. It is built once per
// registry and read concurrently.
type bm25Index struct {
	docs   []map[string]int
	lens   []int
	avgLen float64
	df     map[string]int
}

func searchableText(e *registry.Entry) string {
	c := e.Card
	parts := []string{c.ID, c.Name, c.Description, c.Domain, c.Topic, c.OutputVar}
	parts = append(parts, c.Tags...)
	for _, in := range c.Inputs {
		parts = append(parts, in.Name, in.Description)
	}
	for _, f := range c.Steps {
		parts = append(parts, f.Variable, f.Description, f.Expression)
	}
	return strings.Join(parts, " ")
}

func newBM25Index(entries []*registry.Entry) *bm25Index {
	idx := &bm25Index{
		docs: make([]map[string]int, len(entries)),
		lens: make([]int, len(entries)),
		df:   make(map[string]int),
	}
	total := 0
	for i, e := range entries {
		tf := make(map[string]int)
		terms := tokenize(searchableText(e))
		for _, t := range terms {
			tf[t]++
		}
		for t := range tf {
			idx.df[t]++
		}
		idx.docs[i] = tf
		idx.lens[i] = len(terms)
		total += len(terms)
	}
	if len(entries) > 0 {
		idx.avgLen = float64(total) / float64(len(entries))
	}
	return idx
}

// score returns the BM25 relevance of document i for the query terms.
func (idx *bm25Index) score(i int, query []string) float64 {
	n := float64(len(idx.docs))
	tf := idx.docs[i]
	dl := float64(idx.lens[i])
	var s float64
	seen := make(map[string]bool, len(query))
	for _, q := range query {
		if seen[q] {
			continue
		}
		seen[q] = true
		f := float64(tf[q])
		if f == 0 {
			continue
		}
		df := float64(idx.df[q])
		idf := math.Log((n-df+0.5)/(df+0.5) + 1)
		norm := 1 - bm25B
		if idx.avgLen > 0 {
			norm += bm25B * dl / idx.avgLen
		}
		s += idf * f * (bm25K1 + 1) / (f + bm25K1*norm)
	}
	return s
}
