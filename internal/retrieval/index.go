// Package retrieval keeps an in-memory lexical index of each user's prior
// correspondence and ranks it against an inbound message.
package retrieval

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/ChuLiYu/replydraft/internal/analysis"
	"github.com/ChuLiYu/replydraft/pkg/types"
)

type entry struct {
	doc  types.Document
	vec  map[string]float64
	norm float64
}

// Index scores documents by cosine similarity of term-frequency vectors.
// Scores are in [0,1]. It is safe for concurrent use.
type Index struct {
	mu    sync.RWMutex
	users map[string]map[string]*entry // user -> source id -> entry
}

// NewIndex returns an empty Index.
func NewIndex() *Index {
	return &Index{users: make(map[string]map[string]*entry)}
}

// Upsert indexes docs for userID, replacing documents with the same
// SourceID. It returns how many documents had indexable terms.
func (x *Index) Upsert(userID string, docs []types.Document) int {
	x.mu.Lock()
	defer x.mu.Unlock()

	corpus, ok := x.users[userID]
	if !ok {
		corpus = make(map[string]*entry)
		x.users[userID] = corpus
	}
	n := 0
	for _, d := range docs {
		vec, norm := vectorize(d.Text)
		if norm == 0 {
			delete(corpus, d.SourceID)
			continue
		}
		d.Sender = analysis.SenderAddress(d.Sender)
		corpus[d.SourceID] = &entry{doc: d, vec: vec, norm: norm}
		n++
	}
	return n
}

// Delete drops one document. Unknown ids are ignored.
func (x *Index) Delete(userID, sourceID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.users[userID], sourceID)
}

// Len reports how many documents userID has indexed.
func (x *Index) Len(userID string) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.users[userID])
}

// Search ranks the user's documents against query. Documents from the
// scope's sender or thread are preferred; when none exist the whole corpus
// of the user is searched. Documents sharing no term with query are omitted.
func (x *Index) Search(ctx context.Context, query string, scope types.Scope, maxResults int) ([]types.Passage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	qvec, qnorm := vectorize(query)
	if qnorm == 0 || maxResults <= 0 {
		return []types.Passage{}, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	corpus := x.users[scope.UserID]
	candidates := inScope(corpus, scope)
	if len(candidates) == 0 {
		candidates = make([]*entry, 0, len(corpus))
		for _, e := range corpus {
			candidates = append(candidates, e)
		}
	}

	out := make([]types.Passage, 0, len(candidates))
	for _, e := range candidates {
		score := cosine(qvec, qnorm, e.vec, e.norm)
		if score <= 0 {
			continue
		}
		out = append(out, types.Passage{
			Text:     e.doc.Text,
			SourceID: e.doc.SourceID,
			Score:    score,
			Tags:     append([]string(nil), e.doc.Tags...),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].SourceID < out[j].SourceID
	})
	if len(out) > maxResults {
		out = out[:maxResults]
	}
	return out, nil
}

func inScope(corpus map[string]*entry, scope types.Scope) []*entry {
	sender := analysis.SenderAddress(scope.Sender)
	if sender == "" && scope.ThreadID == "" {
		return nil
	}
	var out []*entry
	for _, e := range corpus {
		if (sender != "" && e.doc.Sender == sender) || (scope.ThreadID != "" && e.doc.ThreadID == scope.ThreadID) {
			out = append(out, e)
		}
	}
	return out
}

func vectorize(text string) (map[string]float64, float64) {
	vec := make(map[string]float64)
	for _, w := range analysis.Words(text) {
		if analysis.IsStopword(w) {
			continue
		}
		vec[w]++
	}
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	return vec, math.Sqrt(sum)
}

func cosine(a map[string]float64, anorm float64, b map[string]float64, bnorm float64) float64 {
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot float64
	for term, v := range a {
		dot += v * b[term]
	}
	return math.Min(1, dot/(anorm*bnorm))
}
