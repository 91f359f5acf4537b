// Package retrieval implements the Cross-Model Retrieval evaluator
// (spec.md §4.5): one combined embedding index holds every model's
// summary of every code unit, and a query's target document competes
// against the whole pool rather than just its own model's other outputs.
package retrieval

import (
	"sort"

	"github.com/codeready-toolchain/sumeval/pkg/embedclient"
)

// Entry is one indexed vector: a single model's summary of a single code
// unit.
type Entry struct {
	SummaryID  string
	ModelID    string
	CodeUnitID string
	Embedding  []float64
}

type scoredEntry struct {
	Entry
	Score float64
}

// Index is the append-only, cross-model combined index spec.md §4.5
// describes. Adds are append-only; reads never mutate state, so a built
// Index is safe to share read-only across the goroutines scoring
// different queries.
type Index struct {
	entries []Entry
}

// NewIndex returns an empty Index.
func NewIndex() *Index {
	return &Index{}
}

// Add appends one entry. Order matters: ties in later ranking are broken
// by insertion order (spec.md §4.5 step 2).
func (idx *Index) Add(e Entry) {
	idx.entries = append(idx.entries, e)
}

// Len reports the pool size used as PoolSize in emitted metrics.
func (idx *Index) Len() int {
	return len(idx.entries)
}

// Search returns the top-k entries globally ranked by cosine similarity
// to q.
func (idx *Index) Search(q []float64, k int) []Entry {
	ranked := idx.rank(q)
	if k > len(ranked) {
		k = len(ranked)
	}
	out := make([]Entry, k)
	for i := 0; i < k; i++ {
		out[i] = ranked[i].Entry
	}
	return out
}

// ModelRank is one model's position and similarity score within a
// query's global ranking.
type ModelRank struct {
	Rank  int // 1-based position in the full index ranking
	Score float64
}

// SearchWithModelRanks ranks the entire index against q, then reports,
// for every model that produced a summary of codeUnitID, the global rank
// and score of that model's summary — the first occurrence of the
// (model, codeUnitID) pair, per spec.md §4.5 step 3.
func (idx *Index) SearchWithModelRanks(q []float64, codeUnitID string) map[string]ModelRank {
	ranked := idx.rank(q)
	out := make(map[string]ModelRank)
	for i, e := range ranked {
		if e.CodeUnitID != codeUnitID {
			continue
		}
		if _, seen := out[e.ModelID]; seen {
			continue
		}
		out[e.ModelID] = ModelRank{Rank: i + 1, Score: e.Score}
	}
	return out
}

// rank scores every entry against q and stable-sorts descending, so equal
// scores keep their original insertion order.
func (idx *Index) rank(q []float64) []scoredEntry {
	ranked := make([]scoredEntry, len(idx.entries))
	for i, e := range idx.entries {
		ranked[i] = scoredEntry{Entry: e, Score: embedclient.CosineSimilarity(q, e.Embedding)}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	return ranked
}
