package retrieval

import (
	"encoding/json"
	"fmt"
	"sort"
)

// QueryMetric is one (query, model) measurement, per spec.md §4.5 step 4.
type QueryMetric struct {
	QueryID        string       `json:"query_id"`
	QueryType      string       `json:"query_type"`
	HitAtK         map[int]bool `json:"hit_at_k"`
	ReciprocalRank float64      `json:"reciprocal_rank"`
	ModelRank      int          `json:"model_rank"`
	IsWinner       bool         `json:"is_winner"`
	PoolSize       int          `json:"pool_size"`
	TotalModels    int          `json:"total_models"`
}

// Payload is the EvaluationResult.Payload shape persisted for one
// (summary, kind=retrieval) row: every query metric computed for that
// model's summary of its code unit.
type Payload struct {
	ModelID string        `json:"model_id"`
	Queries []QueryMetric `json:"queries"`
}

// Marshal serializes a Payload for storage.
func (p Payload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// DecodePayload deserializes a stored retrieval payload.
func DecodePayload(blob []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(blob, &p); err != nil {
		return Payload{}, fmt.Errorf("retrieval: decode payload: %w", err)
	}
	return p, nil
}

// modelStandings orders the models competing for one query's target by
// their global rank ascending (ties broken by model id for determinism)
// and returns each model's 1-based standing among its competitors —
// spec.md §4.5's "model_rank := position of m when models are sorted by
// r_m ascending."
func modelStandings(ranks map[string]ModelRank) map[string]int {
	ids := make([]string, 0, len(ranks))
	for id := range ranks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ranks[ids[i]].Rank != ranks[ids[j]].Rank {
			return ranks[ids[i]].Rank < ranks[ids[j]].Rank
		}
		return ids[i] < ids[j]
	})
	out := make(map[string]int, len(ids))
	for i, id := range ids {
		out[id] = i + 1
	}
	return out
}

// buildMetric computes one QueryMetric for modelID's rank on a query,
// given every competing model's global rank for the same target.
func buildMetric(queryID, queryType, modelID string, ranks map[string]ModelRank, poolSize int, ks []int) QueryMetric {
	mr := ranks[modelID]
	standings := modelStandings(ranks)
	hit := make(map[int]bool, len(ks))
	for _, k := range ks {
		hit[k] = mr.Rank <= k
	}
	return QueryMetric{
		QueryID:        queryID,
		QueryType:      queryType,
		HitAtK:         hit,
		ReciprocalRank: 1.0 / float64(mr.Rank),
		ModelRank:      standings[modelID],
		IsWinner:       standings[modelID] == 1,
		PoolSize:       poolSize,
		TotalModels:    len(ranks),
	}
}

// AggregatedMetrics is the averaged view across every query metric in a
// slice, per spec.md §4.5's aggregation rule ("averages hit@k,
// reciprocal_rank, and win_rate across queries").
type AggregatedMetrics struct {
	HitAtK         map[int]float64 `json:"hit_at_k"`
	ReciprocalRank float64         `json:"reciprocal_rank"`
	WinRate        float64         `json:"win_rate"`
	Count          int             `json:"count"`
}

// Aggregate averages a set of QueryMetrics.
func Aggregate(metrics []QueryMetric) AggregatedMetrics {
	agg := AggregatedMetrics{HitAtK: map[int]float64{}}
	if len(metrics) == 0 {
		return agg
	}
	hitSums := map[int]int{}
	var rrSum float64
	var wins int
	for _, m := range metrics {
		for k, hit := range m.HitAtK {
			if hit {
				hitSums[k]++
			}
		}
		rrSum += m.ReciprocalRank
		if m.IsWinner {
			wins++
		}
	}
	for k, sum := range hitSums {
		agg.HitAtK[k] = float64(sum) / float64(len(metrics))
	}
	agg.ReciprocalRank = rrSum / float64(len(metrics))
	agg.WinRate = float64(wins) / float64(len(metrics))
	agg.Count = len(metrics)
	return agg
}

// GroupByQueryType buckets metrics by QueryType and aggregates each
// bucket, per spec.md §4.5's "groups by query type" aggregation rule.
func GroupByQueryType(metrics []QueryMetric) map[string]AggregatedMetrics {
	byType := map[string][]QueryMetric{}
	for _, m := range metrics {
		byType[m.QueryType] = append(byType[m.QueryType], m)
	}
	out := make(map[string]AggregatedMetrics, len(byType))
	for t, ms := range byType {
		out[t] = Aggregate(ms)
	}
	return out
}
