// Package report turns a Run's AggregatedScores into the final
// leaderboard surfaces spec.md §6 names: JSON, Markdown, and a console
// table. HTML rendering and cloud-leaderboard upload are named stubs —
// out of scope for this module beyond their interface shape.
package report

import (
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/codeready-toolchain/sumeval/pkg/models"
)

// ModelSummary is one model's row in the leaderboard, flattened from its
// NormalizedScores for rendering.
type ModelSummary struct {
	ModelID            string  `json:"model_id"`
	Overall            float64 `json:"overall"`
	JudgePointwise     float64 `json:"judge_pointwise"`
	JudgePairwise      float64 `json:"judge_pairwise"`
	ContrastiveScore   float64 `json:"contrastive_combined"`
	RetrievalScore     float64 `json:"retrieval_combined"`
	HasIterative       bool    `json:"has_iterative"`
	IterativeSuccess   float64 `json:"iterative_success_rate,omitempty"`
	IterativeAvgRounds float64 `json:"iterative_avg_rounds,omitempty"`
}

// Report is the complete rendering input for one Run: its metadata, a
// cost rollup (spec.md §6's supplemented cost-accounting feature), and
// the per-model leaderboard sorted best-first by Overall.
type Report struct {
	RunID       string         `json:"run_id"`
	Name        string         `json:"name"`
	Status      models.RunStatus `json:"status"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Duration    time.Duration  `json:"duration_ns"`
	TotalCost   float64        `json:"total_cost"`
	Leaderboard []ModelSummary `json:"leaderboard"`
}

// Build assembles a Report from a Run, its AggregatedScores rows, and
// the generation/pairwise cost sources spec.md §6 names. scores and
// summaries need not be sorted; Build sorts the leaderboard itself.
func Build(run *models.Run, scores []*models.AggregatedScores, summaries []*models.GeneratedSummary, pairwise []*models.PairwiseResult) (*Report, error) {
	r := &Report{
		RunID:       run.ID,
		Name:        run.Name,
		Status:      run.Status,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
	}
	if run.StartedAt != nil {
		end := time.Now()
		if run.CompletedAt != nil {
			end = *run.CompletedAt
		}
		r.Duration = end.Sub(*run.StartedAt)
	}

	for _, s := range summaries {
		r.TotalCost += s.Metadata.Cost
	}
	for _, p := range pairwise {
		r.TotalCost += p.Cost
	}

	for _, row := range scores {
		var normalized models.NormalizedScores
		if err := json.Unmarshal(row.ScoresBlob, &normalized); err != nil {
			return nil, errors.New("report: decode aggregated scores: " + err.Error())
		}
		entry := ModelSummary{
			ModelID:          row.ModelID,
			Overall:          normalized.Overall,
			JudgePointwise:   normalized.Judge.Pointwise,
			JudgePairwise:    normalized.Judge.Pairwise,
			ContrastiveScore: normalized.Contrastive.Combined,
			RetrievalScore:   normalized.Retrieval.Combined,
		}
		if normalized.Iterative != nil {
			entry.HasIterative = true
			entry.IterativeSuccess = normalized.Iterative.SuccessRate
			entry.IterativeAvgRounds = normalized.Iterative.AvgRounds
		}
		r.Leaderboard = append(r.Leaderboard, entry)
	}
	sortLeaderboard(r.Leaderboard)

	return r, nil
}

func sortLeaderboard(rows []ModelSummary) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Overall > rows[j].Overall })
}

// errNotImplemented is returned by the named-stub writers; real HTML
// rendering and cloud upload are out of scope for this module.
var errNotImplemented = errors.New("report: not implemented")
