package iterative

import (
	"encoding/json"
	"fmt"
)

// HistoryStep records one round's outcome: the rank the summary achieved
// and the summary text that produced it.
type HistoryStep struct {
	Round   int    `json:"round"`
	Rank    int    `json:"rank"`
	Summary string `json:"summary"`
}

// Result is one (model, summary, code unit)'s refinement outcome, per
// spec.md §4.8 step 3.
type Result struct {
	Rounds          int           `json:"rounds"`
	Success         bool          `json:"success"`
	InitialRank     int           `json:"initial_rank"`
	FinalRank       int           `json:"final_rank"`
	History         []HistoryStep `json:"history"`
	RefinementScore float64       `json:"refinement_score"`
	DurationMS      int64         `json:"duration_ms"`
}

// Payload is the EvaluationResult.Payload shape persisted for one summary.
type Payload struct {
	Result Result `json:"result"`
}

// Marshal serializes a Payload for storage.
func (p Payload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// DecodePayload deserializes a stored iterative-refinement payload.
func DecodePayload(blob []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(blob, &p); err != nil {
		return Payload{}, fmt.Errorf("iterative: decode payload: %w", err)
	}
	return p, nil
}
