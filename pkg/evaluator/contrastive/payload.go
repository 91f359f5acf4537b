package contrastive

import (
	"encoding/json"
	"fmt"

	"github.com/codeready-toolchain/sumeval/pkg/config"
	"github.com/codeready-toolchain/sumeval/pkg/models"
)

// Payload is the EvaluationResult.Payload shape persisted for one
// (summary, method) contrastive result. The two methods are stored as
// separate rows — one Payload each — so both can coexist and resumption
// can key on (summaryId, method) independently, per spec.md §4.6.
type Payload struct {
	Method     config.ContrastiveMethod `json:"method"`
	Difficulty models.Difficulty        `json:"difficulty"`
	Embedding  *EmbeddingResult         `json:"embedding,omitempty"`
	LLM        *LLMResult               `json:"llm,omitempty"`
}

// Marshal serializes a Payload for storage.
func (p Payload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// DecodePayload deserializes a stored contrastive payload.
func DecodePayload(blob []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(blob, &p); err != nil {
		return Payload{}, fmt.Errorf("contrastive: decode payload: %w", err)
	}
	return p, nil
}
