package judge

import (
	"encoding/json"
	"fmt"
)

// Payload is the EvaluationResult.Payload shape persisted for one
// (summary, judge) pointwise scoring — one row per judge so a resumed run
// can skip judges that already scored a summary without redoing the
// whole panel (spec.md §4.2's resumability contract).
type Payload struct {
	Pointwise PointwiseResult `json:"pointwise"`
}

// Marshal serializes a Payload for storage.
func (p Payload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// DecodePayload deserializes a stored judge pointwise payload.
func DecodePayload(blob []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(blob, &p); err != nil {
		return Payload{}, fmt.Errorf("judge: decode payload: %w", err)
	}
	return p, nil
}
