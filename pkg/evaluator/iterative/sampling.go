package iterative

import (
	"hash/fnv"
	"math/rand"

	"github.com/codeready-toolchain/sumeval/pkg/models"
)

// seedFor derives a process-independent seed from the run id, so sampling
// and, indirectly, round scheduling stay reproducible across resumed runs
// without depending on wall-clock time.
func seedFor(runID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(runID))
	return int64(h.Sum64())
}

// sampleWithoutReplacement draws n items out of items uniformly, using
// a partial Fisher-Yates shuffle so repeated calls against the same rng
// stream never repeat a draw. Order is otherwise left as given when
// n >= len(items).
func sampleWithoutReplacement(items []*models.GeneratedSummary, n int, rng *rand.Rand) []*models.GeneratedSummary {
	if n <= 0 || n >= len(items) {
		return items
	}
	pool := make([]*models.GeneratedSummary, len(items))
	copy(pool, items)
	for i := 0; i < n; i++ {
		j := i + rng.Intn(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:n]
}
