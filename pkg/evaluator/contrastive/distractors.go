// Package contrastive implements the Contrastive Matching evaluator
// (spec.md §4.6): tiered distractor selection plus two independent
// scoring methods (embedding-based ranking and LLM-based choice).
package contrastive

import (
	"math/rand"
	"sort"

	"github.com/codeready-toolchain/sumeval/pkg/embedclient"
	"github.com/codeready-toolchain/sumeval/pkg/models"
)

// nearDuplicateThreshold excludes tier-3 candidates too similar to the
// target to make a meaningful distractor (spec.md §4.6 tier 3).
const nearDuplicateThreshold = 0.95

type scoredCandidate struct {
	unit  *models.CodeUnit
	score float64
}

// SelectDistractors builds target's DistractorSet per spec.md §4.6's
// tiering rule — same-file, then signature-similar, then semantically
// similar, then random padding — consumed in order until n distractors
// are chosen, with duplicates rejected. All tiers restrict to target's
// language and exclude target itself; type equality is preferred but
// relaxed when too few same-type candidates remain. embeddings supplies a
// precomputed code embedding per candidate id, used by tier 3; a nil or
// incomplete map simply skips that tier.
func SelectDistractors(target *models.CodeUnit, pool []*models.CodeUnit, n int, embeddings map[string][]float64, rng *rand.Rand) *models.DistractorSet {
	var sameLang, sameType []*models.CodeUnit
	for _, c := range pool {
		if c.ID == target.ID || c.Language != target.Language {
			continue
		}
		sameLang = append(sameLang, c)
		if c.Type == target.Type {
			sameType = append(sameType, c)
		}
	}
	candidates := sameType
	if len(candidates) < n {
		candidates = sameLang
	}

	chosen := map[string]bool{}
	var ids []string
	sameFileCount := 0

	take := func(c *models.CodeUnit) bool {
		if len(ids) >= n || chosen[c.ID] {
			return false
		}
		chosen[c.ID] = true
		ids = append(ids, c.ID)
		return true
	}

	// Tier 1: same file, up to 3.
	for _, c := range candidates {
		if sameFileCount >= 3 || len(ids) >= n {
			break
		}
		if c.Path == target.Path && take(c) {
			sameFileCount++
		}
	}

	// Tier 2: signature-similar, up to 3; requires a signature on both
	// sides (spec.md §4.6 tier 2).
	if len(ids) < n {
		if targetParams, ok := signatureParams(target); ok {
			var ranked []scoredCandidate
			for _, c := range candidates {
				if chosen[c.ID] {
					continue
				}
				params, ok := signatureParams(c)
				if !ok {
					continue
				}
				ranked = append(ranked, scoredCandidate{unit: c, score: signatureSimilarity(targetParams, params)})
			}
			sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
			took := 0
			for _, sc := range ranked {
				if took >= 3 || len(ids) >= n {
					break
				}
				if take(sc.unit) {
					took++
				}
			}
		}
	}

	// Tier 3: semantically similar, fill; near-duplicates are dropped.
	if len(ids) < n {
		if targetEmbedding, ok := embeddings[target.ID]; ok {
			var ranked []scoredCandidate
			for _, c := range candidates {
				if chosen[c.ID] {
					continue
				}
				emb, ok := embeddings[c.ID]
				if !ok {
					continue
				}
				sim := embedclient.CosineSimilarity(targetEmbedding, emb)
				if sim >= nearDuplicateThreshold {
					continue
				}
				ranked = append(ranked, scoredCandidate{unit: c, score: sim})
			}
			sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
			for _, sc := range ranked {
				if len(ids) >= n {
					break
				}
				take(sc.unit)
			}
		}
	}

	// Tier 4: random padding, fill from whatever candidates remain.
	if len(ids) < n {
		var remaining []*models.CodeUnit
		for _, c := range candidates {
			if !chosen[c.ID] {
				remaining = append(remaining, c)
			}
		}
		rng.Shuffle(len(remaining), func(i, j int) { remaining[i], remaining[j] = remaining[j], remaining[i] })
		for _, c := range remaining {
			if len(ids) >= n {
				break
			}
			take(c)
		}
	}

	return &models.DistractorSet{
		TargetCodeUnitID: target.ID,
		DistractorIDs:    ids,
		Difficulty:       difficultyFor(sameFileCount),
	}
}

// difficultyFor assigns difficulty by same-file count, per spec.md §4.6.
func difficultyFor(sameFileCount int) models.Difficulty {
	switch {
	case sameFileCount >= 3:
		return models.DifficultyHard
	case sameFileCount >= 1:
		return models.DifficultyMedium
	default:
		return models.DifficultyEasy
	}
}

// signatureParams reads the optional parameter-name list a richer
// extractor may have populated on CodeUnit.Metadata["parameters"]. The
// default WholeFileExtractor never sets it, so tier 2 naturally yields no
// candidates against whole-file units — this is the hook a function- or
// method-level extractor would populate.
func signatureParams(u *models.CodeUnit) ([]string, bool) {
	raw, ok := u.Metadata["parameters"]
	if !ok {
		return nil, false
	}
	params, ok := raw.([]string)
	if !ok || len(params) == 0 {
		return nil, false
	}
	return params, true
}

// signatureSimilarity averages parameter-count similarity and
// parameter-name overlap, per spec.md §4.6 tier 2.
func signatureSimilarity(a, b []string) float64 {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	countSim := 1.0
	if maxLen > 0 {
		diff := len(a) - len(b)
		if diff < 0 {
			diff = -diff
		}
		countSim = 1.0 - float64(diff)/float64(maxLen)
	}

	setA := make(map[string]bool, len(a))
	for _, p := range a {
		setA[p] = true
	}
	union := make(map[string]bool, len(a)+len(b))
	intersection := 0
	for _, p := range a {
		union[p] = true
	}
	for _, p := range b {
		union[p] = true
		if setA[p] {
			intersection++
		}
	}
	nameOverlap := 0.0
	if len(union) > 0 {
		nameOverlap = float64(intersection) / float64(len(union))
	}

	return (countSim + nameOverlap) / 2
}
