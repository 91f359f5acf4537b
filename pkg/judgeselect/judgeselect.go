// Package judgeselect chooses a diverse, non-self judging panel for a
// generator model, per spec.md §4.4.
package judgeselect

import (
	"fmt"
	"strings"
)

// Family is the closed set of provider families judges and generators are
// grouped into for self-judging exclusion.
type Family string

// Family values.
const (
	FamilyAnthropic Family = "anthropic"
	FamilyOpenAI    Family = "openai"
	FamilyGoogle    Family = "google"
	FamilyMeta      Family = "meta"
	FamilyMistral   Family = "mistral"
	FamilyUnknown   Family = "unknown"
)

// familyPatterns maps a lowercase substring found in a model identifier to
// its provider family. Checked in order; the first match wins.
var familyPatterns = []struct {
	substr string
	family Family
}{
	{"claude", FamilyAnthropic},
	{"anthropic", FamilyAnthropic},
	{"gpt", FamilyOpenAI},
	{"openai", FamilyOpenAI},
	{"o1", FamilyOpenAI},
	{"o3", FamilyOpenAI},
	{"gemini", FamilyGoogle},
	{"google", FamilyGoogle},
	{"llama", FamilyMeta},
	{"meta", FamilyMeta},
	{"mistral", FamilyMistral},
	{"mixtral", FamilyMistral},
}

// ClassifyFamily returns the provider family for a model identifier such as
// "anthropic/claude-3-5-sonnet", matching by substring since identifiers
// are free-form and provider-prefixed inconsistently across model cards.
func ClassifyFamily(modelID string) Family {
	lower := strings.ToLower(modelID)
	for _, p := range familyPatterns {
		if strings.Contains(lower, p.substr) {
			return p.family
		}
	}
	return FamilyUnknown
}

// ErrInsufficientJudges is returned when fewer than minJudges judges remain
// after excluding the generator's own family.
var ErrInsufficientJudges = fmt.Errorf("judgeselect: fewer judges available than required minimum")

// SelectJudges filters availableJudges down to a panel of exactly minJudges
// (or all eligible judges, if fewer than minJudges survive filtering — in
// which case it errors) that excludes any judge sharing a provider family
// with generatorModel. Selection prefers diversity: one judge per distinct
// family first, filling remaining slots from whatever is left once every
// family has contributed one. Order of availableJudges is preserved within
// each pass, so results are deterministic for a fixed input.
func SelectJudges(generatorModel string, availableJudges []string, minJudges int) ([]string, error) {
	genFamily := ClassifyFamily(generatorModel)

	eligible := make([]string, 0, len(availableJudges))
	for _, judge := range availableJudges {
		if ClassifyFamily(judge) == genFamily && genFamily != FamilyUnknown {
			continue
		}
		eligible = append(eligible, judge)
	}

	if len(eligible) < minJudges {
		return nil, fmt.Errorf("%w: need %d, have %d after excluding family %q", ErrInsufficientJudges, minJudges, len(eligible), genFamily)
	}

	seen := make(map[Family]bool, len(eligible))
	panel := make([]string, 0, len(eligible))
	var rest []string
	for _, judge := range eligible {
		f := ClassifyFamily(judge)
		if !seen[f] {
			seen[f] = true
			panel = append(panel, judge)
		} else {
			rest = append(rest, judge)
		}
	}
	panel = append(panel, rest...)
	if len(panel) > minJudges {
		panel = panel[:minJudges]
	}

	return panel, nil
}
