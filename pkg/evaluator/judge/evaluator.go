package judge

import (
	"context"
	"fmt"
	"sort"

	"github.com/codeready-toolchain/sumeval/pkg/judgeselect"
	"github.com/codeready-toolchain/sumeval/pkg/llmclient"
	"github.com/codeready-toolchain/sumeval/pkg/models"
	"github.com/codeready-toolchain/sumeval/pkg/orchestrator"
)

// Executor returns the PhaseExecutor for spec.md §4.7's Judge evaluator:
// pointwise rubric scoring plus a pairwise tournament, both gated by
// pkg/judgeselect's self-judging exclusion and pairwise's per-judge
// comparison budget.
func Executor(resolve llmclient.Resolver) orchestrator.PhaseExecutor {
	return func(ctx context.Context, deps orchestrator.ExecutorDeps) (orchestrator.PhaseResult, error) {
		cfg := deps.Config.Judge
		if !cfg.Enabled {
			return orchestrator.PhaseResult{Success: true, SkipReason: "judge evaluator disabled"}, nil
		}
		if len(cfg.Models) == 0 {
			return orchestrator.PhaseResult{Success: true, SkipReason: "no judge models configured"}, nil
		}

		summaries, err := deps.Store.GetSummaries(ctx, deps.Run.ID, nil)
		if err != nil {
			return orchestrator.PhaseResult{}, fmt.Errorf("judge: load summaries: %w", err)
		}
		if len(summaries) == 0 {
			return orchestrator.PhaseResult{Success: true, SkipReason: "no summaries to evaluate"}, nil
		}

		units, err := deps.Store.GetCodeUnits(ctx, deps.Run.ID)
		if err != nil {
			return orchestrator.PhaseResult{}, fmt.Errorf("judge: load code units: %w", err)
		}
		unitByID := make(map[string]*models.CodeUnit, len(units))
		for _, u := range units {
			unitByID[u.ID] = u
		}

		kind := models.EvalKindJudge
		existingPointwise, err := deps.Store.GetEvaluationResults(ctx, deps.Run.ID, &kind)
		if err != nil {
			return orchestrator.PhaseResult{}, fmt.Errorf("judge: load existing pointwise results: %w", err)
		}
		pointwiseDone := make(map[string]bool, len(existingPointwise))
		for _, r := range existingPointwise {
			payload, err := DecodePayload(r.Payload)
			if err != nil {
				continue
			}
			pointwiseDone[r.SummaryID+"|"+payload.Pointwise.JudgeModel] = true
		}

		existingPairwise, err := deps.Store.GetPairwiseResults(ctx, deps.Run.ID)
		if err != nil {
			return orchestrator.PhaseResult{}, fmt.Errorf("judge: load existing pairwise results: %w", err)
		}
		pairwiseDone := make(map[string]bool, len(existingPairwise))
		for _, r := range existingPairwise {
			pairwiseDone[pairwiseResultKey(r.JudgeModel, r.CodeUnitID, r.ModelA, r.ModelB, r.PositionSwapped)] = true
		}

		pointwiseTasks := buildPointwiseTasks(summaries, cfg.Models, cfg.MinJudges)
		pairwiseComparisons := buildPairwiseComparisons(summaries, units, cfg.Models, cfg.MaxComparisonsPerJudge)

		total := len(pointwiseTasks) + len(pairwiseComparisons)
		if err := deps.StateMachine.StartPhase(ctx, deps.Run.ID, models.PhaseEvaluationJudge, total); err != nil {
			return orchestrator.PhaseResult{}, fmt.Errorf("judge: start phase: %w", err)
		}

		var failures []orchestrator.FailureDetail
		completed := len(pointwiseDone) + len(pairwiseDone)

		for _, task := range pointwiseTasks {
			if ctx.Err() != nil {
				break
			}
			key := task.summary.ID + "|" + task.judgeModel
			if pointwiseDone[key] {
				continue
			}

			judgeClient, err := resolve(task.judgeModel)
			if err != nil {
				failures = append(failures, orchestrator.FailureDetail{ItemID: key, Err: err})
				completed++
				continue
			}
			target := unitByID[task.summary.CodeUnitID]
			result, err := ScorePointwise(ctx, judgeClient, task.judgeModel, target.Content, task.summary.Text)
			if err != nil {
				failures = append(failures, orchestrator.FailureDetail{ItemID: key, Err: err})
				completed++
				continue
			}

			blob, err := Payload{Pointwise: result}.Marshal()
			if err != nil {
				failures = append(failures, orchestrator.FailureDetail{ItemID: key, Err: err})
				completed++
				continue
			}
			if err := deps.Store.InsertEvaluationResult(ctx, deps.Run.ID, &models.EvaluationResult{
				RunID: deps.Run.ID, SummaryID: task.summary.ID, Kind: models.EvalKindJudge, Payload: blob,
			}); err != nil {
				failures = append(failures, orchestrator.FailureDetail{ItemID: key, Err: err})
				completed++
				continue
			}

			completed++
			reportProgress(deps, completed, total, key)
		}

		for _, cmp := range pairwiseComparisons {
			if ctx.Err() != nil {
				break
			}
			key := pairwiseResultKey(cmp.judgeModel, cmp.codeUnitID, cmp.modelA, cmp.modelB, !cmp.aFirst)
			if pairwiseDone[key] {
				continue
			}

			judgeClient, err := resolve(cmp.judgeModel)
			if err != nil {
				failures = append(failures, orchestrator.FailureDetail{ItemID: key, Err: err})
				completed++
				continue
			}
			result, err := ScorePairwise(ctx, judgeClient, cmp.judgeModel, cmp.codeUnitID, cmp.modelA, cmp.modelB, cmp.summaryA, cmp.summaryB, cmp.aFirst)
			if err != nil {
				failures = append(failures, orchestrator.FailureDetail{ItemID: key, Err: err})
				completed++
				continue
			}
			if err := deps.Store.InsertPairwiseResults(ctx, deps.Run.ID, []*models.PairwiseResult{result}); err != nil {
				failures = append(failures, orchestrator.FailureDetail{ItemID: key, Err: err})
				completed++
				continue
			}

			completed++
			reportProgress(deps, completed, total, key)
		}

		if err := deps.StateMachine.UpdateProgress(context.WithoutCancel(ctx), deps.Run.ID, models.PhaseEvaluationJudge, completed, "done"); err != nil {
			return orchestrator.PhaseResult{}, fmt.Errorf("judge: update progress: %w", err)
		}

		return orchestrator.PhaseResult{Success: true, ItemsProcessed: completed, Failures: failures}, nil
	}
}

func reportProgress(deps orchestrator.ExecutorDeps, completed, total int, detail string) {
	if deps.Progress != nil {
		deps.Progress(models.PhaseEvaluationJudge, completed, total, detail)
	}
}

type pointwiseTask struct {
	summary    *models.GeneratedSummary
	judgeModel string
}

// buildPointwiseTasks expands every summary into one task per judge in
// its diverse, non-self panel.
func buildPointwiseTasks(summaries []*models.GeneratedSummary, judges []string, minJudges int) []pointwiseTask {
	var tasks []pointwiseTask
	for _, s := range summaries {
		panel, err := judgeselect.SelectJudges(s.ModelID, judges, minJudges)
		if err != nil {
			continue // insufficient judges for this generator: its summary gets no pointwise tasks and no failure entry
		}
		for _, j := range panel {
			tasks = append(tasks, pointwiseTask{summary: s, judgeModel: j})
		}
	}
	return tasks
}

type pairwiseComparison struct {
	judgeModel         string
	codeUnitID         string
	modelA, modelB     string
	summaryA, summaryB string
	aFirst             bool
}

// buildPairwiseComparisons enumerates every (codeUnit, modelA<modelB)
// pair with summaries from both models, then for each judge filters to
// the pairs it's eligible to score and stratifies to
// maxComparisonsPerJudge, per spec.md §4.7.
func buildPairwiseComparisons(summaries []*models.GeneratedSummary, units []*models.CodeUnit, judges []string, maxComparisonsPerJudge int) []pairwiseComparison {
	byUnit := map[string]map[string]*models.GeneratedSummary{}
	for _, s := range summaries {
		if byUnit[s.CodeUnitID] == nil {
			byUnit[s.CodeUnitID] = map[string]*models.GeneratedSummary{}
		}
		byUnit[s.CodeUnitID][s.ModelID] = s
	}

	var unitIDs []string
	for _, u := range units {
		if _, ok := byUnit[u.ID]; ok {
			unitIDs = append(unitIDs, u.ID)
		}
	}

	type pairSummaries struct {
		task     PairTask
		summaryA *models.GeneratedSummary
		summaryB *models.GeneratedSummary
	}
	var allPairs []pairSummaries
	for _, unitID := range unitIDs {
		byModel := byUnit[unitID]
		var modelIDs []string
		for m := range byModel {
			modelIDs = append(modelIDs, m)
		}
		sort.Strings(modelIDs)
		for i := 0; i < len(modelIDs); i++ {
			for j := i + 1; j < len(modelIDs); j++ {
				a, b := modelIDs[i], modelIDs[j]
				allPairs = append(allPairs, pairSummaries{
					task:     PairTask{ModelA: a, ModelB: b, CodeUnitID: unitID},
					summaryA: byModel[a],
					summaryB: byModel[b],
				})
			}
		}
	}

	var out []pairwiseComparison
	for _, j := range judges {
		byTask := map[PairTask]pairSummaries{}
		var tasks []PairTask
		for _, p := range allPairs {
			if !eligibleJudge(j, p.task.ModelA, p.task.ModelB) {
				continue
			}
			tasks = append(tasks, p.task)
			byTask[p.task] = p
		}
		sampled := StratifySample(tasks, maxComparisonsPerJudge)
		for _, t := range sampled {
			p := byTask[t]
			out = append(out,
				pairwiseComparison{judgeModel: j, codeUnitID: t.CodeUnitID, modelA: t.ModelA, modelB: t.ModelB, summaryA: p.summaryA.Text, summaryB: p.summaryB.Text, aFirst: true},
				pairwiseComparison{judgeModel: j, codeUnitID: t.CodeUnitID, modelA: t.ModelA, modelB: t.ModelB, summaryA: p.summaryA.Text, summaryB: p.summaryB.Text, aFirst: false},
			)
		}
	}
	return out
}

// eligibleJudge excludes a judge sharing a provider family with either
// side of the pair, mirroring pkg/judgeselect's self-judging exclusion
// but applied against two generators at once.
func eligibleJudge(judgeModel, modelA, modelB string) bool {
	jf := judgeselect.ClassifyFamily(judgeModel)
	if jf == judgeselect.FamilyUnknown {
		return true
	}
	return jf != judgeselect.ClassifyFamily(modelA) && jf != judgeselect.ClassifyFamily(modelB)
}

func pairwiseResultKey(judgeModel, codeUnitID, modelA, modelB string, positionSwapped bool) string {
	return fmt.Sprintf("%s|%s|%s|%s|%v", judgeModel, codeUnitID, modelA, modelB, positionSwapped)
}
