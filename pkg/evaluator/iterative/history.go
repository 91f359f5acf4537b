package iterative

import (
	"strconv"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// RenderHistoryDiff renders a human-readable unified diff between two
// consecutive rounds of a refinement History, for debugging why a round
// failed to improve rank. Returns "" if there's nothing before round to
// compare against.
func RenderHistoryDiff(history []HistoryStep, round int) string {
	var before, after *HistoryStep
	for i := range history {
		if history[i].Round == round {
			after = &history[i]
		}
		if history[i].Round == round-1 {
			before = &history[i]
		}
	}
	if before == nil || after == nil {
		return ""
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before.Summary, after.Summary, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var out strings.Builder
	out.WriteString("--- round ")
	out.WriteString(strconv.Itoa(before.Round))
	out.WriteString(" (rank ")
	out.WriteString(strconv.Itoa(before.Rank))
	out.WriteString(")\n+++ round ")
	out.WriteString(strconv.Itoa(after.Round))
	out.WriteString(" (rank ")
	out.WriteString(strconv.Itoa(after.Rank))
	out.WriteString(")\n")

	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			out.WriteString("+ ")
			out.WriteString(strings.ReplaceAll(d.Text, "\n", "\n+ "))
			out.WriteString("\n")
		case diffmatchpatch.DiffDelete:
			out.WriteString("- ")
			out.WriteString(strings.ReplaceAll(d.Text, "\n", "\n- "))
			out.WriteString("\n")
		case diffmatchpatch.DiffEqual:
			lines := strings.Split(d.Text, "\n")
			if len(lines) > 4 {
				out.WriteString("  " + lines[0] + "\n  ...\n  " + lines[len(lines)-1] + "\n")
				continue
			}
			for _, line := range lines {
				if line != "" {
					out.WriteString("  " + line + "\n")
				}
			}
		}
	}
	return out.String()
}
