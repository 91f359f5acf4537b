package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
)

// WriteJSON serializes the full Report as indented JSON.
func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteMarkdown renders the Report as a Markdown document: a summary
// header followed by a leaderboard table, suitable for pasting into a
// PR description or wiki page.
func WriteMarkdown(w io.Writer, r *Report) error {
	if _, err := fmt.Fprintf(w, "# Run report: %s (%s)\n\n", r.Name, r.RunID); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "- Status: %s\n", r.Status); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "- Duration: %s\n", durationString(r)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "- Total cost: $%s\n\n", humanize.CommafWithDigits(r.TotalCost, 4)); err != nil {
		return err
	}

	if _, err := fmt.Fprintln(w, "| Rank | Model | Overall | Judge (pointwise/pairwise) | Contrastive | Retrieval | Iterative |"); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, "|---|---|---|---|---|---|---|"); err != nil {
		return err
	}
	for i, m := range r.Leaderboard {
		iterative := "-"
		if m.HasIterative {
			iterative = fmt.Sprintf("%.0f%% success / %.1f rounds avg", m.IterativeSuccess*100, m.IterativeAvgRounds)
		}
		if _, err := fmt.Fprintf(w, "| %d | %s | %.3f | %.3f / %.3f | %.3f | %.3f | %s |\n",
			i+1, m.ModelID, m.Overall, m.JudgePointwise, m.JudgePairwise, m.ContrastiveScore, m.RetrievalScore, iterative); err != nil {
			return err
		}
	}
	return nil
}

// WriteTable renders the leaderboard as a terminal table via go-pretty,
// color-highlighting the top model the way codefang's console formatter
// highlights status cells.
func WriteTable(w io.Writer, r *Report) error {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Rank", "Model", "Overall", "Judge PW", "Judge PAIR", "Contrastive", "Retrieval", "Iterative"})

	for i, m := range r.Leaderboard {
		rank := fmt.Sprintf("%d", i+1)
		modelCell := m.ModelID
		if i == 0 && len(r.Leaderboard) > 1 {
			modelCell = color.New(color.FgGreen, color.Bold).Sprint(m.ModelID)
		}
		iterative := "-"
		if m.HasIterative {
			iterative = fmt.Sprintf("%.0f%%", m.IterativeSuccess*100)
		}
		tw.AppendRow(table.Row{rank, modelCell, fmt.Sprintf("%.3f", m.Overall), fmt.Sprintf("%.3f", m.JudgePointwise), fmt.Sprintf("%.3f", m.JudgePairwise), fmt.Sprintf("%.3f", m.ContrastiveScore), fmt.Sprintf("%.3f", m.RetrievalScore), iterative})
	}
	tw.Render()

	if _, err := fmt.Fprintf(w, "\nTotal cost: $%s over %s\n", humanize.CommafWithDigits(r.TotalCost, 4), durationString(r)); err != nil {
		return err
	}
	return nil
}

func durationString(r *Report) string {
	if r.Duration <= 0 {
		return "n/a"
	}
	return r.Duration.Round(1e9).String()
}

// WriteHTML is a named stub (spec.md §6): HTML rendering is an external
// collaborator interface this module defines but does not implement.
func WriteHTML(w io.Writer, r *Report) error {
	return errNotImplemented
}

// UploadToCloud is a named stub (spec.md §6): cloud leaderboard upload is
// an external collaborator interface this module defines but does not
// implement.
func UploadToCloud(r *Report, endpoint string) error {
	return errNotImplemented
}
