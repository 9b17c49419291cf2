package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ashureev/learnflow/internal/domain"
	"github.com/ashureev/learnflow/internal/progress"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

const barWidth = 20

// progressCmd shows mastery per topic
var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Show mastery per topic",
	Long: `Fetches the learner's mastery records and draws one bar per topic.
When the tutoring agent is unreachable a sample dataset is shown and marked
as such.`,
	Args: cobra.NoArgs,
	RunE: showProgress,
}

var (
	bandStyles = map[domain.Band]lipgloss.Style{
		domain.BandStrong:     lipgloss.NewStyle().Foreground(lipgloss.Color("42")),  // Green
		domain.BandDeveloping: lipgloss.NewStyle().Foreground(lipgloss.Color("214")), // Amber
		domain.BandWeak:       lipgloss.NewStyle().Foreground(lipgloss.Color("203")), // Red
	}
	emptyBarStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240")) // Grey
	moduleStyle   = lipgloss.NewStyle().Bold(true)
	noticeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
)

func showProgress(cmd *cobra.Command, _ []string) error {
	return fetchProgress(cmd.Context(), cmd.OutOrStdout())
}

// fetchProgress draws the learner's progress to out. Both the progress command
// and the chat REPL's /progress use it.
func fetchProgress(ctx context.Context, out io.Writer) error {
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}
	fetcher := progress.NewFetcher(triageClient(), cfg.DefaultLearnerID, logger)
	printProgress(out, fetcher.Fetch(ctx, cfg.DefaultLearnerID))
	return nil
}

func printProgress(out io.Writer, snap domain.ProgressSnapshot) {
	if snap.Source == domain.ProvenanceFallback {
		fmt.Fprintln(out, noticeStyle.Render("Tutor unreachable: showing sample data, not your progress."))
	}
	if len(snap.Records) == 0 {
		fmt.Fprintln(out, "No progress recorded yet.")
		return
	}

	module := ""
	for _, r := range snap.Records {
		if r.Module != module {
			module = r.Module
			fmt.Fprintln(out, moduleStyle.Render(module))
		}
		fmt.Fprintf(out, "  %-12s %s %3d%%\n", r.Topic, masteryBar(r), r.Mastery)
	}
}

// masteryBar draws a fixed-width bar coloured by band.
func masteryBar(r domain.ProgressRecord) string {
	filled := r.Mastery * barWidth / 100
	style := bandStyles[r.Band()]
	return "[" + style.Render(strings.Repeat("#", filled)) + emptyBarStyle.Render(strings.Repeat(".", barWidth-filled)) + "]"
}
