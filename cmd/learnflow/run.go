package main

import (
	"fmt"
	"io"
	"os"

	"github.com/ashureev/learnflow/internal/coderun"
	"github.com/ashureev/learnflow/internal/domain"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

// runCmd executes a Python file on the code runner
var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Run a Python file on the code runner",
	Long: `Sends the file's contents to the code runner and prints the output panel
and, when present, the error panel. Use "-" to read the program from stdin.
Without a file the editor's starter program is run.

With --watch the file is run again every time it is saved, until Ctrl-C.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCode,
}

var watch bool

func init() {
	runCmd.Flags().BoolVarP(&watch, "watch", "w", false, "Re-run the file on every save")
}

var errorPanelStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("203")).
	Border(lipgloss.NormalBorder()).
	BorderForeground(lipgloss.Color("203")).
	Padding(0, 1)

var rerunStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

func runCode(cmd *cobra.Command, args []string) error {
	if watch && (len(args) == 0 || args[0] == "-") {
		return fmt.Errorf("--watch needs a file")
	}

	ctrl := coderun.NewController(runnerClient(),
		coderun.WithTimeoutSeconds(cfg.RunTimeout),
		coderun.WithLogger(logger))

	runOnce := func() error {
		if len(args) == 1 {
			src, err := readSource(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			ctrl.SetSource(src)
		}
		if _, err := ctrl.Run(cmd.Context()); err != nil {
			return fmt.Errorf("run: %w", err)
		}
		printDisplay(cmd.OutOrStdout(), ctrl.Display())
		return nil
	}

	if err := runOnce(); err != nil {
		return err
	}
	if !watch {
		return nil
	}

	out := cmd.OutOrStdout()
	return watchFile(cmd.Context(), args[0], func() {
		fmt.Fprintln(out, rerunStyle.Render("--- "+args[0]+" changed, running again ---"))
		if err := runOnce(); err != nil {
			fmt.Fprintln(out, errorPanelStyle.Render(err.Error()))
		}
	})
}

func readSource(stdin io.Reader, path string) (string, error) {
	if path == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(b), nil
}

func printDisplay(out io.Writer, d domain.ExecutionDisplay) {
	if d.Output != "" {
		fmt.Fprint(out, d.Output)
		if d.Output[len(d.Output)-1] != '\n' {
			fmt.Fprintln(out)
		}
	}
	if d.ShowError {
		fmt.Fprintln(out, errorPanelStyle.Render(d.Error))
	}
}
