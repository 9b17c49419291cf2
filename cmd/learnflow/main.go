// Command learnflow is a terminal client for the LearnFlow tutor: chat with
// the tutoring agent, run Python files on the code runner, and view mastery.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/learnflow/internal/config"
	"github.com/ashureev/learnflow/internal/transport"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose   bool
	plain     bool
	triageURL string
	runnerURL string
	learnerID string
	timeout   time.Duration

	cfg    *config.Config
	logger *slog.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "learnflow",
	Short: "LearnFlow - Python tutoring from the terminal",
	Long: `learnflow talks to the same tutoring agent and code runner as the web app.

Service addresses come from TRIAGE_URL and CODE_RUNNER_URL (a .env file in the
working directory is loaded first) and can be overridden with flags.

Run without arguments to start a chat.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

		if err := godotenv.Load(); err == nil {
			logger.Debug("Loaded .env file")
		}

		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		applyFlags(cmd, loaded)
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid flags: %w", err)
		}
		cfg = loaded
		return nil
	},
	RunE: runChat,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log upstream calls to stderr")
	rootCmd.PersistentFlags().BoolVar(&plain, "plain", false, "Print tutor replies without markdown rendering")
	rootCmd.PersistentFlags().StringVar(&triageURL, "triage-url", "", "Tutoring agent base URL (overrides TRIAGE_URL)")
	rootCmd.PersistentFlags().StringVar(&runnerURL, "runner-url", "", "Code runner base URL (overrides CODE_RUNNER_URL)")
	rootCmd.PersistentFlags().StringVar(&learnerID, "learner", "", "Learner id (overrides DEFAULT_LEARNER_ID)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Per-request timeout (overrides UPSTREAM_TIMEOUT)")

	rootCmd.AddCommand(chatCmd, runCmd, progressCmd)
}

// applyFlags lets explicitly set flags win over the environment.
func applyFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("triage-url") {
		c.TriageURL = triageURL
	}
	if flags.Changed("runner-url") {
		c.CodeRunnerURL = runnerURL
	}
	if flags.Changed("learner") {
		c.DefaultLearnerID = learnerID
	}
	if flags.Changed("timeout") {
		c.UpstreamTimeout = timeout
	}
}

func triageClient() *transport.Client {
	return transport.New(cfg.TriageURL, transport.WithTimeout(cfg.UpstreamTimeout), transport.WithLogger(logger))
}

func runnerClient() *transport.Client {
	return transport.New(cfg.CodeRunnerURL, transport.WithTimeout(cfg.UpstreamTimeout), transport.WithLogger(logger))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
