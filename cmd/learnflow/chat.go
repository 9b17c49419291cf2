package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/ashureev/learnflow/internal/chat"
	"github.com/ashureev/learnflow/internal/domain"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

const replyWrapWidth = 80

// chatCmd starts an interactive conversation
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the tutoring agent",
	Long: `Reads one message per line from stdin and prints the tutor's reply.
Type /help for commands, /quit or EOF (Ctrl-D) to leave.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

var (
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	agentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
)

func runChat(cmd *cobra.Command, _ []string) error {
	ctrl := chat.NewController(triageClient(), cfg.LearnerID(),
		chat.WithGreeting(cfg.Greeting),
		chat.WithLogger(logger))

	render, err := replyRenderer(plain)
	if err != nil {
		return err
	}
	return chatLoop(cmd, ctrl, cmd.InOrStdin(), cmd.OutOrStdout(), render)
}

// chatLoop prints the greeting, then submits each non-blank input line.
func chatLoop(cmd *cobra.Command, ctrl *chat.Controller, in io.Reader, out io.Writer, render func(string) string) error {
	for _, turn := range ctrl.Transcript() {
		printTurn(out, turn, render)
	}

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, promptStyle.Render("you> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := slashCommand(cmd.Context(), out, line); quit {
				return nil
			}
			continue
		}

		reply, err := ctrl.Submit(cmd.Context(), line)
		if err != nil {
			return fmt.Errorf("submit: %w", err)
		}
		printTurn(out, reply, render)

		if cmd.Context().Err() != nil {
			return nil
		}
	}
}

var slashCommands = []string{"/help", "/progress", "/quit", "/exit"}

// slashCommand handles a REPL command and reports whether to leave.
func slashCommand(ctx context.Context, out io.Writer, line string) bool {
	name := strings.Fields(line)[0]
	switch name {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(out, "/progress  show mastery per topic")
		fmt.Fprintln(out, "/quit      leave the chat")
	case "/progress":
		if err := fetchProgress(ctx, out); err != nil {
			fmt.Fprintln(out, errorPanelStyle.Render(err.Error()))
		}
	default:
		if guess := closestCommand(name); guess != "" {
			fmt.Fprintf(out, "Unknown command %s. Did you mean %s?\n", name, guess)
		} else {
			fmt.Fprintf(out, "Unknown command %s. Type /help for commands.\n", name)
		}
	}
	return false
}

// closestCommand returns the command within two edits of name, if any.
func closestCommand(name string) string {
	best, bestDist := "", 3
	for _, c := range slashCommands {
		if d := levenshtein.ComputeDistance(name, c); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func printTurn(out io.Writer, turn domain.Turn, render func(string) string) {
	if turn.Role != domain.RoleAssistant {
		return
	}
	fmt.Fprint(out, render(turn.Content))
	if tag := agentTag(turn); tag != "" {
		fmt.Fprintln(out, agentStyle.Render("  - "+tag))
	}
}

// agentTag labels a reply with the specialist that wrote it, e.g. "concepts (concept)".
func agentTag(turn domain.Turn) string {
	switch {
	case turn.Agent == "":
		return ""
	case turn.Intent == "":
		return turn.Agent
	default:
		return turn.Agent + " (" + turn.Intent + ")"
	}
}

// replyRenderer returns a markdown renderer, or a pass-through when plain.
func replyRenderer(plain bool) (func(string) string, error) {
	if plain {
		return func(s string) string { return s + "\n" }, nil
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(replyWrapWidth),
	)
	if err != nil {
		return nil, fmt.Errorf("create markdown renderer: %w", err)
	}
	return func(s string) string {
		out, err := r.Render(s)
		if err != nil {
			return s + "\n"
		}
		return out
	}, nil
}
