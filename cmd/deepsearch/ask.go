package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/smhanov/deepsearch"
	"github.com/smhanov/deepsearch/tracker"
)

var (
	askBudget  int
	askMaxBad  int
	askLang    string
	askVerbose bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer one question and print the result",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		budget := cfg.Agent.TokenBudget
		if cmd.Flags().Changed("budget") {
			budget = askBudget
		}
		maxBad := cfg.Agent.MaxBadAttempts
		if cmd.Flags().Changed("max-bad-attempts") {
			maxBad = askMaxBad
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		b, err := buildAgent(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := b.close(); err != nil {
				logger.Warn("close reader", "error", err)
			}
		}()

		tokens := tracker.NewTokenTracker(0, tracker.WithLogger(logger))
		actions := tracker.NewActionTracker()
		if askVerbose {
			defer actions.OnAction(printThink(cmd.ErrOrStderr()))()
		}

		result, err := b.agent.Answer(ctx, strings.Join(args, " "),
			deepsearch.WithTokenBudget(budget),
			deepsearch.WithMaxBadAttempts(maxBad),
			deepsearch.WithTrackers(tokens, actions),
			deepsearch.WithLanguage(askLang),
		)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), result)
	},
}

func init() {
	askCmd.Flags().IntVar(&askBudget, "budget", 0, "token budget (default from config)")
	askCmd.Flags().IntVar(&askMaxBad, "max-bad-attempts", 0, "rejected answers allowed before a final answer is forced")
	askCmd.Flags().StringVar(&askLang, "lang", "", "language for progress messages")
	askCmd.Flags().BoolVarP(&askVerbose, "verbose", "v", false, "print the agent's thinking to stderr")
	rootCmd.AddCommand(askCmd)
}

// printThink returns an action listener that prints each new think text.
func printThink(w io.Writer) func(tracker.State) {
	last := ""
	return func(st tracker.State) {
		if st.Think == "" || st.Think == last {
			return
		}
		last = st.Think
		fmt.Fprintf(w, "[step %d] %s\n", st.TotalStep, st.Think)
	}
}

func printResult(w io.Writer, r deepsearch.Result) error {
	body := ""
	if ans := r.Answer(); ans != nil {
		body = ans.Markdown
	} else if r.Action != nil {
		body = r.Action.Rationale()
	}
	status := "answered"
	if !r.IsAnswered {
		status = "best effort"
	}
	_, err := fmt.Fprintf(w, "%s\n\n---\n%s after %d steps, %d URLs visited, tokens: %d prompt + %d completion = %d\n",
		body, status, r.Steps, len(r.VisitedURLs),
		r.Usage.PromptTokens, r.Usage.CompletionTokens, r.Usage.TotalTokens)
	return err
}
