package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"rtecgen/internal/types"
)

var runCmd = &cobra.Command{
	Use:   "run <concept-id>",
	Short: "Refine one concept from the catalog",
	Long: `Run the refinement loop for a single concept. Prerequisites must
already be in memory (use --db to carry memory across invocations, or run
'rtecgen batch' to generate bottom-up in one go).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession()
		if err != nil {
			return err
		}
		defer sess.close() //nolint:errcheck // best effort on the error path; success path checks below

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		concept, err := sess.catalog.Concept(args[0])
		if err != nil {
			return err
		}

		record, runErr := sess.controller.Run(ctx, concept)
		if record != nil {
			printRunSummary(record)
		}
		if runErr != nil {
			return runErr
		}
		return sess.close()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

const timeRound = 10 * time.Millisecond

// printRunSummary renders the human-readable run outcome
func printRunSummary(record *types.RunRecord) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()

	fmt.Printf("\n%s\n", cyan(fmt.Sprintf("=== %s ===", record.ConceptID)))
	if record.Converged {
		fmt.Printf("Status: %s\n", green("✓ Converged"))
	} else {
		fmt.Printf("Status: %s (%s)\n", red("✗ Did not converge"), record.Reason)
	}
	fmt.Printf("Best score: %.4f (turn %d)\n", record.BestScore, record.BestTurn)
	fmt.Printf("Turns: %d\n", record.Stats.TotalTurns)
	fmt.Printf("Improvement: %.4f → %.4f (%+.4f)\n",
		record.Stats.InitialScore, record.Stats.FinalScore, record.Stats.Improvement)
	fmt.Printf("Tokens: %d total, %.1f/turn\n", record.Stats.TotalTokens, record.Stats.MeanTokens)
	fmt.Printf("Duration: %s\n", record.Duration().Round(timeRound))
}
