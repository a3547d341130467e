package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var batchStopOnFailure bool

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Refine every concept in the catalog, bottom-up",
	Long: `Run the refinement loop for all catalog concepts in dependency
order. Each accepted definition enters memory before dependent concepts are
generated, so composite fluents build on the simple ones.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession()
		if err != nil {
			return err
		}
		defer sess.close() //nolint:errcheck // best effort on the error path; success path checks below

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		concepts, err := sess.catalog.AllConcepts()
		if err != nil {
			return err
		}

		result, batchErr := sess.controller.RunAll(ctx, concepts, batchStopOnFailure)
		if result != nil {
			for _, record := range result.Records {
				printRunSummary(record)
			}

			cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
			fmt.Printf("\n%s\n", cyan("=== Batch summary ==="))
			fmt.Printf("Concepts: %d\n", len(result.Records))
			fmt.Printf("Converged: %d\n", result.Converged)
			fmt.Printf("Mean best score: %.4f\n", result.MeanBestScore)
		}
		if batchErr != nil {
			return batchErr
		}
		return sess.close()
	},
}

func init() {
	batchCmd.Flags().BoolVar(&batchStopOnFailure, "stop-on-failure", false, "stop the batch when a concept fails to converge")
	rootCmd.AddCommand(batchCmd)
}
