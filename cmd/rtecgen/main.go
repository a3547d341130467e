package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "rtecgen",
	Short: "Iterative LLM generation of event-calculus rules",
	Long: `rtecgen generates hierarchical RTEC fluent definitions from natural
language task descriptions. A language model drafts the rules, an external
similarity service scores them against a reference, and the feedback loop
refines the draft until it converges. Accepted definitions are remembered
and injected as context when dependent fluents are generated.`,
}

var (
	flagCatalog     string
	flagProvider    string
	flagModel       string
	flagScorer      string
	flagScorerURL   string
	flagStaticScore float64
	flagDB          string
	flagVerbose     bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagCatalog, "catalog", "catalog.yaml", "path to the concept catalog")
	rootCmd.PersistentFlags().StringVar(&flagProvider, "provider", "anthropic", "generator provider (anthropic or openai)")
	rootCmd.PersistentFlags().StringVar(&flagModel, "model", "", "generator model (provider default if empty)")
	rootCmd.PersistentFlags().StringVar(&flagScorer, "scorer", "http", "scoring backend (http, or static for offline smoke runs)")
	rootCmd.PersistentFlags().StringVar(&flagScorerURL, "scorer-url", "http://localhost:8090", "base URL of the rule-similarity service")
	rootCmd.PersistentFlags().Float64Var(&flagStaticScore, "static-score", 1.0, "fixed similarity returned by the static scorer")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "SQLite path for persistent fluent memory (in-memory only if empty)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
