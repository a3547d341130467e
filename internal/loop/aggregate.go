package loop

import (
	"time"

	"rtecgen/internal/types"
)

// Summarize reduces a run's turn history into aggregate statistics. Pure
// computation over the recorded turns; no I/O, no mutation of the record.
//
// The best turn is the earliest turn holding the maximum score: the scan
// below only replaces the incumbent on a strictly greater score, so ties
// resolve to the lowest index.
func Summarize(record *types.RunRecord) types.RunStats {
	stats := types.RunStats{TotalTurns: len(record.Turns)}
	if len(record.Turns) == 0 {
		return stats
	}

	bestIdx := 0
	for i, turn := range record.Turns {
		stats.TotalTokens += turn.Tokens
		stats.TotalLatency += turn.Latency
		if turn.Score > record.Turns[bestIdx].Score {
			bestIdx = i
		}
	}

	n := len(record.Turns)
	stats.MeanTokens = float64(stats.TotalTokens) / float64(n)
	stats.MeanLatency = stats.TotalLatency / time.Duration(n)

	stats.InitialScore = record.Turns[0].Score
	stats.FinalScore = record.Turns[n-1].Score
	stats.BestScore = record.Turns[bestIdx].Score
	stats.BestTurn = record.Turns[bestIdx].Index

	stats.Improvement = stats.FinalScore - stats.InitialScore
	if n > 1 {
		stats.ImprovementRate = stats.Improvement / float64(n)
	}

	return stats
}
