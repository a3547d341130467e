package loop

import (
	"testing"
	"time"

	"rtecgen/internal/types"
)

func TestSummarize(t *testing.T) {
	record := &types.RunRecord{
		Turns: []types.GenerationTurn{
			{Index: 1, Score: 0.5, Tokens: 100, Latency: 2 * time.Second},
			{Index: 2, Score: 0.7, Tokens: 200, Latency: 4 * time.Second},
			{Index: 3, Score: 0.6, Tokens: 300, Latency: 6 * time.Second},
		},
	}

	stats := Summarize(record)

	if stats.TotalTurns != 3 {
		t.Errorf("TotalTurns = %d, want 3", stats.TotalTurns)
	}
	if stats.TotalTokens != 600 || stats.MeanTokens != 200 {
		t.Errorf("tokens = %d total, %g mean", stats.TotalTokens, stats.MeanTokens)
	}
	if stats.TotalLatency != 12*time.Second || stats.MeanLatency != 4*time.Second {
		t.Errorf("latency = %s total, %s mean", stats.TotalLatency, stats.MeanLatency)
	}
	if stats.InitialScore != 0.5 || stats.FinalScore != 0.6 {
		t.Errorf("scores = %g initial, %g final", stats.InitialScore, stats.FinalScore)
	}
	if stats.BestScore != 0.7 || stats.BestTurn != 2 {
		t.Errorf("best = %g at turn %d, want 0.7 at turn 2", stats.BestScore, stats.BestTurn)
	}
	if diff := stats.Improvement - 0.1; diff < -1e-9 || diff > 1e-9 {
		t.Errorf("Improvement = %g, want 0.1", stats.Improvement)
	}
}

func TestSummarize_BestTurnTieBreaksEarliest(t *testing.T) {
	record := &types.RunRecord{
		Turns: []types.GenerationTurn{
			{Index: 1, Score: 0.4},
			{Index: 2, Score: 0.8},
			{Index: 3, Score: 0.8},
		},
	}

	stats := Summarize(record)
	if stats.BestTurn != 2 {
		t.Errorf("BestTurn = %d, want the earliest of the tied turns (2)", stats.BestTurn)
	}
}

func TestSummarize_EmptyRun(t *testing.T) {
	stats := Summarize(&types.RunRecord{})
	if stats.TotalTurns != 0 || stats.BestScore != 0 || stats.ImprovementRate != 0 {
		t.Errorf("empty run must yield zero stats, got %+v", stats)
	}
}

func TestSummarize_SingleTurnHasNoRate(t *testing.T) {
	record := &types.RunRecord{
		Turns: []types.GenerationTurn{{Index: 1, Score: 0.9, Tokens: 50}},
	}

	stats := Summarize(record)
	if stats.Improvement != 0 || stats.ImprovementRate != 0 {
		t.Errorf("single turn: improvement = %g, rate = %g, want both 0", stats.Improvement, stats.ImprovementRate)
	}
	if stats.InitialScore != 0.9 || stats.FinalScore != 0.9 || stats.BestScore != 0.9 {
		t.Errorf("single turn scores: %+v", stats)
	}
}
