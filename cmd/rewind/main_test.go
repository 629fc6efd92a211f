package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Rewind/internal/domain/models"
)

func TestPlanCommandTable(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"plan", "--start", "2024-10-01T00:00:00Z", "--end", "2024-10-01T02:30:00Z", "--interval", "60"})
	require.NoError(t, rootCmd.Execute())

	s := out.String()
	assert.Contains(t, s, "INDEX")
	assert.Contains(t, s, "2024-10-01T02:30:00Z")
	assert.Contains(t, s, "total: 3")
}

func TestPlanCommandRejectsBadTime(t *testing.T) {
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"plan", "--start", "soon", "--end", "2024-10-01"})
	assert.Error(t, rootCmd.Execute())
}

func TestPrintResult(t *testing.T) {
	end := time.Date(2024, 10, 1, 1, 0, 0, 0, time.UTC)
	res := &models.ExperimentResult{
		ID:             "exp-1",
		Config:         models.ExperimentConfig{MarketSlug: "will-it-rain"},
		Status:         models.StatusCompleted,
		TotalIntervals: 2,
		Timeline: []models.IntervalResult{{
			Index:         0,
			End:           end,
			MarketState:   models.MarketState{Price: 0.42},
			Aggregated:    models.AggregatedDecision{Decision: models.DecisionYes, Confidence: 0.75, YesVotes: 3, NoVotes: 1},
			EvidenceCount: 4,
			BreakingPoint: true,
		}},
		FailedIntervals: []models.IntervalFailure{{Index: 1, End: end.Add(time.Hour), Error: "service unavailable"}},
		BreakingPoints:  []int{0},
	}

	var out bytes.Buffer
	require.NoError(t, printResult(&out, res))
	s := out.String()
	assert.Contains(t, s, "experiment exp-1")
	assert.Contains(t, s, "0.420")
	assert.Contains(t, s, "3/1")
	assert.Contains(t, s, "#1")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(s), "breaking points: 0"))
}
