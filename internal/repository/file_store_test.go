package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"Rewind/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult(id string, created time.Time) *models.ExperimentResult {
	return &models.ExperimentResult{
		ID: id,
		Config: models.ExperimentConfig{
			MarketSlug:      "fed-cut",
			StartTime:       created.Add(-2 * time.Hour),
			EndTime:         created.Add(-time.Hour),
			IntervalMinutes: 60,
			NumSimulations:  1,
			Models:          []string{"openai/gpt-4o"},
			Mode:            models.ModeDirect,
		},
		Status:         models.StatusCompleted,
		CreatedAt:      created,
		CompletedAt:    created.Add(time.Minute),
		TotalIntervals: 1,
		Timeline: []models.IntervalResult{{
			Index:       0,
			MarketState: models.MarketState{Timestamp: created, Price: 0.4},
			Aggregated:  models.AggregatedDecision{Decision: models.DecisionYes, Confidence: 0.7, YesVotes: 1},
		}},
	}
}

func TestFileResultStoreRoundTrip(t *testing.T) {
	s, err := NewFileResultStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	created := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	in := sampleResult("exp-1", created)
	require.NoError(t, s.Save(ctx, in))

	got, err := s.Get(ctx, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, in.Config, got.Config)
	assert.Equal(t, in.Timeline[0].Aggregated, got.Timeline[0].Aggregated)
	assert.True(t, got.CreatedAt.Equal(created))

	in.Status = models.StatusFailed
	require.NoError(t, s.Save(ctx, in))
	got, err = s.Get(ctx, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
}

func TestFileResultStoreNotFound(t *testing.T) {
	s, err := NewFileResultStore(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"missing", "../etc/passwd", "", ".hidden"} {
		_, err := s.Get(context.Background(), id)
		assert.ErrorIs(t, err, models.ErrNotFound, id)
	}
}

func TestFileResultStoreListNewestFirst(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileResultStore(dir)
	require.NoError(t, err)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		require.NoError(t, s.Save(ctx, sampleResult(fmt.Sprintf("exp-%d", i), base.Add(time.Duration(i)*time.Hour))))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.json"), []byte("{"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "exp-3", all[0].ID)
	assert.Equal(t, "exp-0", all[3].ID)
	assert.Equal(t, 1, all[0].CompletedIntervals)
	assert.Equal(t, "fed-cut", all[0].MarketSlug)

	top, err := s.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, top, 2)
}

func TestFileResultStoreSaveLeavesOnlyCommittedDocument(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileResultStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Save(ctx, sampleResult("exp-1", time.Date(2024, 3, 1, i, 0, 0, 0, time.UTC))))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"exp-1.json"}, names)
}
