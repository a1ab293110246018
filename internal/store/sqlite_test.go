package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/agent-mood/internal/cluster"
	"github.com/rcliao/agent-mood/internal/model"
)

var fixedNow = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(path, WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func score(memoryID string, v float64) model.MoodScore {
	return model.MoodScore{
		ID:          memoryID + "/v1",
		MemoryID:    memoryID,
		Version:     1,
		Score:       v,
		Confidence:  0.8,
		Reliability: model.ReliabilityHigh,
		Descriptors: []string{"positive"},
		Timestamp:   fixedNow.Add(-time.Hour),
		CreatedAt:   fixedNow,
	}
}

func TestSaveScoresVersioning(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	saved, err := s.SaveScores(ctx, []model.MoodScore{score("m1", 6.5), score("m2", 3)})
	require.NoError(t, err)
	require.Len(t, saved, 2)
	assert.Equal(t, 1, saved[0].Version)

	again, err := s.SaveScores(ctx, []model.MoodScore{score("m1", 7.2)})
	require.NoError(t, err)
	assert.Equal(t, 2, again[0].Version)
	assert.Equal(t, "m1/v2", again[0].ID)

	latest, err := s.Score(ctx, "m1", false)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, 7.2, latest[0].Score)

	history, err := s.Score(ctx, "m1", true)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, []int{2, 1}, []int{history[0].Version, history[1].Version})
	assert.Equal(t, 6.5, history[1].Score, "earlier versions are kept")
}

func TestScoreNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Score(context.Background(), "missing", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveScoresRejectsOrphan(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.SaveScores(context.Background(), []model.MoodScore{{Score: 5}})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestSaveDeltasReplaces(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	first := []model.MoodDelta{
		{FromScore: 3, ToScore: 6, Magnitude: 3, Type: model.DeltaSudden, Window: model.TimeWindow{FromIndex: 1, ToIndex: 2}},
		{FromScore: 6, ToScore: 3, Magnitude: 3, Type: model.DeltaSudden, Window: model.TimeWindow{FromIndex: 0, ToIndex: 1}},
	}
	require.NoError(t, s.SaveDeltas(ctx, "c1", first))

	got, err := s.Deltas(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Window.FromIndex, "window order")

	require.NoError(t, s.SaveDeltas(ctx, "c1", first[:1]))
	got, err = s.Deltas(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	empty, err := s.Deltas(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSnapshots(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.LatestSnapshot(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	g1 := &cluster.Snapshot{
		Generation: 1,
		Clusters:   []model.Cluster{{ID: "c1", Members: []string{"a", "b", "c"}, Coherence: 0.9, Revision: 1}},
		CreatedAt:  fixedNow,
	}
	g2 := &cluster.Snapshot{
		Generation: 2,
		Clusters:   []model.Cluster{{ID: "c1", Members: []string{"a", "b", "c", "d"}, Coherence: 0.85, Revision: 2}},
		Review:     []cluster.ReviewItem{{MemoryID: "e", Reason: cluster.ReasonNoQualifyingCluster, Generation: 2, FlaggedAt: fixedNow}},
		CreatedAt:  fixedNow,
	}
	require.NoError(t, s.SaveSnapshot(ctx, g2))
	require.NoError(t, s.SaveSnapshot(ctx, g1))

	latest, err := s.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Generation)
	assert.Equal(t, []string{"a", "b", "c", "d"}, latest.Clusters[0].Members)
	assert.True(t, latest.InReview("e"))

	old, err := s.Snapshot(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.9, old.Clusters[0].Coherence)

	// A generation is written once.
	changed := *g1
	changed.Clusters = nil
	require.NoError(t, s.SaveSnapshot(ctx, &changed))
	old, err = s.Snapshot(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, old.Clusters, 1)

	assert.Error(t, s.SaveSnapshot(ctx, nil))
}

func TestFeaturesUpsert(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.SaveFeatures(ctx, []model.ClusteringFeatures{
		{MemoryID: "b", Tone: model.ToneFeatures{Mood: 0.4}},
		{MemoryID: "a", Tone: model.ToneFeatures{Mood: 0.7}},
	}))
	require.NoError(t, s.SaveFeatures(ctx, []model.ClusteringFeatures{
		{MemoryID: "b", Tone: model.ToneFeatures{Mood: 0.9}},
	}))

	fs, err := s.Features(ctx)
	require.NoError(t, err)
	require.Len(t, fs, 2)
	assert.Equal(t, "a", fs[0].MemoryID)
	assert.Equal(t, 0.9, fs[1].Tone.Mood)
}

func TestSavePatternsReplaces(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.SavePatterns(ctx, 1, []model.Pattern{
		{ID: "p1", Type: model.PatternCopingStyle, Value: "venting", Frequency: 2, Strength: 0.4},
		{ID: "p2", Type: model.PatternEmotionalTheme, Value: "joy", Frequency: 3, Strength: 0.6},
	}))
	ps, err := s.Patterns(ctx)
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, "joy", ps[0].Value)

	require.NoError(t, s.SavePatterns(ctx, 2, nil))
	ps, err = s.Patterns(ctx)
	require.NoError(t, err)
	assert.Empty(t, ps)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s, path := newTestStore(t)

	_, err := s.SaveScores(ctx, []model.MoodScore{score("m1", 5), score("m2", 6)})
	require.NoError(t, err)
	_, err = s.SaveScores(ctx, []model.MoodScore{score("m1", 5.5)})
	require.NoError(t, err)
	require.NoError(t, s.SaveDeltas(ctx, "c1", []model.MoodDelta{{Type: model.DeltaSudden}, {Type: model.DeltaMoodRepair, Window: model.TimeWindow{FromIndex: 1, ToIndex: 2}}}))
	require.NoError(t, s.SaveDeltas(ctx, "c2", []model.MoodDelta{{Type: model.DeltaSudden}}))
	require.NoError(t, s.SaveSnapshot(ctx, &cluster.Snapshot{Generation: 3}))

	st, err := s.Stats(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalScores)
	assert.Equal(t, 2, st.ScoredMemories)
	assert.Equal(t, 3, st.TotalDeltas)
	assert.Equal(t, 2, st.Conversations)
	assert.Equal(t, 1, st.Snapshots)
	assert.Equal(t, 3, st.LatestGeneration)
	require.Len(t, st.DeltaTypes, 2)
	assert.Equal(t, DeltaTypeStats{Type: string(model.DeltaSudden), Count: 2, Conversations: 2}, st.DeltaTypes[0])

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), st.DBSizeBytes)
}

func TestExportAll(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	empty, err := s.ExportAll(ctx)
	require.NoError(t, err)
	assert.Nil(t, empty.Snapshot)

	_, err = s.SaveScores(ctx, []model.MoodScore{score("m1", 5)})
	require.NoError(t, err)
	require.NoError(t, s.SaveDeltas(ctx, "c1", []model.MoodDelta{{Type: model.DeltaPlateau}}))
	require.NoError(t, s.SaveSnapshot(ctx, &cluster.Snapshot{Generation: 1}))

	out, err := s.ExportAll(ctx)
	require.NoError(t, err)
	assert.Len(t, out.Scores, 1)
	assert.Len(t, out.Deltas["c1"], 1)
	require.NotNil(t, out.Snapshot)
	assert.Equal(t, 1, out.Snapshot.Generation)
}
