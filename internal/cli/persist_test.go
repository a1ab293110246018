package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/agent-mood/internal/cluster"
	"github.com/rcliao/agent-mood/internal/config"
	"github.com/rcliao/agent-mood/internal/model"
	"github.com/rcliao/agent-mood/internal/pipeline"
	"github.com/rcliao/agent-mood/internal/store"
)

func memory(id string, day int) model.Memory {
	subs := map[model.SubScoreType]model.RawSubScore{}
	for _, t := range model.SubScoreTypes {
		subs[t] = model.RawSubScore{Value: 7}
	}
	return model.Memory{
		ID:             id,
		ConversationID: "conv",
		Timestamp:      time.Date(2026, 3, 2+7*day, 20, 0, 0, 0, time.UTC),
		Participants:   []model.Participant{{Name: "me", Role: model.RoleSelf}, {Name: "kim", Role: model.RolePartner}},
		Classifier:     model.ClassifierOutput{SubScores: subs},
		Tone:           model.ToneIndicators{Emotions: map[string]float64{"contentment": 0.7}, Valence: 0.5, Arousal: 0.3, Intensity: 0.4},
		Style:          model.StyleIndicators{Label: "casual", Expressiveness: 0.6, Supportiveness: 0.8},
		Psych:          model.PsychIndicators{CopingStrategies: map[string]float64{"humor": 0.6}, Resilience: 0.7, Closeness: 0.9, Support: 0.8},
	}
}

func openTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "mood.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func analyzer(t *testing.T) *pipeline.Analyzer {
	t.Helper()
	a, err := pipeline.FromConfig(config.Default())
	require.NoError(t, err)
	return a
}

func TestSaveAndRestore(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	var memories []model.Memory
	for i := 0; i < 3; i++ {
		memories = append(memories, memory(fmt.Sprintf("m%d", i), i))
	}

	first := analyzer(t)
	require.NoError(t, restore(ctx, s, first), "empty store restores nothing")
	rep, err := first.Run(ctx, memories)
	require.NoError(t, err)
	require.Len(t, rep.Snapshot.Clusters, 1)
	require.NoError(t, save(ctx, s, rep))

	st, err := s.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, st.ScoredMemories)
	assert.Equal(t, 3, st.Features)
	assert.Equal(t, rep.Snapshot.Generation, st.LatestGeneration)

	second := analyzer(t)
	require.NoError(t, restore(ctx, s, second))
	snap := second.Registry().Current()
	assert.Equal(t, rep.Snapshot.Generation, snap.Generation)
	clusterID := snap.Clusters[0].ID

	p, _, err := second.Place(ctx, memory("m3", 3))
	require.NoError(t, err)
	in, ok := p.(cluster.Integrated)
	require.True(t, ok, "got %T", p)
	assert.Equal(t, clusterID, in.ClusterID)

	// A re-run reclusters the placed memory with the stored ones and stores
	// the scores as new versions.
	rerun, err := second.Run(ctx, memories)
	require.NoError(t, err)
	require.NoError(t, save(ctx, s, rerun))
	assert.Equal(t, 2, rerun.Scores[0].Version)
	require.Len(t, rerun.Snapshot.Clusters, 1)
	assert.Equal(t, []string{"m0", "m1", "m2", "m3"}, rerun.Snapshot.Clusters[0].Members)
	assert.Equal(t, cluster.ClusterID([]string{"m0", "m1", "m2", "m3"}), rerun.Snapshot.Clusters[0].ID)
}
