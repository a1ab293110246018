package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/agent-mood/internal/model"
	"github.com/rcliao/agent-mood/internal/similarity"
)

// mid differs from high by 0.2 on every numeric field and on every label but
// the part of day.
func mid(id string) model.ClusteringFeatures {
	f := high(id)
	f.Tone = model.ToneFeatures{Valence: 0.6, Arousal: 0.8, Intensity: 0.8, Mood: 0.8, Dominant: "calm"}
	f.Style = model.StyleFeatures{Formality: 0.8, Directness: 0.8, Expressiveness: 0.8, Supportiveness: 0.8, Label: "plain"}
	f.Relationship = model.RelationshipFeatures{Closeness: 0.8, Conflict: 0.8, Support: 0.8, Participants: 4, Context: "family"}
	f.Psychological = model.PsychologicalFeatures{Resilience: 0.8, Vulnerability: 0.8, Growth: 0.8, SelfReflection: 0.8, Coping: "distraction", Tendency: "reflective"}
	return f
}

func newManager(t *testing.T, r *Registry, cfg ManagerConfig) *Manager {
	t.Helper()
	m, err := NewManager(r, cfg)
	require.NoError(t, err)
	return m
}

func seeded(t *testing.T, fs ...model.ClusteringFeatures) *Registry {
	t.Helper()
	r := newRegistry(t)
	_, err := r.Recluster(context.Background(), fs, 0)
	require.NoError(t, err)
	return r
}

func TestPlaceBelowThresholdFlagsForReview(t *testing.T) {
	r := seeded(t, high("h1"), high("h2"), high("h3"))
	clusterID := r.Current().Clusters[0].ID
	m := newManager(t, r, DefaultManagerConfig())

	p, err := m.Place(context.Background(), mid("m1"))
	require.NoError(t, err)

	flagged, ok := p.(FlaggedForReview)
	require.True(t, ok, "got %T", p)
	assert.Equal(t, OutcomeReview, p.Outcome())
	assert.Equal(t, "m1", p.Memory())
	assert.Equal(t, clusterID, flagged.BestClusterID)
	assert.InDelta(t, 0.658, flagged.BestSimilarity, 1e-6)
	assert.Equal(t, ReasonNoQualifyingCluster, flagged.Reason)
	assert.Equal(t, 0.0, flagged.Density)

	snap := r.Current()
	assert.Equal(t, flagged.Generation, snap.Generation)
	assert.True(t, snap.InReview("m1"))
	c, _ := snap.Cluster(clusterID)
	assert.Equal(t, 3, c.Size(), "other memberships untouched")
}

func TestPlaceIntegrates(t *testing.T) {
	r := seeded(t, high("h1"), high("h2"), high("h3"))
	before := r.Current().Clusters[0]
	m := newManager(t, r, DefaultManagerConfig())

	p, err := m.Place(context.Background(), high("h4"))
	require.NoError(t, err)

	in, ok := p.(Integrated)
	require.True(t, ok, "got %T", p)
	assert.Equal(t, before.ID, in.ClusterID)
	assert.InDelta(t, 1.0, in.Similarity, 1e-9)
	assert.InDelta(t, 1.0, in.Coherence, 1e-9)

	c, _ := r.Current().Cluster(before.ID)
	assert.Equal(t, []string{"h1", "h2", "h3", "h4"}, c.Members)
	assert.Equal(t, before.Revision+1, c.Revision)
	assert.Len(t, r.Features("h4"), 1)

	_, err = m.Place(context.Background(), high("h4"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrInvalidInput))
}

func TestPlaceRespectsMaxSize(t *testing.T) {
	c := DefaultConstraints()
	c.MaxClusterSize = 3
	reg, err := NewRegistry(newEngine(t, c), similarity.NewDefaultCalculator())
	require.NoError(t, err)
	_, err = reg.Recluster(context.Background(), []model.ClusteringFeatures{high("h1"), high("h2"), high("h3")}, 0)
	require.NoError(t, err)

	p, err := newManager(t, reg, DefaultManagerConfig()).Place(context.Background(), high("h4"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReview, p.Outcome())
}

func TestPlaceSpawnsFromDenseReview(t *testing.T) {
	r := seeded(t, high("h1"), high("h2"), high("h3"), low("l1"))
	require.True(t, r.Current().InReview("l1"))
	m := newManager(t, r, DefaultManagerConfig())

	p, err := m.Place(context.Background(), low("l2"))
	require.NoError(t, err)
	spawned, ok := p.(Spawned)
	require.True(t, ok, "got %T", p)
	assert.InDelta(t, 1.0, spawned.Density, 1e-9)
	assert.Equal(t, ClusterID([]string{"l2"}), spawned.ClusterID)

	c, ok := r.Current().Cluster(spawned.ClusterID)
	require.True(t, ok)
	assert.True(t, c.Provisional)
	assert.Equal(t, []string{"l2"}, c.Members)
	assert.Equal(t, WarningProvisional, c.Warnings[len(c.Warnings)-1].Code)
	assert.True(t, r.Current().InReview("l1"), "review items stay put")

	p, err = m.Place(context.Background(), low("l3"))
	require.NoError(t, err)
	require.Equal(t, OutcomeIntegrate, p.Outcome())
	c, _ = r.Current().Cluster(spawned.ClusterID)
	assert.Equal(t, []string{"l2", "l3"}, c.Members)
	assert.True(t, c.Provisional, "still below the minimum size")
}

func TestPlaceConcurrent(t *testing.T) {
	r := seeded(t, high("h1"), high("h2"), high("h3"), low("l1"), low("l2"), low("l3"))
	require.Len(t, r.Current().Clusters, 2)
	cfg := DefaultManagerConfig()
	cfg.MaxAttempts = 16
	m := newManager(t, r, cfg)

	const perCluster = 8
	var wg sync.WaitGroup
	errs := make([]error, 2*perCluster)
	for i := 0; i < perCluster; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, errs[2*i] = m.Place(context.Background(), high(fmt.Sprintf("hx%02d", i)))
		}()
		go func() {
			defer wg.Done()
			_, errs[2*i+1] = m.Place(context.Background(), low(fmt.Sprintf("lx%02d", i)))
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	snap := r.Current()
	require.Len(t, snap.Clusters, 2)
	assert.Equal(t, 3+perCluster, snap.Clusters[0].Size())
	assert.Equal(t, 3+perCluster, snap.Clusters[1].Size())
	assert.Equal(t, 1+2*perCluster, snap.Generation, "one commit per placement after the seed")
	for i := 0; i < perCluster; i++ {
		id, ok := snap.Assigned(fmt.Sprintf("hx%02d", i))
		require.True(t, ok)
		assert.Equal(t, snap.Clusters[0].ID, id)
	}
}

func TestPlaceCanceled(t *testing.T) {
	m := newManager(t, newRegistry(t), DefaultManagerConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Place(ctx, high("h1"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestManagerConfigValidate(t *testing.T) {
	require.NoError(t, DefaultManagerConfig().Validate())

	cfg := DefaultManagerConfig()
	cfg.SpawnNeighbors = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultManagerConfig()
	cfg.IntegrateThreshold = 1.5
	_, err := NewManager(newRegistry(t), cfg)
	assert.True(t, errors.Is(err, model.ErrInvalidInput))

	_, err = NewManager(nil, DefaultManagerConfig())
	assert.Error(t, err)
}
