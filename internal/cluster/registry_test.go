package cluster

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/agent-mood/internal/model"
	"github.com/rcliao/agent-mood/internal/similarity"
)

var fixedNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newRegistry(t *testing.T, opts ...RegistryOption) *Registry {
	t.Helper()
	opts = append([]RegistryOption{WithRegistryClock(func() time.Time { return fixedNow }), WithWorkers(2)}, opts...)
	r, err := NewRegistry(newEngine(t, DefaultConstraints()), similarity.NewDefaultCalculator(), opts...)
	require.NoError(t, err)
	return r
}

func TestRecluster(t *testing.T) {
	r := newRegistry(t)
	assert.Equal(t, 0, r.Current().Generation)

	snap, err := r.Recluster(context.Background(), []model.ClusteringFeatures{high("h1"), high("h2"), high("h3"), low("l1")}, time.Second)
	require.NoError(t, err)

	assert.Equal(t, 1, snap.Generation)
	assert.Same(t, snap, r.Current())
	require.Len(t, snap.Clusters, 1)
	assert.Equal(t, []string{"h1", "h2", "h3"}, snap.Clusters[0].Members)
	id, ok := snap.Assigned("h2")
	assert.True(t, ok)
	assert.Equal(t, snap.Clusters[0].ID, id)

	require.Len(t, snap.Review, 1)
	assert.Equal(t, "l1", snap.Review[0].MemoryID)
	assert.Equal(t, ReasonNoQualifyingMerge, snap.Review[0].Reason)
	assert.Equal(t, fixedNow, snap.Review[0].FlaggedAt)
	assert.Equal(t, []string{"l1"}, snap.Unclustered())
	assert.Len(t, r.Features("h1", "l1", "unknown"), 2)
}

func TestReclusterKeepsStableIDs(t *testing.T) {
	r := newRegistry(t)
	first, err := r.Recluster(context.Background(), []model.ClusteringFeatures{high("h1"), high("h2"), high("h3")}, 0)
	require.NoError(t, err)
	second, err := r.Recluster(context.Background(), nil, 0)
	require.NoError(t, err)

	assert.Equal(t, 2, second.Generation)
	assert.Equal(t, first.Clusters[0].ID, second.Clusters[0].ID)
	assert.Equal(t, 1, first.Generation, "published snapshots are never mutated")
}

func TestReclusterTimeoutKeepsSnapshot(t *testing.T) {
	r := newRegistry(t)
	before, err := r.Recluster(context.Background(), []model.ClusteringFeatures{high("h1"), high("h2"), high("h3")}, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	snap, err := r.Recluster(ctx, []model.ClusteringFeatures{high("h4")}, 50*time.Millisecond)
	require.Error(t, err)
	assert.Nil(t, snap)
	assert.True(t, errors.Is(err, model.ErrClusteringTimeout))

	var te *model.ClusteringTimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 50*time.Millisecond, te.Budget)
	assert.Equal(t, []string{"h1", "h2", "h3", "h4"}, te.Unprocessed)

	assert.Same(t, before, r.Current())
	assert.Empty(t, r.Features("h4"))
}

func TestReclusterInsufficientData(t *testing.T) {
	r := newRegistry(t)
	snap, err := r.Recluster(context.Background(), []model.ClusteringFeatures{high("h1"), high("h2")}, 0)
	require.NoError(t, err)

	assert.Empty(t, snap.Clusters)
	assert.NotEmpty(t, snap.Diagnostic)
	assert.Empty(t, snap.Review, "too little data is not a reason for review")
	require.Len(t, snap.Outliers, 2)
	assert.Equal(t, ReasonInsufficientData, snap.Outliers[0].Reason)
	assert.Equal(t, []string{"h1", "h2"}, snap.Unclustered())
}

func TestReclusterSmallBatchesAccumulate(t *testing.T) {
	r := newRegistry(t)
	_, err := r.Recluster(context.Background(), []model.ClusteringFeatures{high("h1"), high("h2")}, 0)
	require.NoError(t, err)

	snap, err := r.Recluster(context.Background(), []model.ClusteringFeatures{high("h3"), high("h4")}, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Generation)
	assert.Empty(t, snap.Diagnostic)
	require.Len(t, snap.Clusters, 1)
	assert.Equal(t, []string{"h1", "h2", "h3", "h4"}, snap.Clusters[0].Members)
	assert.Empty(t, snap.Review)
	assert.Empty(t, snap.Outliers)
}

// hookContext runs fn the first time Err is called.
type hookContext struct {
	context.Context
	once sync.Once
	fn   func()
}

func (c *hookContext) Err() error {
	c.once.Do(c.fn)
	return c.Context.Err()
}

func TestReclusterKeepsConcurrentPlacement(t *testing.T) {
	r := newRegistry(t)
	_, err := r.Recluster(context.Background(), []model.ClusteringFeatures{high("h1"), high("h2"), high("h3")}, 0)
	require.NoError(t, err)
	m := newManager(t, r, DefaultManagerConfig())

	var placed Placement
	ctx := &hookContext{Context: context.Background(), fn: func() {
		placed, err = m.Place(context.Background(), high("h4"))
	}}
	snap, rerr := r.Recluster(ctx, []model.ClusteringFeatures{low("l1")}, 0)
	require.NoError(t, rerr)
	require.NoError(t, err)

	in, ok := placed.(Integrated)
	require.True(t, ok, "got %T", placed)
	assert.Equal(t, 2, in.Generation)

	assert.Equal(t, 3, snap.Generation)
	assert.Same(t, snap, r.Current())
	id, ok := snap.Assigned("h4")
	assert.True(t, ok, "placed memory survives the re-cluster")
	c, _ := snap.Cluster(id)
	assert.Equal(t, []string{"h1", "h2", "h3", "h4"}, c.Members)
	assert.True(t, snap.InReview("l1"))
}

func TestReviewPolicy(t *testing.T) {
	seed := []model.ClusteringFeatures{high("h1"), high("h2"), high("h3"), low("l1")}
	more := []model.ClusteringFeatures{low("l2"), low("l3")}

	t.Run("manual holds flagged memories out", func(t *testing.T) {
		r := newRegistry(t)
		_, err := r.Recluster(context.Background(), seed, 0)
		require.NoError(t, err)

		snap, err := r.Recluster(context.Background(), more, 0)
		require.NoError(t, err)
		assert.Len(t, snap.Clusters, 1)
		assert.True(t, snap.InReview("l1"))
		require.Len(t, snap.Review, 3)
		assert.Equal(t, 1, snap.Review[0].Generation, "held items keep their original flag")

		_, err = r.Release("l1", "l2", "l3")
		require.NoError(t, err)
		snap, err = r.Recluster(context.Background(), nil, 0)
		require.NoError(t, err)
		assert.Len(t, snap.Clusters, 2)
		assert.Empty(t, snap.Review)
	})

	t.Run("auto retries flagged memories", func(t *testing.T) {
		r := newRegistry(t, WithReviewPolicy(ReviewAuto))
		assert.Equal(t, ReviewAuto, r.Policy())
		_, err := r.Recluster(context.Background(), seed, 0)
		require.NoError(t, err)

		snap, err := r.Recluster(context.Background(), more, 0)
		require.NoError(t, err)
		require.Len(t, snap.Clusters, 2)
		assert.Equal(t, []string{"l1", "l2", "l3"}, snap.Clusters[1].Members)
		assert.Empty(t, snap.Review)
	})
}

func TestParseReviewPolicy(t *testing.T) {
	p, err := ParseReviewPolicy("")
	require.NoError(t, err)
	assert.Equal(t, ReviewManual, p)

	p, err = ParseReviewPolicy("auto")
	require.NoError(t, err)
	assert.Equal(t, ReviewAuto, p)

	_, err = ParseReviewPolicy("sometimes")
	assert.True(t, errors.Is(err, model.ErrInvalidInput))

	_, err = NewRegistry(newEngine(t, DefaultConstraints()), similarity.NewDefaultCalculator(), WithReviewPolicy("sometimes"))
	assert.Error(t, err)
}

func TestReleaseUnknown(t *testing.T) {
	r := newRegistry(t)
	_, err := r.Release("ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrInvalidInput))
	assert.Equal(t, 0, r.Current().Generation)
}

func TestApplyFeedback(t *testing.T) {
	r := newRegistry(t)
	snap, err := r.Recluster(context.Background(), []model.ClusteringFeatures{
		high("h1"), high("h2"), high("h3"), high("h4"),
		low("l1"), low("l2"), low("l3"),
	}, 0)
	require.NoError(t, err)
	require.Len(t, snap.Clusters, 2)
	highs, lows := snap.Clusters[0], snap.Clusters[1]
	require.Equal(t, 4, highs.Size())

	next, err := r.ApplyFeedback([]Quality{
		{ClusterID: highs.ID, Recommendation: RecommendReviewMembers, Incoherent: []MemberScore{{MemoryID: "h4", Similarity: 0.3}, {MemoryID: "h3", Similarity: 0.4}}},
		{ClusterID: lows.ID, Recommendation: RecommendSplit},
		{ClusterID: "missing", Recommendation: RecommendSplit},
	})
	require.NoError(t, err)

	h, ok := next.Cluster(highs.ID)
	require.True(t, ok)
	assert.Equal(t, []string{"h1", "h2", "h3"}, h.Members, "stops at the minimum size")
	assert.Equal(t, 2, h.Revision)
	assert.True(t, next.InReview("h4"))
	assert.Equal(t, ReasonIncoherentMember, next.Review[0].Reason)

	l, ok := next.Cluster(lows.ID)
	require.True(t, ok)
	assert.Equal(t, 3, l.Size())
	require.NotEmpty(t, l.Warnings)
	assert.Equal(t, WarningSplitRecommended, l.Warnings[len(l.Warnings)-1].Code)

	old, _ := snap.Cluster(highs.ID)
	assert.Equal(t, 4, old.Size(), "earlier snapshot unchanged")
}

func TestApplyFeedbackKeepsMinimum(t *testing.T) {
	r := newRegistry(t)
	snap, err := r.Recluster(context.Background(), []model.ClusteringFeatures{high("h1"), high("h2"), high("h3")}, 0)
	require.NoError(t, err)
	id := snap.Clusters[0].ID

	next, err := r.ApplyFeedback([]Quality{{ClusterID: id, Recommendation: RecommendReviewMembers, Incoherent: []MemberScore{{MemoryID: "h1"}}}})
	require.NoError(t, err)

	c, _ := next.Cluster(id)
	assert.Equal(t, 3, c.Size())
	assert.Empty(t, next.Review)
	require.NotEmpty(t, c.Warnings)
	assert.Equal(t, WarningReviewMembers, c.Warnings[len(c.Warnings)-1].Code)
}

func TestRestore(t *testing.T) {
	r := newRegistry(t)
	snap, err := r.Recluster(context.Background(), []model.ClusteringFeatures{high("h1"), high("h2"), high("h3")}, 0)
	require.NoError(t, err)

	other := newRegistry(t)
	other.Restore(snap, r.Features("h1", "h2", "h3"))
	assert.Equal(t, snap.Generation, other.Current().Generation)
	assert.Equal(t, snap.Clusters, other.Current().Clusters)
	assert.NotSame(t, snap, other.Current())
	assert.Len(t, other.Features("h1", "h2", "h3"), 3)
}
