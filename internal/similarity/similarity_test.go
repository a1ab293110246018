package similarity

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/agent-mood/internal/features"
	"github.com/rcliao/agent-mood/internal/model"
	"github.com/rcliao/agent-mood/internal/weighted"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Vector
		expected float64
	}{
		{"identical", Vector{1, 0, 0}, Vector{1, 0, 0}, 1.0},
		{"orthogonal", Vector{1, 0, 0}, Vector{0, 1, 0}, 0.0},
		{"similar", Vector{1, 1, 0}, Vector{1, 0, 0}, 0.7071},
		{"empty", Vector{}, Vector{}, 0.0},
		{"different lengths", Vector{1, 0}, Vector{1, 0, 0}, 0.0},
		{"zero vector", Vector{0, 0, 0}, Vector{1, 0, 0}, 0.0},
		{"both zero", Vector{0, 0}, Vector{0, 0}, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, CosineSimilarity(tt.a, tt.b), 0.001)
		})
	}
}

func TestDistanceSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, DistanceSimilarity(Vector{0.2, 0.4}, Vector{0.2, 0.4}))
	assert.InDelta(t, 0.0, DistanceSimilarity(Vector{0, 0}, Vector{1, 1}), 1e-12)
	assert.InDelta(t, 0.5, DistanceSimilarity(Vector{0, 0, 0, 0}, Vector{0.5, 0.5, 0.5, 0.5}), 1e-12)
}

func sample(id string, valence float64, dominant string) model.ClusteringFeatures {
	return model.ClusteringFeatures{
		MemoryID: id,
		Tone:     model.ToneFeatures{Valence: valence, Arousal: 0.5, Intensity: 0.5, Mood: (valence + 1) / 2, Dominant: dominant},
		Style:    model.StyleFeatures{Formality: 0.3, Directness: 0.5, Expressiveness: 0.6, Supportiveness: 0.7, Label: "warm"},
		Relationship: model.RelationshipFeatures{
			Closeness: 0.7, Conflict: 0.2, Support: 0.6, Participants: 1, Context: "friendship",
		},
		Psychological: model.PsychologicalFeatures{
			Resilience: 0.6, Vulnerability: 0.3, Growth: 0.5, SelfReflection: 0.4, Coping: "reframing", Tendency: "resilient",
		},
		Temporal: features.Temporal(time.Date(2026, 4, 6, 19, 0, 0, 0, time.UTC)),
	}
}

func TestSimilarity(t *testing.T) {
	c := NewDefaultCalculator()
	a := sample("a", 0.8, "joy")
	b := sample("b", 0.7, "joy")
	d := sample("d", -0.8, "sadness")

	assert.Equal(t, 1.0, c.Similarity(a, a))
	ab := c.Similarity(a, b)
	ad := c.Similarity(a, d)
	assert.Equal(t, ab, c.Similarity(b, a), "symmetric")
	assert.Equal(t, ad, c.Similarity(d, a), "symmetric")
	assert.Greater(t, ab, ad)
	assert.Less(t, ab, 1.0)
	assert.GreaterOrEqual(t, ad, 0.0)

	br := c.Compare(a, d)
	assert.Equal(t, 1.0, br.Style)
	assert.Less(t, br.Tone, 0.8, "category mismatch caps tone at the numeric share")
}

func TestSimilarityIdenticalVectorsDifferentIDs(t *testing.T) {
	c := NewDefaultCalculator()
	a := sample("a", 0.2, "calm")
	b := a
	b.MemoryID = "b"
	assert.Equal(t, 1.0, c.Similarity(a, b))
}

func TestNewCalculator(t *testing.T) {
	_, err := NewCalculator(DefaultWeights(), "manhattan")
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	wrong := weighted.MustNew(weighted.Factor{Name: DimTone, Weight: 1})
	_, err = NewCalculator(wrong, MetricDistance)
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	c, err := NewCalculator(DefaultWeights(), MetricCosine)
	require.NoError(t, err)
	a := sample("a", 0.8, "joy")
	assert.Equal(t, 1.0, c.Similarity(a, a))
}

func TestBuildMatrix(t *testing.T) {
	c := NewDefaultCalculator()
	fs := []model.ClusteringFeatures{
		sample("a", 0.8, "joy"),
		sample("b", 0.7, "joy"),
		sample("c", -0.6, "sadness"),
		sample("d", 0.0, "calm"),
	}

	m, err := BuildMatrix(context.Background(), c, fs, 2)
	require.NoError(t, err)
	require.Equal(t, 4, m.Len())
	assert.Equal(t, []string{"a", "b", "c", "d"}, m.IDs())

	for i := 0; i < m.Len(); i++ {
		assert.Equal(t, 1.0, m.At(i, i))
		for j := 0; j < m.Len(); j++ {
			assert.Equal(t, m.At(i, j), m.At(j, i))
			assert.GreaterOrEqual(t, m.At(i, j), 0.0)
			assert.LessOrEqual(t, m.At(i, j), 1.0)
		}
	}
	v, ok := m.Get("a", "b")
	require.True(t, ok)
	assert.Equal(t, c.Similarity(fs[0], fs[1]), v)

	_, ok = m.Get("a", "zz")
	assert.False(t, ok)
}

func TestBuildMatrixRejectsInvalid(t *testing.T) {
	c := NewDefaultCalculator()
	bad := sample("b", 0.1, "calm")
	bad.Style.Formality = math.Inf(1)

	_, err := BuildMatrix(context.Background(), c, []model.ClusteringFeatures{sample("a", 0, "calm"), bad}, 1)
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = BuildMatrix(context.Background(), c, []model.ClusteringFeatures{sample("a", 0, "calm"), sample("a", 0.5, "joy")}, 1)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestBuildMatrixCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := BuildMatrix(ctx, NewDefaultCalculator(), []model.ClusteringFeatures{sample("a", 0, "calm"), sample("b", 0, "calm")}, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewMatrix(t *testing.T) {
	ids := []string{"A", "B", "C"}
	m, err := NewMatrix(ids, [][]float64{
		{1, 0.8, 0.3},
		{0.8, 1, 0.2},
		{0.3, 0.2, 1},
	})
	require.NoError(t, err)
	v, _ := m.Get("B", "C")
	assert.Equal(t, 0.2, v)

	tests := []struct {
		name   string
		values [][]float64
	}{
		{"asymmetric", [][]float64{{1, 0.8, 0.3}, {0.7, 1, 0.2}, {0.3, 0.2, 1}}},
		{"diagonal", [][]float64{{0.9, 0.8, 0.3}, {0.8, 1, 0.2}, {0.3, 0.2, 1}}},
		{"bounds", [][]float64{{1, 1.2, 0.3}, {1.2, 1, 0.2}, {0.3, 0.2, 1}}},
		{"ragged", [][]float64{{1, 0.8}, {0.8, 1, 0.2}, {0.3, 0.2, 1}}},
		{"rows", [][]float64{{1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMatrix(ids, tt.values)
			assert.ErrorIs(t, err, model.ErrInvalidInput)
		})
	}
}

func TestMatrixJSON(t *testing.T) {
	m, err := NewMatrix([]string{"A", "B"}, [][]float64{{1, 0.4}, {0.4, 1}})
	require.NoError(t, err)

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ids":["A","B"],"values":[[1,0.4],[0.4,1]]}`, string(data))

	var back Matrix
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, m.Rows(), back.Rows())

	err = json.Unmarshal([]byte(`{"ids":["A","B"],"values":[[1,0.4],[0.5,1]]}`), &back)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}
