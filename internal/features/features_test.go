package features

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/agent-mood/internal/model"
)

func memory(id string) model.Memory {
	return model.Memory{
		ID:        id,
		Timestamp: time.Date(2026, 4, 6, 20, 30, 0, 0, time.UTC), // Monday evening
		Participants: []model.Participant{
			{Name: "me", Role: model.RoleSelf},
			{Name: "sam", Role: model.RolePartner},
		},
		Tone: model.ToneIndicators{
			Emotions:  map[string]float64{"joy": 0.7, "calm": 0.4},
			Valence:   0.6,
			Arousal:   0.5,
			Intensity: 0.6,
		},
		Style: model.StyleIndicators{Label: "warm", Formality: 0.2, Directness: 0.6, Expressiveness: 0.8, Supportiveness: 0.9},
		Psych: model.PsychIndicators{
			CopingStrategies: map[string]float64{"reframing": 0.6, "seeking_support": 0.6},
			Resilience:       0.8,
			Vulnerability:    0.3,
			Growth:           0.5,
			SelfReflection:   0.4,
			Closeness:        0.9,
			Conflict:         0.1,
			Support:          0.8,
		},
	}
}

func TestExtract(t *testing.T) {
	f, err := Extract(memory("m1"), model.MoodScore{MemoryID: "m1", Score: 7.5})
	require.NoError(t, err)

	assert.Equal(t, "m1", f.MemoryID)
	assert.Equal(t, "joy", f.Tone.Dominant)
	assert.InDelta(t, 0.75, f.Tone.Mood, 1e-9)
	assert.Equal(t, "warm", f.Style.Label)
	assert.Equal(t, 1, f.Relationship.Participants)
	assert.Equal(t, "romantic", f.Relationship.Context)
	assert.Equal(t, "reframing", f.Psychological.Coping, "ties broken by name")
	assert.Equal(t, TendencyResilient, f.Psychological.Tendency)
	assert.Equal(t, Evening, f.Temporal.DayPart)
	assert.InDelta(t, math.Sin(2*math.Pi*20.5/24), f.Temporal.HourSin, 1e-12)
	assert.InDelta(t, math.Sin(2*math.Pi/7), f.Temporal.WeekdaySin, 1e-12)
}

func TestExtractFallbacks(t *testing.T) {
	m := model.Memory{ID: "m2", Timestamp: time.Date(2026, 4, 5, 3, 0, 0, 0, time.UTC)}
	f, err := Extract(m, model.MoodScore{Score: 5})
	require.NoError(t, err)

	assert.Equal(t, NeutralTone, f.Tone.Dominant)
	assert.Equal(t, NoStyle, f.Style.Label)
	assert.Equal(t, SoloContext, f.Relationship.Context)
	assert.Equal(t, NoCoping, f.Psychological.Coping)
	assert.Equal(t, BalancedProfile, f.Psychological.Tendency)
	assert.Equal(t, Night, f.Temporal.DayPart)
}

func TestExtractMixedContext(t *testing.T) {
	m := memory("m3")
	m.Participants = []model.Participant{
		{Role: model.RoleFriend},
		{Role: model.RoleColleague},
		{Role: "stranger"},
		{Role: model.RoleOther},
	}
	f, err := Extract(m, model.MoodScore{Score: 5})
	require.NoError(t, err)
	assert.Equal(t, "social", f.Relationship.Context, "unknown roles count as social")

	m.Participants = m.Participants[:2]
	f, err = Extract(m, model.MoodScore{Score: 5})
	require.NoError(t, err)
	assert.Equal(t, MixedContext, f.Relationship.Context)
}

func TestExtractInvalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.Memory, *model.MoodScore)
		field  string
	}{
		{"valence", func(m *model.Memory, _ *model.MoodScore) { m.Tone.Valence = 1.5 }, "tone.valence"},
		{"formality", func(m *model.Memory, _ *model.MoodScore) { m.Style.Formality = -0.1 }, "style.formality"},
		{"emotion", func(m *model.Memory, _ *model.MoodScore) { m.Tone.Emotions["joy"] = 2 }, "tone.emotions.joy"},
		{"nan", func(m *model.Memory, _ *model.MoodScore) { m.Psych.Growth = math.NaN() }, "psychological.growth"},
		{"mood", func(_ *model.Memory, s *model.MoodScore) { s.Score = 12 }, "mood_score.score"},
		{"foreign mood", func(_ *model.Memory, s *model.MoodScore) { s.MemoryID = "other" }, "mood_score"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := memory("bad")
			s := model.MoodScore{MemoryID: "bad", Score: 5}
			tt.mutate(&m, &s)

			_, err := Extract(m, s)
			require.Error(t, err)
			var ie *model.InvalidInputError
			require.ErrorAs(t, err, &ie)
			assert.Equal(t, tt.field, ie.Field)
			assert.ErrorIs(t, err, model.ErrInvalidInput)
		})
	}
}

func TestExtractBatch(t *testing.T) {
	bad := memory("m2")
	bad.Tone.Arousal = 3
	memories := []model.Memory{memory("m1"), bad, memory("m3"), memory("m4")}
	moods := map[string]model.MoodScore{
		"m1": {MemoryID: "m1", Score: 6},
		"m2": {MemoryID: "m2", Score: 6},
		"m3": {MemoryID: "m3", Score: 6},
	}

	res, err := ExtractBatch(context.Background(), memories, moods, 2)
	require.NoError(t, err)
	require.Len(t, res.Features, 2)
	assert.Equal(t, "m1", res.Features[0].MemoryID)
	assert.Equal(t, "m3", res.Features[1].MemoryID)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, "m2", res.Errors[0].ItemID)
	assert.Equal(t, "m4", res.Errors[1].ItemID)
	assert.Equal(t, StageFeatures, res.Errors[0].Stage)
}

func TestCentroid(t *testing.T) {
	a, err := Extract(memory("a"), model.MoodScore{Score: 8})
	require.NoError(t, err)
	b := a
	b.MemoryID = "b"
	b.Tone.Valence = 0.2
	b.Tone.Dominant = "calm"
	b.Temporal = Temporal(a.Temporal.Timestamp.Add(2 * time.Hour))

	c := Centroid([]model.ClusteringFeatures{a, b})
	assert.Empty(t, c.MemoryID)
	assert.InDelta(t, 0.4, c.Tone.Valence, 1e-9)
	assert.Equal(t, "calm", c.Tone.Dominant, "ties broken alphabetically")
	assert.Equal(t, a.Temporal.Timestamp.Add(time.Hour), c.Temporal.Timestamp)
	assert.Equal(t, 1, c.Relationship.Participants)
	require.NoError(t, Validate(c))

	assert.Equal(t, model.ClusteringFeatures{}, Centroid(nil))
}

func TestMode(t *testing.T) {
	assert.Equal(t, "b", Mode(map[string]int{"a": 1, "b": 2}))
	assert.Equal(t, "a", Mode(map[string]int{"c": 2, "a": 2}))
	assert.Equal(t, "", Mode(nil))
}
