// Package features builds the five-part clustering feature vector of a memory.
package features

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rcliao/agent-mood/internal/model"
)

// Fallback labels for missing categorical signals.
const (
	NeutralTone     = "neutral"
	NoStyle         = "unspecified"
	NoCoping        = "none"
	SoloContext     = "solitary"
	MixedContext    = "mixed"
	BalancedProfile = "balanced"
)

// Psychological tendencies.
const (
	TendencyResilient  = "resilient"
	TendencyVulnerable = "vulnerable"
	TendencyGrowth     = "growth_oriented"
	TendencyReflective = "reflective"
)

// Day parts.
const (
	Night     = "night"
	Morning   = "morning"
	Afternoon = "afternoon"
	Evening   = "evening"
)

// Extract builds the clustering features of m. The mood score supplies the
// tone's mood component and must belong to m.
func Extract(m model.Memory, mood model.MoodScore) (model.ClusteringFeatures, error) {
	if m.ID == "" {
		return model.ClusteringFeatures{}, &model.InvalidInputError{Field: "id", Reason: "memory id is required"}
	}
	if mood.MemoryID != "" && mood.MemoryID != m.ID {
		return model.ClusteringFeatures{}, &model.InvalidInputError{ItemID: m.ID, Field: "mood_score", Reason: fmt.Sprintf("belongs to %s", mood.MemoryID)}
	}
	if err := checkRange(m.ID, "mood_score.score", mood.Score, 0, 10); err != nil {
		return model.ClusteringFeatures{}, err
	}
	for name, v := range m.Tone.Emotions {
		if err := checkRange(m.ID, "tone.emotions."+name, v, 0, 1); err != nil {
			return model.ClusteringFeatures{}, err
		}
	}
	for name, v := range m.Psych.CopingStrategies {
		if err := checkRange(m.ID, "psych.coping_strategies."+name, v, 0, 1); err != nil {
			return model.ClusteringFeatures{}, err
		}
	}

	f := model.ClusteringFeatures{
		MemoryID: m.ID,
		Tone: model.ToneFeatures{
			Valence:   m.Tone.Valence,
			Arousal:   m.Tone.Arousal,
			Intensity: m.Tone.Intensity,
			Mood:      mood.Score / 10,
			Dominant:  dominant(m.Tone.Emotions, NeutralTone),
		},
		Style: model.StyleFeatures{
			Formality:      m.Style.Formality,
			Directness:     m.Style.Directness,
			Expressiveness: m.Style.Expressiveness,
			Supportiveness: m.Style.Supportiveness,
			Label:          orDefault(m.Style.Label, NoStyle),
		},
		Relationship: relationship(m),
		Psychological: model.PsychologicalFeatures{
			Resilience:     m.Psych.Resilience,
			Vulnerability:  m.Psych.Vulnerability,
			Growth:         m.Psych.Growth,
			SelfReflection: m.Psych.SelfReflection,
			Coping:         dominant(m.Psych.CopingStrategies, NoCoping),
			Tendency:       tendency(m.Psych),
		},
		Temporal: Temporal(m.Timestamp),
	}
	if err := Validate(f); err != nil {
		return model.ClusteringFeatures{}, err
	}
	return f, nil
}

// Validate checks every numeric feature is finite and within its range.
func Validate(f model.ClusteringFeatures) error {
	id := f.MemoryID
	checks := []struct {
		field  string
		v      float64
		lo, hi float64
	}{
		{"tone.valence", f.Tone.Valence, -1, 1},
		{"tone.arousal", f.Tone.Arousal, 0, 1},
		{"tone.intensity", f.Tone.Intensity, 0, 1},
		{"tone.mood", f.Tone.Mood, 0, 1},
		{"style.formality", f.Style.Formality, 0, 1},
		{"style.directness", f.Style.Directness, 0, 1},
		{"style.expressiveness", f.Style.Expressiveness, 0, 1},
		{"style.supportiveness", f.Style.Supportiveness, 0, 1},
		{"relationship.closeness", f.Relationship.Closeness, 0, 1},
		{"relationship.conflict", f.Relationship.Conflict, 0, 1},
		{"relationship.support", f.Relationship.Support, 0, 1},
		{"psychological.resilience", f.Psychological.Resilience, 0, 1},
		{"psychological.vulnerability", f.Psychological.Vulnerability, 0, 1},
		{"psychological.growth", f.Psychological.Growth, 0, 1},
		{"psychological.self_reflection", f.Psychological.SelfReflection, 0, 1},
		{"temporal.hour_sin", f.Temporal.HourSin, -1, 1},
		{"temporal.hour_cos", f.Temporal.HourCos, -1, 1},
		{"temporal.weekday_sin", f.Temporal.WeekdaySin, -1, 1},
		{"temporal.weekday_cos", f.Temporal.WeekdayCos, -1, 1},
	}
	for _, c := range checks {
		if err := checkRange(id, c.field, c.v, c.lo, c.hi); err != nil {
			return err
		}
	}
	if f.Relationship.Participants < 0 {
		return &model.InvalidInputError{ItemID: id, Field: "relationship.participants", Reason: "negative count"}
	}
	return nil
}

func checkRange(id, field string, v, lo, hi float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < lo || v > hi {
		return &model.InvalidInputError{ItemID: id, Field: field, Reason: fmt.Sprintf("%g outside [%g,%g]", v, lo, hi)}
	}
	return nil
}

// Temporal encodes t cyclically so 23:00 sits next to 01:00 and Sunday next
// to Monday.
func Temporal(t time.Time) model.TemporalFeatures {
	t = t.UTC()
	hour := float64(t.Hour()) + float64(t.Minute())/60
	day := float64(t.Weekday())
	return model.TemporalFeatures{
		Timestamp:  t,
		HourSin:    math.Sin(2 * math.Pi * hour / 24),
		HourCos:    math.Cos(2 * math.Pi * hour / 24),
		WeekdaySin: math.Sin(2 * math.Pi * day / 7),
		WeekdayCos: math.Cos(2 * math.Pi * day / 7),
		DayPart:    DayPart(t.Hour()),
	}
}

// DayPart names the part of day for an hour in [0,24).
func DayPart(hour int) string {
	switch {
	case hour < 6:
		return Night
	case hour < 12:
		return Morning
	case hour < 18:
		return Afternoon
	default:
		return Evening
	}
}

func relationship(m model.Memory) model.RelationshipFeatures {
	counts := map[string]int{}
	n := 0
	for _, p := range m.Participants {
		if p.Role == model.RoleSelf {
			continue
		}
		n++
		ctx, ok := model.RoleContexts[p.Role]
		if !ok {
			ctx = model.RoleContexts[model.RoleOther]
		}
		counts[ctx]++
	}

	label := SoloContext
	if n > 0 {
		label = modal(counts, MixedContext)
	}
	return model.RelationshipFeatures{
		Closeness:    m.Psych.Closeness,
		Conflict:     m.Psych.Conflict,
		Support:      m.Psych.Support,
		Participants: n,
		Context:      label,
	}
}

func tendency(p model.PsychIndicators) string {
	switch {
	case p.Resilience-p.Vulnerability >= 0.2:
		return TendencyResilient
	case p.Vulnerability-p.Resilience >= 0.2:
		return TendencyVulnerable
	case p.Growth >= 0.6:
		return TendencyGrowth
	case p.SelfReflection >= 0.6:
		return TendencyReflective
	default:
		return BalancedProfile
	}
}

// dominant returns the highest weighted key, ties by name, or fallback when
// no weight is positive.
func dominant(weights map[string]float64, fallback string) string {
	best, bestW := "", 0.0
	for k, w := range weights {
		if w > bestW || (w == bestW && w > 0 && k < best) {
			best, bestW = k, w
		}
	}
	if best == "" {
		return fallback
	}
	return best
}

// modal returns the most frequent key. A tie between several keys yields tie.
func modal(counts map[string]int, tie string) string {
	keys := sortedKeys(counts)
	best, bestN, tied := "", 0, false
	for _, k := range keys {
		switch n := counts[k]; {
		case n > bestN:
			best, bestN, tied = k, n, false
		case n == bestN:
			tied = true
		}
	}
	if tied {
		return tie
	}
	return best
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
