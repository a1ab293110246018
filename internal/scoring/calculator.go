package scoring

import (
	"fmt"
	"math"
	"time"

	"github.com/rcliao/agent-mood/internal/model"
	"github.com/rcliao/agent-mood/internal/weighted"
)

// DefaultMoodWeights returns the standard mood sub-score weights. Retuning
// replaces the whole set.
func DefaultMoodWeights() weighted.Set {
	return weighted.MustNew(
		weighted.Factor{Name: string(model.SubScoreSentiment), Weight: 0.35},
		weighted.Factor{Name: string(model.SubScorePsychological), Weight: 0.25},
		weighted.Factor{Name: string(model.SubScoreRelationship), Weight: 0.20},
		weighted.Factor{Name: string(model.SubScoreFlow), Weight: 0.15},
		weighted.Factor{Name: string(model.SubScoreHistorical), Weight: 0.05},
	)
}

func subScoreNames() []string {
	names := make([]string, len(model.SubScoreTypes))
	for i, t := range model.SubScoreTypes {
		names[i] = string(t)
	}
	return names
}

// Calculator combines the five sub-scores into a MoodScore.
type Calculator struct {
	weights    weighted.Set
	confidence *ConfidenceAssessor
	scorers    []Scorer
	now        func() time.Time
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithClock sets the clock used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(c *Calculator) { c.now = now }
}

// WithScorers replaces the default sub-scorers. Exactly one scorer per
// sub-score type is required.
func WithScorers(scorers ...Scorer) Option {
	return func(c *Calculator) { c.scorers = scorers }
}

// NewCalculator returns a Calculator. The weight set must name exactly the
// five sub-score types.
func NewCalculator(weights weighted.Set, confidence *ConfidenceAssessor, opts ...Option) (*Calculator, error) {
	if !weights.Has(subScoreNames()...) {
		return nil, &model.InvalidInputError{Field: "mood_weights", Reason: "must name exactly the five sub-score types"}
	}
	if confidence == nil {
		return nil, &model.InvalidInputError{Field: "confidence", Reason: "assessor is required"}
	}
	c := &Calculator{
		weights:    weights,
		confidence: confidence,
		scorers:    DefaultScorers(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	seen := map[model.SubScoreType]bool{}
	for _, s := range c.scorers {
		if seen[s.Type()] {
			return nil, &model.InvalidInputError{Field: "scorers", Reason: fmt.Sprintf("duplicate scorer for %s", s.Type())}
		}
		seen[s.Type()] = true
	}
	if len(seen) != len(model.SubScoreTypes) {
		return nil, &model.InvalidInputError{Field: "scorers", Reason: "one scorer per sub-score type is required"}
	}
	return c, nil
}

// NewDefaultCalculator returns a Calculator with the standard weights.
func NewDefaultCalculator(opts ...Option) *Calculator {
	assessor, _ := NewConfidenceAssessor(DefaultConfidenceWeights())
	c, _ := NewCalculator(DefaultMoodWeights(), assessor, opts...)
	return c
}

// WithBaseline returns a copy whose historical scorer compares against baseline.
func (c *Calculator) WithBaseline(baseline float64) *Calculator {
	cp := *c
	cp.scorers = make([]Scorer, len(c.scorers))
	for i, s := range c.scorers {
		if _, ok := s.(HistoricalScorer); ok {
			s = HistoricalScorer{Baseline: baseline, HasBaseline: true}
		}
		cp.scorers[i] = s
	}
	return &cp
}

// Weights returns the mood weight set.
func (c *Calculator) Weights() weighted.Set { return c.weights }

// Combine returns the unrounded weighted sum. Sub-scores are matched by type,
// so their order does not matter.
func (c *Calculator) Combine(subs []model.SubScore) (float64, error) {
	values := make(map[string]float64, len(subs))
	for _, s := range subs {
		if err := ValidateSubScore(s.Type, s.Value); err != nil {
			return 0, err
		}
		if _, ok := c.weights.Weight(string(s.Type)); !ok {
			return 0, &model.InvalidSubScoreError{Type: s.Type, Value: s.Value, Reason: "unknown sub-score type"}
		}
		if _, dup := values[string(s.Type)]; dup {
			return 0, &model.InvalidSubScoreError{Type: s.Type, Value: s.Value, Reason: "duplicate sub-score type"}
		}
		values[string(s.Type)] = s.Value
	}
	for _, t := range model.SubScoreTypes {
		if _, ok := values[string(t)]; !ok {
			return 0, &model.InvalidSubScoreError{Type: t, Reason: "missing sub-score"}
		}
	}
	return c.weights.Combine(values)
}

// Calculate returns the mood score clamped to [0,10] and rounded to one decimal.
func (c *Calculator) Calculate(subs []model.SubScore) (float64, error) {
	raw, err := c.Combine(subs)
	if err != nil {
		return 0, err
	}
	return weighted.Round(weighted.Clamp(raw, MinSubScore, MaxSubScore), 1), nil
}

// Analyze scores a memory and returns version 1 of its MoodScore.
func (c *Calculator) Analyze(m model.Memory) (model.MoodScore, error) {
	return c.analyze(m, 1)
}

// Reanalyze scores a memory again. The previous score is not modified; the
// result carries the next version number.
func (c *Calculator) Reanalyze(prev model.MoodScore, m model.Memory) (model.MoodScore, error) {
	if prev.MemoryID != "" && prev.MemoryID != m.ID {
		return model.MoodScore{}, &model.InvalidInputError{ItemID: m.ID, Field: "memory_id", Reason: fmt.Sprintf("previous score belongs to %s", prev.MemoryID)}
	}
	return c.analyze(m, prev.Version+1)
}

func (c *Calculator) analyze(m model.Memory, version int) (model.MoodScore, error) {
	if m.ID == "" {
		return model.MoodScore{}, &model.InvalidInputError{Field: "id", Reason: "memory id is required"}
	}

	subs := make([]model.SubScore, 0, len(c.scorers))
	for _, s := range c.scorers {
		sub, err := s.Score(m)
		if err != nil {
			return model.MoodScore{}, err
		}
		w, _ := c.weights.Weight(string(sub.Type))
		sub.Weight = w
		subs = append(subs, sub)
	}

	score, err := c.Calculate(subs)
	if err != nil {
		return model.MoodScore{}, err
	}

	factors := DeriveFactors(m, subs)
	if m.Classifier.Confidence != nil {
		factors = *m.Classifier.Confidence
	}
	assessment, err := c.confidence.Assess(factors)
	if err != nil {
		return model.MoodScore{}, &model.InvalidInputError{ItemID: m.ID, Field: "confidence", Reason: err.Error()}
	}

	ms := model.MoodScore{
		ID:               fmt.Sprintf("%s/v%d", m.ID, version),
		MemoryID:         m.ID,
		Version:          version,
		Score:            score,
		Confidence:       assessment.Overall,
		Reliability:      assessment.Reliability,
		Descriptors:      describe(score, subs, m.Tone),
		SubScores:        subs,
		Factors:          assessment.Factors,
		UncertaintyAreas: assessment.UncertaintyAreas,
		Timestamp:        m.Timestamp,
		CreatedAt:        c.now().UTC(),
	}
	if assessment.Reliability == model.ReliabilityLow {
		ms.Warnings = append(ms.Warnings, model.LowConfidenceWarning(m.ID, assessment.Overall))
	}
	return ms, nil
}

// ScoreBand names the range a mood score falls in.
func ScoreBand(score float64) string {
	switch {
	case score >= 8.0:
		return "very positive"
	case score >= 6.5:
		return "positive"
	case score >= 4.5:
		return "neutral"
	case score >= 3.0:
		return "low"
	default:
		return "very low"
	}
}

// describe builds ordered descriptors: score band, prominent emotions, then
// the sub-score pulling furthest from neutral.
func describe(score float64, subs []model.SubScore, tone model.ToneIndicators) []string {
	out := []string{ScoreBand(score)}
	for _, e := range topWeighted(tone.Emotions, 2, 0.3) {
		out = append(out, e.name)
	}

	var driver model.SubScoreType
	best := 0.0
	for _, s := range subs {
		pull := math.Abs(s.Value-neutral) * s.Weight
		if pull > best {
			best = pull
			driver = s.Type
		}
	}
	if driver != "" {
		out = append(out, "driven by "+string(driver))
	}
	return out
}
