// Package scoring turns classifier sub-scores into a normalized mood score
// with confidence.
package scoring

import (
	"fmt"
	"math"
	"sort"

	"github.com/rcliao/agent-mood/internal/model"
	"github.com/rcliao/agent-mood/internal/weighted"
)

// Sub-score bounds.
const (
	MinSubScore = 0.0
	MaxSubScore = 10.0
	neutral     = 5.0
)

// Scorer computes one bounded sub-score and its evidence for a memory.
// Implementations hold no mutable state and are safe for concurrent use.
type Scorer interface {
	Type() model.SubScoreType
	Score(m model.Memory) (model.SubScore, error)
}

// DefaultScorers returns the five standard scorers in canonical order.
func DefaultScorers() []Scorer {
	return []Scorer{
		SentimentScorer{},
		PsychologicalScorer{},
		RelationshipScorer{},
		FlowScorer{},
		HistoricalScorer{},
	}
}

// ValidateSubScore checks v is a finite value in [0,10].
func ValidateSubScore(t model.SubScoreType, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return &model.InvalidSubScoreError{Type: t, Value: v, Reason: "not a finite number"}
	}
	if v < MinSubScore || v > MaxSubScore {
		return &model.InvalidSubScoreError{Type: t, Value: v, Reason: "outside [0,10]"}
	}
	return nil
}

func classifierValue(m model.Memory, t model.SubScoreType) (model.SubScore, error) {
	raw, ok := m.Classifier.SubScores[t]
	if !ok {
		return model.SubScore{}, &model.InvalidSubScoreError{Type: t, Reason: "missing from classifier output"}
	}
	if err := ValidateSubScore(t, raw.Value); err != nil {
		return model.SubScore{}, err
	}
	evidence := make([]string, 0, len(raw.Evidence)+2)
	evidence = append(evidence, raw.Evidence...)
	return model.SubScore{Type: t, Value: raw.Value, RawScore: raw.Value, Evidence: evidence}, nil
}

// SentimentScorer scores overall emotional valence.
type SentimentScorer struct{}

func (SentimentScorer) Type() model.SubScoreType { return model.SubScoreSentiment }

func (s SentimentScorer) Score(m model.Memory) (model.SubScore, error) {
	sub, err := classifierValue(m, s.Type())
	if err != nil {
		return sub, err
	}
	for _, e := range topWeighted(m.Tone.Emotions, 2, 0) {
		sub.Evidence = append(sub.Evidence, fmt.Sprintf("emotion: %s (%.2f)", e.name, e.weight))
	}
	return sub, nil
}

// PsychologicalScorer scores psychological state indicators.
type PsychologicalScorer struct{}

func (PsychologicalScorer) Type() model.SubScoreType { return model.SubScorePsychological }

func (s PsychologicalScorer) Score(m model.Memory) (model.SubScore, error) {
	sub, err := classifierValue(m, s.Type())
	if err != nil {
		return sub, err
	}
	for _, c := range topWeighted(m.Psych.CopingStrategies, 2, 0) {
		sub.Evidence = append(sub.Evidence, fmt.Sprintf("coping: %s", c.name))
	}
	stressors := append([]string(nil), m.Psych.Stressors...)
	sort.Strings(stressors)
	if len(stressors) > 2 {
		stressors = stressors[:2]
	}
	for _, st := range stressors {
		sub.Evidence = append(sub.Evidence, fmt.Sprintf("stressor: %s", st))
	}
	return sub, nil
}

// RelationshipScorer scores the relational context of the conversation.
type RelationshipScorer struct{}

func (RelationshipScorer) Type() model.SubScoreType { return model.SubScoreRelationship }

func (s RelationshipScorer) Score(m model.Memory) (model.SubScore, error) {
	sub, err := classifierValue(m, s.Type())
	if err != nil {
		return sub, err
	}
	roles := map[string]bool{}
	for _, p := range m.Participants {
		if p.Role != "" && p.Role != model.RoleSelf {
			roles[p.Role] = true
		}
	}
	if len(roles) > 0 {
		names := make([]string, 0, len(roles))
		for r := range roles {
			names = append(names, r)
		}
		sort.Strings(names)
		sub.Evidence = append(sub.Evidence, fmt.Sprintf("participants: %v", names))
	}
	return sub, nil
}

// FlowScorer scores the conversational flow.
type FlowScorer struct{}

func (FlowScorer) Type() model.SubScoreType { return model.SubScoreFlow }

func (s FlowScorer) Score(m model.Memory) (model.SubScore, error) {
	sub, err := classifierValue(m, s.Type())
	if err != nil {
		return sub, err
	}
	if m.Style.Label != "" {
		sub.Evidence = append(sub.Evidence, fmt.Sprintf("style: %s", m.Style.Label))
	}
	return sub, nil
}

// HistoricalScorer compares a memory with the subject's baseline mood.
// When the classifier omits the historical sub-score it is derived from the
// baseline, or set to neutral if no baseline is known.
type HistoricalScorer struct {
	Baseline    float64
	HasBaseline bool
}

func (HistoricalScorer) Type() model.SubScoreType { return model.SubScoreHistorical }

func (s HistoricalScorer) Score(m model.Memory) (model.SubScore, error) {
	if _, ok := m.Classifier.SubScores[s.Type()]; ok {
		sub, err := classifierValue(m, s.Type())
		if err != nil {
			return sub, err
		}
		if s.HasBaseline {
			sub.Evidence = append(sub.Evidence, fmt.Sprintf("baseline: %.1f", s.Baseline))
		}
		return sub, nil
	}

	if !s.HasBaseline {
		return model.SubScore{
			Type:     s.Type(),
			Value:    neutral,
			RawScore: neutral,
			Evidence: []string{"no historical baseline"},
		}, nil
	}
	if err := ValidateSubScore(s.Type(), s.Baseline); err != nil {
		return model.SubScore{}, err
	}
	sentiment, ok := m.Classifier.SubScores[model.SubScoreSentiment]
	if !ok {
		return model.SubScore{}, &model.InvalidSubScoreError{Type: model.SubScoreSentiment, Reason: "missing from classifier output"}
	}
	v := weighted.Clamp(neutral+(sentiment.Value-s.Baseline)/2, MinSubScore, MaxSubScore)
	return model.SubScore{
		Type:     s.Type(),
		Value:    weighted.Round(v, 2),
		RawScore: s.Baseline,
		Evidence: []string{fmt.Sprintf("sentiment %.1f vs baseline %.1f", sentiment.Value, s.Baseline)},
	}, nil
}

type namedWeight struct {
	name   string
	weight float64
}

// topWeighted returns up to n entries above floor, highest first, ties by name.
func topWeighted(m map[string]float64, n int, floor float64) []namedWeight {
	out := make([]namedWeight, 0, len(m))
	for k, v := range m {
		if v > floor {
			out = append(out, namedWeight{k, v})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].weight != out[j].weight {
			return out[i].weight > out[j].weight
		}
		return out[i].name < out[j].name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
