package scoring

import (
	"math"

	"github.com/rcliao/agent-mood/internal/model"
	"github.com/rcliao/agent-mood/internal/weighted"
)

// Confidence factor names.
const (
	FactorSentimentClarity      = "sentiment_clarity"
	FactorContextConsistency    = "context_consistency"
	FactorIndicatorAlignment    = "indicator_alignment"
	FactorHistoricalConsistency = "historical_consistency"
	FactorLinguisticCertainty   = "linguistic_certainty"
)

// FactorNames lists the confidence factors in declaration order.
var FactorNames = []string{
	FactorSentimentClarity,
	FactorContextConsistency,
	FactorIndicatorAlignment,
	FactorHistoricalConsistency,
	FactorLinguisticCertainty,
}

// UncertaintyThreshold is the factor value below which a factor is reported
// as an uncertainty area.
const UncertaintyThreshold = 0.5

// DefaultConfidenceWeights returns the standard confidence factor weights.
func DefaultConfidenceWeights() weighted.Set {
	return weighted.MustNew(
		weighted.Factor{Name: FactorSentimentClarity, Weight: 0.30},
		weighted.Factor{Name: FactorContextConsistency, Weight: 0.25},
		weighted.Factor{Name: FactorIndicatorAlignment, Weight: 0.20},
		weighted.Factor{Name: FactorHistoricalConsistency, Weight: 0.15},
		weighted.Factor{Name: FactorLinguisticCertainty, Weight: 0.10},
	)
}

// Assessment is the overall confidence of one mood score.
type Assessment struct {
	Overall          float64                 `json:"overall"`
	Reliability      model.Reliability       `json:"reliability"`
	Factors          model.ConfidenceFactors `json:"factors"`
	UncertaintyAreas []string                `json:"uncertainty_areas,omitempty"`
}

// ConfidenceAssessor combines confidence factors with a validated weight set.
type ConfidenceAssessor struct {
	weights weighted.Set
}

// NewConfidenceAssessor returns an assessor. The weight set must name exactly
// the five confidence factors.
func NewConfidenceAssessor(w weighted.Set) (*ConfidenceAssessor, error) {
	if !w.Has(FactorNames...) {
		return nil, &model.InvalidInputError{Field: "confidence_weights", Reason: "must name exactly the five confidence factors"}
	}
	return &ConfidenceAssessor{weights: w}, nil
}

// Assess returns the weighted overall confidence, its reliability band and
// the factors that fall below UncertaintyThreshold.
func (a *ConfidenceAssessor) Assess(f model.ConfidenceFactors) (Assessment, error) {
	values := factorValues(f)
	for _, name := range FactorNames {
		v := values[name]
		if math.IsNaN(v) || v < 0 || v > 1 {
			return Assessment{}, &model.InvalidInputError{Field: name, Reason: "confidence factor outside [0,1]"}
		}
	}

	overall, err := a.weights.Combine(values)
	if err != nil {
		return Assessment{}, err
	}
	overall = weighted.Clamp(overall, 0, 1)
	// Band on the full value; 9 places only drops float summation error.
	band := model.ClassifyReliability(weighted.Round(overall, 9))

	var areas []string
	for _, name := range FactorNames {
		if values[name] < UncertaintyThreshold {
			areas = append(areas, name)
		}
	}

	return Assessment{
		Overall:          weighted.Round(overall, 3),
		Reliability:      band,
		Factors:          f,
		UncertaintyAreas: areas,
	}, nil
}

func factorValues(f model.ConfidenceFactors) map[string]float64 {
	return map[string]float64{
		FactorSentimentClarity:      f.SentimentClarity,
		FactorContextConsistency:    f.ContextConsistency,
		FactorIndicatorAlignment:    f.IndicatorAlignment,
		FactorHistoricalConsistency: f.HistoricalConsistency,
		FactorLinguisticCertainty:   f.LinguisticCertainty,
	}
}

// DeriveFactors computes confidence factors from sub-score agreement and
// clarity when the classifier did not provide them.
func DeriveFactors(m model.Memory, subs []model.SubScore) model.ConfidenceFactors {
	byType := make(map[model.SubScoreType]model.SubScore, len(subs))
	evidence := 0
	values := make([]float64, 0, len(subs))
	for _, s := range subs {
		byType[s.Type] = s
		evidence += len(s.Evidence)
		values = append(values, s.Value)
	}

	sentiment := byType[model.SubScoreSentiment]
	psych := byType[model.SubScorePsychological]
	historical := byType[model.SubScoreHistorical]

	clarity := 0.6*math.Abs(sentiment.Value-neutral)/neutral + 0.4*math.Min(1, float64(len(sentiment.Evidence))/3)

	consistency := 1 - stddev(values)/neutral

	alignment := 1 - math.Abs(sentiment.Value-psych.Value)/MaxSubScore
	if len(m.Tone.Emotions) > 0 || m.Tone.Valence != 0 {
		toneAgreement := 1 - math.Abs(sentiment.Value/MaxSubScore-(m.Tone.Valence+1)/2)
		alignment = (alignment + toneAgreement) / 2
	}

	historicalConsistency := 1 - math.Abs(sentiment.Value-historical.Value)/MaxSubScore

	certainty := math.Min(1, float64(evidence)/float64(2*len(model.SubScoreTypes)))

	return model.ConfidenceFactors{
		SentimentClarity:      unit(clarity),
		ContextConsistency:    unit(consistency),
		IndicatorAlignment:    unit(alignment),
		HistoricalConsistency: unit(historicalConsistency),
		LinguisticCertainty:   unit(certainty),
	}
}

func unit(v float64) float64 {
	return weighted.Round(weighted.Clamp(v, 0, 1), 3)
}

func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	sq := 0.0
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return math.Sqrt(sq / float64(len(values)))
}
