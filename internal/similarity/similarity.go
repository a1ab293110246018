// Package similarity computes weighted pairwise similarity between clustering
// feature vectors.
package similarity

import (
	"fmt"
	"math"

	"github.com/rcliao/agent-mood/internal/model"
	"github.com/rcliao/agent-mood/internal/weighted"
)

// Feature dimensions.
const (
	DimTone          = "tone"
	DimStyle         = "style"
	DimRelationship  = "relationship"
	DimPsychological = "psychological"
	DimTemporal      = "temporal"
)

// Dimensions lists the feature dimensions in declaration order.
var Dimensions = []string{DimTone, DimStyle, DimRelationship, DimPsychological, DimTemporal}

// Blend of numeric closeness and categorical agreement within a dimension.
const (
	numericShare     = 0.8
	categoricalShare = 0.2
)

// maxParticipants caps the participant count used in relationship similarity.
const maxParticipants = 5

// DefaultWeights returns the standard dimension weights.
func DefaultWeights() weighted.Set {
	return weighted.MustNew(
		weighted.Factor{Name: DimTone, Weight: 0.35},
		weighted.Factor{Name: DimStyle, Weight: 0.25},
		weighted.Factor{Name: DimRelationship, Weight: 0.20},
		weighted.Factor{Name: DimPsychological, Weight: 0.15},
		weighted.Factor{Name: DimTemporal, Weight: 0.05},
	)
}

// Breakdown is the per-dimension similarity of two memories and their
// weighted overall similarity.
type Breakdown struct {
	Tone          float64 `json:"tone"`
	Style         float64 `json:"style"`
	Relationship  float64 `json:"relationship"`
	Psychological float64 `json:"psychological"`
	Temporal      float64 `json:"temporal"`
	Overall       float64 `json:"overall"`
}

// Calculator computes symmetric similarity in [0,1].
type Calculator struct {
	weights weighted.Set
	metric  Metric
}

// NewCalculator returns a Calculator. The weight set must name exactly the
// five feature dimensions.
func NewCalculator(w weighted.Set, metric Metric) (*Calculator, error) {
	if !w.Has(Dimensions...) {
		return nil, &model.InvalidInputError{Field: "similarity_weights", Reason: "must name exactly the five feature dimensions"}
	}
	switch metric {
	case "":
		metric = MetricDistance
	case MetricDistance, MetricCosine:
	default:
		return nil, &model.InvalidInputError{Field: "similarity_metric", Reason: fmt.Sprintf("unknown metric %q", metric)}
	}
	return &Calculator{weights: w, metric: metric}, nil
}

// NewDefaultCalculator returns a Calculator with the standard weights and the
// distance metric.
func NewDefaultCalculator() *Calculator {
	return &Calculator{weights: DefaultWeights(), metric: MetricDistance}
}

// Weights returns the dimension weight set.
func (c *Calculator) Weights() weighted.Set { return c.weights }

// Similarity returns the weighted similarity of a and b. A memory compared
// with itself is exactly 1.
func (c *Calculator) Similarity(a, b model.ClusteringFeatures) float64 {
	return c.Compare(a, b).Overall
}

// Compare returns the per-dimension breakdown of a and b.
func (c *Calculator) Compare(a, b model.ClusteringFeatures) Breakdown {
	if a.MemoryID != "" && a.MemoryID == b.MemoryID {
		return Breakdown{Tone: 1, Style: 1, Relationship: 1, Psychological: 1, Temporal: 1, Overall: 1}
	}

	br := Breakdown{
		Tone: c.blend(toneVector(a), toneVector(b),
			a.Tone.Dominant == b.Tone.Dominant),
		Style: c.blend(styleVector(a), styleVector(b),
			a.Style.Label == b.Style.Label),
		Relationship: c.blend(relationshipVector(a), relationshipVector(b),
			a.Relationship.Context == b.Relationship.Context),
		Psychological: c.blend(psychVector(a), psychVector(b),
			a.Psychological.Coping == b.Psychological.Coping && a.Psychological.Tendency == b.Psychological.Tendency),
		Temporal: c.blend(temporalVector(a), temporalVector(b),
			a.Temporal.DayPart == b.Temporal.DayPart),
	}

	// NewCalculator guarantees the set names every dimension.
	overall, _ := c.weights.Combine(map[string]float64{
		DimTone:          br.Tone,
		DimStyle:         br.Style,
		DimRelationship:  br.Relationship,
		DimPsychological: br.Psychological,
		DimTemporal:      br.Temporal,
	})
	br.Overall = bounded(overall)
	return br
}

func (c *Calculator) blend(a, b Vector, match bool) float64 {
	cat := 0.0
	if match {
		cat = 1
	}
	return bounded(numericShare*c.metric.compare(a, b) + categoricalShare*cat)
}

// bounded clamps to [0,1] and trims float noise so identical inputs give exactly 1.
func bounded(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return weighted.Round(weighted.Clamp(v, 0, 1), 6)
}

func toneVector(f model.ClusteringFeatures) Vector {
	return Vector{signed(f.Tone.Valence), f.Tone.Arousal, f.Tone.Intensity, f.Tone.Mood}
}

func styleVector(f model.ClusteringFeatures) Vector {
	s := f.Style
	return Vector{s.Formality, s.Directness, s.Expressiveness, s.Supportiveness}
}

func relationshipVector(f model.ClusteringFeatures) Vector {
	r := f.Relationship
	n := math.Min(float64(r.Participants), maxParticipants) / maxParticipants
	return Vector{r.Closeness, r.Conflict, r.Support, n}
}

func psychVector(f model.ClusteringFeatures) Vector {
	p := f.Psychological
	return Vector{p.Resilience, p.Vulnerability, p.Growth, p.SelfReflection}
}

func temporalVector(f model.ClusteringFeatures) Vector {
	t := f.Temporal
	return Vector{signed(t.HourSin), signed(t.HourCos), signed(t.WeekdaySin), signed(t.WeekdayCos)}
}
