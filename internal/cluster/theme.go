package cluster

import (
	"github.com/rcliao/agent-mood/internal/features"
	"github.com/rcliao/agent-mood/internal/model"
	"github.com/rcliao/agent-mood/internal/weighted"
)

// Unthemed labels a cluster whose members have no features.
const Unthemed = "unthemed"

// Significance factor names.
const (
	SignificanceCoherence = "coherence"
	SignificanceUnity     = "unity"
	SignificanceDepth     = "depth"
)

var significanceWeights = weighted.MustNew(
	weighted.Factor{Name: SignificanceCoherence, Weight: 0.5},
	weighted.Factor{Name: SignificanceUnity, Weight: 0.3},
	weighted.Factor{Name: SignificanceDepth, Weight: 0.2},
)

// Theme aggregates the dominant tone and psychological descriptors of fs.
func Theme(fs []model.ClusteringFeatures) model.Theme {
	if len(fs) == 0 {
		return model.Theme{Label: Unthemed}
	}
	tones := map[string]int{}
	coping := map[string]int{}
	relationships := map[string]int{}
	tendencies := map[string]int{}
	styles := map[string]int{}
	for _, f := range fs {
		tones[f.Tone.Dominant]++
		coping[f.Psychological.Coping]++
		relationships[f.Relationship.Context]++
		tendencies[f.Psychological.Tendency]++
		styles[f.Style.Label]++
	}

	t := model.Theme{
		Tone:         features.Mode(tones),
		Coping:       features.Mode(coping),
		Relationship: features.Mode(relationships),
		Tendency:     features.Mode(tendencies),
	}
	t.Label = t.Tendency + " " + t.Tone
	seen := map[string]bool{}
	for _, d := range []string{t.Tone, t.Coping, t.Relationship, t.Tendency, features.Mode(styles)} {
		if d != "" && !seen[d] {
			seen[d] = true
			t.Descriptors = append(t.Descriptors, d)
		}
	}
	return t
}

// unity is the fraction of members whose dominant tone matches the theme.
func unity(t model.Theme, fs []model.ClusteringFeatures) float64 {
	if len(fs) == 0 {
		return 0
	}
	n := 0
	for _, f := range fs {
		if f.Tone.Dominant == t.Tone {
			n++
		}
	}
	return float64(n) / float64(len(fs))
}

// depth measures how psychologically charged the members are.
func depth(fs []model.ClusteringFeatures) float64 {
	if len(fs) == 0 {
		return 0
	}
	sum := 0.0
	for _, f := range fs {
		p := f.Psychological
		sum += (f.Tone.Intensity + p.SelfReflection + p.Growth + p.Vulnerability) / 4
	}
	return sum / float64(len(fs))
}

// describe fills the derived fields of c from its member features.
func describe(c *model.Cluster, fs []model.ClusteringFeatures, cons Constraints) {
	c.Theme = Theme(fs)
	c.Warnings = nil

	if len(fs) == 0 {
		c.Centroid = nil
		c.Intensity = 0
		c.PsychologicalSignificance = c.Coherence
	} else {
		centroid := features.Centroid(fs)
		c.Centroid = &centroid
		c.Intensity = weighted.Round(centroid.Tone.Intensity, 4)
		c.Span = model.Span{Start: fs[0].Temporal.Timestamp, End: fs[0].Temporal.Timestamp}
		for _, f := range fs[1:] {
			ts := f.Temporal.Timestamp
			if ts.Before(c.Span.Start) {
				c.Span.Start = ts
			}
			if ts.After(c.Span.End) {
				c.Span.End = ts
			}
		}
		sig, _ := significanceWeights.Combine(map[string]float64{
			SignificanceCoherence: c.Coherence,
			SignificanceUnity:     unity(c.Theme, fs),
			SignificanceDepth:     depth(fs),
		})
		c.PsychologicalSignificance = sig
	}

	c.PsychologicalSignificance = weighted.Round(weighted.Clamp(c.PsychologicalSignificance, 0, 1), 4)
	c.Meaningful = c.PsychologicalSignificance >= cons.MeaningfulnessThreshold-eps
	if !c.Meaningful {
		c.Warnings = append(c.Warnings, model.Warning{
			Code:    WarningNotMeaningful,
			Message: "psychological significance below meaningfulness threshold",
			Subject: c.ID,
		})
	}
	if c.Size() > 1 && c.Coherence < model.MediumConfidenceThreshold {
		c.Warnings = append(c.Warnings, model.LowConfidenceWarning(c.ID, c.Coherence))
	}
	if c.Provisional {
		c.Warnings = append(c.Warnings, model.Warning{
			Code:    WarningProvisional,
			Message: "spawned outside a clustering run",
			Subject: c.ID,
		})
	}
}
