package cluster

import (
	"math"
	"sort"

	"github.com/rcliao/agent-mood/internal/features"
	"github.com/rcliao/agent-mood/internal/model"
	"github.com/rcliao/agent-mood/internal/similarity"
	"github.com/rcliao/agent-mood/internal/weighted"
)

// Flag is an edge case noted by the quality assessor.
type Flag string

const (
	FlagSingleton          Flag = "singleton"
	FlagAtCapacity         Flag = "at_capacity"
	FlagLowCoherence       Flag = "low_coherence"
	FlagNotMeaningful      Flag = "not_meaningful"
	FlagMixedRelationships Flag = "mixed_relationships"
)

// Recommendation is the assessor's feedback for the next registry update.
type Recommendation string

const (
	RecommendKeep          Recommendation = "keep"
	RecommendReviewMembers Recommendation = "review_members"
	RecommendSplit         Recommendation = "split"
)

// maxUnitVariance is the largest population variance of values in [0,1].
const maxUnitVariance = 0.25

// MemberScore is a member's similarity to its cluster centroid.
type MemberScore struct {
	MemoryID   string  `json:"memory_id"`
	Similarity float64 `json:"similarity"`
}

// Quality is the assessment of one cluster.
type Quality struct {
	ClusterID               string         `json:"cluster_id"`
	EmotionalConsistency    float64        `json:"emotional_consistency"`
	ThematicUnity           float64        `json:"thematic_unity"`
	RelationshipConsistency float64        `json:"relationship_consistency"`
	TemporalCoherence       float64        `json:"temporal_coherence"`
	Overall                 float64        `json:"overall"`
	Incoherent              []MemberScore  `json:"incoherent,omitempty"`
	Flags                   []Flag         `json:"flags,omitempty"`
	Recommendation          Recommendation `json:"recommendation"`
}

// HasFlag reports whether f was raised.
func (q Quality) HasFlag(f Flag) bool {
	for _, x := range q.Flags {
		if x == f {
			return true
		}
	}
	return false
}

// Assessor scores cluster quality.
type Assessor struct {
	c   Constraints
	sim *similarity.Calculator
}

// NewAssessor returns an Assessor that measures member fit with sim.
func NewAssessor(c Constraints, sim *similarity.Calculator) (*Assessor, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if sim == nil {
		return nil, &model.InvalidInputError{Field: "similarity", Reason: "calculator is required"}
	}
	return &Assessor{c: c, sim: sim}, nil
}

// Assess scores c against the features of its members. Features of
// non-members are ignored.
func (a *Assessor) Assess(c model.Cluster, fs []model.ClusteringFeatures) Quality {
	members := make([]model.ClusteringFeatures, 0, len(c.Members))
	for _, f := range fs {
		if c.HasMember(f.MemoryID) {
			members = append(members, f)
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].MemoryID < members[j].MemoryID })

	q := Quality{ClusterID: c.ID}
	if len(members) > 0 {
		q.EmotionalConsistency = emotionalConsistency(members)
		q.ThematicUnity = thematicUnity(c.Theme, members)
		q.RelationshipConsistency = relationshipConsistency(members)
		q.TemporalCoherence = temporalCoherence(members)
		q.Overall = weighted.Round((q.EmotionalConsistency+q.ThematicUnity+q.RelationshipConsistency+q.TemporalCoherence)/4, 4)
		q.Incoherent = a.incoherent(members)
	}

	if c.Size() == 1 {
		q.Flags = append(q.Flags, FlagSingleton)
	}
	if c.Size() >= a.c.MaxClusterSize {
		q.Flags = append(q.Flags, FlagAtCapacity)
	}
	lowCoherence := c.Coherence < a.c.CoherenceThreshold-eps || (len(members) > 0 && q.Overall < a.c.CoherenceThreshold-eps)
	if lowCoherence {
		q.Flags = append(q.Flags, FlagLowCoherence)
	}
	if !c.Meaningful {
		q.Flags = append(q.Flags, FlagNotMeaningful)
	}
	if len(members) > 0 && modalShare(members, func(f model.ClusteringFeatures) string { return f.Relationship.Context }) < 0.5 {
		q.Flags = append(q.Flags, FlagMixedRelationships)
	}

	switch {
	case lowCoherence && c.Size() >= 2*a.c.MinClusterSize:
		q.Recommendation = RecommendSplit
	case lowCoherence || len(q.Incoherent) > 0:
		q.Recommendation = RecommendReviewMembers
	default:
		q.Recommendation = RecommendKeep
	}
	return q
}

// incoherent ranks members whose similarity to the centroid falls below the
// coherence threshold, least similar first.
func (a *Assessor) incoherent(members []model.ClusteringFeatures) []MemberScore {
	if len(members) < 2 {
		return nil
	}
	centroid := features.Centroid(members)
	var out []MemberScore
	for _, f := range members {
		s := a.sim.Similarity(f, centroid)
		if s < a.c.CoherenceThreshold-eps {
			out = append(out, MemberScore{MemoryID: f.MemoryID, Similarity: s})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity < out[j].Similarity })
	return out
}

// emotionalConsistency inverts the mean variance of the tone fields.
func emotionalConsistency(fs []model.ClusteringFeatures) float64 {
	cols := [][]float64{
		column(fs, func(f model.ClusteringFeatures) float64 { return (f.Tone.Valence + 1) / 2 }),
		column(fs, func(f model.ClusteringFeatures) float64 { return f.Tone.Arousal }),
		column(fs, func(f model.ClusteringFeatures) float64 { return f.Tone.Intensity }),
		column(fs, func(f model.ClusteringFeatures) float64 { return f.Tone.Mood }),
	}
	return weighted.Round(1-meanVariance(cols)/maxUnitVariance, 4)
}

// thematicUnity is the mean share of members matching the theme's tone and coping.
func thematicUnity(t model.Theme, fs []model.ClusteringFeatures) float64 {
	var tone, coping int
	for _, f := range fs {
		if f.Tone.Dominant == t.Tone {
			tone++
		}
		if f.Psychological.Coping == t.Coping {
			coping++
		}
	}
	n := float64(len(fs))
	return weighted.Round((float64(tone)/n+float64(coping)/n)/2, 4)
}

// relationshipConsistency blends agreement on the relationship context with
// the spread of the relationship fields.
func relationshipConsistency(fs []model.ClusteringFeatures) float64 {
	share := modalShare(fs, func(f model.ClusteringFeatures) string { return f.Relationship.Context })
	cols := [][]float64{
		column(fs, func(f model.ClusteringFeatures) float64 { return f.Relationship.Closeness }),
		column(fs, func(f model.ClusteringFeatures) float64 { return f.Relationship.Conflict }),
		column(fs, func(f model.ClusteringFeatures) float64 { return f.Relationship.Support }),
	}
	return weighted.Round(0.5*share+0.5*(1-meanVariance(cols)/maxUnitVariance), 4)
}

// temporalCoherence is the mean resultant length of the members' hour-of-day
// angles: 1 when all share an hour, near 0 when spread around the clock.
func temporalCoherence(fs []model.ClusteringFeatures) float64 {
	var s, c float64
	for _, f := range fs {
		s += f.Temporal.HourSin
		c += f.Temporal.HourCos
	}
	n := float64(len(fs))
	return weighted.Round(weighted.Clamp(math.Hypot(s/n, c/n), 0, 1), 4)
}

func column(fs []model.ClusteringFeatures, get func(model.ClusteringFeatures) float64) []float64 {
	out := make([]float64, len(fs))
	for i, f := range fs {
		out[i] = get(f)
	}
	return out
}

func meanVariance(cols [][]float64) float64 {
	total := 0.0
	for _, col := range cols {
		mean := 0.0
		for _, v := range col {
			mean += v
		}
		mean /= float64(len(col))
		v := 0.0
		for _, x := range col {
			v += (x - mean) * (x - mean)
		}
		total += v / float64(len(col))
	}
	return weighted.Clamp(total/float64(len(cols)), 0, maxUnitVariance)
}

func modalShare(fs []model.ClusteringFeatures, get func(model.ClusteringFeatures) string) float64 {
	counts := map[string]int{}
	for _, f := range fs {
		counts[get(f)]++
	}
	mode := features.Mode(counts)
	if mode == features.MixedContext {
		return 0
	}
	return float64(counts[mode]) / float64(len(fs))
}
