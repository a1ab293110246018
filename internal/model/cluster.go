package model

import "time"

// ClusteringFeatures is the five-part feature vector built for one memory.
type ClusteringFeatures struct {
	MemoryID      string                `json:"memory_id"`
	Tone          ToneFeatures          `json:"tone"`
	Style         StyleFeatures         `json:"style"`
	Relationship  RelationshipFeatures  `json:"relationship"`
	Psychological PsychologicalFeatures `json:"psychological"`
	Temporal      TemporalFeatures      `json:"temporal"`
}

// ToneFeatures summarizes emotional tone. Valence is in [-1,1], the rest in [0,1].
type ToneFeatures struct {
	Valence   float64 `json:"valence"`
	Arousal   float64 `json:"arousal"`
	Intensity float64 `json:"intensity"`
	Mood      float64 `json:"mood"`
	Dominant  string  `json:"dominant"`
}

// StyleFeatures summarizes communication style, numeric fields in [0,1].
type StyleFeatures struct {
	Formality      float64 `json:"formality"`
	Directness     float64 `json:"directness"`
	Expressiveness float64 `json:"expressiveness"`
	Supportiveness float64 `json:"supportiveness"`
	Label          string  `json:"label"`
}

// RelationshipFeatures summarizes relationship context, numeric fields in [0,1].
type RelationshipFeatures struct {
	Closeness    float64 `json:"closeness"`
	Conflict     float64 `json:"conflict"`
	Support      float64 `json:"support"`
	Participants int     `json:"participants"`
	Context      string  `json:"context"`
}

// PsychologicalFeatures summarizes psychological indicators, numeric fields in [0,1].
type PsychologicalFeatures struct {
	Resilience     float64 `json:"resilience"`
	Vulnerability  float64 `json:"vulnerability"`
	Growth         float64 `json:"growth"`
	SelfReflection float64 `json:"self_reflection"`
	Coping         string  `json:"coping"`
	Tendency       string  `json:"tendency"`
}

// TemporalFeatures encodes when a memory happened. The cyclic encodings are in [-1,1].
type TemporalFeatures struct {
	Timestamp  time.Time `json:"timestamp"`
	HourSin    float64   `json:"hour_sin"`
	HourCos    float64   `json:"hour_cos"`
	WeekdaySin float64   `json:"weekday_sin"`
	WeekdayCos float64   `json:"weekday_cos"`
	DayPart    string    `json:"day_part"`
}

// Theme is the dominant descriptor set of a cluster.
type Theme struct {
	Label        string   `json:"label"`
	Tone         string   `json:"tone"`
	Coping       string   `json:"coping"`
	Relationship string   `json:"relationship"`
	Tendency     string   `json:"tendency"`
	Descriptors  []string `json:"descriptors"`
}

// Span is the time range covered by a cluster's members.
type Span struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Cluster is a thematically coherent group of memories.
// Members is a set kept in sorted order.
type Cluster struct {
	ID                        string              `json:"id"`
	Theme                     Theme               `json:"theme"`
	Members                   []string            `json:"members"`
	Coherence                 float64             `json:"coherence"`
	PsychologicalSignificance float64             `json:"psychological_significance"`
	Meaningful                bool                `json:"meaningful"`
	Intensity                 float64             `json:"intensity"`
	Span                      Span                `json:"span"`
	Centroid                  *ClusteringFeatures `json:"centroid,omitempty"`
	Revision                  int                 `json:"revision"`
	Provisional               bool                `json:"provisional,omitempty"`
	Warnings                  []Warning           `json:"warnings,omitempty"`
}

// Size returns the member count.
func (c Cluster) Size() int { return len(c.Members) }

// HasMember reports whether id belongs to the cluster.
func (c Cluster) HasMember(id string) bool {
	for _, m := range c.Members {
		if m == id {
			return true
		}
	}
	return false
}

// PatternType classifies a cross-cluster pattern.
type PatternType string

const (
	PatternEmotionalTheme        PatternType = "emotional_theme"
	PatternCopingStyle           PatternType = "coping_style"
	PatternRelationshipDynamic   PatternType = "relationship_dynamic"
	PatternPsychologicalTendency PatternType = "psychological_tendency"
)

// Evolution describes how a pattern's strength moves over time.
type Evolution string

const (
	EvolutionEmerging Evolution = "emerging"
	EvolutionFading   Evolution = "fading"
	EvolutionSteady   Evolution = "steady"
)

// Pattern is a theme recurring across clusters.
type Pattern struct {
	ID         string      `json:"id"`
	Type       PatternType `json:"type"`
	Value      string      `json:"value"`
	Frequency  int         `json:"frequency"`
	Strength   float64     `json:"strength"`
	Confidence float64     `json:"confidence"`
	ClusterIDs []string    `json:"cluster_ids"`
	Evolution  Evolution   `json:"evolution"`
	FirstSeen  time.Time   `json:"first_seen"`
	LastSeen   time.Time   `json:"last_seen"`
}
