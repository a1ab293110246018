// Package model defines the records exchanged between the mood core and its
// external collaborators.
package model

import "time"

// Memory is one pre-extracted conversational unit as produced by the external
// ingestion/classification step. The core only reads it.
type Memory struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	Timestamp      time.Time     `json:"timestamp"`
	Participants   []Participant `json:"participants"`
	Summary        string        `json:"summary"`

	Classifier ClassifierOutput `json:"classifier"`
	Tone       ToneIndicators   `json:"tone"`
	Style      StyleIndicators  `json:"style"`
	Psych      PsychIndicators  `json:"psych"`

	MoodScoreID string `json:"mood_score_id,omitempty"`
	FeaturesRef string `json:"features_ref,omitempty"`
}

// Participant is a conversation member and the role they play for the subject.
type Participant struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// ClassifierOutput carries the five raw sub-scores and optional confidence
// factors computed by the external classifier.
type ClassifierOutput struct {
	SubScores  map[SubScoreType]RawSubScore `json:"sub_scores"`
	Confidence *ConfidenceFactors           `json:"confidence,omitempty"`
}

// RawSubScore is a classifier value in [0,10] with its supporting evidence.
type RawSubScore struct {
	Value    float64  `json:"value"`
	Evidence []string `json:"evidence,omitempty"`
}

// ToneIndicators are raw emotional tone signals.
// Emotions maps an emotion label to an intensity in [0,1].
type ToneIndicators struct {
	Emotions  map[string]float64 `json:"emotions,omitempty"`
	Valence   float64            `json:"valence"`   // [-1,1]
	Arousal   float64            `json:"arousal"`   // [0,1]
	Intensity float64            `json:"intensity"` // [0,1]
}

// StyleIndicators are raw communication style signals, all in [0,1].
type StyleIndicators struct {
	Label          string  `json:"label,omitempty"`
	Formality      float64 `json:"formality"`
	Directness     float64 `json:"directness"`
	Expressiveness float64 `json:"expressiveness"`
	Supportiveness float64 `json:"supportiveness"`
}

// PsychIndicators are raw psychological signals, numeric fields in [0,1].
type PsychIndicators struct {
	CopingStrategies map[string]float64 `json:"coping_strategies,omitempty"`
	Stressors        []string           `json:"stressors,omitempty"`
	Resilience       float64            `json:"resilience"`
	Vulnerability    float64            `json:"vulnerability"`
	Growth           float64            `json:"growth"`
	SelfReflection   float64            `json:"self_reflection"`
	Closeness        float64            `json:"closeness"`
	Conflict         float64            `json:"conflict"`
	Support          float64            `json:"support"`
}

// Participant roles understood by the relationship analysis.
const (
	RoleSelf      = "self"
	RolePartner   = "partner"
	RoleFamily    = "family"
	RoleFriend    = "friend"
	RoleColleague = "colleague"
	RoleTherapist = "therapist"
	RoleOther     = "other"
)

// RoleContexts maps a participant role to the relationship context it implies.
var RoleContexts = map[string]string{
	RolePartner:   "romantic",
	RoleFamily:    "family",
	RoleFriend:    "friendship",
	RoleColleague: "professional",
	RoleTherapist: "therapeutic",
	RoleOther:     "social",
}
