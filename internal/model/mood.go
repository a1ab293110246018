package model

import (
	"fmt"
	"time"
)

// SubScoreType names one mood dimension.
type SubScoreType string

const (
	SubScoreSentiment     SubScoreType = "sentiment"
	SubScorePsychological SubScoreType = "psychological"
	SubScoreRelationship  SubScoreType = "relationship"
	SubScoreFlow          SubScoreType = "conversational_flow"
	SubScoreHistorical    SubScoreType = "historical"
)

// SubScoreTypes lists every dimension in canonical order.
var SubScoreTypes = []SubScoreType{
	SubScoreSentiment,
	SubScorePsychological,
	SubScoreRelationship,
	SubScoreFlow,
	SubScoreHistorical,
}

// SubScore is one dimension's contribution to a MoodScore.
type SubScore struct {
	Type     SubScoreType `json:"type"`
	Value    float64      `json:"value"`
	Weight   float64      `json:"weight"`
	Evidence []string     `json:"evidence,omitempty"`
	RawScore float64      `json:"raw_score"`
}

// Reliability is the confidence band consumed by the review collaborator.
type Reliability string

const (
	ReliabilityHigh   Reliability = "high"
	ReliabilityMedium Reliability = "medium"
	ReliabilityLow    Reliability = "low"
)

// Reliability band edges. The review collaborator routes on these exact values.
const (
	HighConfidenceThreshold   = 0.75
	MediumConfidenceThreshold = 0.50
)

// ClassifyReliability bands a confidence value.
func ClassifyReliability(confidence float64) Reliability {
	switch {
	case confidence >= HighConfidenceThreshold:
		return ReliabilityHigh
	case confidence >= MediumConfidenceThreshold:
		return ReliabilityMedium
	default:
		return ReliabilityLow
	}
}

// ConfidenceFactors are the five independent inputs to overall confidence, each in [0,1].
type ConfidenceFactors struct {
	SentimentClarity      float64 `json:"sentiment_clarity"`
	ContextConsistency    float64 `json:"context_consistency"`
	IndicatorAlignment    float64 `json:"indicator_alignment"`
	HistoricalConsistency float64 `json:"historical_consistency"`
	LinguisticCertainty   float64 `json:"linguistic_certainty"`
}

// MoodScore is the immutable result of analyzing one memory.
type MoodScore struct {
	ID               string            `json:"id"`
	MemoryID         string            `json:"memory_id"`
	Version          int               `json:"version"`
	Score            float64           `json:"score"`
	Confidence       float64           `json:"confidence"`
	Reliability      Reliability       `json:"reliability"`
	Descriptors      []string          `json:"descriptors"`
	SubScores        []SubScore        `json:"sub_scores"`
	Factors          ConfidenceFactors `json:"factors"`
	UncertaintyAreas []string          `json:"uncertainty_areas,omitempty"`
	Warnings         []Warning         `json:"warnings,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
	CreatedAt        time.Time         `json:"created_at"`
}

// Direction is the sign of a mood transition.
type Direction string

const (
	DirectionPositive Direction = "positive"
	DirectionNegative Direction = "negative"
	DirectionNeutral  Direction = "neutral"
)

// DeltaType classifies a detected transition.
type DeltaType string

const (
	DeltaMoodRepair  DeltaType = "mood_repair"
	DeltaCelebration DeltaType = "celebration"
	DeltaDecline     DeltaType = "decline"
	DeltaPlateau     DeltaType = "plateau"
	DeltaGradual     DeltaType = "gradual"
	DeltaSudden      DeltaType = "sudden"
)

// TimeWindow locates a delta inside the sequence it was detected in.
type TimeWindow struct {
	FromIndex    int       `json:"from_index"`
	ToIndex      int       `json:"to_index"`
	FromMemoryID string    `json:"from_memory_id,omitempty"`
	ToMemoryID   string    `json:"to_memory_id,omitempty"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
}

// MoodDelta is a detected transition between two mood scores.
// Magnitude is always |ToScore - FromScore|.
type MoodDelta struct {
	FromScore    float64    `json:"from_score"`
	ToScore      float64    `json:"to_score"`
	Magnitude    float64    `json:"magnitude"`
	Direction    Direction  `json:"direction"`
	Type         DeltaType  `json:"type"`
	Significance float64    `json:"significance"`
	Confidence   float64    `json:"confidence"`
	Window       TimeWindow `json:"window"`
}

// Trend is the overall direction of a multi-week timeline.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendStable    Trend = "stable"
	TrendVolatile  Trend = "volatile"
)

// Warning is a non-fatal note attached to an output record.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Subject string `json:"subject,omitempty"`
}

// WarningLowConfidence marks output whose confidence falls in the low band.
const WarningLowConfidence = "low_confidence"

// LowConfidenceWarning builds the warning attached to low-reliability output.
func LowConfidenceWarning(subject string, confidence float64) Warning {
	return Warning{
		Code:    WarningLowConfidence,
		Message: fmt.Sprintf("confidence %.2f below %.2f", confidence, MediumConfidenceThreshold),
		Subject: subject,
	}
}

// ScorePoint is one mood score placed on a timeline.
// Confidence of 0 is treated as unknown.
type ScorePoint struct {
	MemoryID   string    `json:"memory_id"`
	Timestamp  time.Time `json:"timestamp"`
	Score      float64   `json:"score"`
	Confidence float64   `json:"confidence,omitempty"`
}

// Point returns the timeline point for a mood score.
func (m MoodScore) Point() ScorePoint {
	return ScorePoint{MemoryID: m.MemoryID, Timestamp: m.Timestamp, Score: m.Score, Confidence: m.Confidence}
}
