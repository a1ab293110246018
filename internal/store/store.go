// Package store persists analysis results: versioned mood scores, deltas per
// conversation, cluster snapshots by generation, features and patterns.
package store

import (
	"context"
	"errors"

	"github.com/rcliao/agent-mood/internal/cluster"
	"github.com/rcliao/agent-mood/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the result storage interface.
type Store interface {
	// SaveScores stores each score as the next version for its memory and
	// returns the scores with their stored versions.
	SaveScores(ctx context.Context, scores []model.MoodScore) ([]model.MoodScore, error)

	// Score returns the latest score of a memory, or every version with
	// history set, newest first.
	Score(ctx context.Context, memoryID string, history bool) ([]model.MoodScore, error)

	// SaveDeltas replaces the deltas recorded for a conversation.
	SaveDeltas(ctx context.Context, conversationID string, deltas []model.MoodDelta) error

	// Deltas returns the deltas of a conversation in window order.
	Deltas(ctx context.Context, conversationID string) ([]model.MoodDelta, error)

	// SaveSnapshot records a committed cluster generation.
	SaveSnapshot(ctx context.Context, s *cluster.Snapshot) error

	// LatestSnapshot returns the highest stored generation.
	LatestSnapshot(ctx context.Context) (*cluster.Snapshot, error)

	// SaveFeatures upserts clustering features by memory.
	SaveFeatures(ctx context.Context, fs []model.ClusteringFeatures) error

	// Features returns every stored feature vector ordered by memory ID.
	Features(ctx context.Context) ([]model.ClusteringFeatures, error)

	// SavePatterns replaces the stored patterns with those found at generation.
	SavePatterns(ctx context.Context, generation int, ps []model.Pattern) error

	// Patterns returns the stored patterns, most frequent first.
	Patterns(ctx context.Context) ([]model.Pattern, error)

	// Close closes the store.
	Close() error
}
