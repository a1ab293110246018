package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rcliao/agent-mood/internal/pipeline"
	"github.com/rcliao/agent-mood/internal/store"
)

// restore loads the latest committed snapshot and known features into the
// analyzer's registry. An empty store leaves the registry at generation 0.
func restore(ctx context.Context, s store.Store, a *pipeline.Analyzer) error {
	snap, err := s.LatestSnapshot(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	fs, err := s.Features(ctx)
	if err != nil {
		return fmt.Errorf("load features: %w", err)
	}
	a.Registry().Restore(snap, fs)
	zerolog.Ctx(ctx).Debug().Int("generation", snap.Generation).Int("features", len(fs)).Msg("registry restored")
	return nil
}

// save persists every result a report carries. Scores are replaced by their
// stored versions.
func save(ctx context.Context, s store.Store, rep *pipeline.Report) error {
	if len(rep.Scores) > 0 {
		stored, err := s.SaveScores(ctx, rep.Scores)
		if err != nil {
			return fmt.Errorf("save scores: %w", err)
		}
		rep.Scores = stored
	}
	for _, id := range rep.ConversationIDs() {
		if err := s.SaveDeltas(ctx, id, rep.Deltas[id]); err != nil {
			return fmt.Errorf("save deltas: %w", err)
		}
	}
	if len(rep.Features) > 0 {
		if err := s.SaveFeatures(ctx, rep.Features); err != nil {
			return fmt.Errorf("save features: %w", err)
		}
	}
	if rep.Snapshot == nil {
		return nil
	}
	if err := s.SaveSnapshot(ctx, rep.Snapshot); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := s.SavePatterns(ctx, rep.Snapshot.Generation, rep.Patterns); err != nil {
		return fmt.Errorf("save patterns: %w", err)
	}
	zerolog.Ctx(ctx).Debug().Int("generation", rep.Snapshot.Generation).Msg("results saved")
	return nil
}
