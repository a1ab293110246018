package store

import (
	"context"
	"errors"

	"github.com/rcliao/agent-mood/internal/cluster"
	"github.com/rcliao/agent-mood/internal/model"
)

// Export is a full dump of the stored results.
type Export struct {
	Scores   []model.MoodScore            `json:"scores"`
	Deltas   map[string][]model.MoodDelta `json:"deltas"`
	Snapshot *cluster.Snapshot            `json:"snapshot,omitempty"`
	Features []model.ClusteringFeatures   `json:"features"`
	Patterns []model.Pattern              `json:"patterns"`
}

// ExportAll returns every score version, the deltas of every conversation,
// the latest snapshot, features and patterns.
func (s *SQLiteStore) ExportAll(ctx context.Context) (*Export, error) {
	out := &Export{Deltas: map[string][]model.MoodDelta{}}

	rows, err := s.db.QueryContext(ctx, `SELECT body FROM mood_scores ORDER BY memory_id, version`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var ms model.MoodScore
		if err := scanJSON(rows, &ms); err != nil {
			rows.Close()
			return nil, err
		}
		out.Scores = append(out.Scores, ms)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT DISTINCT conversation_id FROM mood_deltas ORDER BY conversation_id`)
	if err != nil {
		return nil, err
	}
	var conversations []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		conversations = append(conversations, id)
	}
	rows.Close()
	for _, id := range conversations {
		ds, err := s.Deltas(ctx, id)
		if err != nil {
			return nil, err
		}
		out.Deltas[id] = ds
	}

	snap, err := s.LatestSnapshot(ctx)
	switch {
	case err == nil:
		out.Snapshot = snap
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	if out.Features, err = s.Features(ctx); err != nil {
		return nil, err
	}
	if out.Patterns, err = s.Patterns(ctx); err != nil {
		return nil, err
	}
	return out, nil
}
