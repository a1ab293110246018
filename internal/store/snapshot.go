package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rcliao/agent-mood/internal/cluster"
)

// SaveSnapshot records s under its generation. Saving a generation twice
// keeps the first copy, since a committed snapshot never changes.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *cluster.Snapshot) error {
	if snap == nil {
		return errors.New("save snapshot: nil snapshot")
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO cluster_snapshots (generation, clusters, review, body, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		snap.Generation, len(snap.Clusters), len(snap.Review), string(body), s.stamp())
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LatestSnapshot(ctx context.Context) (*cluster.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT body FROM cluster_snapshots ORDER BY generation DESC LIMIT 1`)
	return scanSnapshot(row, "latest snapshot")
}

// Snapshot returns a specific generation.
func (s *SQLiteStore) Snapshot(ctx context.Context, generation int) (*cluster.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT body FROM cluster_snapshots WHERE generation = ?`, generation)
	return scanSnapshot(row, fmt.Sprintf("snapshot %d", generation))
}

func scanSnapshot(row scanner, what string) (*cluster.Snapshot, error) {
	var snap cluster.Snapshot
	err := scanJSON(row, &snap)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}
