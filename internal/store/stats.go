package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath           string           `json:"db_path"`
	DBSizeBytes      int64            `json:"db_size_bytes"`
	TotalScores      int              `json:"total_scores"`
	ScoredMemories   int              `json:"scored_memories"`
	TotalDeltas      int              `json:"total_deltas"`
	Conversations    int              `json:"conversations"`
	Snapshots        int              `json:"snapshots"`
	LatestGeneration int              `json:"latest_generation"`
	Features         int              `json:"features"`
	Patterns         int              `json:"patterns"`
	DeltaTypes       []DeltaTypeStats `json:"delta_types"`
}

// DeltaTypeStats holds per-type delta counts.
type DeltaTypeStats struct {
	Type          string `json:"type"`
	Count         int    `json:"count"`
	Conversations int    `json:"conversations"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context, dbPath string) (*Stats, error) {
	st := &Stats{DBPath: dbPath}

	// DB file size
	if info, err := os.Stat(dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM mood_scores`, &st.TotalScores},
		{`SELECT COUNT(DISTINCT memory_id) FROM mood_scores`, &st.ScoredMemories},
		{`SELECT COUNT(*) FROM mood_deltas`, &st.TotalDeltas},
		{`SELECT COUNT(DISTINCT conversation_id) FROM mood_deltas`, &st.Conversations},
		{`SELECT COUNT(*) FROM cluster_snapshots`, &st.Snapshots},
		{`SELECT COALESCE(MAX(generation), 0) FROM cluster_snapshots`, &st.LatestGeneration},
		{`SELECT COUNT(*) FROM features`, &st.Features},
		{`SELECT COUNT(*) FROM patterns`, &st.Patterns},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return st, err
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT type, COUNT(*) as cnt, COUNT(DISTINCT conversation_id) as convs
		FROM mood_deltas GROUP BY type ORDER BY cnt DESC, type`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var d DeltaTypeStats
		if err := rows.Scan(&d.Type, &d.Count, &d.Conversations); err != nil {
			return st, err
		}
		st.DeltaTypes = append(st.DeltaTypes, d)
	}

	return st, rows.Err()
}
