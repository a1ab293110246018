package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/rcliao/agent-mood/internal/model"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB

	mu      sync.Mutex
	entropy *rand.Rand
	now     func() time.Time
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithClock sets the clock used for row timestamps and IDs.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) { s.now = now }
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String()
}

func (s *SQLiteStore) stamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS mood_scores (
		id          TEXT PRIMARY KEY,
		memory_id   TEXT NOT NULL,
		version     INTEGER NOT NULL,
		score       REAL NOT NULL,
		confidence  REAL NOT NULL,
		reliability TEXT NOT NULL,
		supersedes  TEXT,
		body        TEXT NOT NULL,
		created_at  TEXT NOT NULL,
		UNIQUE (memory_id, version)
	);
	CREATE INDEX IF NOT EXISTS idx_scores_memory ON mood_scores(memory_id, version DESC);

	CREATE TABLE IF NOT EXISTS mood_deltas (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		from_index      INTEGER NOT NULL,
		to_index        INTEGER NOT NULL,
		type            TEXT NOT NULL,
		body            TEXT NOT NULL,
		created_at      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_deltas_conversation ON mood_deltas(conversation_id, from_index, to_index);

	CREATE TABLE IF NOT EXISTS cluster_snapshots (
		generation INTEGER PRIMARY KEY,
		clusters   INTEGER NOT NULL,
		review     INTEGER NOT NULL,
		body       TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS features (
		memory_id  TEXT PRIMARY KEY,
		body       TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS patterns (
		id         TEXT PRIMARY KEY,
		generation INTEGER NOT NULL,
		type       TEXT NOT NULL,
		value      TEXT NOT NULL,
		frequency  INTEGER NOT NULL,
		strength   REAL NOT NULL,
		body       TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) SaveScores(ctx context.Context, scores []model.MoodScore) ([]model.MoodScore, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := s.stamp()
	out := make([]model.MoodScore, 0, len(scores))
	for _, ms := range scores {
		if ms.MemoryID == "" {
			return nil, &model.InvalidInputError{Field: "memory_id", Reason: "score has no memory"}
		}

		// Check for existing latest version
		var prevID string
		var prevVersion int
		err := tx.QueryRowContext(ctx,
			`SELECT id, version FROM mood_scores
			 WHERE memory_id = ? ORDER BY version DESC LIMIT 1`, ms.MemoryID).Scan(&prevID, &prevVersion)

		var supersedes *string
		switch {
		case err == nil:
			ms.Version = prevVersion + 1
			supersedes = &prevID
		case errors.Is(err, sql.ErrNoRows):
			ms.Version = 1
		default:
			return nil, fmt.Errorf("read score version: %w", err)
		}
		ms.ID = fmt.Sprintf("%s/v%d", ms.MemoryID, ms.Version)

		body, err := json.Marshal(ms)
		if err != nil {
			return nil, fmt.Errorf("encode score: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO mood_scores (id, memory_id, version, score, confidence, reliability, supersedes, body, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.newID(), ms.MemoryID, ms.Version, ms.Score, ms.Confidence, string(ms.Reliability), supersedes, string(body), now)
		if err != nil {
			return nil, fmt.Errorf("insert score: %w", err)
		}
		out = append(out, ms)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) Score(ctx context.Context, memoryID string, history bool) ([]model.MoodScore, error) {
	query := `SELECT body FROM mood_scores WHERE memory_id = ? ORDER BY version DESC`
	if !history {
		query += ` LIMIT 1`
	}
	rows, err := s.db.QueryContext(ctx, query, memoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scores []model.MoodScore
	for rows.Next() {
		var ms model.MoodScore
		if err := scanJSON(rows, &ms); err != nil {
			return nil, err
		}
		scores = append(scores, ms)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(scores) == 0 {
		return nil, fmt.Errorf("score for %s: %w", memoryID, ErrNotFound)
	}
	return scores, nil
}

func (s *SQLiteStore) SaveDeltas(ctx context.Context, conversationID string, deltas []model.MoodDelta) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM mood_deltas WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("clear deltas: %w", err)
	}
	now := s.stamp()
	for _, d := range deltas {
		body, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("encode delta: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO mood_deltas (id, conversation_id, from_index, to_index, type, body, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			s.newID(), conversationID, d.Window.FromIndex, d.Window.ToIndex, string(d.Type), string(body), now)
		if err != nil {
			return fmt.Errorf("insert delta: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Deltas(ctx context.Context, conversationID string) ([]model.MoodDelta, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM mood_deltas WHERE conversation_id = ?
		 ORDER BY from_index, to_index, type`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deltas := []model.MoodDelta{}
	for rows.Next() {
		var d model.MoodDelta
		if err := scanJSON(rows, &d); err != nil {
			return nil, err
		}
		deltas = append(deltas, d)
	}
	return deltas, rows.Err()
}

func (s *SQLiteStore) SaveFeatures(ctx context.Context, fs []model.ClusteringFeatures) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := s.stamp()
	for _, f := range fs {
		body, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("encode features: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO features (memory_id, body, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(memory_id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
			f.MemoryID, string(body), now)
		if err != nil {
			return fmt.Errorf("upsert features: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Features(ctx context.Context) ([]model.ClusteringFeatures, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM features ORDER BY memory_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fs []model.ClusteringFeatures
	for rows.Next() {
		var f model.ClusteringFeatures
		if err := scanJSON(rows, &f); err != nil {
			return nil, err
		}
		fs = append(fs, f)
	}
	return fs, rows.Err()
}

func (s *SQLiteStore) SavePatterns(ctx context.Context, generation int, ps []model.Pattern) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM patterns`); err != nil {
		return fmt.Errorf("clear patterns: %w", err)
	}
	now := s.stamp()
	for _, p := range ps {
		body, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode pattern: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO patterns (id, generation, type, value, frequency, strength, body, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, generation, string(p.Type), p.Value, p.Frequency, p.Strength, string(body), now)
		if err != nil {
			return fmt.Errorf("insert pattern: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Patterns(ctx context.Context) ([]model.Pattern, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM patterns ORDER BY frequency DESC, strength DESC, type, value`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ps := []model.Pattern{}
	for rows.Next() {
		var p model.Pattern
		if err := scanJSON(rows, &p); err != nil {
			return nil, err
		}
		ps = append(ps, p)
	}
	return ps, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJSON(row scanner, v any) error {
	var body string
	if err := row.Scan(&body); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return fmt.Errorf("decode row: %w", err)
	}
	return nil
}
