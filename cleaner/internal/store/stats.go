package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Stats are the totals shown to the user.
type Stats struct {
	TotalBlurred  int64 `json:"total_blurred"`
	TotalEnlarged int64 `json:"total_enlarged"`
	Sites         int64 `json:"sites"`
	Rules         int64 `json:"rules"`
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func incrementStat(ctx context.Context, db execer, key string, by int64) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO stats (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = value + excluded.value`, key, by)
	if err != nil {
		return fmt.Errorf("store: increment %s: %w", key, err)
	}
	return nil
}

// IncrementStat adds by to counter key.
func (s *Store) IncrementStat(ctx context.Context, key string, by int64) error {
	return incrementStat(ctx, s.DB, key, by)
}

// Stats returns the counters and current rule totals.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	err := s.DB.QueryRowContext(ctx, `
		SELECT
			COALESCE((SELECT value FROM stats WHERE key = 'total_blurred'), 0),
			COALESCE((SELECT value FROM stats WHERE key = 'total_enlarged'), 0),
			(SELECT COUNT(DISTINCT origin) FROM rules),
			(SELECT COUNT(*) FROM rules)`).
		Scan(&st.TotalBlurred, &st.TotalEnlarged, &st.Sites, &st.Rules)
	if err != nil {
		return nil, fmt.Errorf("store: stats: %w", err)
	}
	return st, nil
}
