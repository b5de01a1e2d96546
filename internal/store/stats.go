package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath        string         `json:"db_path"`
	DBSizeBytes   int64          `json:"db_size_bytes"`
	TotalEntries  int            `json:"total_entries"`
	TotalSessions int            `json:"total_sessions"`
	Sessions      []SessionStats `json:"sessions"`
}

// SessionStats holds per-session counts.
type SessionStats struct {
	Session   string `json:"session"`
	Entries   int    `json:"entries"`
	LastWrite string `json:"last_write"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context, dbPath string) (*Stats, error) {
	st := &Stats{DBPath: dbPath}

	if info, err := os.Stat(dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&st.TotalEntries)
	s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT session) FROM entries`).Scan(&st.TotalSessions)

	rows, err := s.db.QueryContext(ctx, `
		SELECT session, COUNT(*) AS cnt, MAX(created_at) AS last_write
		FROM entries GROUP BY session ORDER BY last_write DESC`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var ss SessionStats
		if err := rows.Scan(&ss.Session, &ss.Entries, &ss.LastWrite); err != nil {
			return st, err
		}
		st.Sessions = append(st.Sessions, ss)
	}
	return st, rows.Err()
}
