package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rcliao/agriplan/internal/model"
)

// SQLiteStore implements Store using SQLite. It keeps sessions across CLI
// invocations.
type SQLiteStore struct {
	db  *sql.DB
	ids *idGen
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{db: db, ids: newIDGen()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		id          TEXT NOT NULL,
		session     TEXT NOT NULL,
		stage       INTEGER NOT NULL,
		summary     TEXT NOT NULL,
		raw         TEXT NOT NULL,
		version     INTEGER NOT NULL DEFAULT 1,
		grounding   TEXT,
		created_at  TEXT NOT NULL,
		PRIMARY KEY (session, stage)
	);
	CREATE INDEX IF NOT EXISTS idx_entries_id ON entries(id);
	CREATE INDEX IF NOT EXISTS idx_entries_created ON entries(created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Put(ctx context.Context, p PutParams) (*model.MemoryEntry, error) {
	if err := validatePut(p); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	id := s.ids.next()

	grounding, err := encodeGrounding(p.Grounding)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var prevVersion int
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM entries WHERE session = ? AND stage = ?`,
		p.Session, int(p.Stage)).Scan(&prevVersion)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read previous entry: %w", err)
	}

	// The previous value is dropped, not kept as history.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM entries WHERE session = ? AND stage = ?`, p.Session, int(p.Stage)); err != nil {
		return nil, fmt.Errorf("replace entry: %w", err)
	}

	version := prevVersion + 1
	_, err = tx.ExecContext(ctx,
		`INSERT INTO entries (id, session, stage, summary, raw, version, grounding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, p.Session, int(p.Stage), p.Summary, p.Raw, version, grounding, now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &model.MemoryEntry{
		ID:        id,
		Session:   p.Session,
		Stage:     p.Stage,
		Summary:   p.Summary,
		Raw:       p.Raw,
		Version:   version,
		Grounding: copyGrounding(p.Grounding),
		CreatedAt: now,
	}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, p GetParams) (*model.MemoryEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session, stage, summary, raw, version, grounding, created_at
		 FROM entries WHERE session = ? AND stage = ?`, p.Session, int(p.Stage))
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, p.Session, p.Stage)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *SQLiteStore) List(ctx context.Context, p ListParams) ([]model.MemoryEntry, error) {
	var where []string
	var args []interface{}
	if p.Session != "" {
		where = append(where, "session = ?")
		args = append(args, p.Session)
	}

	query := `SELECT id, session, stage, summary, raw, version, grounding, created_at FROM entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY session, stage"
	if p.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, p.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.MemoryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Rm(ctx context.Context, p RmParams) error {
	if p.Stage == 0 {
		_, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE session = ?`, p.Session)
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM entries WHERE session = ? AND stage = ?`, p.Session, int(p.Stage))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, p.Session, p.Stage)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (model.MemoryEntry, error) {
	var e model.MemoryEntry
	var stage int
	var grounding sql.NullString
	var createdAt string

	err := row.Scan(&e.ID, &e.Session, &stage, &e.Summary, &e.Raw, &e.Version, &grounding, &createdAt)
	if err != nil {
		return e, err
	}
	e.Stage = model.Stage(stage)
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if grounding.Valid {
		e.Grounding, err = decodeGrounding(grounding.String)
		if err != nil {
			return e, err
		}
	}
	return e, nil
}

func encodeGrounding(g map[model.Stage]int) (*string, error) {
	if len(g) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("encode grounding: %w", err)
	}
	s := string(b)
	return &s, nil
}

func decodeGrounding(s string) (map[model.Stage]int, error) {
	if s == "" {
		return nil, nil
	}
	var g map[model.Stage]int
	if err := json.Unmarshal([]byte(s), &g); err != nil {
		return nil, fmt.Errorf("decode grounding: %w", err)
	}
	return g, nil
}
