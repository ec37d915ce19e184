package indexdb

import (
	"context"
	"database/sql"
	"fmt"

	"fixturecraft.ai/internal/sim/model"
	"fixturecraft.ai/internal/sim/placement"
)

// PreviewStore is the dedicated save file for the preview registry. Unlike
// the history index it writes synchronously: a checkpoint is not complete
// until the registry is on disk.
type PreviewStore struct {
	db *sql.DB
}

var previewSchema = []string{
	`CREATE TABLE IF NOT EXISTS previews (
		fixture INTEGER PRIMARY KEY,
		mobile INTEGER NOT NULL
	);`,
}

func OpenPreviewStore(path string) (*PreviewStore, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	// The registry must survive power loss.
	if _, err := db.Exec("PRAGMA synchronous=FULL;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := execAll(db, previewSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PreviewStore{db: db}, nil
}

func (s *PreviewStore) Close() error { return s.db.Close() }

// SavePreviews replaces the stored registry with entries.
func (s *PreviewStore) SavePreviews(ctx context.Context, entries []placement.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM previews`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO previews(fixture,mobile) VALUES(?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, int64(e.Fixture), int64(e.Mobile)); err != nil {
			return fmt.Errorf("preview %d: %w", e.Fixture, err)
		}
	}
	return tx.Commit()
}

// LoadPreviews returns the stored registry ordered by fixture serial.
func (s *PreviewStore) LoadPreviews(ctx context.Context) ([]placement.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT fixture,mobile FROM previews ORDER BY fixture`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []placement.Entry
	for rows.Next() {
		var f, m int64
		if err := rows.Scan(&f, &m); err != nil {
			return nil, err
		}
		out = append(out, placement.Entry{Fixture: model.Serial(f), Mobile: model.Serial(m)})
	}
	return out, rows.Err()
}

var _ placement.Store = (*PreviewStore)(nil)
