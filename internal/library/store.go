// Package library keeps the local record of media accepted into the
// catalog, so the UI can render albums without round-tripping the remote
// API and so a local file reference can later be promoted to its durable
// cloud URL.
package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a media record does not exist.
var ErrNotFound = errors.New("media record not found")

// MediaRecord is one accepted photo.
type MediaRecord struct {
	ID         string
	AlbumLabel string
	OwnerID    string
	SourceURL  string
	CreatedAt  time.Time
	Caption    string
}

// Store persists media records in a local sqlite database.
type Store struct {
	db *sql.DB
}

// Open creates (or reuses) the library database under dataDir.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "library.db")

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

const schema = `CREATE TABLE IF NOT EXISTS media (
	id          TEXT PRIMARY KEY,
	album_label TEXT NOT NULL,
	owner_id    TEXT NOT NULL DEFAULT '',
	source_url  TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	caption     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_media_album ON media(album_label);`

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a record. A missing id is generated.
func (s *Store) Create(ctx context.Context, rec *MediaRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO media (id, album_label, owner_id, source_url, created_at, caption)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.AlbumLabel, rec.OwnerID, rec.SourceURL,
		rec.CreatedAt.Format(time.RFC3339Nano), rec.Caption)
	if err != nil {
		return fmt.Errorf("insert media: %w", err)
	}
	return nil
}

// Get fetches one record by id.
func (s *Store) Get(ctx context.Context, id string) (*MediaRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, album_label, owner_id, source_url, created_at, caption
		 FROM media WHERE id = ?`, id)
	return scanRecord(row)
}

// ListByAlbum returns the records for one album label, newest first.
func (s *Store) ListByAlbum(ctx context.Context, albumLabel string) ([]*MediaRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, album_label, owner_id, source_url, created_at, caption
		 FROM media WHERE album_label = ? ORDER BY created_at DESC`, albumLabel)
	if err != nil {
		return nil, fmt.Errorf("list media: %w", err)
	}
	defer rows.Close()

	var out []*MediaRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Promote replaces a record's source URL with its durable cloud URL.
// A source already promoted to https is never reverted to a local path.
func (s *Store) Promote(ctx context.Context, id, cloudURL string) error {
	if !strings.HasPrefix(cloudURL, "https://") && !strings.HasPrefix(cloudURL, "http://") {
		return fmt.Errorf("refusing to demote media %s to non-durable URL %q", id, cloudURL)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE media SET source_url = ?
		 WHERE id = ? AND source_url NOT LIKE 'https://%'`,
		cloudURL, id)
	if err != nil {
		return fmt.Errorf("promote media: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either missing or already durable; distinguish for the caller.
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes one record.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM media WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete media: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteBulk removes many records, returning how many existed.
func (s *Store) DeleteBulk(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM media WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("bulk delete media: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*MediaRecord, error) {
	var rec MediaRecord
	var created string
	err := row.Scan(&rec.ID, &rec.AlbumLabel, &rec.OwnerID, &rec.SourceURL, &created, &rec.Caption)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan media: %w", err)
	}
	rec.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", created, err)
	}
	return &rec, nil
}
