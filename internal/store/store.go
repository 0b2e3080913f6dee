package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andresmejia3/facelabel/internal/types"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// Store manages the PostgreSQL connection holding a persisted gallery.
type Store struct {
	conn *pgx.Conn
}

// Entry is a persisted gallery row.
type Entry struct {
	ID        int
	Label     string
	Embedding []float64
	CreatedAt time.Time
}

// IsURL reports whether a gallery location names a Postgres database rather than a file.
func IsURL(location string) bool {
	return strings.HasPrefix(location, "postgres://") || strings.HasPrefix(location, "postgresql://")
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	// The vector type only exists once the extension is created
	if err := pgxvec.RegisterTypes(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to register vector types: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the gallery table and vector extension if they don't exist.
// The embedding column is left dimensionless so galleries from different models can be stored.
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS gallery_entries (
			id SERIAL PRIMARY KEY,
			label TEXT NOT NULL,
			embedding VECTOR NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS gallery_entries_label_idx ON gallery_entries (label);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// ListEntries returns every gallery row in insertion (id) order, which is the gallery order.
func (s *Store) ListEntries(ctx context.Context) ([]Entry, error) {
	rows, err := s.conn.Query(ctx, "SELECT id, label, embedding, created_at FROM gallery_entries ORDER BY id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var vec pgvector.Vector
		if err := rows.Scan(&e.ID, &e.Label, &vec, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Embedding = fromVector(vec)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// LoadEntries returns the gallery rows as plain gallery entries.
func (s *Store) LoadEntries(ctx context.Context) ([]types.GalleryEntry, error) {
	rows, err := s.ListEntries(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]types.GalleryEntry, len(rows))
	for i, r := range rows {
		entries[i] = types.GalleryEntry{Label: r.Label, Embedding: r.Embedding}
	}
	return entries, nil
}

// InsertEntry appends a gallery entry and returns its ID.
func (s *Store) InsertEntry(ctx context.Context, e types.GalleryEntry) (int, error) {
	if e.Label == "" {
		return 0, errors.New("label is required")
	}
	var id int
	err := s.conn.QueryRow(ctx,
		"INSERT INTO gallery_entries (label, embedding) VALUES ($1, $2) RETURNING id",
		e.Label, toVector(e.Embedding),
	).Scan(&id)
	return id, err
}

// RenameLabel relabels every entry carrying oldLabel and returns the number of rows changed.
func (s *Store) RenameLabel(ctx context.Context, oldLabel, newLabel string) (int64, error) {
	tag, err := s.conn.Exec(ctx, "UPDATE gallery_entries SET label = $1 WHERE label = $2", newLabel, oldLabel)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Reset drops the gallery table to clear the database state.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `DROP TABLE IF EXISTS gallery_entries CASCADE;`)
	return err
}

// toVector narrows to float32, which is what pgvector stores.
func toVector(vec []float64) pgvector.Vector {
	f := make([]float32, len(vec))
	for i, v := range vec {
		f[i] = float32(v)
	}
	return pgvector.NewVector(f)
}

func fromVector(v pgvector.Vector) []float64 {
	s := v.Slice()
	out := make([]float64, len(s))
	for i, f := range s {
		out[i] = float64(f)
	}
	return out
}
