// Package storage provides SQLite implementation of the Storage interface.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kioku/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	// AUTOINCREMENT guarantees ids are never reused after deletes.
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		raw TEXT NOT NULL,
		enhanced TEXT NOT NULL DEFAULT '',
		item_type TEXT NOT NULL DEFAULT 'note',
		is_completed INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_created_at ON records(created_at);
	CREATE INDEX IF NOT EXISTS idx_records_type ON records(item_type, is_completed);
	`
	_, err := db.Exec(schema)
	return err
}

const recordColumns = `id, raw, enhanced, item_type, is_completed, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var rec models.Record
	var itemType string
	if err := row.Scan(&rec.ID, &rec.RawContent, &rec.EnhancedContent, &itemType,
		&rec.Completed, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Type = models.ItemType(itemType)
	return &rec, nil
}

// CreateRecord inserts a record and sets its ID and timestamps.
func (s *SQLiteStorage) CreateRecord(ctx context.Context, rec *models.Record) error {
	if rec.Type == "" {
		rec.Type = models.ItemNote
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO records (raw, enhanced, item_type, is_completed, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.RawContent, rec.EnhancedContent, string(rec.Type), rec.Completed, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read record id: %w", err)
	}
	rec.ID = id
	return nil
}

// GetRecord returns a record by ID, or an error matching ErrNotFound.
func (s *SQLiteStorage) GetRecord(ctx context.Context, id int64) (*models.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// UpdateRecord updates content, type and completion of an existing record.
func (s *SQLiteStorage) UpdateRecord(ctx context.Context, rec *models.Record) error {
	rec.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE records SET raw = ?, enhanced = ?, item_type = ?, is_completed = ?, updated_at = ?
		 WHERE id = ?`,
		rec.RawContent, rec.EnhancedContent, string(rec.Type), rec.Completed, rec.UpdatedAt, rec.ID,
	)
	if err != nil {
		return err
	}
	return requireAffected(result, rec.ID)
}

// SetCompleted updates the completion flag of a record.
func (s *SQLiteStorage) SetCompleted(ctx context.Context, id int64, completed bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE records SET is_completed = ?, updated_at = ? WHERE id = ?`,
		completed, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return requireAffected(result, id)
}

// DeleteRecord removes a record by ID. Deleting a missing record returns ErrNotFound.
func (s *SQLiteStorage) DeleteRecord(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(result, id)
}

func requireAffected(result sql.Result, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

// ListRecords returns records matching filter, newest first.
func (s *SQLiteStorage) ListRecords(ctx context.Context, filter models.ListFilter) ([]*models.Record, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.Type != "" {
		conditions = append(conditions, "item_type = ?")
		args = append(args, string(filter.Type))
	}
	switch {
	case filter.PendingOnly:
		conditions = append(conditions, "is_completed = 0")
	case filter.CompletedOnly:
		conditions = append(conditions, "is_completed = 1")
	}
	query := `SELECT ` + recordColumns + ` FROM records`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ListAllRecords returns every record, newest first.
func (s *SQLiteStorage) ListAllRecords(ctx context.Context) ([]*models.Record, error) {
	return s.ListRecords(ctx, models.ListFilter{})
}

// CountRecords returns the total number of records.
func (s *SQLiteStorage) CountRecords(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&count)
	return count, err
}

// Stats returns record counts by type and task completion.
func (s *SQLiteStorage) Stats(ctx context.Context) (*models.StoreStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_type, is_completed, COUNT(*) FROM records GROUP BY item_type, is_completed`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &models.StoreStats{}
	for rows.Next() {
		var (
			itemType  string
			completed bool
			n         int64
		)
		if err := rows.Scan(&itemType, &completed, &n); err != nil {
			return nil, err
		}
		stats.Total += n
		switch models.ItemType(itemType) {
		case models.ItemNote:
			stats.Notes += n
		case models.ItemResource:
			stats.Resources += n
		case models.ItemTask:
			stats.Tasks += n
			if completed {
				stats.CompletedTasks += n
			} else {
				stats.PendingTasks += n
			}
		}
	}
	return stats, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
