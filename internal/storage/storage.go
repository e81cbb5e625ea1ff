// Package storage defines the persistence interface for records.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/kioku/internal/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Storage defines record persistence operations.
type Storage interface {
	CreateRecord(ctx context.Context, rec *models.Record) error
	GetRecord(ctx context.Context, id int64) (*models.Record, error)
	UpdateRecord(ctx context.Context, rec *models.Record) error
	SetCompleted(ctx context.Context, id int64, completed bool) error
	DeleteRecord(ctx context.Context, id int64) error
	ListRecords(ctx context.Context, filter models.ListFilter) ([]*models.Record, error)
	// ListAllRecords returns every record, newest first.
	ListAllRecords(ctx context.Context) ([]*models.Record, error)

	// Stats
	CountRecords(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (*models.StoreStats, error)

	Close() error
}
