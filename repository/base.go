// Package repository provides the gorm backed stores of the price sync service
package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrDuplicateRecord is returned by Save when a unique column already holds the value.
var ErrDuplicateRecord = errors.New("duplicate record")

// BaseRepository holds the generic lookups shared by the typed stores.
// F is the filter struct the concrete store interprets.
type BaseRepository[T any, F any] struct {
	DB *gorm.DB
}

func NewBaseRepository[T any, F any](db *gorm.DB) *BaseRepository[T, F] {
	return &BaseRepository[T, F]{DB: db}
}

func (r *BaseRepository[T, F]) getDB(ctx context.Context) *gorm.DB {
	return r.DB.WithContext(ctx)
}

// ByID returns the row with the given primary key, or nil if there is none.
func (r *BaseRepository[T, F]) ByID(ctx context.Context, id uint) (*T, error) {
	var entity T
	err := r.getDB(ctx).Where("id = ?", id).Take(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find entity by ID %d: %w", id, err)
	}
	return &entity, nil
}

// Save inserts entity. Rows are append-only, so there is no update path.
func (r *BaseRepository[T, F]) Save(ctx context.Context, entity *T) error {
	err := r.getDB(ctx).Create(entity).Error
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("failed to save entity: %w", ErrDuplicateRecord)
	case err != nil:
		return fmt.Errorf("failed to save entity: %w", err)
	}
	return nil
}
