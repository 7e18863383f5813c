package repository

import (
	"context"
	"fmt"

	"github.com/amirphl/metal-price-sync/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PriceRunRepositoryImpl implements PriceRunRepository interface
type PriceRunRepositoryImpl struct {
	*BaseRepository[models.PriceRun, models.PriceRunFilter]
}

// NewPriceRunRepository creates a new price run repository
func NewPriceRunRepository(db *gorm.DB) PriceRunRepository {
	return &PriceRunRepositoryImpl{
		BaseRepository: NewBaseRepository[models.PriceRun, models.PriceRunFilter](db),
	}
}

// ByRunID retrieves a run by its public id. A missing run is (nil, nil).
func (r *PriceRunRepositoryImpl) ByRunID(ctx context.Context, runID uuid.UUID) (*models.PriceRun, error) {
	rows, err := r.ByFilter(ctx, models.PriceRunFilter{RunID: &runID}, "", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// Latest returns the most recently finished run, or nil if none exists.
func (r *PriceRunRepositoryImpl) Latest(ctx context.Context) (*models.PriceRun, error) {
	rows, err := r.ByFilter(ctx, models.PriceRunFilter{}, "finished_at DESC, id DESC", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *PriceRunRepositoryImpl) applyFilter(query *gorm.DB, filter models.PriceRunFilter) *gorm.DB {
	if filter.RunID != nil {
		query = query.Where("run_id = ?", *filter.RunID)
	}
	if filter.Trigger != nil {
		query = query.Where("trigger = ?", *filter.Trigger)
	}
	if filter.Outcome != nil {
		query = query.Where("outcome = ?", *filter.Outcome)
	}
	if filter.DryRun != nil {
		query = query.Where("dry_run = ?", *filter.DryRun)
	}
	if filter.CreatedAfter != nil {
		query = query.Where("created_at > ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		query = query.Where("created_at < ?", *filter.CreatedBefore)
	}
	return query
}

// ByFilter retrieves price runs based on filter criteria
func (r *PriceRunRepositoryImpl) ByFilter(ctx context.Context, filter models.PriceRunFilter, orderBy string, limit, offset int) ([]*models.PriceRun, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.PriceRun{}), filter)

	if orderBy == "" {
		orderBy = "id DESC"
	}
	query = query.Order(orderBy)

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var rows []*models.PriceRun
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list price runs: %w", err)
	}
	return rows, nil
}

// Count returns number of price runs matching filter
func (r *PriceRunRepositoryImpl) Count(ctx context.Context, filter models.PriceRunFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.PriceRun{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count price runs: %w", err)
	}
	return count, nil
}

// Exists checks if any price run matches the filter
func (r *PriceRunRepositoryImpl) Exists(ctx context.Context, filter models.PriceRunFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}
