package repository

import (
	"context"

	"github.com/amirphl/metal-price-sync/models"
	"github.com/google/uuid"
)

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// PriceRunRepository defines operations for the price run audit trail
type PriceRunRepository interface {
	Repository[models.PriceRun, models.PriceRunFilter]
	ByRunID(ctx context.Context, runID uuid.UUID) (*models.PriceRun, error)
	Latest(ctx context.Context) (*models.PriceRun, error)
}
