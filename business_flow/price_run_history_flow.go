package businessflow

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/metal-price-sync/models"
	"github.com/amirphl/metal-price-sync/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultRunPageSize = 20
	maxRunPageSize     = 100
)

// RunListQuery filters the audit trail.
type RunListQuery struct {
	Trigger       *string
	Outcome       *string
	DryRun        *bool
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Page          int
	PageSize      int
}

// RunPage is one page of audit rows.
type RunPage struct {
	Runs     []*models.PriceRun
	Total    int64
	Page     int
	PageSize int
}

// PriceRunHistoryFlow persists finalized reports and serves them back.
// It is also a ReportSink so that every run lands in the audit trail.
type PriceRunHistoryFlow interface {
	ReportSink
	ListRuns(ctx context.Context, q RunListQuery) (*RunPage, error)
	GetRun(ctx context.Context, runID uuid.UUID) (*models.PriceRun, error)
	LatestRun(ctx context.Context) (*models.PriceRun, error)
}

// PriceRunHistoryFlowImpl implements PriceRunHistoryFlow
type PriceRunHistoryFlowImpl struct {
	runRepo repository.PriceRunRepository
	logger  *zap.Logger
}

func NewPriceRunHistoryFlow(runRepo repository.PriceRunRepository, logger *zap.Logger) PriceRunHistoryFlow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PriceRunHistoryFlowImpl{runRepo: runRepo, logger: logger}
}

func (f *PriceRunHistoryFlowImpl) Name() string {
	return "audit"
}

// Deliver stores the counters and outcome of a finalized report.
func (f *PriceRunHistoryFlowImpl) Deliver(ctx context.Context, report *models.RunReport) error {
	if report == nil || !report.Finalized {
		return NewBusinessError("REPORT_NOT_FINALIZED", "only finalized reports are recorded", nil)
	}
	row := models.NewPriceRunFromReport(report)
	if err := f.runRepo.Save(ctx, row); err != nil {
		return fmt.Errorf("failed to record price run %s: %w", report.RunID, err)
	}
	f.logger.Debug("price run recorded", zap.String("run_id", report.RunID.String()), zap.Uint("id", row.ID))
	return nil
}

func (f *PriceRunHistoryFlowImpl) ListRuns(ctx context.Context, q RunListQuery) (*RunPage, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = defaultRunPageSize
	}
	if q.PageSize > maxRunPageSize {
		q.PageSize = maxRunPageSize
	}

	filter := models.PriceRunFilter{
		Trigger:       q.Trigger,
		Outcome:       q.Outcome,
		DryRun:        q.DryRun,
		CreatedAfter:  q.CreatedAfter,
		CreatedBefore: q.CreatedBefore,
	}

	total, err := f.runRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("RUN_HISTORY_FAILED", "failed to count price runs", err)
	}
	runs, err := f.runRepo.ByFilter(ctx, filter, "id DESC", q.PageSize, (q.Page-1)*q.PageSize)
	if err != nil {
		return nil, NewBusinessError("RUN_HISTORY_FAILED", "failed to list price runs", err)
	}

	return &RunPage{Runs: runs, Total: total, Page: q.Page, PageSize: q.PageSize}, nil
}

func (f *PriceRunHistoryFlowImpl) GetRun(ctx context.Context, runID uuid.UUID) (*models.PriceRun, error) {
	row, err := f.runRepo.ByRunID(ctx, runID)
	if err != nil {
		return nil, NewBusinessError("RUN_HISTORY_FAILED", "failed to load price run", err)
	}
	if row == nil {
		return nil, NewBusinessError("RUN_NOT_FOUND", "price run not found", ErrRunNotFound)
	}
	return row, nil
}

func (f *PriceRunHistoryFlowImpl) LatestRun(ctx context.Context) (*models.PriceRun, error) {
	row, err := f.runRepo.Latest(ctx)
	if err != nil {
		return nil, NewBusinessError("RUN_HISTORY_FAILED", "failed to load latest price run", err)
	}
	if row == nil {
		return nil, NewBusinessError("RUN_NOT_FOUND", "no price run recorded yet", ErrRunNotFound)
	}
	return row, nil
}
