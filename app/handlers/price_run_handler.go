package handlers

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/metal-price-sync/app/dto"
	businessflow "github.com/amirphl/metal-price-sync/business_flow"
	"github.com/amirphl/metal-price-sync/models"
	"github.com/amirphl/metal-price-sync/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PriceRunHandlerInterface defines the contract for price run handlers.
type PriceRunHandlerInterface interface {
	Trigger(c fiber.Ctx) error
	List(c fiber.Ctx) error
	Get(c fiber.Ctx) error
	Latest(c fiber.Ctx) error
	LiveRates(c fiber.Ctx) error
}

// PriceRunHandler handles price run requests. history is nil when the audit
// database is disabled; the history endpoints then answer 503.
type PriceRunHandler struct {
	sync       businessflow.PriceSyncFlow
	history    businessflow.PriceRunHistoryFlow
	validator  *validator.Validate
	runTimeout time.Duration
	logger     *zap.Logger
}

// NewPriceRunHandler creates a new price run handler.
func NewPriceRunHandler(sync businessflow.PriceSyncFlow, history businessflow.PriceRunHistoryFlow, runTimeout time.Duration, logger *zap.Logger) *PriceRunHandler {
	if runTimeout <= 0 {
		runTimeout = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PriceRunHandler{
		sync:       sync,
		history:    history,
		validator:  validator.New(),
		runTimeout: runTimeout,
		logger:     logger,
	}
}

func (h *PriceRunHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *PriceRunHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// Trigger runs a price sync synchronously and returns its report.
// POST /api/v1/price-runs
func (h *PriceRunHandler) Trigger(c fiber.Ctx) error {
	var req dto.TriggerPriceRunRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
		}
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	ctx, cancel := h.createRequestContextWithTimeout(h.runTimeout)
	defer cancel()

	report, err := h.sync.Run(ctx, runInputFromRequest(req))
	if err != nil {
		code := businessflow.ErrorCode(err)
		h.logger.Warn("api price run failed", zap.String("code", code), zap.Error(err))
		var details any = err.Error()
		if report != nil {
			details = dto.PriceRunResponse{Outcome: report.Outcome(), Summary: report.Summary(), Report: report}
		}
		switch code {
		case "INVALID_RUN_INPUT":
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid run input", code, details)
		case "RUN_IN_PROGRESS":
			return h.ErrorResponse(c, fiber.StatusConflict, "A price run is already in progress", code, details)
		case "INVALID_RATE":
			return h.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Price run aborted: invalid metal rate", code, details)
		case "RATE_FETCH_FAILED", "SETTINGS_UNAVAILABLE", "CATALOG_UNAVAILABLE":
			return h.ErrorResponse(c, fiber.StatusBadGateway, "Price run aborted: upstream unavailable", code, details)
		case "RUN_CANCELLED", "RUN_LOCK_FAILED":
			return h.ErrorResponse(c, fiber.StatusServiceUnavailable, "Price run could not complete", code, details)
		}
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Price run failed", "PRICE_RUN_FAILED", nil)
	}

	message := "Price run completed"
	if report.Outcome() == models.RunOutcomeCompletedWithErrors {
		message = "Price run completed with errors"
	}
	return h.SuccessResponse(c, fiber.StatusOK, message, dto.PriceRunResponse{Outcome: report.Outcome(), Summary: report.Summary(), Report: report})
}

// List pages through the run history.
// GET /api/v1/price-runs
func (h *PriceRunHandler) List(c fiber.Ctx) error {
	if h.history == nil {
		return h.historyDisabled(c)
	}

	req := dto.ListPriceRunsRequest{
		Trigger:       c.Query("trigger"),
		Outcome:       c.Query("outcome"),
		DryRun:        c.Query("dry_run"),
		CreatedAfter:  c.Query("created_after"),
		CreatedBefore: c.Query("created_before"),
	}
	if pageStr := c.Query("page"); pageStr != "" {
		page, err := strconv.Atoi(pageStr)
		if err != nil {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid page", "INVALID_REQUEST", err.Error())
		}
		req.Page = page
	}
	if pageSizeStr := c.Query("page_size"); pageSizeStr != "" {
		size, err := strconv.Atoi(pageSizeStr)
		if err != nil {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid page size", "INVALID_REQUEST", err.Error())
		}
		req.PageSize = size
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	ctx, cancel := h.createRequestContext()
	defer cancel()

	page, err := h.history.ListRuns(ctx, listQueryFromRequest(req))
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list price runs", businessflow.ErrorCode(err), nil)
	}

	items := make([]dto.PriceRunItem, 0, len(page.Runs))
	for _, r := range page.Runs {
		items = append(items, dto.NewPriceRunItem(r))
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Price runs retrieved", dto.ListPriceRunsResponse{
		Items:      items,
		Pagination: dto.NewPaginationInfo(page.Page, page.PageSize, page.Total),
	})
}

// Get returns one audit row by run id.
// GET /api/v1/price-runs/:run_id
func (h *PriceRunHandler) Get(c fiber.Ctx) error {
	if h.history == nil {
		return h.historyDisabled(c)
	}
	runID, err := uuid.Parse(c.Params("run_id"))
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid run id", "INVALID_RUN_ID", err.Error())
	}

	ctx, cancel := h.createRequestContext()
	defer cancel()

	run, err := h.history.GetRun(ctx, runID)
	return h.runResponse(c, run, err)
}

// Latest returns the most recent audit row.
// GET /api/v1/price-runs/latest
func (h *PriceRunHandler) Latest(c fiber.Ctx) error {
	if h.history == nil {
		return h.historyDisabled(c)
	}

	ctx, cancel := h.createRequestContext()
	defer cancel()

	run, err := h.history.LatestRun(ctx)
	return h.runResponse(c, run, err)
}

// LiveRates fetches the current rates without running anything.
// GET /api/v1/rates/live?currency=INR
func (h *PriceRunHandler) LiveRates(c fiber.Ctx) error {
	currency := strings.ToUpper(strings.TrimSpace(c.Query("currency")))
	if currency != "" && len(currency) != 3 {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", []string{"currency must be exactly 3 characters"})
	}

	ctx, cancel := h.createRequestContext()
	defer cancel()

	rates, err := h.sync.LiveRates(ctx, currency)
	if err != nil {
		code := businessflow.ErrorCode(err)
		switch code {
		case "RATE_SOURCE_NOT_CONFIGURED":
			return h.ErrorResponse(c, fiber.StatusUnprocessableEntity, "No live rate source configured", code, nil)
		case "INVALID_RATE":
			return h.ErrorResponse(c, fiber.StatusBadGateway, "Rate source returned an invalid rate", code, err.Error())
		case "RATE_FETCH_FAILED":
			return h.ErrorResponse(c, fiber.StatusBadGateway, "Failed to fetch live rates", code, err.Error())
		}
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch live rates", "RATE_FETCH_FAILED", nil)
	}

	out := make(map[string]float64, len(rates))
	for _, f := range rates.Families() {
		out[string(f)] = rates[f]
	}
	if currency == "" {
		currency = "default"
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Live rates retrieved", dto.LiveRatesResponse{
		Currency:  currency,
		Rates:     out,
		FetchedAt: utils.UTCNow(),
	})
}

func (h *PriceRunHandler) runResponse(c fiber.Ctx, run *models.PriceRun, err error) error {
	if err != nil {
		if businessflow.IsRunNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Price run not found", "RUN_NOT_FOUND", nil)
		}
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load price run", businessflow.ErrorCode(err), nil)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Price run retrieved", dto.NewPriceRunItem(run))
}

func (h *PriceRunHandler) historyDisabled(c fiber.Ctx) error {
	return h.ErrorResponse(c, fiber.StatusServiceUnavailable, "Run history is not enabled", "RUN_HISTORY_DISABLED", nil)
}

func (h *PriceRunHandler) createRequestContext() (context.Context, context.CancelFunc) {
	return h.createRequestContextWithTimeout(30 * time.Second)
}

// Detached from the request: a client disconnect does not cancel a run.
func (h *PriceRunHandler) createRequestContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func runInputFromRequest(req dto.TriggerPriceRunRequest) businessflow.RunInput {
	in := businessflow.RunInput{
		Trigger:        utils.TriggerAPI,
		Currency:       strings.ToUpper(req.Currency),
		DryRun:         req.DryRun,
		SkipMetafields: req.SkipMetafields,
		PushSettings:   req.PushSettings,
		Overrides: models.SettingsOverrides{
			MakingCharge:     req.MakingCharge,
			MarkupPercentage: req.MarkupPercentage,
			TaxPercentage:    req.TaxPercentage,
		},
	}
	if req.GoldRate != nil || req.SilverRate != nil {
		in.Rates = models.RateSet{}
		if req.GoldRate != nil {
			in.Rates[models.MetalFamilyGold] = *req.GoldRate
		}
		if req.SilverRate != nil {
			in.Rates[models.MetalFamilySilver] = *req.SilverRate
		}
	}
	return in
}

func listQueryFromRequest(req dto.ListPriceRunsRequest) businessflow.RunListQuery {
	q := businessflow.RunListQuery{Page: req.Page, PageSize: req.PageSize}
	if req.Trigger != "" {
		q.Trigger = utils.ToPtr(req.Trigger)
	}
	if req.Outcome != "" {
		q.Outcome = utils.ToPtr(req.Outcome)
	}
	if req.DryRun != "" {
		q.DryRun = utils.ToPtr(req.DryRun == "true")
	}
	// validated as RFC 3339 above
	if t, err := time.Parse(time.RFC3339, req.CreatedAfter); err == nil {
		q.CreatedAfter = &t
	}
	if t, err := time.Parse(time.RFC3339, req.CreatedBefore); err == nil {
		q.CreatedBefore = &t
	}
	return q
}
