package businessflow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/amirphl/metal-price-sync/models"
	"github.com/amirphl/metal-price-sync/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RateSource supplies current per-gram rates of pure metal.
type RateSource interface {
	FetchCurrentRates(ctx context.Context, currency string) (models.RateSet, error)
}

// CatalogReader lists eligible products and the persisted shop settings.
type CatalogReader interface {
	ListCandidateProducts(ctx context.Context) (models.CatalogListing, error)
	ReadShopSettings(ctx context.Context) (models.ShopSettings, error)
}

// CatalogWriter persists recomputed prices and rates to the storefront.
// WriteProductMetafields returns the keys it wrote; keys of rates that are
// missing from written failed. A *models.MetafieldWriteError carries per-key reasons.
type CatalogWriter interface {
	WriteVariantPrice(ctx context.Context, variantID int64, price float64) error
	WriteProductMetafields(ctx context.Context, productID int64, rates models.RateSet) (written []string, err error)
	WriteSettings(ctx context.Context, push models.SettingsPush) error
}

// ReportSink receives every finalized report. It must not modify it.
type ReportSink interface {
	Name() string
	Deliver(ctx context.Context, report *models.RunReport) error
}

// RunLock guarantees at most one run at a time across processes.
type RunLock interface {
	Acquire(ctx context.Context) (release func(), acquired bool, err error)
}

// RunInput holds the operator choices of one run.
type RunInput struct {
	Trigger        string                   `json:"trigger"`
	Currency       string                   `json:"currency"`
	Rates          models.RateSet           `json:"rates,omitempty"`
	Overrides      models.SettingsOverrides `json:"overrides"`
	DryRun         bool                     `json:"dry_run"`
	SkipMetafields bool                     `json:"skip_metafields"`
	PushSettings   bool                     `json:"push_settings"`
}

// Validate checks operator input before a run starts: rates > 0, charges >= 0.
func (in RunInput) Validate() error {
	for _, f := range in.Rates.Families() {
		v := in.Rates[f]
		if badNumber(v) || v <= 0 {
			return fmt.Errorf("%w: %s rate must be positive, got %v", ErrInvalidRunInput, f, v)
		}
	}
	checks := []struct {
		name string
		v    *float64
	}{
		{"making charge", in.Overrides.MakingCharge},
		{"markup percentage", in.Overrides.MarkupPercentage},
		{"tax percentage", in.Overrides.TaxPercentage},
	}
	for _, c := range checks {
		if c.v != nil && (badNumber(*c.v) || *c.v < 0) {
			return fmt.Errorf("%w: %s must not be negative, got %v", ErrInvalidRunInput, c.name, *c.v)
		}
	}
	if in.Currency != "" && len(in.Currency) != 3 {
		return fmt.Errorf("%w: currency %q is not a 3-letter code", ErrInvalidRunInput, in.Currency)
	}
	return nil
}

// PriceSyncOptions are the service-level defaults of every run.
type PriceSyncOptions struct {
	DefaultCurrency string
	DefaultTax      float64
	Precedence      RatePrecedence
	Workers         int
}

// PriceSyncFlow recomputes variant prices and reconciles them with the storefront.
type PriceSyncFlow interface {
	Run(ctx context.Context, in RunInput) (*models.RunReport, error)
	LiveRates(ctx context.Context, currency string) (models.RateSet, error)
}

// PriceSyncFlowImpl implements PriceSyncFlow
type PriceSyncFlowImpl struct {
	reader  CatalogReader
	writer  CatalogWriter
	rates   RateSource
	lock    RunLock
	sinks   []ReportSink
	opts    PriceSyncOptions
	logger  *zap.Logger
	nowFunc func() time.Time
}

// NewPriceSyncFlow creates a new price sync flow. rates and lock may be nil.
func NewPriceSyncFlow(
	reader CatalogReader,
	writer CatalogWriter,
	rates RateSource,
	lock RunLock,
	sinks []ReportSink,
	opts PriceSyncOptions,
	logger *zap.Logger,
) PriceSyncFlow {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Precedence == "" {
		opts.Precedence = RatePrecedenceProduct
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PriceSyncFlowImpl{
		reader:  reader,
		writer:  writer,
		rates:   rates,
		lock:    lock,
		sinks:   sinks,
		opts:    opts,
		logger:  logger,
		nowFunc: utils.UTCNow,
	}
}

// LiveRates fetches and validates the current rates without running anything.
func (f *PriceSyncFlowImpl) LiveRates(ctx context.Context, currency string) (models.RateSet, error) {
	if f.rates == nil {
		return nil, NewBusinessError("RATE_SOURCE_NOT_CONFIGURED", "no live rate source configured", ErrRateFetch)
	}
	if currency == "" {
		currency = f.opts.DefaultCurrency
	}
	rs, err := f.rates.FetchCurrentRates(ctx, currency)
	if err != nil {
		return nil, NewBusinessError("RATE_FETCH_FAILED", "failed to fetch live rates", fmt.Errorf("%w: %v", ErrRateFetch, err))
	}
	if err := rs.Validate(); err != nil {
		return nil, NewBusinessError("INVALID_RATE", "live rate source returned an invalid rate", fmt.Errorf("%w: %v", ErrInvalidRate, err))
	}
	return rs, nil
}

// Run executes one price run. It returns the finalized report, plus a
// BusinessError when the run aborted before touching any product.
func (f *PriceSyncFlowImpl) Run(ctx context.Context, in RunInput) (*models.RunReport, error) {
	if err := in.Validate(); err != nil {
		return nil, NewBusinessError("INVALID_RUN_INPUT", "invalid run input", err)
	}

	if f.lock != nil {
		release, acquired, err := f.lock.Acquire(ctx)
		if err != nil {
			return nil, NewBusinessError("RUN_LOCK_FAILED", "failed to acquire run lock", err)
		}
		if !acquired {
			return nil, NewBusinessError("RUN_IN_PROGRESS", "another price run is in progress", ErrRunInProgress)
		}
		defer release()
	}

	currency := in.Currency
	if currency == "" {
		currency = f.opts.DefaultCurrency
	}
	trigger := in.Trigger
	if trigger == "" {
		trigger = utils.TriggerCLI
	}

	rec := newReportRecorder(&models.RunReport{
		RunID:          uuid.New(),
		Trigger:        trigger,
		StartedAt:      f.nowFunc(),
		DryRun:         in.DryRun,
		SkipMetafields: in.SkipMetafields,
		Currency:       currency,
		Errors:         []string{},
		Notes:          []string{},
		Details:        []models.RunDetail{},
	})
	log := f.logger.With(zap.String("run_id", rec.report.RunID.String()), zap.String("trigger", trigger))
	log.Info("price run started", zap.Bool("dry_run", in.DryRun), zap.Bool("skip_metafields", in.SkipMetafields))

	writer := f.writer
	if in.DryRun {
		writer = NewDryRunWriter()
		rec.addNote("dry run: no storefront writes performed")
	}

	run, abortErr := f.prepare(ctx, in, currency, writer, rec)
	if abortErr != nil {
		rec.abort(abortErr.Error())
		rec.finalize(f.nowFunc())
		log.Error("price run aborted", zap.Error(abortErr))
		f.deliver(ctx, rec.report, log)
		return rec.report, abortErr
	}

	listing, err := f.reader.ListCandidateProducts(ctx)
	if err != nil {
		abortErr := NewBusinessError("CATALOG_UNAVAILABLE", "failed to list catalog products", fmt.Errorf("%w: %v", ErrCatalogUnavailable, err))
		rec.abort(abortErr.Error())
		rec.finalize(f.nowFunc())
		log.Error("price run aborted", zap.Error(abortErr))
		f.deliver(ctx, rec.report, log)
		return rec.report, abortErr
	}
	rec.countNotEligible(listing.NotEligible)

	products := make([]models.Product, 0, len(listing.Products))
	for _, p := range listing.Products {
		if !p.Eligible() {
			rec.countNotEligible(1)
			continue
		}
		products = append(products, p)
	}
	log.Info("catalog listed", zap.Int("eligible", len(products)), zap.Int("not_eligible", rec.report.Counters.ProductsNotEligible))

	f.processProducts(ctx, run, products, rec)

	rec.finalize(f.nowFunc())
	c := rec.report.Counters
	log.Info("price run finished",
		zap.String("outcome", string(rec.report.Outcome())),
		zap.Int("products_processed", c.ProductsProcessed),
		zap.Int("products_failed", c.ProductsFailed),
		zap.Int("variants_updated", c.VariantsUpdated),
		zap.Int("variants_skipped", c.VariantsSkipped),
		zap.Int("variants_failed", c.VariantsFailed),
		zap.Int("metafields_updated", c.MetafieldsUpdated),
		zap.Int("metafields_failed", c.MetafieldsFailed),
		zap.Duration("duration", rec.report.Duration()),
	)
	f.deliver(ctx, rec.report, log)
	return rec.report, nil
}

// runState is the immutable context shared by all products of a run.
type runState struct {
	resolver       *RateResolver
	settings       models.PricingSettings
	writer         CatalogWriter
	skipMetafields bool
}

// prepare acquires rates and settings. Any error it returns is run-fatal.
func (f *PriceSyncFlowImpl) prepare(ctx context.Context, in RunInput, currency string, writer CatalogWriter, rec *reportRecorder) (*runState, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewBusinessError("RUN_CANCELLED", "run cancelled before rate validation", err)
	}

	rates := in.Rates.Clone()
	if f.needsLiveRates(rates) && f.rates != nil {
		live, err := f.rates.FetchCurrentRates(ctx, currency)
		if err != nil {
			return nil, NewBusinessError("RATE_FETCH_FAILED", "failed to fetch live rates", fmt.Errorf("%w: %v", ErrRateFetch, err))
		}
		for fam, v := range live {
			if _, manual := rates[fam]; !manual {
				rates[fam] = v
			}
		}
	}
	if err := rates.Validate(); err != nil {
		return nil, NewBusinessError("INVALID_RATE", "metal rates failed validation", fmt.Errorf("%w: %v", ErrInvalidRate, err))
	}
	rec.setRates(rates)

	var shop models.ShopSettings
	if in.Overrides.MakingCharge == nil || in.Overrides.MarkupPercentage == nil {
		s, err := f.reader.ReadShopSettings(ctx)
		if err != nil {
			return nil, NewBusinessError("SETTINGS_UNAVAILABLE", "failed to read shop settings", fmt.Errorf("%w: %v", ErrSettingsUnavailable, err))
		}
		shop = s
	}
	settings, err := ResolveSettings(shop, in.Overrides, f.opts.DefaultTax)
	if err != nil {
		return nil, NewBusinessError("SETTINGS_UNAVAILABLE", "pricing settings could not be resolved", err)
	}
	rec.setSettings(settings)

	if in.PushSettings {
		push := models.SettingsPush{
			MakingCharge:     settings.MakingCharge,
			MarkupPercentage: settings.MarkupPercentage,
			Rates:            rates.Clone(),
		}
		if err := writer.WriteSettings(ctx, push); err != nil {
			rec.addNote(fmt.Sprintf("settings push failed: %v", err))
		} else {
			rec.addNote("shop settings pushed")
		}
	}

	return &runState{
		resolver:       NewRateResolver(rates, f.opts.Precedence),
		settings:       settings,
		writer:         writer,
		skipMetafields: in.SkipMetafields,
	}, nil
}

func (f *PriceSyncFlowImpl) needsLiveRates(rates models.RateSet) bool {
	for _, fam := range []models.MetalFamily{models.MetalFamilyGold, models.MetalFamilySilver} {
		if _, ok := rates[fam]; !ok {
			return true
		}
	}
	return false
}

func (f *PriceSyncFlowImpl) processProducts(ctx context.Context, run *runState, products []models.Product, rec *reportRecorder) {
	if f.opts.Workers <= 1 || len(products) <= 1 {
		for _, p := range products {
			rec.recordProduct(f.processProduct(ctx, run, p))
		}
		return
	}

	// Products run in parallel; results merge in catalog order.
	results := make([]productOutcome, len(products))
	var g errgroup.Group
	g.SetLimit(f.opts.Workers)
	for i, p := range products {
		g.Go(func() error {
			results[i] = f.processProduct(ctx, run, p)
			return nil
		})
	}
	_ = g.Wait()
	for _, o := range results {
		rec.recordProduct(o)
	}
}

type variantResult struct {
	status models.DetailStatus
	detail models.RunDetail
	err    string
	notes  []string
}

type metafieldResult struct {
	key string
	err error
}

type productOutcome struct {
	product    models.Product
	resolveErr error
	variants   []variantResult
	metafields []metafieldResult
}

func (f *PriceSyncFlowImpl) processProduct(ctx context.Context, run *runState, p models.Product) productOutcome {
	out := productOutcome{product: p}

	rates, err := run.resolver.ResolveProduct(p)
	if err != nil {
		out.resolveErr = err
		f.logger.Warn("product rate resolution failed", zap.Int64("product_id", p.ID), zap.Error(err))
		return out
	}

	for _, v := range p.Variants {
		out.variants = append(out.variants, f.processVariant(ctx, run, p, v, rates))
	}

	if !run.skipMetafields {
		out.metafields = writeMetafields(ctx, run.writer, p.ID, rates)
	}
	return out
}

func (f *PriceSyncFlowImpl) processVariant(ctx context.Context, run *runState, p models.Product, v models.Variant, rates models.RateSet) variantResult {
	detail := models.RunDetail{
		Scope:        models.DetailScopeVariant,
		ProductID:    p.ID,
		ProductTitle: p.Title,
		VariantID:    v.ID,
		VariantTitle: v.Title,
		OldPrice:     v.CurrentPrice,
	}
	skipped := func(reason string) variantResult {
		detail.Status = models.DetailStatusSkipped
		detail.Reason = reason
		return variantResult{status: models.DetailStatusSkipped, detail: detail}
	}
	failed := func(err error) variantResult {
		detail.Status = models.DetailStatusFailed
		detail.Reason = err.Error()
		return variantResult{
			status: models.DetailStatusFailed,
			detail: detail,
			err:    fmt.Sprintf("variant %d (%s / %s): %v", v.ID, p.Title, v.Title, err),
		}
	}

	if v.MetalWeight == 0 {
		return skipped("no metal weight")
	}

	mt, err := ParseMetalLabel(v.MetalLabel)
	if err != nil {
		r := skipped(err.Error())
		r.err = fmt.Sprintf("variant %d (%s / %s): %v", v.ID, p.Title, v.Title, err)
		return r
	}
	detail.MetalType = mt

	purity, err := models.PurityOf(mt)
	if err != nil {
		return failed(fmt.Errorf("%w: %v", ErrInvalidPricingInput, err))
	}
	family, err := models.FamilyOf(mt)
	if err != nil {
		return failed(fmt.Errorf("%w: %v", ErrInvalidPricingInput, err))
	}
	rate, _ := rates.RateFor(family)

	stones, notes := usableStones(v)

	breakdown, err := PriceLineItem(LineItemInput{
		Weight:   v.MetalWeight,
		Rate:     rate,
		Purity:   purity,
		Stones:   stones,
		Settings: run.settings,
	})
	if err != nil {
		r := failed(err)
		r.notes = notes
		return r
	}
	detail.NewPrice = breakdown.FinalPrice
	detail.Breakdown = &breakdown

	if math.Abs(breakdown.FinalPrice-v.CurrentPrice) < utils.PriceChangeTolerance+1e-9 {
		r := skipped("unchanged")
		r.notes = notes
		return r
	}

	if err := run.writer.WriteVariantPrice(ctx, v.ID, breakdown.FinalPrice); err != nil {
		r := failed(fmt.Errorf("%w: %v", ErrWriteFailure, err))
		r.notes = notes
		return r
	}

	detail.Status = models.DetailStatusUpdated
	return variantResult{status: models.DetailStatusUpdated, detail: detail, notes: notes}
}

// usableStones returns the stone lines to price with. Each malformed record
// is dropped with its own note; the valid ones still count.
func usableStones(v models.Variant) ([]models.StoneLine, []string) {
	var notes []string
	for _, issue := range v.StoneDataIssues {
		notes = append(notes, fmt.Sprintf("variant %d: %v (%s); record ignored", v.ID, ErrMalformedStoneData, issue))
	}
	stones := make([]models.StoneLine, 0, len(v.Stones))
	for i, s := range v.Stones {
		if badNumber(s.Carats) || badNumber(s.PricePerCarat) || s.Carats < 0 || s.PricePerCarat < 0 {
			notes = append(notes, fmt.Sprintf("variant %d: %v (line %d: %v ct at %v); line ignored", v.ID, ErrMalformedStoneData, i, s.Carats, s.PricePerCarat))
			continue
		}
		stones = append(stones, s)
	}
	return stones, notes
}

func writeMetafields(ctx context.Context, w CatalogWriter, productID int64, rates models.RateSet) []metafieldResult {
	written, err := w.WriteProductMetafields(ctx, productID, rates)
	ok := make(map[string]bool, len(written))
	for _, k := range written {
		ok[k] = true
	}

	var perKey *models.MetafieldWriteError
	errors.As(err, &perKey)

	var out []metafieldResult
	for _, fam := range rates.Families() {
		key := models.RateMetafieldKey(fam)
		if ok[key] {
			out = append(out, metafieldResult{key: key})
			continue
		}
		var keyErr error
		switch {
		case perKey != nil && perKey.Failed[key] != nil:
			keyErr = perKey.Failed[key]
		case err != nil:
			keyErr = err
		default:
			keyErr = errors.New("not written")
		}
		out = append(out, metafieldResult{key: key, err: fmt.Errorf("%w: %v", ErrWriteFailure, keyErr)})
	}
	return out
}

func (f *PriceSyncFlowImpl) deliver(ctx context.Context, report *models.RunReport, log *zap.Logger) {
	base := context.WithoutCancel(ctx)
	for _, s := range f.sinks {
		sctx, cancel := context.WithTimeout(base, utils.SinkTimeout)
		if err := s.Deliver(sctx, report); err != nil {
			log.Error("report sink failed", zap.String("sink", s.Name()), zap.Error(err))
		} else {
			log.Debug("report delivered", zap.String("sink", s.Name()))
		}
		cancel()
	}
}

// reportRecorder is the only writer of a RunReport.
type reportRecorder struct {
	report *models.RunReport
}

func newReportRecorder(r *models.RunReport) *reportRecorder {
	return &reportRecorder{report: r}
}

func (r *reportRecorder) mutable() {
	if r.report.Finalized {
		panic("price run report mutated after finalization")
	}
}

func (r *reportRecorder) addError(msg string) {
	r.mutable()
	r.report.Errors = append(r.report.Errors, msg)
}

func (r *reportRecorder) addNote(msg string) {
	r.mutable()
	r.report.Notes = append(r.report.Notes, msg)
}

func (r *reportRecorder) setRates(rates models.RateSet) {
	r.mutable()
	r.report.Rates = rates.Clone()
}

func (r *reportRecorder) setSettings(s models.PricingSettings) {
	r.mutable()
	r.report.Settings = s
}

func (r *reportRecorder) countNotEligible(n int) {
	r.mutable()
	if n > 0 {
		r.report.Counters.ProductsNotEligible += n
	}
}

func (r *reportRecorder) abort(msg string) {
	r.mutable()
	r.report.Aborted = true
	r.report.Errors = append(r.report.Errors, msg)
}

func (r *reportRecorder) recordProduct(o productOutcome) {
	r.mutable()
	p := o.product
	c := &r.report.Counters

	if o.resolveErr != nil {
		c.ProductsFailed++
		r.report.Errors = append(r.report.Errors, fmt.Sprintf("product %d (%s): %v", p.ID, p.Title, o.resolveErr))
		r.report.Details = append(r.report.Details, models.RunDetail{
			Scope:        models.DetailScopeProduct,
			Status:       models.DetailStatusFailed,
			ProductID:    p.ID,
			ProductTitle: p.Title,
			Reason:       o.resolveErr.Error(),
		})
		return
	}

	for _, v := range o.variants {
		switch v.status {
		case models.DetailStatusUpdated:
			c.VariantsUpdated++
		case models.DetailStatusSkipped:
			c.VariantsSkipped++
		case models.DetailStatusFailed:
			c.VariantsFailed++
		}
		r.report.Details = append(r.report.Details, v.detail)
		if v.err != "" {
			r.report.Errors = append(r.report.Errors, v.err)
		}
		r.report.Notes = append(r.report.Notes, v.notes...)
	}

	for _, m := range o.metafields {
		d := models.RunDetail{
			Scope:        models.DetailScopeMetafield,
			ProductID:    p.ID,
			ProductTitle: p.Title,
			Key:          m.key,
		}
		if m.err != nil {
			c.MetafieldsFailed++
			d.Status = models.DetailStatusMetafieldKO
			d.Reason = m.err.Error()
			r.report.Errors = append(r.report.Errors, fmt.Sprintf("product %d (%s) metafield %s: %v", p.ID, p.Title, m.key, m.err))
		} else {
			c.MetafieldsUpdated++
			d.Status = models.DetailStatusMetafield
		}
		r.report.Details = append(r.report.Details, d)
	}

	c.ProductsProcessed++
	r.report.Details = append(r.report.Details, models.RunDetail{
		Scope:        models.DetailScopeProduct,
		Status:       models.DetailStatusProcessed,
		ProductID:    p.ID,
		ProductTitle: p.Title,
	})
}

func (r *reportRecorder) finalize(now time.Time) {
	r.mutable()
	r.report.FinishedAt = now
	r.report.Finalized = true
}

// sortedKeys is used by writers that report keys deterministically.
func sortedKeys(rates models.RateSet) []string {
	keys := make([]string, 0, len(rates))
	for _, fam := range rates.Families() {
		keys = append(keys, models.RateMetafieldKey(fam))
	}
	sort.Strings(keys)
	return keys
}
