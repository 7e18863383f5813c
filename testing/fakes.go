package testing

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/amirphl/metal-price-sync/models"
	"github.com/google/uuid"
)

// FakeCatalog is an in-memory storefront. It serves as reader and writer and
// records every write it accepts.
type FakeCatalog struct {
	mu sync.Mutex

	Listing      models.CatalogListing
	ListErr      error
	Settings     models.ShopSettings
	SettingsErr  error
	SettingsRead int

	// PriceErrs fails the price write of the given variant ids.
	PriceErrs map[int64]error
	// MetafieldErrs fails the given metafield keys of the given products.
	MetafieldErrs map[int64]map[string]error
	PushErr       error

	PriceWrites     map[int64]float64
	MetafieldWrites map[int64]models.RateSet
	Pushes          []models.SettingsPush
}

func NewFakeCatalog(products ...models.Product) *FakeCatalog {
	return &FakeCatalog{
		Listing:         models.CatalogListing{Products: products},
		PriceWrites:     map[int64]float64{},
		MetafieldWrites: map[int64]models.RateSet{},
	}
}

func (c *FakeCatalog) ListCandidateProducts(ctx context.Context) (models.CatalogListing, error) {
	if c.ListErr != nil {
		return models.CatalogListing{}, c.ListErr
	}
	return c.Listing, nil
}

func (c *FakeCatalog) ReadShopSettings(ctx context.Context) (models.ShopSettings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SettingsRead++
	if c.SettingsErr != nil {
		return models.ShopSettings{}, c.SettingsErr
	}
	return c.Settings, nil
}

func (c *FakeCatalog) WriteVariantPrice(ctx context.Context, variantID int64, price float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.PriceErrs[variantID]; err != nil {
		return err
	}
	c.PriceWrites[variantID] = price
	return nil
}

func (c *FakeCatalog) WriteProductMetafields(ctx context.Context, productID int64, rates models.RateSet) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	failed := map[string]error{}
	var written []string
	for _, f := range rates.Families() {
		key := models.RateMetafieldKey(f)
		if err := c.MetafieldErrs[productID][key]; err != nil {
			failed[key] = err
			continue
		}
		if c.MetafieldWrites[productID] == nil {
			c.MetafieldWrites[productID] = models.RateSet{}
		}
		c.MetafieldWrites[productID][f] = rates[f]
		written = append(written, key)
	}
	sort.Strings(written)
	if len(failed) > 0 {
		return written, &models.MetafieldWriteError{ProductID: productID, Failed: failed}
	}
	return written, nil
}

func (c *FakeCatalog) WriteSettings(ctx context.Context, push models.SettingsPush) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.PushErr != nil {
		return c.PushErr
	}
	c.Pushes = append(c.Pushes, push)
	return nil
}

// WriteCount returns the number of accepted price and metafield writes.
func (c *FakeCatalog) WriteCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.PriceWrites)
	for _, rs := range c.MetafieldWrites {
		n += len(rs)
	}
	return n + len(c.Pushes)
}

// FakeRateSource returns fixed rates and counts calls.
type FakeRateSource struct {
	mu    sync.Mutex
	Rates models.RateSet
	Err   error
	Calls int
}

func (s *FakeRateSource) FetchCurrentRates(ctx context.Context, currency string) (models.RateSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Rates.Clone(), nil
}

// RecordingSink keeps every delivered report.
type RecordingSink struct {
	mu      sync.Mutex
	SinkID  string
	Err     error
	Reports []*models.RunReport
}

func (s *RecordingSink) Name() string {
	if s.SinkID == "" {
		return "recording"
	}
	return s.SinkID
}

func (s *RecordingSink) Deliver(ctx context.Context, report *models.RunReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Reports = append(s.Reports, report)
	return s.Err
}

// FakeRunLock is a process-local lock.
type FakeRunLock struct {
	mu   sync.Mutex
	held bool
	Err  error
}

func (l *FakeRunLock) Acquire(ctx context.Context) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return nil, false, l.Err
	}
	if l.held {
		return nil, false, nil
	}
	l.held = true
	return func() {
		l.mu.Lock()
		l.held = false
		l.mu.Unlock()
	}, true, nil
}

// Hold marks the lock as taken by someone else.
func (l *FakeRunLock) Hold() {
	l.mu.Lock()
	l.held = true
	l.mu.Unlock()
}

// ErrFakeWrite is a generic storefront write failure.
var ErrFakeWrite = errors.New("storefront returned 502")

// SampleReport builds a finalized report for sink and handler tests.
func SampleReport() *models.RunReport {
	return &models.RunReport{
		RunID:      uuid.MustParse("7d1f0c1e-3b7a-4d55-9b0e-2f8a6c4e1a90"),
		Trigger:    "cli",
		StartedAt:  time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2026, 1, 15, 9, 0, 42, 0, time.UTC),
		Currency:   "INR",
		Rates:      models.RateSet{models.MetalFamilyGold: 7250.5, models.MetalFamilySilver: 95},
		Settings:   models.PricingSettings{MakingCharge: 500, MarkupPercentage: 10, TaxPercentage: 3},
		Counters:   models.RunCounters{ProductsProcessed: 2, VariantsUpdated: 3, VariantsSkipped: 1, VariantsFailed: 1, MetafieldsUpdated: 4},
		Errors:     []string{"variant 11 (Ring / 14K): storefront write failed: 502"},
		Notes:      []string{},
		Finalized:  true,
		Details: []models.RunDetail{
			{
				Scope: models.DetailScopeVariant, Status: models.DetailStatusUpdated,
				ProductID: 1, ProductTitle: "Ring", VariantID: 10, VariantTitle: "14K Yellow Gold",
				MetalType: models.MetalGold14K, OldPrice: 29000, NewPrice: 30260,
				Breakdown: &models.PriceBreakdown{MetalCost: 21207.7125, StoneCost: 5000, Making: 500, Subtotal: 26707.7125, Markup: 2670.77125, BasePrice: 29378.48375, Tax: 881.3545125, FinalPrice: 30260},
			},
			{
				Scope: models.DetailScopeVariant, Status: models.DetailStatusFailed,
				ProductID: 1, ProductTitle: "Ring", VariantID: 11, VariantTitle: "14K",
				Reason: "storefront write failed: 502",
			},
			{Scope: models.DetailScopeMetafield, Status: models.DetailStatusMetafield, ProductID: 1, Key: "gold_rate"},
		},
	}
}
