// Package services provides external service integrations and technical concerns like rates, storefront access, report delivery and tokens
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/amirphl/metal-price-sync/models"
	"github.com/amirphl/metal-price-sync/utils"
	"go.uber.org/zap"
)

var ErrUnexpectedRateResponse = errors.New("unexpected rate response")

// GoldAPIClient fetches spot prices from goldapi.io.
// Rates are per gram of pure metal; purity is applied by the pricer.
type GoldAPIClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
	logger     *zap.Logger
}

func NewGoldAPIClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *GoldAPIClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GoldAPIClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: timeout},
		Timeout:    timeout,
		logger:     logger,
	}
}

func (c *GoldAPIClient) Name() string { return "goldapi" }

// Docs: https://www.goldapi.io/dashboard
type goldAPIQuote struct {
	Price        *float64 `json:"price"`
	PriceGram24K *float64 `json:"price_gram_24k"`
	Currency     string   `json:"currency"`
	Metal        string   `json:"metal"`
	Timestamp    int64    `json:"timestamp"`
	Error        string   `json:"error"`
}

var metalSymbols = []struct {
	family models.MetalFamily
	symbol string
}{
	{models.MetalFamilyGold, "XAU"},
	{models.MetalFamilySilver, "XAG"},
}

// FetchCurrentRates returns gold and silver rates per gram in currency.
func (c *GoldAPIClient) FetchCurrentRates(ctx context.Context, currency string) (models.RateSet, error) {
	out := models.RateSet{}
	for _, m := range metalSymbols {
		rate, err := c.fetchPerGram(ctx, m.symbol, currency)
		if err != nil {
			return nil, fmt.Errorf("goldapi %s/%s: %w", m.symbol, currency, err)
		}
		out[m.family] = rate
		c.logger.Info("metal rate fetched",
			zap.String("metal", string(m.family)),
			zap.String("currency", currency),
			zap.Float64("rate_per_gram", rate))
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("goldapi: %w", err)
	}
	return out, nil
}

func (c *GoldAPIClient) fetchPerGram(ctx context.Context, symbol, currency string) (float64, error) {
	url := fmt.Sprintf("%s/%s/%s", c.BaseURL, symbol, strings.ToUpper(currency))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("x-access-token", c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var q goldAPIQuote
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnexpectedRateResponse, err)
	}
	if q.Error != "" {
		return 0, fmt.Errorf("%w: %s", ErrUnexpectedRateResponse, q.Error)
	}

	switch {
	case q.PriceGram24K != nil:
		return *q.PriceGram24K, nil
	case q.Price != nil:
		return *q.Price / utils.TroyOunceGrams, nil
	}
	return 0, fmt.Errorf("%w: neither price_gram_24k nor price present", ErrUnexpectedRateResponse)
}

// CheckConnection verifies credentials with a single gold quote.
func (c *GoldAPIClient) CheckConnection(ctx context.Context, currency string) error {
	_, err := c.fetchPerGram(ctx, "XAU", currency)
	return err
}
