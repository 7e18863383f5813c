package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/metal-price-sync/config"
	"github.com/amirphl/metal-price-sync/models"
	"go.uber.org/zap"
)

const (
	metafieldTypeDecimal = "number_decimal"
	shopifyMaxRetries    = 3
)

var ErrShopifyStatus = errors.New("unexpected shopify status")

// ShopifyClient talks to the Shopify REST Admin API. It reads candidate
// products with their pricing metafields and writes prices, rate metafields
// and theme settings back.
type ShopifyClient struct {
	BaseURL          string
	AccessToken      string
	ThemeID          string
	RateNamespace    string
	VariantNamespace string
	SettingsAsset    string
	PageSize         int
	PageDelay        time.Duration
	HTTPClient       *http.Client
	logger           *zap.Logger
}

func NewShopifyClient(cfg config.ShopifyConfig, logger *zap.Logger) *ShopifyClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ShopifyClient{
		BaseURL:          shopifyBaseURL(cfg.ShopURL, cfg.APIVersion),
		AccessToken:      cfg.AccessToken,
		ThemeID:          cfg.ThemeID,
		RateNamespace:    cfg.RateNamespace,
		VariantNamespace: cfg.VariantNamespace,
		SettingsAsset:    cfg.SettingsAssetPath,
		PageSize:         cfg.PageSize,
		PageDelay:        cfg.PageDelay,
		HTTPClient:       &http.Client{Timeout: timeout},
		logger:           logger,
	}
}

// shopifyBaseURL accepts "shop.myshopify.com" or a full URL.
func shopifyBaseURL(shop, version string) string {
	shop = strings.TrimRight(shop, "/")
	if !strings.HasPrefix(shop, "http://") && !strings.HasPrefix(shop, "https://") {
		shop = "https://" + shop
	}
	return fmt.Sprintf("%s/admin/api/%s", shop, version)
}

func (c *ShopifyClient) Name() string { return "shopify" }

type shopifyMetafield struct {
	ID        int64           `json:"id,omitempty"`
	Namespace string          `json:"namespace,omitempty"`
	Key       string          `json:"key,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
	Type      string          `json:"type,omitempty"`
}

type shopifyVariant struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"product_id"`
	Title     string `json:"title"`
	Price     string `json:"price"`
	Option1   string `json:"option1"`
}

type shopifyProduct struct {
	ID       int64            `json:"id"`
	Title    string           `json:"title"`
	Handle   string           `json:"handle"`
	Variants []shopifyVariant `json:"variants"`
}

type shopifyAsset struct {
	Asset struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	} `json:"asset"`
}

// ListCandidateProducts pages through all products and keeps those carrying
// both rate metafields. Any read failure fails the whole listing.
func (c *ShopifyClient) ListCandidateProducts(ctx context.Context) (models.CatalogListing, error) {
	var listing models.CatalogListing

	query := url.Values{"limit": {strconv.Itoa(c.PageSize)}}
	for page := 1; ; page++ {
		var body struct {
			Products []shopifyProduct `json:"products"`
		}
		header, err := c.do(ctx, http.MethodGet, "/products.json", query, nil, &body)
		if err != nil {
			return models.CatalogListing{}, fmt.Errorf("list products page %d: %w", page, err)
		}
		c.logger.Info("products page fetched", zap.Int("page", page), zap.Int("count", len(body.Products)))

		for _, sp := range body.Products {
			p, eligible, err := c.loadProduct(ctx, sp)
			if err != nil {
				return models.CatalogListing{}, err
			}
			if !eligible {
				listing.NotEligible++
				continue
			}
			listing.Products = append(listing.Products, p)
		}

		next := nextPageInfo(header.Get("Link"))
		if next == "" || len(body.Products) == 0 {
			break
		}
		query = url.Values{"limit": {strconv.Itoa(c.PageSize)}, "page_info": {next}}

		select {
		case <-ctx.Done():
			return models.CatalogListing{}, ctx.Err()
		case <-time.After(c.PageDelay):
		}
	}

	c.logger.Info("catalog loaded", zap.Int("eligible", len(listing.Products)), zap.Int("not_eligible", listing.NotEligible))
	return listing, nil
}

func (c *ShopifyClient) loadProduct(ctx context.Context, sp shopifyProduct) (models.Product, bool, error) {
	mfs, err := c.productMetafields(ctx, sp.ID)
	if err != nil {
		return models.Product{}, false, fmt.Errorf("product %d metafields: %w", sp.ID, err)
	}

	var overrides models.ProductRateOverrides
	var hasGold, hasSilver bool
	for _, mf := range mfs {
		if mf.Namespace != c.RateNamespace {
			continue
		}
		switch mf.Key {
		case models.RateMetafieldKey(models.MetalFamilyGold):
			hasGold = true
			overrides.Gold = decimalPtr(mf.Value)
		case models.RateMetafieldKey(models.MetalFamilySilver):
			hasSilver = true
			overrides.Silver = decimalPtr(mf.Value)
		}
	}
	if !hasGold || !hasSilver {
		return models.Product{}, false, nil
	}
	// present but unreadable still marks the product eligible
	if overrides.Gold == nil {
		overrides.Gold = new(float64)
	}
	if overrides.Silver == nil {
		overrides.Silver = new(float64)
	}

	p := models.Product{
		ID:            sp.ID,
		Handle:        sp.Handle,
		Title:         sp.Title,
		RateOverrides: overrides,
	}
	for _, sv := range sp.Variants {
		v, err := c.loadVariant(ctx, sp.ID, sv)
		if err != nil {
			return models.Product{}, false, err
		}
		p.Variants = append(p.Variants, v)
	}
	return p, true, nil
}

func (c *ShopifyClient) loadVariant(ctx context.Context, productID int64, sv shopifyVariant) (models.Variant, error) {
	var body struct {
		Metafields []shopifyMetafield `json:"metafields"`
	}
	if _, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/variants/%d/metafields.json", sv.ID), nil, nil, &body); err != nil {
		return models.Variant{}, fmt.Errorf("variant %d metafields: %w", sv.ID, err)
	}

	price, _ := strconv.ParseFloat(strings.TrimSpace(sv.Price), 64)
	v := models.Variant{
		ID:           sv.ID,
		ProductID:    productID,
		Title:        sv.Title,
		MetalLabel:   sv.Option1,
		CurrentPrice: price,
	}

	raw := map[string]json.RawMessage{}
	for _, mf := range body.Metafields {
		if mf.Namespace == c.VariantNamespace {
			raw[mf.Key] = mf.Value
		}
	}
	if w := decimalPtr(raw["metal_weight"]); w != nil {
		v.MetalWeight = *w
	}
	v.Stones, v.StoneDataIssues = decodeStones(raw["stone_types"], raw["stone_carats"], raw["stone_prices_per_carat"])
	return v, nil
}

func (c *ShopifyClient) productMetafields(ctx context.Context, productID int64) ([]shopifyMetafield, error) {
	var body struct {
		Metafields []shopifyMetafield `json:"metafields"`
	}
	if _, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/products/%d/metafields.json", productID), nil, nil, &body); err != nil {
		return nil, err
	}
	return body.Metafields, nil
}

// ReadShopSettings reads making charge and markup from the theme's settings asset.
func (c *ShopifyClient) ReadShopSettings(ctx context.Context) (models.ShopSettings, error) {
	current, _, err := c.readThemeSettings(ctx)
	if err != nil {
		return models.ShopSettings{}, err
	}
	return models.ShopSettings{
		MakingCharge:     anyDecimal(current["making_charges"]),
		MarkupPercentage: anyDecimal(current["markup_percentage"]),
	}, nil
}

// readThemeSettings returns the "current" object and the whole document.
func (c *ShopifyClient) readThemeSettings(ctx context.Context) (map[string]any, map[string]any, error) {
	var asset shopifyAsset
	q := url.Values{"asset[key]": {c.SettingsAsset}}
	if _, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/themes/%s/assets.json", c.ThemeID), q, nil, &asset); err != nil {
		return nil, nil, fmt.Errorf("read theme settings: %w", err)
	}
	doc := map[string]any{}
	if err := json.Unmarshal([]byte(asset.Asset.Value), &doc); err != nil {
		return nil, nil, fmt.Errorf("decode theme settings: %w", err)
	}
	current, _ := doc["current"].(map[string]any)
	if current == nil {
		current = map[string]any{}
		doc["current"] = current
	}
	return current, doc, nil
}

func (c *ShopifyClient) WriteVariantPrice(ctx context.Context, variantID int64, price float64) error {
	body := map[string]any{
		"variant": map[string]any{
			"id":    variantID,
			"price": strconv.FormatFloat(price, 'f', 2, 64),
		},
	}
	if _, err := c.do(ctx, http.MethodPut, fmt.Sprintf("/variants/%d.json", variantID), nil, body, nil); err != nil {
		return fmt.Errorf("update variant %d price: %w", variantID, err)
	}
	c.logger.Debug("variant price updated", zap.Int64("variant_id", variantID), zap.Float64("price", price))
	return nil
}

// WriteProductMetafields upserts one rate metafield per family.
func (c *ShopifyClient) WriteProductMetafields(ctx context.Context, productID int64, rates models.RateSet) ([]string, error) {
	existing, err := c.productMetafields(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("product %d metafields: %w", productID, err)
	}
	ids := map[string]int64{}
	for _, mf := range existing {
		if mf.Namespace == c.RateNamespace {
			ids[mf.Key] = mf.ID
		}
	}

	var written []string
	failed := map[string]error{}
	for _, fam := range rates.Families() {
		key := models.RateMetafieldKey(fam)
		value, _ := json.Marshal(strconv.FormatFloat(rates[fam], 'f', 2, 64))
		mf := shopifyMetafield{Value: value, Type: metafieldTypeDecimal}

		var err error
		if id, ok := ids[key]; ok {
			mf.ID = id
			_, err = c.do(ctx, http.MethodPut, fmt.Sprintf("/products/%d/metafields/%d.json", productID, id), nil, map[string]any{"metafield": mf}, nil)
		} else {
			mf.Namespace = c.RateNamespace
			mf.Key = key
			_, err = c.do(ctx, http.MethodPost, fmt.Sprintf("/products/%d/metafields.json", productID), nil, map[string]any{"metafield": mf}, nil)
		}
		if err != nil {
			failed[key] = err
			continue
		}
		written = append(written, key)
	}

	if len(failed) > 0 {
		return written, &models.MetafieldWriteError{ProductID: productID, Failed: failed}
	}
	return written, nil
}

// WriteSettings stores rates, making charge and markup in the theme settings
// asset, keeping every other setting untouched.
func (c *ShopifyClient) WriteSettings(ctx context.Context, push models.SettingsPush) error {
	current, doc, err := c.readThemeSettings(ctx)
	if err != nil {
		return err
	}
	for _, fam := range push.Rates.Families() {
		current[models.RateMetafieldKey(fam)] = push.Rates[fam]
	}
	current["making_charges"] = push.MakingCharge
	current["markup_percentage"] = push.MarkupPercentage

	value, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode theme settings: %w", err)
	}
	body := map[string]any{
		"asset": map[string]string{
			"key":   c.SettingsAsset,
			"value": string(value),
		},
	}
	if _, err := c.do(ctx, http.MethodPut, fmt.Sprintf("/themes/%s/assets.json", c.ThemeID), nil, body, nil); err != nil {
		return fmt.Errorf("write theme settings: %w", err)
	}
	return nil
}

// do performs one API call, retrying on 429 with the advertised Retry-After.
func (c *ShopifyClient) do(ctx context.Context, method, path string, query url.Values, in, out any) (http.Header, error) {
	endpoint := c.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return nil, err
		}
	}

	for attempt := 0; ; attempt++ {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Shopify-Access-Token", c.AccessToken)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt < shopifyMaxRetries {
			wait := retryAfter(resp.Header.Get("Retry-After"))
			resp.Body.Close()
			c.logger.Warn("shopify rate limited", zap.String("path", path), zap.Duration("wait", wait))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return nil, fmt.Errorf("%w: %s %s: %d %s", ErrShopifyStatus, method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
		}

		if out != nil {
			err = json.NewDecoder(resp.Body).Decode(out)
		}
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
		return resp.Header, nil
	}
}

func retryAfter(v string) time.Duration {
	if secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return time.Second
}

// nextPageInfo extracts page_info of the rel="next" link.
func nextPageInfo(link string) string {
	for _, part := range strings.Split(link, ",") {
		if !strings.Contains(part, `rel="next"`) {
			continue
		}
		start, end := strings.Index(part, "<"), strings.Index(part, ">")
		if start < 0 || end <= start {
			return ""
		}
		u, err := url.Parse(part[start+1 : end])
		if err != nil {
			return ""
		}
		return u.Query().Get("page_info")
	}
	return ""
}

// decimalPtr reads a metafield value that may be a JSON number or a numeric string.
func decimalPtr(raw json.RawMessage) *float64 {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return anyDecimal(v)
}

func anyDecimal(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil
		}
		return &f
	}
	return nil
}

// decodeStones zips the three parallel stone lists. Each list is stored as a
// JSON-encoded string. Records that cannot be read are dropped one by one and
// reported; the rest are kept. Lists of different lengths pair up to the
// shorter one.
func decodeStones(types, carats, prices json.RawMessage) ([]models.StoneLine, []string) {
	if len(carats) == 0 && len(prices) == 0 {
		return nil, nil
	}

	var issues []string
	var ts []string
	if err := decodeList(types, &ts); err != nil {
		issues = append(issues, "stone_types: "+err.Error())
		ts = nil
	}
	var cs, ps []any
	if err := decodeList(carats, &cs); err != nil {
		return nil, append(issues, "stone_carats: "+err.Error())
	}
	if err := decodeList(prices, &ps); err != nil {
		return nil, append(issues, "stone_prices_per_carat: "+err.Error())
	}

	n := min(len(cs), len(ps))
	if len(cs) != len(ps) {
		issues = append(issues, fmt.Sprintf("%d carat values but %d prices, pairing the first %d", len(cs), len(ps), n))
	}

	stones := make([]models.StoneLine, 0, n)
	for i := 0; i < n; i++ {
		c, p := anyDecimal(cs[i]), anyDecimal(ps[i])
		if c == nil || p == nil {
			issues = append(issues, fmt.Sprintf("record %d: %v ct at %v is not numeric", i, cs[i], ps[i]))
			continue
		}
		line := models.StoneLine{Carats: *c, PricePerCarat: *p}
		if i < len(ts) {
			line.Type = ts[i]
		}
		stones = append(stones, line)
	}
	return stones, issues
}

// decodeList accepts a JSON list or a string holding a JSON list.
func decodeList[T any](raw json.RawMessage, out *[]T) error {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return nil
		}
		raw = json.RawMessage(s)
	}
	return json.Unmarshal(raw, out)
}
