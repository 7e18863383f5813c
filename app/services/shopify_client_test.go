package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/amirphl/metal-price-sync/config"
	"github.com/amirphl/metal-price-sync/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	Method string
	Path   string
	Body   map[string]any
}

// fakeShop is a minimal Admin API with two pages of products.
type fakeShop struct {
	mu       sync.Mutex
	calls    []recordedCall
	settings string
	limited  int
}

func (s *fakeShop) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	base := "/admin/api/2024-01"

	mux.HandleFunc(base+"/products.json", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret-token", r.Header.Get("X-Shopify-Access-Token"))
		if r.URL.Query().Get("page_info") == "" {
			w.Header().Set("Link", fmt.Sprintf(`<http://%s%s/products.json?limit=2&page_info=p2>; rel="next"`, r.Host, base))
			fmt.Fprint(w, `{"products":[
				{"id":1,"title":"Ring","handle":"ring","variants":[{"id":10,"product_id":1,"title":"14K Yellow Gold","price":"29000.00","option1":"14K Yellow Gold"}]},
				{"id":2,"title":"Chain","handle":"chain","variants":[{"id":20,"product_id":2,"title":"Default","price":"100.00","option1":"Default"}]}
			]}`)
			return
		}
		fmt.Fprint(w, `{"products":[
			{"id":3,"title":"Anklet","handle":"anklet","variants":[{"id":30,"product_id":3,"title":"925 Silver","price":"1500.00","option1":"925 Silver"}]}
		]}`)
	})
	mux.HandleFunc(base+"/products/1/metafields.json", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			s.record(r)
			fmt.Fprint(w, `{"metafield":{"id":99}}`)
			return
		}
		fmt.Fprint(w, `{"metafields":[
			{"id":11,"namespace":"jhango","key":"gold_rate","value":"7300.00","type":"number_decimal"},
			{"id":12,"namespace":"jhango","key":"silver_rate","value":0,"type":"number_decimal"}
		]}`)
	})
	mux.HandleFunc(base+"/products/2/metafields.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"metafields":[{"id":21,"namespace":"jhango","key":"gold_rate","value":"1"}]}`)
	})
	mux.HandleFunc(base+"/products/3/metafields.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"metafields":[
			{"id":31,"namespace":"jhango","key":"gold_rate","value":"0"},
			{"id":32,"namespace":"jhango","key":"silver_rate","value":"0"}
		]}`)
	})
	mux.HandleFunc(base+"/variants/10/metafields.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"metafields":[
			{"namespace":"custom","key":"metal_weight","value":"5.0"},
			{"namespace":"custom","key":"stone_types","value":"[\"Diamond\"]"},
			{"namespace":"custom","key":"stone_carats","value":"[1.0]"},
			{"namespace":"custom","key":"stone_prices_per_carat","value":"[5000]"}
		]}`)
	})
	mux.HandleFunc(base+"/variants/30/metafields.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"metafields":[
			{"namespace":"custom","key":"metal_weight","value":12.5},
			{"namespace":"custom","key":"stone_carats","value":"[1.0, 2.0]"},
			{"namespace":"custom","key":"stone_prices_per_carat","value":"[100]"}
		]}`)
	})
	mux.HandleFunc(base+"/variants/10.json", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		limited := s.limited > 0
		if limited {
			s.limited--
		}
		s.mu.Unlock()
		if limited {
			w.Header().Set("Retry-After", "0.01")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		s.record(r)
		fmt.Fprint(w, `{"variant":{"id":10}}`)
	})
	mux.HandleFunc(base+"/variants/11.json", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"errors":{"price":["must be a number"]}}`)
	})
	mux.HandleFunc(base+"/products/1/metafields/11.json", func(w http.ResponseWriter, r *http.Request) {
		s.record(r)
		fmt.Fprint(w, `{"metafield":{"id":11}}`)
	})
	mux.HandleFunc(base+"/products/1/metafields/12.json", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	mux.HandleFunc(base+"/themes/77/assets.json", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			s.record(r)
			fmt.Fprint(w, `{}`)
			return
		}
		assert.Equal(t, "config/settings_data.json", r.URL.Query().Get("asset[key]"))
		body, _ := json.Marshal(map[string]any{"asset": map[string]string{"key": "config/settings_data.json", "value": s.settings}})
		w.Write(body)
	})
	return mux
}

func (s *fakeShop) record(r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	body := map[string]any{}
	_ = json.Unmarshal(raw, &body)
	s.mu.Lock()
	s.calls = append(s.calls, recordedCall{Method: r.Method, Path: r.URL.Path, Body: body})
	s.mu.Unlock()
}

func newTestShopify(t *testing.T, shop *fakeShop) *ShopifyClient {
	t.Helper()
	srv := httptest.NewServer(shop.handler(t))
	t.Cleanup(srv.Close)
	return NewShopifyClient(config.ShopifyConfig{
		ShopURL:           srv.URL,
		AccessToken:       "secret-token",
		APIVersion:        "2024-01",
		ThemeID:           "77",
		RateNamespace:     "jhango",
		VariantNamespace:  "custom",
		PageSize:          2,
		PageDelay:         time.Millisecond,
		SettingsAssetPath: "config/settings_data.json",
		Timeout:           5 * time.Second,
	}, nil)
}

func TestShopifyBaseURL(t *testing.T) {
	assert.Equal(t, "https://shop.myshopify.com/admin/api/2024-01", shopifyBaseURL("shop.myshopify.com", "2024-01"))
	assert.Equal(t, "https://shop.myshopify.com/admin/api/2024-01", shopifyBaseURL("https://shop.myshopify.com/", "2024-01"))
	assert.Equal(t, "http://127.0.0.1:9/admin/api/2023-10", shopifyBaseURL("http://127.0.0.1:9", "2023-10"))
}

func TestShopifyClient_ListCandidateProducts(t *testing.T) {
	client := newTestShopify(t, &fakeShop{})

	listing, err := client.ListCandidateProducts(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, listing.NotEligible)
	require.Len(t, listing.Products, 2)

	ring := listing.Products[0]
	assert.Equal(t, int64(1), ring.ID)
	assert.True(t, ring.Eligible())
	gold, ok := ring.RateOverrides.For(models.MetalFamilyGold)
	assert.True(t, ok)
	assert.InDelta(t, 7300.0, gold, 1e-9)
	silver, ok := ring.RateOverrides.For(models.MetalFamilySilver)
	assert.True(t, ok)
	assert.Zero(t, silver)

	require.Len(t, ring.Variants, 1)
	v := ring.Variants[0]
	assert.Equal(t, "14K Yellow Gold", v.MetalLabel)
	assert.InDelta(t, 5.0, v.MetalWeight, 1e-9)
	assert.InDelta(t, 29000.0, v.CurrentPrice, 1e-9)
	assert.Empty(t, v.StoneDataIssues)
	assert.Equal(t, []models.StoneLine{{Type: "Diamond", Carats: 1, PricePerCarat: 5000}}, v.Stones)

	anklet := listing.Products[1]
	require.Len(t, anklet.Variants, 1)
	assert.InDelta(t, 12.5, anklet.Variants[0].MetalWeight, 1e-9)
	assert.Equal(t, []models.StoneLine{{Carats: 1, PricePerCarat: 100}}, anklet.Variants[0].Stones)
	require.Len(t, anklet.Variants[0].StoneDataIssues, 1)
	assert.Contains(t, anklet.Variants[0].StoneDataIssues[0], "2 carat values but 1 prices")
}

func TestShopifyClient_ListCandidateProducts_FailsOnMissingVariantData(t *testing.T) {
	shop := &fakeShop{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/admin/api/2024-01/products.json":
			fmt.Fprint(w, `{"products":[{"id":1,"title":"Ring","variants":[{"id":10}]}]}`)
		case "/admin/api/2024-01/products/1/metafields.json":
			fmt.Fprint(w, `{"metafields":[{"namespace":"jhango","key":"gold_rate","value":"1"},{"namespace":"jhango","key":"silver_rate","value":"1"}]}`)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()
	client := newTestShopify(t, shop)
	client.BaseURL = srv.URL + "/admin/api/2024-01"

	_, err := client.ListCandidateProducts(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrShopifyStatus)
	assert.Contains(t, err.Error(), "variant 10 metafields")
}

func TestShopifyClient_ReadShopSettings(t *testing.T) {
	tests := []struct {
		name       string
		settings   string
		wantMaking *float64
		wantMarkup *float64
		wantErr    bool
	}{
		{
			name:       "numbers",
			settings:   `{"current":{"making_charges":500,"markup_percentage":10}}`,
			wantMaking: floatPtr(500.0),
			wantMarkup: floatPtr(10.0),
		},
		{
			name:       "numeric strings",
			settings:   `{"current":{"making_charges":"750.5","markup_percentage":"12"}}`,
			wantMaking: floatPtr(750.5),
			wantMarkup: floatPtr(12.0),
		},
		{
			name:       "markup missing",
			settings:   `{"current":{"making_charges":500}}`,
			wantMaking: floatPtr(500.0),
		},
		{
			name:     "no current section",
			settings: `{"presets":{}}`,
		},
		{
			name:     "not json",
			settings: `{{`,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestShopify(t, &fakeShop{settings: tt.settings})
			got, err := client.ReadShopSettings(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMaking, got.MakingCharge)
			assert.Equal(t, tt.wantMarkup, got.MarkupPercentage)
		})
	}
}

func TestShopifyClient_WriteVariantPrice(t *testing.T) {
	shop := &fakeShop{limited: 1}
	client := newTestShopify(t, shop)

	require.NoError(t, client.WriteVariantPrice(context.Background(), 10, 30260))
	require.Len(t, shop.calls, 1)
	assert.Equal(t, http.MethodPut, shop.calls[0].Method)
	variant := shop.calls[0].Body["variant"].(map[string]any)
	assert.Equal(t, "30260.00", variant["price"])
	assert.Equal(t, float64(10), variant["id"])

	err := client.WriteVariantPrice(context.Background(), 11, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrShopifyStatus)
	assert.Contains(t, err.Error(), "422")
}

func TestShopifyClient_WriteProductMetafields(t *testing.T) {
	shop := &fakeShop{}
	client := newTestShopify(t, shop)

	rates := models.RateSet{models.MetalFamilyGold: 7250.5, models.MetalFamilySilver: 95}
	written, err := client.WriteProductMetafields(context.Background(), 1, rates)

	assert.Equal(t, []string{"gold_rate"}, written)
	var mfErr *models.MetafieldWriteError
	require.ErrorAs(t, err, &mfErr)
	assert.Equal(t, int64(1), mfErr.ProductID)
	assert.Contains(t, mfErr.Failed, "silver_rate")
	assert.NotContains(t, mfErr.Failed, "gold_rate")

	require.Len(t, shop.calls, 1)
	mf := shop.calls[0].Body["metafield"].(map[string]any)
	assert.Equal(t, "7250.50", mf["value"])
	assert.Equal(t, "number_decimal", mf["type"])
}

func TestShopifyClient_WriteSettings(t *testing.T) {
	shop := &fakeShop{settings: `{"current":{"making_charges":400,"markup_percentage":8,"colors":"dark"},"presets":{"a":1}}`}
	client := newTestShopify(t, shop)

	err := client.WriteSettings(context.Background(), models.SettingsPush{
		MakingCharge:     500,
		MarkupPercentage: 10,
		Rates:            models.RateSet{models.MetalFamilyGold: 7250.5, models.MetalFamilySilver: 95},
	})
	require.NoError(t, err)
	require.Len(t, shop.calls, 1)

	asset := shop.calls[0].Body["asset"].(map[string]any)
	assert.Equal(t, "config/settings_data.json", asset["key"])

	doc := map[string]any{}
	require.NoError(t, json.Unmarshal([]byte(asset["value"].(string)), &doc))
	current := doc["current"].(map[string]any)
	assert.Equal(t, 500.0, current["making_charges"])
	assert.Equal(t, 10.0, current["markup_percentage"])
	assert.Equal(t, 7250.5, current["gold_rate"])
	assert.Equal(t, 95.0, current["silver_rate"])
	assert.Equal(t, "dark", current["colors"])
	assert.Contains(t, doc, "presets")
}

func TestNextPageInfo(t *testing.T) {
	tests := []struct {
		name string
		link string
		want string
	}{
		{"empty", "", ""},
		{"next only", `<https://s/admin/api/2024-01/products.json?limit=250&page_info=abc>; rel="next"`, "abc"},
		{"previous and next", `<https://s/p.json?page_info=old>; rel="previous", <https://s/p.json?page_info=new>; rel="next"`, "new"},
		{"previous only", `<https://s/p.json?page_info=old>; rel="previous"`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nextPageInfo(tt.link))
		})
	}
}

func TestDecodeStones(t *testing.T) {
	tests := []struct {
		name       string
		types      string
		carats     string
		prices     string
		want       []models.StoneLine
		wantIssues []string
	}{
		{name: "absent"},
		{
			name:   "json strings",
			types:  `"[\"Ruby\",\"Diamond\"]"`,
			carats: `"[0.5, 1]"`,
			prices: `"[2000, 5000]"`,
			want:   []models.StoneLine{{Type: "Ruby", Carats: 0.5, PricePerCarat: 2000}, {Type: "Diamond", Carats: 1, PricePerCarat: 5000}},
		},
		{
			name:   "plain lists without types",
			carats: `[2]`,
			prices: `[100]`,
			want:   []models.StoneLine{{Carats: 2, PricePerCarat: 100}},
		},
		{
			name:       "more carats than prices pairs the shorter length",
			carats:     `"[1.0, 0.5]"`,
			prices:     `"[5000]"`,
			want:       []models.StoneLine{{Carats: 1, PricePerCarat: 5000}},
			wantIssues: []string{"2 carat values but 1 prices"},
		},
		{
			name:       "more prices than carats",
			types:      `["Ruby","Diamond"]`,
			carats:     `[0.5]`,
			prices:     `[2000, 5000]`,
			want:       []models.StoneLine{{Type: "Ruby", Carats: 0.5, PricePerCarat: 2000}},
			wantIssues: []string{"1 carat values but 2 prices"},
		},
		{
			name:       "non numeric record is dropped alone",
			types:      `["Ruby","Opal","Diamond"]`,
			carats:     `"[0.5, \"one\", 1]"`,
			prices:     `[2000, 300, "5000"]`,
			want:       []models.StoneLine{{Type: "Ruby", Carats: 0.5, PricePerCarat: 2000}, {Type: "Diamond", Carats: 1, PricePerCarat: 5000}},
			wantIssues: []string{"record 1"},
		},
		{
			name:       "unreadable types keep the stones",
			types:      `"not a list"`,
			carats:     `[1]`,
			prices:     `[5000]`,
			want:       []models.StoneLine{{Carats: 1, PricePerCarat: 5000}},
			wantIssues: []string{"stone_types"},
		},
		{name: "garbage carats", carats: `"not a list"`, prices: `[1]`, wantIssues: []string{"stone_carats"}},
		{name: "garbage prices", carats: `[1]`, prices: `{"a":1}`, wantIssues: []string{"stone_prices_per_carat"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, issues := decodeStones(rawJSON(tt.types), rawJSON(tt.carats), rawJSON(tt.prices))
			require.Len(t, issues, len(tt.wantIssues))
			for i, want := range tt.wantIssues {
				assert.Contains(t, issues[i], want)
			}
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func rawJSON(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}

func floatPtr(f float64) *float64 { return &f }
