package services

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/amirphl/metal-price-sync/models"
	"github.com/amirphl/metal-price-sync/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGoldAPIServer(t *testing.T, quotes map[string]string, status int) *GoldAPIClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-access-token"))
		if status != http.StatusOK {
			w.WriteHeader(status)
			fmt.Fprint(w, `{"error":"Invalid API Key"}`)
			return
		}
		body, ok := quotes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return NewGoldAPIClient(srv.URL+"/api/", "test-key", 5*time.Second, nil)
}

func TestGoldAPIClient_FetchCurrentRates(t *testing.T) {
	tests := []struct {
		name       string
		quotes     map[string]string
		status     int
		wantGold   float64
		wantSilver float64
		wantErr    string
	}{
		{
			name: "gram price preferred",
			quotes: map[string]string{
				"/api/XAU/INR": `{"metal":"XAU","currency":"INR","price":225000,"price_gram_24k":7250.5}`,
				"/api/XAG/INR": `{"metal":"XAG","currency":"INR","price":2955,"price_gram_24k":95}`,
			},
			status:     http.StatusOK,
			wantGold:   7250.5,
			wantSilver: 95,
		},
		{
			name: "ounce price converted",
			quotes: map[string]string{
				"/api/XAU/INR": `{"price":311035}`,
				"/api/XAG/INR": `{"price":3110.35}`,
			},
			status:     http.StatusOK,
			wantGold:   311035 / utils.TroyOunceGrams,
			wantSilver: 3110.35 / utils.TroyOunceGrams,
		},
		{
			name: "error payload",
			quotes: map[string]string{
				"/api/XAU/INR": `{"error":"No data available"}`,
			},
			status:  http.StatusOK,
			wantErr: "No data available",
		},
		{
			name: "missing price",
			quotes: map[string]string{
				"/api/XAU/INR": `{"metal":"XAU"}`,
			},
			status:  http.StatusOK,
			wantErr: "neither price_gram_24k nor price",
		},
		{
			name: "zero price rejected",
			quotes: map[string]string{
				"/api/XAU/INR": `{"price_gram_24k":0}`,
				"/api/XAG/INR": `{"price_gram_24k":95}`,
			},
			status:  http.StatusOK,
			wantErr: "gold rate must be positive",
		},
		{
			name:    "unauthorized",
			status:  http.StatusForbidden,
			wantErr: "status 403",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newGoldAPIServer(t, tt.quotes, tt.status)

			rates, err := client.FetchCurrentRates(context.Background(), "inr")
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, rates)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.wantGold, rates[models.MetalFamilyGold], 1e-9)
			assert.InDelta(t, tt.wantSilver, rates[models.MetalFamilySilver], 1e-9)
		})
	}
}

func TestGoldAPIClient_MalformedBody(t *testing.T) {
	client := newGoldAPIServer(t, map[string]string{"/api/XAU/INR": `<html>`}, http.StatusOK)
	_, err := client.FetchCurrentRates(context.Background(), "INR")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnexpectedRateResponse)
}

func TestGoldAPIClient_CheckConnection(t *testing.T) {
	ok := newGoldAPIServer(t, map[string]string{"/api/XAU/USD": `{"price_gram_24k":80}`}, http.StatusOK)
	assert.NoError(t, ok.CheckConnection(context.Background(), "USD"))

	denied := newGoldAPIServer(t, nil, http.StatusUnauthorized)
	assert.Error(t, denied.CheckConnection(context.Background(), "USD"))
}

func TestGoldAPIClient_ContextCancelled(t *testing.T) {
	client := newGoldAPIServer(t, map[string]string{"/api/XAU/INR": `{"price_gram_24k":1}`}, http.StatusOK)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.FetchCurrentRates(ctx, "INR")
	assert.ErrorIs(t, err, context.Canceled)
}
