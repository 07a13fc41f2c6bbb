package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/Fantasim/solmigrate/internal/config"
	"github.com/Fantasim/solmigrate/internal/models"
)

type mockPricer struct {
	usd decimal.Decimal
	err error
}

func (m mockPricer) SOLUSD(context.Context) (decimal.Decimal, error) { return m.usd, m.err }

func setupHoldingsRouter(reader HoldingsReader) http.Handler {
	return setupPricedHoldingsRouter(reader, nil)
}

func setupPricedHoldingsRouter(reader HoldingsReader, prices Pricer) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/holdings/{owner}", GetHoldings(reader, prices))
	return r
}

func TestGetHoldings(t *testing.T) {
	owner := newAddress()
	var got solana.PublicKey

	reader := &mockReader{discoverFn: func(_ context.Context, o solana.PublicKey) (*models.Holdings, error) {
		got = o
		return &models.Holdings{
			Owner:    o.String(),
			Coin:     models.CoinBalance{Lamports: 2_000_000},
			Token:    []models.FungibleHolding{{Program: models.ProgramToken, Mint: "M1", RawAmount: 5}},
			Warnings: []string{"cnft: asset discovery failed: timeout"},
		}, nil
	}}

	req := httptest.NewRequest(http.MethodGet, "/api/holdings/"+owner, nil)
	w := httptest.NewRecorder()
	setupHoldingsRouter(reader).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200. body: %s", w.Code, w.Body.String())
	}
	if got.String() != owner {
		t.Errorf("discovered owner = %s, want %s", got, owner)
	}

	var h models.Holdings
	decodeData(t, w, &h)
	if h.Owner != owner {
		t.Errorf("owner = %s, want %s", h.Owner, owner)
	}
	if h.Coin.Lamports != 2_000_000 {
		t.Errorf("lamports = %d, want 2000000", h.Coin.Lamports)
	}
	if len(h.Token) != 1 || h.Token[0].Mint != "M1" {
		t.Errorf("token holdings = %+v", h.Token)
	}
	if len(h.Warnings) != 1 {
		t.Errorf("expected the degraded class warning, got %v", h.Warnings)
	}
}

func TestGetHoldings_InvalidOwner(t *testing.T) {
	reader := &mockReader{discoverFn: func(context.Context, solana.PublicKey) (*models.Holdings, error) {
		t.Fatal("discovery should not run for an invalid owner")
		return nil, nil
	}}

	req := httptest.NewRequest(http.MethodGet, "/api/holdings/not-a-key", nil)
	w := httptest.NewRecorder()
	setupHoldingsRouter(reader).ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if e := decodeError(t, w); e.Code != config.ErrorInvalidAddress {
		t.Errorf("code = %s, want %s", e.Code, config.ErrorInvalidAddress)
	}
}

func TestGetHoldings_DiscoveryError(t *testing.T) {
	reader := &mockReader{discoverFn: func(context.Context, solana.PublicKey) (*models.Holdings, error) {
		return nil, errors.New("rpc down")
	}}

	req := httptest.NewRequest(http.MethodGet, "/api/holdings/"+newAddress(), nil)
	w := httptest.NewRecorder()
	setupHoldingsRouter(reader).ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	if e := decodeError(t, w); e.Code != config.ErrorDiscoveryFailed {
		t.Errorf("code = %s, want %s", e.Code, config.ErrorDiscoveryFailed)
	}
}

func TestGetHoldings_USDValue(t *testing.T) {
	reader := &mockReader{discoverFn: func(_ context.Context, o solana.PublicKey) (*models.Holdings, error) {
		return &models.Holdings{
			Owner: o.String(),
			Coin:  models.CoinBalance{Lamports: 1_500_000_000, SOL: decimal.RequireFromString("1.5")},
		}, nil
	}}

	tests := []struct {
		name      string
		prices    Pricer
		wantValue string
	}{
		{name: "priced", prices: mockPricer{usd: decimal.RequireFromString("100.10")}, wantValue: "150.15"},
		{name: "price unavailable", prices: mockPricer{err: config.ErrPriceUnavailable}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/holdings/"+newAddress(), nil)
			w := httptest.NewRecorder()
			setupPricedHoldingsRouter(reader, tt.prices).ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}

			var body struct {
				Owner        string           `json:"owner"`
				CoinValueUSD *decimal.Decimal `json:"coinValueUsd"`
			}
			decodeData(t, w, &body)

			if body.Owner == "" {
				t.Error("holdings fields should be inlined")
			}
			if tt.wantValue == "" {
				if body.CoinValueUSD != nil {
					t.Errorf("expected no USD value, got %s", body.CoinValueUSD)
				}
				return
			}
			if body.CoinValueUSD == nil || body.CoinValueUSD.String() != tt.wantValue {
				t.Errorf("coinValueUsd = %v, want %s", body.CoinValueUSD, tt.wantValue)
			}
		})
	}
}
