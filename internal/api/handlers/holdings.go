package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/Fantasim/solmigrate/internal/config"
	"github.com/Fantasim/solmigrate/internal/models"
)

// HoldingsReader produces a discovery snapshot for an owner.
type HoldingsReader interface {
	Discover(ctx context.Context, owner solana.PublicKey) (*models.Holdings, error)
}

// Pricer quotes SOL in USD.
type Pricer interface {
	SOLUSD(ctx context.Context) (decimal.Decimal, error)
}

// holdingsResponse is a snapshot plus its USD valuation when a price is known.
type holdingsResponse struct {
	*models.Holdings
	SOLPriceUSD  *decimal.Decimal `json:"solPriceUsd,omitempty"`
	CoinValueUSD *decimal.Decimal `json:"coinValueUsd,omitempty"`
}

// GetHoldings handles GET /api/holdings/{owner}. It is a read-only preview of
// what a consolidation run would see; degraded classes show up in warnings.
// prices may be nil, and a failed quote only drops the USD fields.
func GetHoldings(reader HoldingsReader, prices Pricer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		raw := chi.URLParam(r, "owner")

		owner, err := solana.PublicKeyFromBase58(raw)
		if err != nil {
			slog.Warn("invalid owner for holdings preview", "owner", raw, "error", err)
			writeError(w, http.StatusBadRequest, config.ErrorInvalidAddress, "invalid owner address: "+raw)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), config.APITimeout)
		defer cancel()

		holdings, err := reader.Discover(ctx, owner)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				slog.Error("holdings preview timed out", "owner", owner, "timeout", config.APITimeout)
				writeError(w, http.StatusGatewayTimeout, config.ErrorDiscoveryFailed, "holdings discovery timed out")
				return
			}
			slog.Error("holdings preview failed", "owner", owner, "error", err)
			writeError(w, http.StatusBadGateway, config.ErrorDiscoveryFailed, err.Error())
			return
		}

		slog.Info("holdings preview served",
			"owner", owner,
			"token", len(holdings.Token),
			"token2022", len(holdings.Token2022),
			"nfts", len(holdings.NFTs),
			"compressed", len(holdings.Compressed),
			"warnings", len(holdings.Warnings),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)

		resp := holdingsResponse{Holdings: holdings}
		if prices != nil {
			if usd, err := prices.SOLUSD(ctx); err != nil {
				slog.Warn("holdings served without USD value", "error", err)
			} else {
				value := holdings.Coin.SOL.Mul(usd).Round(2)
				resp.SOLPriceUSD = &usd
				resp.CoinValueUSD = &value
			}
		}

		writeData(w, http.StatusOK, resp, start)
	}
}
