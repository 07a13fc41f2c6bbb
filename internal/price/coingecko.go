package price

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Fantasim/solmigrate/internal/config"
)

// coinGeckoResponse is the /simple/price body: coin ID to currency to price.
type coinGeckoResponse map[string]map[string]decimal.Decimal

// Service fetches and caches the SOL/USD price from CoinGecko.
type Service struct {
	client  *http.Client
	baseURL string

	mu       sync.RWMutex
	cached   decimal.Decimal
	cachedAt time.Time
}

// NewService creates a price service against baseURL.
func NewService(baseURL string) *Service {
	slog.Info("price service initialized",
		"baseURL", baseURL,
		"cacheDuration", config.PriceCacheDuration,
	)
	return &Service{
		client:  &http.Client{Timeout: config.APITimeout},
		baseURL: baseURL,
	}
}

// SOLUSD returns the current SOL price in USD. A fresh cached value is served
// without a request; when a refresh fails a stale value is served instead.
func (s *Service) SOLUSD(ctx context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	cached, at := s.cached, s.cachedAt
	s.mu.RUnlock()

	if !at.IsZero() && time.Since(at) < config.PriceCacheDuration {
		slog.Debug("price cache hit", "age", time.Since(at).Round(time.Second))
		return cached, nil
	}

	price, err := s.fetch(ctx)
	if err != nil {
		if !at.IsZero() {
			slog.Warn("price refresh failed, serving stale value",
				"age", time.Since(at).Round(time.Second),
				"error", err,
			)
			return cached, nil
		}
		return decimal.Zero, err
	}

	s.mu.Lock()
	s.cached = price
	s.cachedAt = time.Now()
	s.mu.Unlock()

	return price, nil
}

func (s *Service) fetch(ctx context.Context) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd", s.baseURL, config.CoinGeckoSOLID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("create price request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", config.ErrPriceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%w: HTTP %d", config.ErrPriceUnavailable, resp.StatusCode)
	}

	var body coinGeckoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("%w: decode: %v", config.ErrPriceUnavailable, err)
	}

	usd, ok := body[config.CoinGeckoSOLID]["usd"]
	if !ok || !usd.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: no usd price for %s", config.ErrPriceUnavailable, config.CoinGeckoSOLID)
	}

	slog.Info("SOL price fetched",
		"usd", usd.String(),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return usd, nil
}
