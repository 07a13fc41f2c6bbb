package fees

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/Fantasim/solmigrate/internal/config"
	"github.com/Fantasim/solmigrate/internal/models"
)

// feedEntry is one row of the transfer-fee feed. The feed serves the cap as
// a string and the basis points as a number; both forms are accepted.
type feedEntry struct {
	Mint           string   `json:"MINT"`
	FeeBasisPoints flexUint `json:"TRANSFER_FEE_BASIS_POINTS"`
	MaximumFee     flexUint `json:"MAXIMUM_FEE"`
}

type flexUint uint64

// maxUint64Float is 2^64, the first float that does not convert to uint64.
const maxUint64Float = 1 << 64

func (f *flexUint) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		// Some exports render integers as floats ("50.0").
		fv, ferr := strconv.ParseFloat(string(b), 64)
		if ferr != nil || fv < 0 || math.IsNaN(fv) {
			return fmt.Errorf("parse fee value %q: %w", b, err)
		}
		if fv >= maxUint64Float {
			v = math.MaxUint64
		} else {
			v = uint64(fv)
		}
	}
	*f = flexUint(v)
	return nil
}

// Resolver fetches Token-2022 transfer fee rules from the external feed.
// Rules are fetched fresh on every call; nothing is cached across runs.
type Resolver struct {
	client *http.Client
	url    string
}

// NewResolver creates a resolver for the given feed URL.
func NewResolver(url string) *Resolver {
	slog.Info("fee schedule resolver initialized", "url", url)
	return &Resolver{
		client: &http.Client{Timeout: config.APITimeout},
		url:    url,
	}
}

// Resolve returns a fee rule for each mint. Mints missing from the feed get
// the zero default. A failing fetch degrades to zero fees for every mint;
// the returned error is informational and wraps ErrFeeScheduleUnavailable.
func (r *Resolver) Resolve(ctx context.Context, mints []string) (models.FeeSchedule, error) {
	schedule := make(models.FeeSchedule, len(mints))
	for _, m := range mints {
		schedule[m] = models.FeeRule{Mint: m}
	}
	if len(mints) == 0 {
		return schedule, nil
	}

	feed, err := r.Fetch(ctx)
	if err != nil {
		slog.Warn("fee schedule unavailable, assuming no transfer fees",
			"mints", len(mints),
			"error", err,
		)
		return schedule, err
	}

	withFee := 0
	for _, m := range mints {
		if rule, ok := feed[m]; ok {
			schedule[m] = rule
			if rule.FeeBasisPoints > 0 {
				withFee++
			}
		}
	}

	slog.Info("fee schedule resolved",
		"mints", len(mints),
		"withFee", withFee,
	)
	return schedule, nil
}

// Fetch downloads the complete feed keyed by mint.
func (r *Resolver) Fetch(ctx context.Context) (models.FeeSchedule, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", config.ErrFeeScheduleUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrFeeScheduleUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Error("fee feed non-200 response",
			"status", resp.StatusCode,
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
		return nil, fmt.Errorf("%w: HTTP %d", config.ErrFeeScheduleUnavailable, resp.StatusCode)
	}

	var entries []feedEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("%w: decode error: %v", config.ErrFeeScheduleUnavailable, err)
	}

	feed := make(models.FeeSchedule, len(entries))
	for _, e := range entries {
		if e.Mint == "" {
			continue
		}
		bps := uint64(e.FeeBasisPoints)
		if bps > config.MaxFeeBasisPoints {
			slog.Warn("fee basis points above 100%, clamping", "mint", e.Mint, "bps", bps)
			bps = config.MaxFeeBasisPoints
		}
		// First row wins when the feed repeats a mint.
		if _, dup := feed[e.Mint]; dup {
			continue
		}
		feed[e.Mint] = models.FeeRule{
			Mint:           e.Mint,
			FeeBasisPoints: uint32(bps),
			MaximumFee:     uint64(e.MaximumFee),
		}
	}

	slog.Debug("fee feed fetched",
		"entries", len(feed),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return feed, nil
}
