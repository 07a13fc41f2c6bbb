package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Fantasim/solmigrate/internal/config"
)

// dasRequest is a JSON-RPC 2.0 request with named params, as DAS expects.
type dasRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type dasResponse struct {
	JSONRPC string `json:"jsonrpc"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// DASClient queries the digital asset standard read API.
type DASClient struct {
	client *http.Client
	rl     *RateLimiter
	cb     *CircuitBreaker
	url    string
}

// NewDASClient creates a DAS client. A nil http client uses a default with
// the API timeout.
func NewDASClient(httpClient *http.Client, url string, rps int) *DASClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.APITimeout}
	}
	slog.Info("das client created", "url", url, "rps", rps)
	return &DASClient{
		client: httpClient,
		rl:     NewRateLimiter("das", rps),
		cb:     NewCircuitBreaker("das", config.DASCircuitThresh, config.CircuitBreakerCooldown),
		url:    url,
	}
}

// GetAssetsByOwner lists one page of the owner's assets. Page and cursor
// pagination cannot be combined in a single query.
func (c *DASClient) GetAssetsByOwner(ctx context.Context, owner string, p AssetPagination) (*AssetPage, error) {
	if p.Page > 0 && p.Cursor != "" {
		return nil, config.ErrPaginationConflict
	}

	limit := p.Limit
	if limit <= 0 {
		limit = config.DASPageLimit
	}

	params := map[string]interface{}{
		"ownerAddress": owner,
		"limit":        limit,
	}
	if p.Cursor != "" {
		params["cursor"] = p.Cursor
	} else {
		page := p.Page
		if page <= 0 {
			page = 1
		}
		params["page"] = page
	}

	var out AssetPage
	if err := c.call(ctx, "getAssetsByOwner", params, &out); err != nil {
		return nil, err
	}

	slog.Debug("das assets page fetched",
		"owner", owner,
		"page", out.Page,
		"items", len(out.Items),
		"total", out.Total,
	)
	return &out, nil
}

// GetAsset fetches one asset by id.
func (c *DASClient) GetAsset(ctx context.Context, id string) (*Asset, error) {
	var out Asset
	if err := c.call(ctx, "getAsset", map[string]string{"id": id}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAssetProof fetches the current merkle proof of a compressed asset.
func (c *DASClient) GetAssetProof(ctx context.Context, id string) (*AssetProof, error) {
	var out AssetProof
	if err := c.call(ctx, "getAssetProof", map[string]string{"id": id}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// call sends one DAS request through the rate limiter and circuit breaker and
// decodes the result into out.
func (c *DASClient) call(ctx context.Context, method string, params, out interface{}) error {
	if err := c.rl.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}

	return c.cb.Do(func() error {
		resp, err := c.doRPCCall(ctx, dasRequest{
			JSONRPC: "2.0",
			ID:      config.DASRequestID,
			Method:  method,
			Params:  params,
		})
		if err != nil {
			return err
		}

		if resp.Error != nil {
			slog.Warn("das rpc error",
				"method", method,
				"code", resp.Error.Code,
				"message", resp.Error.Message,
			)
			return fmt.Errorf("%s: %w: %s", method, config.ErrProviderUnavailable, resp.Error.Message)
		}
		if len(resp.Result) == 0 || string(resp.Result) == "null" {
			return fmt.Errorf("%s: %w: nil result", method, config.ErrProviderUnavailable)
		}

		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
		return nil
	})
}

func (c *DASClient) doRPCCall(ctx context.Context, rpcReq dasRequest) (*dasResponse, error) {
	body, err := json.Marshal(rpcReq)
	if err != nil {
		return nil, fmt.Errorf("marshal das request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if isContextErr(err) {
			return nil, err
		}
		return nil, config.NewTransientError(fmt.Errorf("%w: %v", config.ErrProviderUnavailable, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(resp.Header)
		slog.Warn("das rate limited", "method", rpcReq.Method, "retryAfter", retryAfter)
		return nil, config.NewTransientErrorWithRetry(config.ErrProviderRateLimit, retryAfter)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		slog.Warn("das server error", "method", rpcReq.Method, "status", resp.StatusCode)
		return nil, config.NewTransientError(fmt.Errorf("%w: HTTP %d", config.ErrProviderUnavailable, resp.StatusCode))
	}

	if resp.StatusCode != http.StatusOK {
		slog.Warn("das non-200", "method", rpcReq.Method, "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: HTTP %d", config.ErrProviderUnavailable, resp.StatusCode)
	}

	var rpcResp dasResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("decode das response: %w", err)
	}

	return &rpcResp, nil
}
