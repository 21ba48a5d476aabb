// Package client is a Go client for the distributor HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/distributor"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

// ErrRateLimited is matched by APIErrors for 429 responses.
var ErrRateLimited = errors.New("client: rate limited")

// APIError is a non-2xx response. It unwraps to the distributor error named by
// Code, so errors.Is(err, distributor.ErrAlreadyClaimed) works across the wire.
type APIError struct {
	StatusCode int
	Code       uint32
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != distributor.CodeUnknown {
		return fmt.Sprintf("server returned %d (code %d): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	return distributor.ErrorForCode(e.Code)
}

// ClientConfig holds the configuration for the distributor client
type ClientConfig struct {
	// BaseURL is the server address, e.g. http://localhost:8080
	BaseURL string
	// HTTPClient is optional; a client with a 30s timeout is used when nil
	HTTPClient *http.Client
	// Retry is optional; DefaultRetryConfig is used when nil
	Retry  *RetryConfig
	Logger *zap.Logger
}

// Client talks to a distributor server
type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      RetryConfig
	logger     *zap.Logger
}

// NewClient creates a new distributor client
func NewClient(config *ClientConfig) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	retry := DefaultRetryConfig
	if config.Retry != nil {
		retry = *config.Retry
	}
	if retry.MaxAttempts < 1 {
		return nil, fmt.Errorf("retry max attempts must be at least 1")
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: httpClient,
		retry:      retry,
		logger:     config.Logger,
	}, nil
}

// do sends body (if any) as JSON and decodes a 2xx response into out.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var data []byte
	if body != nil {
		var err error
		if data, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	resp, err := c.send(ctx, method, path, data)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errResp types.ErrorResponse
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &errResp) == nil && errResp.Error != "" {
			apiErr.Code = errResp.Code
			apiErr.Message = errResp.Error
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}

		c.logger.Sugar().Debugw("Server returned error",
			"path", path,
			"status_code", resp.StatusCode,
			"code", apiErr.Code,
			"request_id", resp.Header.Get("X-Request-Id"),
		)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// send issues the request, retrying GETs whose round trip failed.
func (c *Client) send(ctx context.Context, method, path string, data []byte) (*http.Response, error) {
	attempts := 1
	if method == http.MethodGet {
		attempts = c.retry.MaxAttempts
	}

	backoff := c.retry.InitialBackoff
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			c.logger.Sugar().Debugw("Retrying request", "path", path, "attempt", attempt+1, "error", lastErr)
			if err := sleep(ctx, backoff); err != nil {
				return nil, err
			}
			backoff = c.retry.next(backoff)
		}

		var reader io.Reader
		if data != nil {
			reader = bytes.NewReader(data)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}
		if data != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("request to %s failed: %w", path, lastErr)
}

// CreateDistributor creates a distributor. Its reserve starts empty.
func (c *Client) CreateDistributor(ctx context.Context, req *types.CreateDistributorRequest) (*types.Distributor, error) {
	var d types.Distributor
	if err := c.do(ctx, http.MethodPost, "/distributors", req, &d); err != nil {
		return nil, err
	}
	c.logger.Sugar().Infow("Created distributor", "distributor", d.Key.String(), "reserve", d.Reserve.String())
	return &d, nil
}

func (c *Client) ListDistributors(ctx context.Context) ([]*types.Distributor, error) {
	var ds []*types.Distributor
	if err := c.do(ctx, http.MethodGet, "/distributors", nil, &ds); err != nil {
		return nil, err
	}
	return ds, nil
}

func (c *Client) GetDistributor(ctx context.Context, key types.Account) (*types.Distributor, error) {
	var d types.Distributor
	if err := c.do(ctx, http.MethodGet, "/distributors/"+key.String(), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// FundReserve mints amount into the distributor's reserve and returns the new balance.
func (c *Client) FundReserve(ctx context.Context, key types.Account, amount uint64) (*types.BalanceResponse, error) {
	var balance types.BalanceResponse
	if err := c.do(ctx, http.MethodPost, "/distributors/"+key.String()+"/fund", &types.FundRequest{Amount: amount}, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

// Claim submits a signed claim and returns the receipt.
func (c *Client) Claim(ctx context.Context, req *types.ClaimRequest) (*types.ClaimStatus, error) {
	var status types.ClaimStatus
	if err := c.do(ctx, http.MethodPost, "/claim", req, &status); err != nil {
		return nil, err
	}
	c.logger.Sugar().Infow("Claim accepted",
		"distributor", req.Distributor.String(),
		"index", req.Index,
		"amount", req.Amount,
	)
	return &status, nil
}

func (c *Client) ListClaims(ctx context.Context, key types.Account) ([]*types.ClaimStatus, error) {
	var claims []*types.ClaimStatus
	if err := c.do(ctx, http.MethodGet, "/distributors/"+key.String()+"/claims", nil, &claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (c *Client) GetClaimStatus(ctx context.Context, key types.Account, index uint64) (*types.ClaimStatusResponse, error) {
	var resp types.ClaimStatusResponse
	path := "/distributors/" + key.String() + "/claims/" + strconv.FormatUint(index, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Balance returns the balance of a token account.
func (c *Client) Balance(ctx context.Context, account types.Account) (uint64, error) {
	var resp types.BalanceResponse
	if err := c.do(ctx, http.MethodGet, "/balances/"+account.String(), nil, &resp); err != nil {
		return 0, err
	}
	return resp.Amount, nil
}

func (c *Client) Health(ctx context.Context) (*types.HealthResponse, error) {
	var resp types.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
