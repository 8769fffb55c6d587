// Package client fetches the account usage snapshot from the usage endpoint.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sdpower/usagebar-go/internal/metrics"
	"github.com/sdpower/usagebar-go/internal/types"
	"github.com/sdpower/usagebar-go/internal/version"
)

const (
	DefaultEndpoint   = "https://api.anthropic.com/api/oauth/usage"
	DefaultBetaHeader = "oauth-2025-04-20"
	DefaultTimeout    = 30 * time.Second

	maxBodyBytes = 1 << 20
)

type Options struct {
	Endpoint   string
	BetaHeader string
	UserAgent  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
	Metrics    *metrics.Recorder
}

type Client struct {
	httpClient *http.Client
	endpoint   string
	betaHeader string
	userAgent  string
	logger     *zap.Logger
	metrics    *metrics.Recorder
}

func New(opts Options) *Client {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.BetaHeader == "" {
		opts.BetaHeader = DefaultBetaHeader
	}
	if opts.UserAgent == "" {
		opts.UserAgent = version.UserAgent()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Client{
		httpClient: opts.HTTPClient,
		endpoint:   opts.Endpoint,
		betaHeader: opts.BetaHeader,
		userAgent:  opts.UserAgent,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}
}

// Fetch requests the usage snapshot with token. Every failure is returned as
// a *types.APIError.
func (c *Client) Fetch(ctx context.Context, token string) (*types.UsageSnapshot, error) {
	start := time.Now()
	snapshot, err := c.fetch(ctx, token)

	outcome := metrics.OutcomeSuccess
	if apiErr, ok := types.AsAPIError(err); ok {
		outcome = apiErr.Kind.String()
	}
	c.metrics.ObserveFetch(outcome, time.Since(start))
	return snapshot, err
}

func (c *Client) fetch(ctx context.Context, token string) (*types.UsageSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, &types.APIError{Kind: types.KindInvalidResponse, Err: fmt.Errorf("build usage request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("anthropic-beta", c.betaHeader)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &types.APIError{Kind: types.KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &types.APIError{Kind: types.KindNetwork, Err: fmt.Errorf("read usage response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("usage endpoint returned non-200",
			zap.Int("status", resp.StatusCode),
			zap.String("body", summarizeBody(body)),
		)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &types.APIError{Kind: types.KindUnauthorized, StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &types.APIError{Kind: types.KindRateLimited, StatusCode: resp.StatusCode}
	case resp.StatusCode >= 500 && resp.StatusCode <= 599:
		return nil, &types.APIError{Kind: types.KindServer, StatusCode: resp.StatusCode}
	default:
		return nil, &types.APIError{Kind: types.KindInvalidResponse, StatusCode: resp.StatusCode}
	}

	var snapshot types.UsageSnapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		return nil, &types.APIError{Kind: types.KindDecoding, StatusCode: resp.StatusCode, Err: err}
	}
	return &snapshot, nil
}

func summarizeBody(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 180 {
		return s[:180] + "..."
	}
	return s
}
