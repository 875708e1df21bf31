package remote

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"clonetest/observability"
)

const (
	jsonRPCVersion     = "2.0"
	defaultCallTimeout = 10 * time.Second
)

// Client is a JSON-RPC client for the remote chain gateway. Each call is
// rate limited, bounded by a per-attempt timeout and retried with exponential
// backoff while the failure is transient.
type Client struct {
	endpoint    string
	httpClient  *http.Client
	authToken   string
	limiter     *rate.Limiter
	retry       RetryPolicy
	callTimeout time.Duration
	requestID   atomic.Int64
	logger      *slog.Logger
	metrics     *observability.ForkMetrics
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for RPC calls.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithAuthToken sets the bearer token attached to every request.
func WithAuthToken(token string) Option {
	return func(c *Client) {
		c.authToken = strings.TrimSpace(token)
	}
}

// WithRateLimit caps outgoing requests per second. A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetryPolicy overrides the retry budget.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) {
		c.retry = policy
	}
}

// WithCallTimeout bounds each individual attempt.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records request outcomes on m.
func WithMetrics(m *observability.ForkMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient returns a client for endpoint.
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:    strings.TrimSpace(endpoint),
		httpClient:  &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		retry:       DefaultRetryPolicy(),
		callTimeout: defaultCallTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Status(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.call(ctx, MethodStatus, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Block(ctx context.Context, height uint64) (*Block, error) {
	var out Block
	if err := c.call(ctx, MethodBlock, []interface{}{height}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) QueryRaw(ctx context.Context, contract string, key []byte, height uint64) (RawValue, error) {
	var out RawValue
	err := c.call(ctx, MethodRaw, []interface{}{contract, hex.EncodeToString(key), height}, &out)
	return out, err
}

func (c *Client) ContractInfo(ctx context.Context, contract string, height uint64) (*ContractInfoResult, error) {
	var out ContractInfoResult
	if err := c.call(ctx, MethodContractInfo, []interface{}{contract, height}, &out); err != nil {
		return nil, err
	}
	if out.Found && out.Info == nil {
		return nil, fmt.Errorf("%s: found contract without info", MethodContractInfo)
	}
	return &out, nil
}

func (c *Client) Code(ctx context.Context, codeID uint64, height uint64) (*CodeResult, error) {
	var out CodeResult
	if err := c.call(ctx, MethodCode, []interface{}{codeID, height}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Balance(ctx context.Context, address, denom string, height uint64) (string, error) {
	var out BalanceResult
	if err := c.call(ctx, MethodBalance, []interface{}{address, denom, height}, &out); err != nil {
		return "", err
	}
	return out.Amount, nil
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	started := time.Now()
	attempt := 0
	op := func() error {
		attempt++
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		result, err := c.do(ctx, method, params)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if class, _ := Classify(err); class == ClassTerminal {
				return backoff.Permanent(err)
			}
			return err
		}
		if err := json.Unmarshal(result, out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode %s result: %w", method, err))
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		_, reason := Classify(err)
		c.metrics.RecordRetry(method, reason)
		c.logger.Warn("remote query failed, retrying",
			slog.String("method", method),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", wait),
			slog.String("reason", reason),
			slog.Any("error", err))
	}
	err := backoff.RetryNotify(op, c.retry.backOff(ctx), notify)
	c.metrics.ObserveRemote(method, err, time.Since(started))
	if err != nil {
		return fmt.Errorf("%s after %d attempt(s): %w", method, attempt, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	req := Request{
		JSONRPC: jsonRPCVersion,
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var rpcResp Response
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}
