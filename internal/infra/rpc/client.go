// Package rpc submits requests to a JSON-RPC node over HTTP.
//
// Every failure returned by Client is a *domain.SubmitError whose kind is
// decided here, at the backend boundary, so the resilience core never has
// to look at backend messages.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/txguard/internal/core/domain"
	"github.com/vietddude/txguard/internal/metrics"
)

// Config holds RPC endpoint settings.
type Config struct {
	Name    string        `yaml:"name"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// HealthStatus summarises recent calls.
type HealthStatus struct {
	Available     bool          `json:"available"`
	Latency       time.Duration `json:"latency"`
	ErrorRate     float64       `json:"error_rate"`
	LastSuccessAt time.Time     `json:"last_success_at"`
	LastFailureAt time.Time     `json:"last_failure_at"`
}

// Client implements domain.Submitter for JSON-RPC 2.0 over HTTP.
type Client struct {
	name       string
	endpoint   string
	httpClient *http.Client
	log        *slog.Logger
	nextID     atomic.Uint64

	mu           sync.RWMutex
	health       HealthStatus
	totalLatency time.Duration
	successCount int
	failureCount int
	requestCount int

	Monitor *Monitor
}

// NewClient creates a client for cfg.URL.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	return &Client{
		name:     cfg.Name,
		endpoint: cfg.URL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log: slog.Default().With("provider", cfg.Name),
		health: HealthStatus{
			Available:     true,
			LastSuccessAt: time.Now(),
		},
		Monitor: NewMonitor(),
	}
}

// Name returns the provider name.
func (c *Client) Name() string { return c.name }

// Submit sends req. A non-nil req.Cost is injected as the hex gasPrice of
// an object first parameter.
func (c *Client) Submit(ctx context.Context, req domain.Request) (any, error) {
	return c.Call(ctx, req.Method, withCost(req.Params, req.Cost))
}

func withCost(params []any, cost *big.Int) []any {
	if cost == nil || len(params) == 0 {
		return params
	}
	tx, ok := params[0].(map[string]any)
	if !ok {
		return params
	}

	out := make([]any, len(params))
	copy(out, params)
	patched := make(map[string]any, len(tx)+1)
	for k, v := range tx {
		patched[k] = v
	}
	patched["gasPrice"] = "0x" + cost.Text(16)
	out[0] = patched
	return out
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Call makes a single JSON-RPC call.
func (c *Client) Call(ctx context.Context, method string, params []any) (any, error) {
	start := time.Now()
	latencyObs := metrics.RPCLatency.WithLabelValues(c.name, method)

	switch c.Monitor.CheckStatus() {
	case StatusThrottled, StatusBlocked:
		wait := c.Monitor.RetryAfter()
		return nil, c.fail(&domain.SubmitError{
			ErrKind:    domain.KindRateLimited,
			Err:        fmt.Errorf("provider %s throttled, retry after %s", c.name, wait),
			RetryAfter: wait,
		})
	}

	if params == nil {
		params = []any{}
	}
	reqBody := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      c.nextID.Add(1),
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, c.fail(domain.NewSubmitError(domain.KindInvalidRequest, fmt.Errorf("marshal request: %w", err)))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, c.fail(domain.NewSubmitError(domain.KindInvalidRequest, fmt.Errorf("create request: %w", err)))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.recordFailure(domain.KindUnknown)
			return nil, fmt.Errorf("rpc call %s: %w", method, ctxErr)
		}
		return nil, c.fail(domain.NewSubmitError(domain.KindTransient, fmt.Errorf("rpc call %s: %w", method, err)))
	}
	defer resp.Body.Close()

	latency := time.Since(start)
	latencyObs.Observe(latency.Seconds())

	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusForbidden:
		hint := c.Monitor.RecordThrottle(resp.StatusCode, parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()))
		return nil, c.fail(&domain.SubmitError{
			ErrKind:    domain.KindRateLimited,
			Code:       resp.StatusCode,
			Err:        fmt.Errorf("http %d from %s", resp.StatusCode, c.name),
			RetryAfter: hint,
		})
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.fail(domain.NewSubmitError(domain.KindTransient, fmt.Errorf("read response: %w", err)))
	}

	if resp.StatusCode != http.StatusOK {
		kind := kindForHTTPStatus(resp.StatusCode)
		if c.Monitor.DetectThrottlePattern(string(body)) {
			kind = domain.KindRateLimited
		}
		return nil, c.fail(&domain.SubmitError{
			ErrKind: kind,
			Code:    resp.StatusCode,
			Err:     fmt.Errorf("http %d: %s", resp.StatusCode, truncate(string(body), 256)),
		})
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, c.fail(domain.NewSubmitError(domain.KindUnknown, fmt.Errorf("parse response: %w", err)))
	}

	if rpcResp.Error != nil {
		kind := c.kindForRPCError(rpcResp.Error.Code, rpcResp.Error.Message)
		return nil, c.fail(&domain.SubmitError{ErrKind: kind, Code: rpcResp.Error.Code, Err: rpcResp.Error})
	}

	var result any
	if len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, &result); err != nil {
			return nil, c.fail(domain.NewSubmitError(domain.KindUnknown, fmt.Errorf("decode result: %w", err)))
		}
	}

	c.Monitor.RecordRequest(latency)
	c.recordSuccess(latency)
	return result, nil
}

// GasPrice returns the node's current gas price. It implements
// fee.BaselineSource.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	res, err := c.Call(ctx, "eth_gasPrice", nil)
	if err != nil {
		return nil, err
	}
	return parseQuantity(res)
}

// TransactionReceipt returns the receipt for hash, or nil while the
// transaction is still pending.
func (c *Client) TransactionReceipt(ctx context.Context, hash string) (map[string]any, error) {
	res, err := c.Call(ctx, "eth_getTransactionReceipt", []any{hash})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	receipt, ok := res.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected receipt type %T", res)
	}
	return receipt, nil
}

func parseQuantity(v any) (*big.Int, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected quantity type %T", v)
	}
	n, ok := new(big.Int).SetString(strings.TrimPrefix(s, "0x"), 16)
	if !ok {
		return nil, fmt.Errorf("invalid quantity %q", s)
	}
	return n, nil
}

// Health returns the client's health status.
func (c *Client) Health() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.health
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) fail(err *domain.SubmitError) error {
	c.recordFailure(err.ErrKind)
	c.log.Debug("RPC call failed", "kind", err.ErrKind, "error", err)
	return err
}

func (c *Client) recordSuccess(latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.successCount++
	c.requestCount++
	c.totalLatency += latency
	c.health.LastSuccessAt = time.Now()
	c.health.Available = true
	c.health.ErrorRate = float64(c.failureCount) / float64(c.requestCount)
	c.health.Latency = c.totalLatency / time.Duration(c.successCount)
}

func (c *Client) recordFailure(kind domain.ErrorKind) {
	metrics.RPCErrorsTotal.WithLabelValues(c.name, string(kind)).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.failureCount++
	c.requestCount++
	c.health.LastFailureAt = time.Now()
	c.health.ErrorRate = float64(c.failureCount) / float64(c.requestCount)
	if c.health.ErrorRate > 0.5 {
		c.health.Available = false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ domain.Submitter = (*Client)(nil)

// MonitorStats returns the throttle monitor's statistics.
func (c *Client) MonitorStats() MonitorStats {
	return c.Monitor.Stats()
}
