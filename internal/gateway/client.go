package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// AuthHeader carries the static per-server panel secret on every request.
const AuthHeader = "X-Panel-Token"

// RetryPolicy bounds remote panel calls. MaxAttempts is the total number of
// tries (not retries); only network-class errors consume further attempts.
type RetryPolicy struct {
	MaxAttempts    int
	BackoffBase    time.Duration
	RequestTimeout time.Duration
}

// Client calls one gateway server's management panel API.
type Client struct {
	baseURL    string
	secret     string
	retry      RetryPolicy
	httpClient *http.Client
}

// NewClient creates a panel client for one gateway server.
func NewClient(baseURL, secret string, retry RetryPolicy) *Client {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	if retry.BackoffBase <= 0 {
		retry.BackoffBase = 500 * time.Millisecond
	}
	if retry.RequestTimeout <= 0 {
		retry.RequestTimeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		retry:   retry,
		httpClient: &http.Client{
			Timeout: retry.RequestTimeout,
		},
	}
}

// ClientSpec describes the remote client to create. Email is chosen
// deterministically by the caller (derived from the config ID through the
// naming template) so a retried create after an ambiguous failure lands on
// the same remote client instead of producing a duplicate.
type ClientSpec struct {
	Email      string
	Type       string
	LimitBytes *int64 // nil = unlimited
	ExpiresAt  *time.Time
}

type createClientBody struct {
	Email  string `json:"email"`
	Type   string `json:"type"`
	Limit  *int64 `json:"limit,omitempty"`
	Expire string `json:"expire,omitempty"`
}

type createClientResponse struct {
	ID       string `json:"id"`
	ClientID string `json:"client_id"`
}

type limitBody struct {
	Limit int64 `json:"limit"` // 0 = unlimited
}

type expireBody struct {
	Expire *string `json:"expire"` // null clears the expiry
}

type usageResponse struct {
	Used int64 `json:"used"`
}

type allUsageResponse struct {
	Usage map[string]int64 `json:"usage"`
}

type healthResponse struct {
	Status string `json:"status"`
}

// CreateClient creates a client credential on the panel and returns its
// remote identifier.
func (c *Client) CreateClient(ctx context.Context, spec *ClientSpec) (string, error) {
	body := createClientBody{
		Email: spec.Email,
		Type:  spec.Type,
		Limit: spec.LimitBytes,
	}
	if spec.ExpiresAt != nil {
		body.Expire = spec.ExpiresAt.UTC().Format(time.RFC3339)
	}

	var result createClientResponse
	err := c.withRetry(ctx, "create_client", func() error {
		return c.doOnce(ctx, "create_client", http.MethodPost, "/clients", body, &result)
	})
	if err != nil {
		return "", err
	}

	remoteID := result.ID
	if remoteID == "" {
		remoteID = result.ClientID
	}
	if remoteID == "" {
		return "", &Error{Kind: KindFatal, Op: "create_client", Message: "panel returned no client id"}
	}

	log.Printf("[GatewayClient] Client created on panel: %s", remoteID)
	return remoteID, nil
}

// DeleteClient removes a client credential from the panel. A 404 means the
// client is already gone and is treated as success (idempotent delete).
func (c *Client) DeleteClient(ctx context.Context, remoteID string) error {
	err := c.withRetry(ctx, "delete_client", func() error {
		return c.doOnce(ctx, "delete_client", http.MethodDelete, "/clients/"+remoteID, nil, nil)
	})
	if IsNotFound(err) {
		log.Printf("[GatewayClient] Client %s already absent on panel, treating delete as success", remoteID)
		return nil
	}
	return err
}

// UpdateLimit sets the traffic quota for a remote client. nil means
// unlimited, which the panel encodes as limit 0.
func (c *Client) UpdateLimit(ctx context.Context, remoteID string, limitBytes *int64) error {
	body := limitBody{}
	if limitBytes != nil {
		body.Limit = *limitBytes
	}
	return c.withRetry(ctx, "update_limit", func() error {
		return c.doOnce(ctx, "update_limit", http.MethodPut, "/clients/"+remoteID+"/limit", body, nil)
	})
}

// UpdateExpiry sets the expiry for a remote client. nil clears it.
func (c *Client) UpdateExpiry(ctx context.Context, remoteID string, expiresAt *time.Time) error {
	body := expireBody{}
	if expiresAt != nil {
		s := expiresAt.UTC().Format(time.RFC3339)
		body.Expire = &s
	}
	return c.withRetry(ctx, "update_expiry", func() error {
		return c.doOnce(ctx, "update_expiry", http.MethodPut, "/clients/"+remoteID+"/expire", body, nil)
	})
}

// GetUsage returns the traffic counter for one remote client.
func (c *Client) GetUsage(ctx context.Context, remoteID string) (int64, error) {
	var result usageResponse
	err := c.withRetry(ctx, "get_usage", func() error {
		return c.doOnce(ctx, "get_usage", http.MethodGet, "/clients/"+remoteID+"/usage", nil, &result)
	})
	if err != nil {
		return 0, err
	}
	return result.Used, nil
}

// GetAllUsage returns traffic counters for every client on the panel in a
// single batched call.
func (c *Client) GetAllUsage(ctx context.Context) (map[string]int64, error) {
	var result allUsageResponse
	err := c.withRetry(ctx, "get_all_usage", func() error {
		return c.doOnce(ctx, "get_all_usage", http.MethodGet, "/clients/usage", nil, &result)
	})
	if err != nil {
		return nil, err
	}
	return result.Usage, nil
}

// HealthCheck reports whether the panel answers its health endpoint.
func (c *Client) HealthCheck(ctx context.Context) (bool, error) {
	var result healthResponse
	err := c.withRetry(ctx, "health", func() error {
		return c.doOnce(ctx, "health", http.MethodGet, "/health", nil, &result)
	})
	if err != nil {
		return false, err
	}
	return result.Status == "ok", nil
}

// withRetry runs fn under the exponential backoff budget. Non-retryable
// errors abort immediately; exhaustion surfaces the last classified error.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retry.BackoffBase

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.retry.MaxAttempts-1)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		var gerr *Error
		if errors.As(err, &gerr) && !gerr.Retryable() {
			return backoff.Permanent(err)
		}
		log.Printf("[GatewayClient] %s attempt %d/%d failed: %v", op, attempt, c.retry.MaxAttempts, err)
		return err
	}, policy)
}

// doOnce performs a single HTTP exchange and classifies the outcome.
func (c *Client) doOnce(ctx context.Context, op, method, path string, body, out interface{}) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.retry.RequestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindFatal, Op: op, Message: fmt.Sprintf("marshal request: %v", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, reader)
	if err != nil {
		return &Error{Kind: KindFatal, Op: op, Message: fmt.Sprintf("create request: %v", err)}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(AuthHeader, c.secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: op, Err: err}
	}

	if cerr := classify(op, resp.StatusCode, respBody); cerr != nil {
		return cerr
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &Error{Kind: KindFatal, Op: op, Message: fmt.Sprintf("decode response: %v (body: %s)", err, respBody)}
		}
	}
	return nil
}

func classify(op string, status int, body []byte) *Error {
	if status >= 200 && status < 300 {
		return nil
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > 256 {
		msg = msg[:256]
	}

	kind := KindFatal
	switch {
	case status == http.StatusNotFound:
		kind = KindNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindAuth
	case status >= 500:
		kind = KindNetwork
	}

	return &Error{Kind: kind, Op: op, StatusCode: status, Message: msg}
}
