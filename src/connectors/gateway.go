// REST gateway client for the exchange order API.
// Resty transport, HMAC-SHA256 request signing, taxonomy-keyed retry.
package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

const retryMaxBackoff = 8 * time.Second

// clientOrderNamespace is the fixed UUIDv5 namespace for deterministic
// client order ids. Never change it: a different namespace would defeat the
// exchange-side dedup on retried submissions.
var clientOrderNamespace = uuid.MustParse("7a9d2c6e-31b4-4f0a-9c58-2d8f6b4e1a03")

const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
)

// OrderRequest is the order the orchestrator asks the gateway to place.
type OrderRequest struct {
	Symbol        string           `json:"symbol"`
	Side          string           `json:"side"`
	OrderType     string           `json:"orderType"`
	Quantity      decimal.Decimal  `json:"quantity"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	StopLoss      *decimal.Decimal `json:"stopLoss,omitempty"`
	TakeProfit    *decimal.Decimal `json:"takeProfit,omitempty"`
	ClientOrderID string           `json:"clientOrderId"`
}

// OrderResult is the exchange acknowledgment for a submitted order.
type OrderResult struct {
	ExchangeOrderID string `json:"orderId"`
	Status          string `json:"status"`
}

type apiResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// ClientOrderID derives the deterministic exchange-side dedup key for a
// (signal, account) pair. A retried HTTP call the client could not confirm
// carries the same id, so the exchange rejects the duplicate.
func ClientOrderID(signalID, accountID uint) string {
	return uuid.NewSHA1(clientOrderNamespace, []byte(fmt.Sprintf("%d:%d", signalID, accountID))).String()
}

// Client is the authenticated exchange gateway client. Safe for concurrent
// use; the only mutable state is the server time offset.
type Client struct {
	apiKey         string
	apiSecret      string
	recvWindowMS   int64
	retryAttempts  int
	retryBaseDelay time.Duration
	http           *resty.Client
	now            func() time.Time

	mu             sync.Mutex
	serverOffsetMS int64
	timeSynced     bool
}

// NewClient builds a gateway client from the package env config.
func NewClient(apiKey, apiSecret string) *Client {
	return NewClientWithConfig(apiKey, apiSecret, GetConfig())
}

// NewClientWithConfig builds a gateway client with explicit settings.
func NewClientWithConfig(apiKey, apiSecret string, config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "https://testnet.exchange.example.com"
		logger.Warnf("No base URL provided, using default: %s", config.BaseURL)
	}

	httpClient := resty.New().
		SetBaseURL(config.BaseURL).
		SetTimeout(config.RequestTimeout)

	return &Client{
		apiKey:         apiKey,
		apiSecret:      apiSecret,
		recvWindowMS:   config.RecvWindowMS,
		retryAttempts:  config.RetryAttempts,
		retryBaseDelay: config.RetryBaseDelay,
		http:           httpClient,
		now:            time.Now,
	}
}

// signRequest computes the hex HMAC-SHA256 over the canonical request
// string: timestamp + apiKey + recvWindow + body.
func signRequest(timestamp int64, apiKey string, recvWindow int64, body, secret string) string {
	base := fmt.Sprintf("%d%s%d%s", timestamp, apiKey, recvWindow, body)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	return hex.EncodeToString(mac.Sum(nil))
}

// SyncServerTime refreshes the local view of the exchange clock. Call it at
// startup and periodically; SubmitOrder refuses to send while the measured
// skew exceeds the recv window.
func (c *Client) SyncServerTime(ctx context.Context) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Get("/v1/time")
	if err != nil {
		return fmt.Errorf("failed to fetch server time: %w", err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("HTTP %d fetching server time: %s", resp.StatusCode(), string(resp.Body()))
	}

	var envelope apiResponse
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return fmt.Errorf("failed to decode server time response: %w", err)
	}
	if envelope.Code != 0 {
		return fmt.Errorf("server time API error %d: %s", envelope.Code, envelope.Msg)
	}

	var payload struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		return fmt.Errorf("failed to decode server time payload: %w", err)
	}

	offset := payload.ServerTime - c.now().UnixMilli()

	c.mu.Lock()
	c.serverOffsetMS = offset
	c.timeSynced = true
	c.mu.Unlock()

	logger.WithFields(map[string]interface{}{
		"component": "GatewayClient",
		"offsetMS":  offset,
	}).Debug("Exchange server time synchronized")

	return nil
}

func (c *Client) clockSkewMS() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverOffsetMS, c.timeSynced
}

// SubmitOrder signs and sends an order request. TRANSIENT_NETWORK and
// RATE_LIMITED responses are retried with exponential backoff (base delay,
// factor 2, bounded attempts); every other error kind fails immediately.
func (c *Client) SubmitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if offset, synced := c.clockSkewMS(); synced && abs64(offset) > c.recvWindowMS {
		// The exchange would reject the signature anyway; refuse locally
		// so a skewed host cannot hammer the auth endpoint.
		return nil, &ExchangeError{
			Kind: KindAuthInvalid,
			Code: -1,
			Msg:  fmt.Sprintf("clock skew %dms exceeds recv window %dms", offset, c.recvWindowMS),
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order request: %w", err)
	}

	attempts := c.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		result, err := c.doSubmit(ctx, body)
		if err == nil {
			return result, nil
		}
		lastErr = err

		exErr, ok := err.(*ExchangeError)
		if !ok || !exErr.Retryable() || attempt+1 >= attempts {
			return nil, err
		}

		delay := c.retryDelay(attempt)
		logger.WithFields(map[string]interface{}{
			"component":     "GatewayClient",
			"clientOrderID": req.ClientOrderID,
			"kind":          exErr.Kind,
			"attempt":       attempt + 1,
			"delay":         delay.String(),
		}).Warn("Retryable gateway error, backing off")

		select {
		case <-ctx.Done():
			return nil, &ExchangeError{Kind: KindTransientNetwork, Code: -1, Msg: ctx.Err().Error()}
		case <-time.After(delay):
		}
	}

	return nil, lastErr
}

func (c *Client) doSubmit(ctx context.Context, body []byte) (*OrderResult, error) {
	offset, _ := c.clockSkewMS()
	timestamp := c.now().UnixMilli() + offset
	signature := signRequest(timestamp, c.apiKey, c.recvWindowMS, string(body), c.apiSecret)

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-API-KEY", c.apiKey).
		SetHeader("X-SIGNATURE", signature).
		SetHeader("X-TIMESTAMP", fmt.Sprintf("%d", timestamp)).
		SetHeader("X-RECV-WINDOW", fmt.Sprintf("%d", c.recvWindowMS)).
		SetBody(body).
		Post("/v1/orders")

	if err != nil {
		return nil, &ExchangeError{Kind: KindTransientNetwork, Code: -1, Msg: err.Error()}
	}

	var envelope apiResponse
	if jsonErr := json.Unmarshal(resp.Body(), &envelope); jsonErr != nil {
		// No parseable envelope; classify by HTTP status alone.
		return nil, errorFromStatus(resp.StatusCode(), string(resp.Body()))
	}

	if envelope.Code != 0 {
		return nil, &ExchangeError{Kind: KindForCode(envelope.Code), Code: envelope.Code, Msg: envelope.Msg}
	}

	if resp.StatusCode() != 200 {
		return nil, errorFromStatus(resp.StatusCode(), string(resp.Body()))
	}

	var result OrderResult
	if err := json.Unmarshal(envelope.Data, &result); err != nil {
		return nil, &ExchangeError{Kind: KindUnknown, Code: 0, Msg: fmt.Sprintf("unparseable order ack: %v", err)}
	}

	return &result, nil
}

func errorFromStatus(status int, body string) *ExchangeError {
	msg := fmt.Sprintf("HTTP %d: %s", status, body)
	switch {
	case status == 429:
		return &ExchangeError{Kind: KindRateLimited, Code: -status, Msg: msg}
	case status == 408, status >= 500 && status <= 599:
		return &ExchangeError{Kind: KindTransientNetwork, Code: -status, Msg: msg}
	case status == 401, status == 403:
		return &ExchangeError{Kind: KindAuthInvalid, Code: -status, Msg: msg}
	default:
		return &ExchangeError{Kind: KindUnknown, Code: -status, Msg: msg}
	}
}

func (c *Client) retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		return c.retryBaseDelay
	}
	if attempt > 30 {
		return retryMaxBackoff
	}
	delay := c.retryBaseDelay * time.Duration(1<<attempt)
	if delay > retryMaxBackoff {
		return retryMaxBackoff
	}
	return delay
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
