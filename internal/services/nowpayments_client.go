package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rewardsapp/withdrawals/internal/config"
	"github.com/rewardsapp/withdrawals/internal/metrics"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PayoutRequest is one auto payout sent to the provider.
type PayoutRequest struct {
	Address        string
	Currency       string
	Amount         decimal.Decimal
	IPNCallbackURL string
}

// PayoutResult is the provider's answer to a payout call that got an HTTP
// response. Accepted reports HTTP success with a usable payout id.
type PayoutResult struct {
	StatusCode int
	ID         string
	Hash       string
	Message    string
}

func (r *PayoutResult) Accepted() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300 && r.ID != ""
}

// PayoutProvider is the external payout API.
type PayoutProvider interface {
	CreatePayout(ctx context.Context, apiKey string, req PayoutRequest) (*PayoutResult, error)
	EstimateAmount(ctx context.Context, apiKey string, amountUSD decimal.Decimal, currency string) (decimal.NullDecimal, error)
}

// NowPaymentsClient talks to the NOWPayments REST API.
type NowPaymentsClient struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	log        *zap.Logger
}

func NewNowPaymentsClient(cfg *config.ProviderConfig, log *zap.Logger) *NowPaymentsClient {
	return &NowPaymentsClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.RetryBackoff,
		log:        log.Named("nowpayments"),
	}
}

type payoutBody struct {
	Address        string      `json:"address"`
	Currency       string      `json:"currency"`
	Amount         json.Number `json:"amount"`
	IPNCallbackURL string      `json:"ipn_callback_url,omitempty"`
}

type payoutResponse struct {
	ID          json.RawMessage `json:"id"`
	Hash        string          `json:"hash"`
	Message     string          `json:"message"`
	Error       string          `json:"error"`
	Withdrawals []struct {
		Hash string `json:"hash"`
	} `json:"withdrawals"`
}

// CreatePayout posts a payout. A non-nil error means no usable response
// arrived; provider rejections come back as a result with Accepted false.
// Only responses that prove the payout was not taken (dial failure, 429,
// 503) are retried.
func (c *NowPaymentsClient) CreatePayout(ctx context.Context, apiKey string, req PayoutRequest) (*PayoutResult, error) {
	payload, err := json.Marshal(payoutBody{
		Address:        req.Address,
		Currency:       strings.ToLower(req.Currency),
		Amount:         json.Number(req.Amount.String()),
		IPNCallbackURL: req.IPNCallbackURL,
	})
	if err != nil {
		return nil, fmt.Errorf("encode payout: %w", err)
	}

	resp, err := c.send(ctx, "payout", c.maxRetries, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payout", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		c.setHeaders(httpReq, apiKey)
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
		httpReq.Header.Set("Content-Type", "application/json")
		return httpReq, nil
	}, payoutRetryable)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read payout response: %w", err)
	}

	result := &PayoutResult{StatusCode: resp.StatusCode}
	var decoded payoutResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil, fmt.Errorf("decode payout response: %w", err)
		}
		result.Message = http.StatusText(resp.StatusCode)
		return result, nil
	}

	result.ID = rawID(decoded.ID)
	result.Hash = decoded.Hash
	if result.Hash == "" && len(decoded.Withdrawals) > 0 {
		result.Hash = decoded.Withdrawals[0].Hash
	}
	result.Message = decoded.Message
	if result.Message == "" {
		result.Message = decoded.Error
	}

	c.log.Info("payout response",
		zap.Int("status", resp.StatusCode),
		zap.String("payout_id", result.ID),
		zap.String("message", result.Message))
	return result, nil
}

// estimateMaxRetries caps retries of the best-effort estimate.
const estimateMaxRetries = 1

// EstimateAmount converts a USD amount into the payout currency. Failures
// are returned for logging; callers treat them as "no estimate".
func (c *NowPaymentsClient) EstimateAmount(ctx context.Context, apiKey string, amountUSD decimal.Decimal, currency string) (decimal.NullDecimal, error) {
	query := url.Values{}
	query.Set("amount", amountUSD.String())
	query.Set("currency_from", "usd")
	query.Set("currency_to", strings.ToLower(currency))

	resp, err := c.send(ctx, "estimate", min(c.maxRetries, estimateMaxRetries), func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/estimate?"+query.Encode(), nil)
		if err != nil {
			return nil, err
		}
		c.setHeaders(httpReq, apiKey)
		return httpReq, nil
	}, estimateRetryable)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.NullDecimal{}, fmt.Errorf("estimate returned status %d", resp.StatusCode)
	}

	var decoded struct {
		EstimatedAmount decimal.NullDecimal `json:"estimated_amount"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&decoded); err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("decode estimate: %w", err)
	}
	return decoded.EstimatedAmount, nil
}

func (c *NowPaymentsClient) setHeaders(req *http.Request, apiKey string) {
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("Accept", "application/json")
}

// send performs the request built by build, retrying with linear backoff
// while retryable says the attempt left no trace at the provider.
func (c *NowPaymentsClient) send(ctx context.Context, endpoint string, maxRetries int, build func(context.Context) (*http.Request, error), retryable func(*http.Response, error) bool) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		req, err := build(ctx)
		if err != nil {
			return nil, fmt.Errorf("build %s request: %w", endpoint, err)
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		metrics.ProviderLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

		if attempt >= maxRetries || !retryable(resp, err) {
			if err != nil {
				return nil, fmt.Errorf("%s request: %w", endpoint, err)
			}
			return resp, nil
		}

		if resp != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		c.log.Warn("retrying provider request",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s request: %w", endpoint, ctx.Err())
		case <-time.After(c.backoff * time.Duration(attempt+1)):
		}
	}
}

func payoutRetryable(resp *http.Response, err error) bool {
	if err != nil {
		var opErr *net.OpError
		return errors.As(err, &opErr) && opErr.Op == "dial"
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable
}

func estimateRetryable(resp *http.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
}

// rawID accepts the provider id as either a JSON string or number.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
