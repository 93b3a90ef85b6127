package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"polymarket-paper-trader/internal/domain"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// Price sides for the CLOB /price endpoint.
const (
	PriceSideBuy  = "BUY"
	PriceSideSell = "SELL"
)

// CLOBClient fetches order books and prices from the Polymarket CLOB
// REST API with retries and exponential backoff.
type CLOBClient struct {
	baseURL     string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

// ClientOption configures CLOBClient.
type ClientOption func(*CLOBClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *CLOBClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *CLOBClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *CLOBClient) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *CLOBClient) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *CLOBClient) {
		c.client = client
	}
}

// NewCLOBClient creates a new CLOB REST client.
func NewCLOBClient(baseURL string, opts ...ClientOption) *CLOBClient {
	c := &CLOBClient{
		baseURL:     baseURL,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// get performs a GET with retries and exponential backoff. Client errors
// other than 429 are not retried.
func (c *CLOBClient) get(ctx context.Context, path string, query url.Values, result interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			// Exponential backoff
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		// Handle rate limiting
		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server error %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		if resp.StatusCode != http.StatusOK {
			// Client errors are not retried
			return fmt.Errorf("%w: unexpected status %d: %s", ErrUnavailable, resp.StatusCode, string(respBody))
		}

		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("%w: unmarshal response: %v", ErrUnavailable, err)
		}

		return nil
	}

	return fmt.Errorf("%w: max retries exceeded: %v", ErrUnavailable, lastErr)
}

// bookResponse is the raw CLOB /book payload. Numeric fields arrive as
// decimal strings.
type bookResponse struct {
	AssetID   string      `json:"asset_id"`
	Bids      []bookLevel `json:"bids"`
	Asks      []bookLevel `json:"asks"`
	Timestamp string      `json:"timestamp"`
}

type bookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// GetBook fetches the order book for a token. The returned book is
// normalized and validated; a malformed level fails the whole fetch
// rather than being skipped.
func (c *CLOBClient) GetBook(ctx context.Context, tokenID string) (*domain.OrderBook, error) {
	if !ValidTokenID(tokenID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTokenID, tokenID)
	}

	var raw bookResponse
	query := url.Values{"token_id": {tokenID}}
	if err := c.get(ctx, "/book", query, &raw); err != nil {
		return nil, err
	}

	book := &domain.OrderBook{
		Token:     tokenID,
		Timestamp: time.Now().UTC(),
	}
	if raw.Timestamp != "" {
		if ms, err := strconv.ParseInt(raw.Timestamp, 10, 64); err == nil {
			book.Timestamp = time.UnixMilli(ms).UTC()
		}
	}

	var err error
	if book.Bids, err = parseLevels(raw.Bids); err != nil {
		return nil, fmt.Errorf("%w: bids: %v", ErrUnavailable, err)
	}
	if book.Asks, err = parseLevels(raw.Asks); err != nil {
		return nil, fmt.Errorf("%w: asks: %v", ErrUnavailable, err)
	}

	book.Normalize()
	if err := book.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return book, nil
}

func parseLevels(raw []bookLevel) ([]domain.BookLevel, error) {
	levels := make([]domain.BookLevel, 0, len(raw))
	for i, l := range raw {
		price, err := parseDecimal(l.Price)
		if err != nil {
			return nil, fmt.Errorf("level %d price %q: %v", i, l.Price, err)
		}
		size, err := parseDecimal(l.Size)
		if err != nil {
			return nil, fmt.Errorf("level %d size %q: %v", i, l.Size, err)
		}
		levels = append(levels, domain.BookLevel{Price: price, Size: size})
	}
	return levels, nil
}

// parseDecimal parses a decimal string, rejecting NaN and infinities.
func parseDecimal(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %q", s)
	}
	return v, nil
}

// GetMidpoint fetches the mid price for a token.
func (c *CLOBClient) GetMidpoint(ctx context.Context, tokenID string) (float64, error) {
	if !ValidTokenID(tokenID) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTokenID, tokenID)
	}

	var raw struct {
		Mid string `json:"mid"`
	}
	query := url.Values{"token_id": {tokenID}}
	if err := c.get(ctx, "/midpoint", query, &raw); err != nil {
		return 0, err
	}

	mid, err := parseDecimal(raw.Mid)
	if err != nil {
		return 0, fmt.Errorf("%w: midpoint %q: %v", ErrUnavailable, raw.Mid, err)
	}
	return mid, nil
}

// GetPrice fetches the best price for a token on one side of the book.
// Side is PriceSideBuy or PriceSideSell.
func (c *CLOBClient) GetPrice(ctx context.Context, tokenID string, side string) (float64, error) {
	if !ValidTokenID(tokenID) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTokenID, tokenID)
	}

	var raw struct {
		Price string `json:"price"`
	}
	query := url.Values{"token_id": {tokenID}, "side": {side}}
	if err := c.get(ctx, "/price", query, &raw); err != nil {
		return 0, err
	}

	price, err := parseDecimal(raw.Price)
	if err != nil {
		return 0, fmt.Errorf("%w: price %q: %v", ErrUnavailable, raw.Price, err)
	}
	return price, nil
}

// Compile-time interface checks.
var (
	_ BookSource  = (*CLOBClient)(nil)
	_ PriceSource = (*CLOBClient)(nil)
)
