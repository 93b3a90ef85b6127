package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Market is metadata about a prediction market, resolved from a CLOB
// token ID via the Gamma API.
type Market struct {
	Question string
	Slug     string
	Active   bool
	Closed   bool
	Outcomes []string
	TokenIDs []string
}

// GammaClient resolves market metadata from the Gamma API.
type GammaClient struct {
	baseURL string
	client  *http.Client
}

// NewGammaClient creates a new Gamma API client.
func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: DefaultTimeout},
	}
}

// gammaMarket is the raw Gamma payload. Outcomes and clobTokenIds are
// JSON arrays encoded as strings inside the JSON document.
type gammaMarket struct {
	Question     string `json:"question"`
	Slug         string `json:"slug"`
	Active       bool   `json:"active"`
	Closed       bool   `json:"closed"`
	Outcomes     string `json:"outcomes"`
	ClobTokenIDs string `json:"clobTokenIds"`
}

// LookupByToken resolves the market a CLOB token belongs to. Returns
// ErrMarketNotFound if Gamma knows no such market.
func (c *GammaClient) LookupByToken(ctx context.Context, tokenID string) (*Market, error) {
	if !ValidTokenID(tokenID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTokenID, tokenID)
	}

	u := c.baseURL + "/markets?" + url.Values{"clob_token_ids": {tokenID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: gamma status %d", ErrUnavailable, resp.StatusCode)
	}

	var raw []gammaMarket
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode gamma response: %v", ErrUnavailable, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: token %s", ErrMarketNotFound, tokenID)
	}

	m := &Market{
		Question: raw[0].Question,
		Slug:     raw[0].Slug,
		Active:   raw[0].Active,
		Closed:   raw[0].Closed,
	}
	if raw[0].Outcomes != "" {
		if err := json.Unmarshal([]byte(raw[0].Outcomes), &m.Outcomes); err != nil {
			return nil, fmt.Errorf("%w: decode outcomes: %v", ErrUnavailable, err)
		}
	}
	if raw[0].ClobTokenIDs != "" {
		if err := json.Unmarshal([]byte(raw[0].ClobTokenIDs), &m.TokenIDs); err != nil {
			return nil, fmt.Errorf("%w: decode token ids: %v", ErrUnavailable, err)
		}
	}
	return m, nil
}

// WithGammaHTTPClient sets a custom http.Client, mainly for tests.
func (c *GammaClient) WithGammaHTTPClient(client *http.Client) *GammaClient {
	c.client = client
	return c
}
