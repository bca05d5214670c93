// Package perpvenue is a minimal client for a perp-venue mark-price feed,
// used both as an Ingestor feed and as an Oracle Validator price source
// (spec.md §4.1, §4.5). Its shape mirrors dexaggregator's since the two
// feeds only differ in the upstream API they wrap.
package perpvenue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/alanyoungcy/chainstrategy/internal/domain"
	"github.com/alanyoungcy/chainstrategy/internal/ingestor"
)

// Client queries a perp-venue mark-price feed (e.g. a Hyperliquid-style API).
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new perp venue client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 8 * time.Second,
		},
	}
}

// Name identifies this feed/source.
func (c *Client) Name() string { return "perpVenue" }

type markPrice struct {
	Market   string  `json:"market"`
	MarkUSD  float64 `json:"markPriceUsd"`
}

// FetchQuotes returns the current mark prices for all markets on chain
// (chain is typically a constant like "hyperliquid" for perp venues).
func (c *Client) FetchQuotes(ctx context.Context, chain string) ([]ingestor.Quote, error) {
	body, err := c.get(ctx, fmt.Sprintf("/chains/%s/mark-prices", url.PathEscape(chain)))
	if err != nil {
		return nil, fmt.Errorf("perpvenue: fetch quotes for %s: %w", chain, err)
	}

	var resp struct {
		Markets []markPrice `json:"markets"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("perpvenue: decode quotes: %w", err)
	}

	quotes := make([]ingestor.Quote, 0, len(resp.Markets))
	for _, m := range resp.Markets {
		quotes = append(quotes, ingestor.Quote{
			Chain:    chain,
			Address:  m.Market,
			Symbol:   m.Market,
			PriceUsd: m.MarkUSD,
		})
	}
	return quotes, nil
}

// FetchPrice returns the mark price for a single market, or nil if unknown
// (domain.PriceSource). tokenAddress is interpreted as the market symbol.
func (c *Client) FetchPrice(ctx context.Context, chain, tokenAddress string) (*float64, error) {
	path := fmt.Sprintf("/chains/%s/mark-prices/%s", url.PathEscape(chain), url.PathEscape(tokenAddress))
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("perpvenue: fetch price: %w", err)
	}

	var resp struct {
		MarkUSD *float64 `json:"markPriceUsd"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("perpvenue: decode price: %w", err)
	}
	return resp.MarkUSD, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}
	return body, nil
}

// Compile-time interface checks.
var (
	_ ingestor.Feed      = (*Client)(nil)
	_ domain.PriceSource = (*Client)(nil)
)
