// Package dexaggregator is a minimal client for a DEX-pair price aggregator
// API, used both as an Ingestor feed and as an Oracle Validator price source
// (spec.md §4.1, §4.5).
package dexaggregator

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

// Client queries a DEX-pair mid-price aggregator.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new DEX aggregator client. baseURL is the API root;
// apiKey, if non-empty, is sent as a bearer token.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 8 * time.Second,
		},
	}
}

// Name identifies this feed/source.
func (c *Client) Name() string { return "dexAggregator" }

type pairQuote struct {
	Address  string  `json:"address"`
	Symbol   string  `json:"symbol"`
	PriceUSD float64 `json:"priceUsd"`
}

// FetchQuotes returns the latest mids for every tracked pair on chain.
func (c *Client) FetchQuotes(ctx context.Context, chain string) ([]ingestor.Quote, error) {
	body, err := c.get(ctx, fmt.Sprintf("/chains/%s/pairs", url.PathEscape(chain)))
	if err != nil {
		return nil, fmt.Errorf("dexaggregator: fetch quotes for %s: %w", chain, err)
	}

	var resp struct {
		Pairs []pairQuote `json:"pairs"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("dexaggregator: decode quotes: %w", err)
	}

	quotes := make([]ingestor.Quote, 0, len(resp.Pairs))
	for _, p := range resp.Pairs {
		quotes = append(quotes, ingestor.Quote{
			Chain:    chain,
			Address:  p.Address,
			Symbol:   p.Symbol,
			PriceUsd: p.PriceUSD,
		})
	}
	return quotes, nil
}

// FetchPrice returns the mid-price for a single (chain, tokenAddress) pair,
// or nil if the aggregator has no data for it (domain.PriceSource).
func (c *Client) FetchPrice(ctx context.Context, chain, tokenAddress string) (*float64, error) {
	path := fmt.Sprintf("/chains/%s/pairs/%s", url.PathEscape(chain), url.PathEscape(tokenAddress))
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("dexaggregator: fetch price: %w", err)
	}

	var resp struct {
		PriceUSD *float64 `json:"priceUsd"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("dexaggregator: decode price: %w", err)
	}
	return resp.PriceUSD, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
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
