package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// PriceQuote is the oracle response body, e.g. {"symbol":"O","price":"0.0021"}.
type PriceQuote struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// PriceClient fetches O-Coin quotes from an external price oracle.
type PriceClient struct {
	url        string
	httpClient *http.Client

	// last good quote (in-memory)
	mu        sync.RWMutex
	last      decimal.Decimal
	updatedAt time.Time
}

func NewPriceClient(url string, timeout time.Duration) *PriceClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PriceClient{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchQuote calls the oracle once.
func (c *PriceClient) FetchQuote(ctx context.Context) (*PriceQuote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP request failed with status: %d", resp.StatusCode)
	}

	var quote PriceQuote
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return nil, fmt.Errorf("failed to decode JSON response: %w", err)
	}
	if !quote.Price.IsPositive() {
		return nil, fmt.Errorf("oracle returned non-positive price %s", quote.Price.String())
	}
	return &quote, nil
}

// GetPrice returns the current quote. When the oracle fails it falls back to
// the last good quote and reports cached=true.
func (c *PriceClient) GetPrice(ctx context.Context) (price decimal.Decimal, cached bool, err error) {
	quote, err := c.FetchQuote(ctx)
	if err != nil {
		c.mu.RLock()
		last, ok := c.last, !c.updatedAt.IsZero()
		c.mu.RUnlock()
		if ok {
			return last, true, nil
		}
		return decimal.Zero, false, fmt.Errorf("failed to get quote and no cached price: %w", err)
	}

	c.mu.Lock()
	c.last = quote.Price
	c.updatedAt = time.Now()
	c.mu.Unlock()
	return quote.Price, false, nil
}
