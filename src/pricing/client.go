package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/username/coinfolio/src/logger"
)

// Client fetches historical candle closes from the exchange REST API.
// Requests are rate limited; public market-data endpoints ban aggressive
// callers.
type Client struct {
	baseURL    string
	httpClient http.Client
	limiter    *rate.Limiter
}

func NewClient(baseURL string, perSec float64, burst int) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: http.Client{
			Timeout: 20 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(perSec), burst),
	}
}

// KlinePrice returns the close of the one-minute candle covering the given
// time for a pair like "BTCEUR", or ErrQuoteNotFound when the exchange does
// not list the pair or has no candle there.
func (c *Client) KlinePrice(pair string, at time.Time) (float64, error) {
	if err := c.limiter.Wait(context.Background()); err != nil {
		return 0, err
	}

	url := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=1m&startTime=%d&limit=1",
		c.baseURL, pair, at.UTC().Truncate(time.Minute).UnixMilli())
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", "coinfolio/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to call klines API for %s: %w", pair, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound {
		// Unknown symbol.
		return 0, fmt.Errorf("%w: pair %s not listed", ErrQuoteNotFound, pair)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("klines API returned status %d for %s", resp.StatusCode, pair)
	}

	// Each kline is an array: [openTime, open, high, low, close, ...].
	var klines [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&klines); err != nil {
		return 0, fmt.Errorf("failed to decode klines response for %s: %w", pair, err)
	}
	if len(klines) == 0 || len(klines[0]) < 5 {
		return 0, fmt.Errorf("%w: no candle for %s at %s", ErrQuoteNotFound, pair, at)
	}

	var closeStr string
	if err := json.Unmarshal(klines[0][4], &closeStr); err != nil {
		return 0, fmt.Errorf("failed to decode close price for %s: %w", pair, err)
	}
	price, err := strconv.ParseFloat(closeStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid close price %q for %s: %w", closeStr, pair, err)
	}

	logger.L.Debug("Fetched kline price", "pair", pair, "time", at, "price", price)
	return price, nil
}
