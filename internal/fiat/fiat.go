// Package fiat maintains a time-bounded cache of the BTC/EUR exchange
// rate, quoted from the Kraken public ticker.
//
// The cache holds a single slot. A rate older than the requested max age
// triggers exactly one refresh; a failed refresh leaves the slot untouched
// and reports ErrRateUnavailable for that call only, so an expired rate is
// still reachable through a later call with a larger max age.
package fiat

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"
)

// DefaultMaxAge is how long a quoted rate counts as fresh.
const DefaultMaxAge = 5 * time.Minute

// DefaultQuoteURL is the Kraken BTC/EUR ticker endpoint.
const DefaultQuoteURL = "https://api.kraken.com/0/public/Ticker?pair=BTCEUR"

// Symbol is appended to formatted fiat amounts.
const Symbol = "€"

// ErrRateUnavailable reports that no sufficiently fresh exchange rate
// could be obtained.
var ErrRateUnavailable = errors.New("no fiat rate available")

// Cache is a single-slot exchange-rate cache. The zero slot is always
// stale, so the first lookup fetches.
type Cache struct {
	url    string
	client *http.Client

	mu        sync.Mutex
	price     float64
	fetchedAt time.Time
}

// New creates a cache quoting from the Kraken ticker.
func New() *Cache {
	return NewWithURL(DefaultQuoteURL)
}

// NewWithURL creates a cache quoting from a custom ticker URL.
func NewWithURL(url string) *Cache {
	return &Cache{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// tickerResponse is the Kraken ticker payload. The result is keyed by the
// pair name (XXBTZEUR); "c" holds the last trade [price, volume].
type tickerResponse struct {
	Error  []string `json:"error"`
	Result map[string]struct {
		Last []string `json:"c"`
	} `json:"result"`
}

// Rate returns the cached rate when it is younger than maxAge, otherwise
// refreshes it with a single quote-source call. No retries.
func (c *Cache) Rate(maxAge time.Duration) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Since(c.fetchedAt) <= maxAge && !c.fetchedAt.IsZero() {
		return c.price, nil
	}

	price, err := c.fetch()
	if err != nil {
		slog.Debug("fiat rate refresh failed", "error", err)
		return 0, ErrRateUnavailable
	}

	c.price = price
	c.fetchedAt = time.Now()
	return price, nil
}

// fetch performs one quote-source call. Callers hold c.mu.
func (c *Cache) fetch() (float64, error) {
	resp, err := c.client.Get(c.url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var ticker tickerResponse
	if err := json.NewDecoder(resp.Body).Decode(&ticker); err != nil {
		return 0, err
	}
	if len(ticker.Error) > 0 {
		return 0, fmt.Errorf("quote source error: %v", ticker.Error)
	}
	for _, pair := range ticker.Result {
		if len(pair.Last) == 0 {
			break
		}
		var price float64
		if _, err := fmt.Sscanf(pair.Last[0], "%f", &price); err != nil {
			return 0, err
		}
		if price <= 0 {
			break
		}
		return price, nil
	}
	return 0, errors.New("quote source returned no price")
}

// ToFiat converts satoshis into euros, rounded to cents.
func (c *Cache) ToFiat(sats int64, maxAge time.Duration) (float64, error) {
	rate, err := c.Rate(maxAge)
	if err != nil {
		return 0, err
	}
	return math.Round(float64(sats)*rate/1e8*100) / 100, nil
}

// ToSatoshis converts euros into satoshis, rounded down.
func (c *Cache) ToSatoshis(fiatAmount float64) (int64, error) {
	rate, err := c.Rate(DefaultMaxAge)
	if err != nil {
		return 0, err
	}
	return int64(math.Floor(fiatAmount / rate * 1e8)), nil
}

// FiatString renders satoshis as a two-decimal euro amount.
func (c *Cache) FiatString(sats int64, maxAge time.Duration) (string, error) {
	value, err := c.ToFiat(sats, maxAge)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%.2f %s", value, Symbol), nil
}
