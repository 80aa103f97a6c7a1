package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openlots/lotledger/internal/domain/pricing"
)

// HTTPFeedSource queries price oracles over HTTP. Each registration's feed
// URL is expected to serve a JSON document:
//
//	{"price": "1850.23", "updated_at": "2026-08-30T12:00:00Z"}
//
// where price is a decimal string in the asset's quote currency. The decimal
// is split exactly into an integer price and its precision; no float ever
// touches the value.
type HTTPFeedSource struct {
	client *http.Client
}

// NewHTTPFeedSource creates a feed source with the given request timeout.
func NewHTTPFeedSource(timeout time.Duration) *HTTPFeedSource {
	return &HTTPFeedSource{
		client: &http.Client{Timeout: timeout},
	}
}

type feedResponse struct {
	Price     string    `json:"price"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetPrice fetches and parses one quote.
func (s *HTTPFeedSource) GetPrice(ctx context.Context, reg *pricing.Registration) (*pricing.Quote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reg.FeedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build feed request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	var body feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode feed response: %w", err)
	}

	price, err := decimal.NewFromString(body.Price)
	if err != nil {
		return nil, fmt.Errorf("feed price %q is not a decimal: %w", body.Price, err)
	}

	return quoteFromDecimal(price, body.UpdatedAt), nil
}

// quoteFromDecimal converts a decimal price into an integer price plus its
// precision. 1850.23 becomes (185023, 2); 1.85e3 becomes (1850, 0).
func quoteFromDecimal(price decimal.Decimal, updatedAt time.Time) *pricing.Quote {
	if exp := price.Exponent(); exp < 0 {
		return &pricing.Quote{
			Price:     price.Coefficient(),
			Decimals:  -exp,
			UpdatedAt: updatedAt,
		}
	}
	// Whole number: expand any positive exponent into the integer.
	return &pricing.Quote{
		Price:     price.BigInt(),
		Decimals:  0,
		UpdatedAt: updatedAt,
	}
}
