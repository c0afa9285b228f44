package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/brickvest/cryptopay/types"
)

// Source supplies a full rate table in one call. A fetch either returns
// every rate it knows or fails as a unit; the estimator never merges
// partial results across fetches.
type Source interface {
	FetchRates(ctx context.Context) (map[types.Currency]decimal.Decimal, error)
}

// HTTPSource fetches USD rates from a market-data REST endpoint.
type HTTPSource struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPSource creates a source against the given base URL. An empty
// apiKey sends unauthenticated requests.
func NewHTTPSource(baseURL, apiKey string) *HTTPSource {
	return &HTTPSource{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				MaxIdleConnsPerHost: 10,
			},
		},
	}
}

type rateEntry struct {
	Symbol   string `json:"symbol"`
	PriceUSD string `json:"priceUsd"`
}

// FetchRates pulls the current USD price for every supported currency.
func (s *HTTPSource) FetchRates(ctx context.Context) (map[types.Currency]decimal.Decimal, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	u.Path = "/v1/rates"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request failed: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rate endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body failed: %w", err)
	}

	var payload struct {
		Data []rateEntry `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parsing rate response failed: %w", err)
	}

	out := make(map[types.Currency]decimal.Decimal, len(payload.Data))
	for _, e := range payload.Data {
		c := types.Currency(e.Symbol)
		if !c.Valid() {
			continue
		}
		price, err := decimal.NewFromString(e.PriceUSD)
		if err != nil || !price.IsPositive() {
			continue
		}
		out[c] = price
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("rate response contained no usable rates")
	}
	return out, nil
}
