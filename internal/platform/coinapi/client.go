// Package coinapi is a REST client for the CoinAPI market data service, the
// upstream source of asset prices.
package coinapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/cryptowallet/internal/domain"
)

// DefaultBaseURL is the CoinAPI REST root.
const DefaultBaseURL = "https://rest.coinapi.io/v1"

// maxErrorBody bounds how much of an error response is kept in the error.
const maxErrorBody = 512

// Client fetches asset prices from CoinAPI.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a CoinAPI client. A zero timeout defaults to 30s.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchAll returns every asset CoinAPI reports.
func (c *Client) FetchAll(ctx context.Context) ([]domain.Asset, error) {
	body, err := c.doGet(ctx, "/assets")
	if err != nil {
		return nil, fmt.Errorf("coinapi: get assets: %w", err)
	}

	var apiAssets []APIAsset
	if err := json.Unmarshal(body, &apiAssets); err != nil {
		return nil, fmt.Errorf("coinapi: decode assets: %w: %v", domain.ErrSourceUnavailable, err)
	}

	assets := make([]domain.Asset, 0, len(apiAssets))
	for i := range apiAssets {
		assets = append(assets, apiAssets[i].ToDomainAsset())
	}
	return assets, nil
}

// Fetch returns a single asset. Unknown codes and assets without a price
// yield domain.ErrAssetNotFound.
func (c *Client) Fetch(ctx context.Context, code string) (domain.Asset, error) {
	body, err := c.doGet(ctx, "/assets/"+url.PathEscape(code))
	if err != nil {
		return domain.Asset{}, fmt.Errorf("coinapi: get asset %s: %w", code, err)
	}

	var apiAssets []APIAsset
	if err := json.Unmarshal(body, &apiAssets); err != nil {
		return domain.Asset{}, fmt.Errorf("coinapi: decode asset %s: %w: %v", code, domain.ErrSourceUnavailable, err)
	}
	if len(apiAssets) == 0 {
		return domain.Asset{}, fmt.Errorf("coinapi: get asset %s: %w", code, domain.ErrAssetNotFound)
	}

	asset := apiAssets[0].ToDomainAsset()
	if !asset.PriceUSD.IsPositive() {
		return domain.Asset{}, fmt.Errorf("coinapi: asset %s has no price: %w", code, domain.ErrAssetNotFound)
	}
	return asset, nil
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-CoinAPI-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", domain.ErrSourceUnavailable, err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound, http.StatusBadRequest:
		return fmt.Errorf("%w: %s", domain.ErrAssetNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %w: %s", domain.ErrSourceUnavailable, domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrSourceUnavailable, statusCode, bodyStr)
	}
}
