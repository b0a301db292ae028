// Package geocode resolves coordinates to human-readable addresses via the
// Google Geocoding API. Results decorate feed entries only; callers must
// tolerate failure and fall back to raw coordinates.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"seraph/models"
)

const geocodeEndpoint = "https://maps.googleapis.com/maps/api/geocode/json"

type geocodeResponse struct {
	Status  string `json:"status"`
	Results []struct {
		FormattedAddress string `json:"formatted_address"`
	} `json:"results"`
}

// Client represents a Google Geocoding API client with a small in-process
// cache. Nearby reports converge to the same address, so the cache saves a
// round trip per feed entry.
type Client struct {
	apiKey string
	client *http.Client

	mu    sync.Mutex
	cache map[string]string
}

// NewClient creates a new geocoding client.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey: apiKey,
		client: &http.Client{},
		cache:  make(map[string]string),
	}
}

// ReverseGeocode returns the formatted address for the coordinate, or
// models.ErrGeocodeFailed when the lookup cannot be completed.
func (c *Client) ReverseGeocode(ctx context.Context, coord models.Coordinate) (string, error) {
	key := fmt.Sprintf("%.4f,%.4f", coord.Latitude, coord.Longitude)

	c.mu.Lock()
	if addr, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return addr, nil
	}
	c.mu.Unlock()

	q := url.Values{}
	q.Set("latlng", fmt.Sprintf("%f,%f", coord.Latitude, coord.Longitude))
	q.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, "GET", geocodeEndpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("%w: failed to create request: %v", models.ErrGeocodeFailed, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrGeocodeFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read response body: %v", models.ErrGeocodeFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: API error (status %d): %s", models.ErrGeocodeFailed, resp.StatusCode, string(body))
	}

	var geoResp geocodeResponse
	if err := json.Unmarshal(body, &geoResp); err != nil {
		return "", fmt.Errorf("%w: failed to parse response: %v", models.ErrGeocodeFailed, err)
	}

	if geoResp.Status != "OK" || len(geoResp.Results) == 0 {
		return "", fmt.Errorf("%w: status %s", models.ErrGeocodeFailed, geoResp.Status)
	}

	addr := geoResp.Results[0].FormattedAddress

	c.mu.Lock()
	c.cache[key] = addr
	c.mu.Unlock()

	return addr, nil
}

// FallbackLabel is the address used when reverse geocoding fails.
func FallbackLabel(coord models.Coordinate) string {
	return fmt.Sprintf("%.5f, %.5f", coord.Latitude, coord.Longitude)
}
