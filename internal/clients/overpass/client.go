package overpass

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/drivewatch/drivewatch/internal/lib/geo"
)

// HTTPDoer abstracts the HTTP client for testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client queries the Overpass (OpenStreetMap) API for posted speed limits
// near a coordinate.
type Client struct {
	baseURL    string
	httpClient HTTPDoer
}

// NewClient creates an Overpass API client against the given interpreter
// endpoint, e.g. "https://overpass-api.de/api/interpreter".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewClientWithHTTPDoer creates a client with an injectable HTTP doer.
func NewClientWithHTTPDoer(baseURL string, doer HTTPDoer) *Client {
	return &Client{baseURL: baseURL, httpClient: doer}
}

// SpeedLimit returns the posted limit in mph for the first maxspeed-tagged
// way within radiusMeters of the coordinate. A nil value with nil error
// means no tagged limit was found nearby (or the tag carried "none").
func (c *Client) SpeedLimit(ctx context.Context, lat, lon, radiusMeters float64) (*float64, error) {
	query := fmt.Sprintf(`[out:json][timeout:10];way(around:%.0f,%.6f,%.6f)["maxspeed"];out tags;`,
		radiusMeters, lat, lon)

	form := url.Values{}
	form.Set("data", query)

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == 429 {
		return nil, fmt.Errorf("overpass rate limit exceeded")
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("overpass API error %d: %s", resp.StatusCode, string(body))
	}

	var response overpassResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	for _, element := range response.Elements {
		raw, ok := element.Tags["maxspeed"]
		if !ok {
			continue
		}
		// First tagged value wins, even when it parses to "no known limit".
		return ParseMaxspeed(raw), nil
	}

	return nil, nil
}

// ParseMaxspeed converts an OSM maxspeed tag value to mph. Bare numbers are
// km/h by convention; an explicit "mph" suffix is honored as-is. "none"
// (derestricted road) and unparseable values yield nil, meaning no known
// limit rather than a limit of zero.
func ParseMaxspeed(raw string) *float64 {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" || value == "none" {
		return nil
	}

	if strings.HasSuffix(value, "mph") {
		number := strings.TrimSpace(strings.TrimSuffix(value, "mph"))
		mph, err := strconv.ParseFloat(number, 64)
		if err != nil {
			return nil
		}
		return &mph
	}

	kmh, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil
	}
	mph := geo.KmhToMph(kmh)
	return &mph
}

// overpassResponse is the subset of the Overpass JSON output we consume.
type overpassResponse struct {
	Elements []overpassElement `json:"elements"`
}

type overpassElement struct {
	ID   int64             `json:"id"`
	Type string            `json:"type"`
	Tags map[string]string `json:"tags"`
}
