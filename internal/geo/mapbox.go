package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/oszuidwest/zwfm-ecoscan/internal/observability"
	"github.com/oszuidwest/zwfm-ecoscan/internal/types"
)

// DefaultMapboxURL is the Mapbox forward geocoding endpoint.
const DefaultMapboxURL = "https://api.mapbox.com/geocoding/v5/mapbox.places"

// Geocoder resolves an address to coordinates.
type Geocoder interface {
	ForwardGeocode(ctx context.Context, query string) (types.Position, error)
}

// MapboxClient implements Geocoder using the Mapbox Geocoding API.
type MapboxClient struct {
	token      string
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewMapboxClient creates a Mapbox geocoding client.
func NewMapboxClient(token string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *MapboxClient {
	return &MapboxClient{
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    DefaultMapboxURL,
		logger:     logger,
		metrics:    metrics,
	}
}

// ForwardGeocode converts an address to coordinates.
func (c *MapboxClient) ForwardGeocode(ctx context.Context, query string) (types.Position, error) {
	params := url.Values{
		"access_token": {c.token},
		"limit":        {"1"},
	}
	u := fmt.Sprintf("%s/%s.json?%s", c.baseURL, url.PathEscape(query), params.Encode())

	start := time.Now()
	pos, err := c.doRequest(ctx, u)
	c.metrics.GeocodeAPIDuration.Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, types.ErrLocationUnavailable):
		c.metrics.GeocodeRequests.WithLabelValues("empty").Inc()
	case err != nil:
		c.metrics.GeocodeRequests.WithLabelValues("error").Inc()
	default:
		c.metrics.GeocodeRequests.WithLabelValues("success").Inc()
	}
	return pos, err
}

func (c *MapboxClient) doRequest(ctx context.Context, fullURL string) (types.Position, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return types.Position{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return types.Position{}, fmt.Errorf("%w: geocode request: %w", types.ErrTimeout, err)
		}
		return types.Position{}, fmt.Errorf("%w: geocode request: %w", types.ErrLocationUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return types.Position{}, fmt.Errorf("%w: mapbox rejected token: status %d", types.ErrPermissionDenied, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return types.Position{}, fmt.Errorf("%w: mapbox API error: status %d: %s", types.ErrLocationUnavailable, resp.StatusCode, body)
	}

	var mapboxResp response
	if err := json.NewDecoder(resp.Body).Decode(&mapboxResp); err != nil {
		return types.Position{}, fmt.Errorf("%w: decode response: %w", types.ErrLocationUnavailable, err)
	}

	if len(mapboxResp.Features) == 0 || len(mapboxResp.Features[0].Center) != 2 {
		return types.Position{}, fmt.Errorf("%w: no geocoding result", types.ErrLocationUnavailable)
	}

	f := mapboxResp.Features[0]
	c.logger.Debug("geocoded address", "place", f.PlaceName, "relevance", f.Relevance)
	// Mapbox uses lon,lat order.
	return types.Position{Lat: f.Center[1], Lng: f.Center[0]}, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// Mapbox API response types.

type response struct {
	Features []feature `json:"features"`
}

type feature struct {
	Center    []float64 `json:"center"` // [lon, lat]
	PlaceName string    `json:"place_name"`
	Relevance float64   `json:"relevance"`
}

// AddressLocator geocodes a fixed station address.
type AddressLocator struct {
	geocoder Geocoder
	address  string
}

// NewAddressLocator creates a locator for address.
func NewAddressLocator(geocoder Geocoder, address string) *AddressLocator {
	return &AddressLocator{geocoder: geocoder, address: address}
}

// CurrentPosition geocodes the station address.
func (l *AddressLocator) CurrentPosition(ctx context.Context) (types.Position, error) {
	if l.address == "" {
		return types.Position{}, fmt.Errorf("%w: no station address configured", types.ErrLocationUnavailable)
	}
	return l.geocoder.ForwardGeocode(ctx, l.address)
}
