package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/weatherhub/weatherhub/internal/database"
	"github.com/weatherhub/weatherhub/pkg/config"
)

// UnavailableError indicates a transient failure: network error, timeout,
// rate-limiter wait cut short, or an open circuit breaker.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("provider unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// RejectedError indicates the provider answered with a non-success status,
// including authentication failures and rate limiting. Status and body are
// retained for logging.
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("provider rejected request (status %d): %s", e.StatusCode, e.Body)
}

// Client fetches current-conditions snapshots from the OpenWeatherMap API.
// Calls are rate limited (free tier quota) and pass through a circuit
// breaker so a flapping provider does not stall every sweep.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	circuit    *gobreaker.CircuitBreaker
}

// NewClient creates a new OpenWeatherMap client
func NewClient(cfg config.ProviderConfig) *Client {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openweathermap",
		MaxRequests: 3,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Burst),
		circuit: cb,
	}
}

// Fetch retrieves one current-conditions snapshot for the location and
// returns the response body verbatim. Coordinates are used when available;
// otherwise the name,country query form.
func (c *Client) Fetch(ctx context.Context, loc *database.Location) ([]byte, error) {
	if c.apiKey == "" {
		return nil, &UnavailableError{Err: errors.New("api key not configured")}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &UnavailableError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL(loc), nil)
	if err != nil {
		return nil, &UnavailableError{Err: err}
	}

	result, err := c.circuit.Execute(func() (interface{}, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &RejectedError{StatusCode: resp.StatusCode, Body: string(body)}
		}

		return body, nil
	})

	if err != nil {
		var rejected *RejectedError
		if errors.As(err, &rejected) {
			return nil, rejected
		}
		return nil, &UnavailableError{Err: err}
	}

	return result.([]byte), nil
}

func (c *Client) buildURL(loc *database.Location) string {
	values := url.Values{}
	values.Set("appid", c.apiKey)
	values.Set("units", "metric") // provider returns Celsius and m/s

	if loc.Lat != nil && loc.Lon != nil {
		values.Set("lat", fmt.Sprintf("%f", *loc.Lat))
		values.Set("lon", fmt.Sprintf("%f", *loc.Lon))
	} else {
		q := loc.Name
		if loc.Country != nil && *loc.Country != "" {
			q = fmt.Sprintf("%s,%s", loc.Name, *loc.Country)
		}
		values.Set("q", q)
	}

	return fmt.Sprintf("%s/weather?%s", c.baseURL, values.Encode())
}
