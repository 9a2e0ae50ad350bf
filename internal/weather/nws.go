// Package weather produces the current forecast sample for the monitored
// intersection. The NWSClient speaks the National Weather Service API's
// two-step protocol (point lookup, then gridpoint forecast); the Cache in
// front of it owns freshness, stale fallback, and refresh dedup.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"crosswatch/internal/external"
	"crosswatch/internal/types"
)

// Fetcher produces one fresh weather sample. Implementations are the real
// NWS client and the local-mode stub.
type Fetcher interface {
	Fetch(ctx context.Context) (*types.WeatherSample, error)
}

// ClientConfig holds the configuration for creating an NWSClient.
type ClientConfig struct {
	BaseURL    string // defaults to the public NWS API
	UserAgent  string // NWS rejects anonymous requests
	Latitude   float64
	Longitude  float64
	MaxRetries int
	Logger     *slog.Logger
	Clock      types.Clock
}

const nwsAPIBase = "https://api.weather.gov"

// pointsResponse is the subset of the NWS /points payload the client needs:
// the gridpoint forecast URL for the configured coordinates.
type pointsResponse struct {
	Properties struct {
		Forecast string `json:"forecast"`
	} `json:"properties"`
}

// forecastResponse is the NWS gridpoint forecast payload. Only the leading
// period is consumed; it describes the current conditions window.
type forecastResponse struct {
	Properties struct {
		Periods []forecastPeriod `json:"periods"`
	} `json:"properties"`
}

type forecastPeriod struct {
	Name                       string      `json:"name"`
	StartTime                  time.Time   `json:"startTime"`
	EndTime                    time.Time   `json:"endTime"`
	IsDaytime                  bool        `json:"isDaytime"`
	Temperature                float64     `json:"temperature"`
	TemperatureUnit            string      `json:"temperatureUnit"`
	WindSpeed                  string      `json:"windSpeed"`
	WindDirection              string      `json:"windDirection"`
	ShortForecast              string      `json:"shortForecast"`
	DetailedForecast           string      `json:"detailedForecast"`
	ProbabilityOfPrecipitation measurement `json:"probabilityOfPrecipitation"`
	Dewpoint                   measurement `json:"dewpoint"`
	RelativeHumidity           measurement `json:"relativeHumidity"`
}

// measurement is the NWS quantitative value wrapper; value is null when the
// upstream has no reading for the period.
type measurement struct {
	Value *float64 `json:"value"`
}

// NWSClient implements Fetcher against the National Weather Service REST API
// through the shared BaseClient resilience layer. The gridpoint forecast URL
// resolved from the point lookup is cached for the life of the client since
// the intersection never moves.
type NWSClient struct {
	base      *external.BaseClient
	baseURL   string
	latitude  float64
	longitude float64
	logger    *slog.Logger
	clock     types.Clock

	mu          sync.Mutex
	forecastURL string
}

// NewNWSClient creates an NWSClient. The httpClient timeout bounds a single
// attempt; retries are governed by cfg.MaxRetries.
func NewNWSClient(httpClient *http.Client, cfg ClientConfig) *NWSClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = nwsAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}

	base := external.NewBaseClient(
		httpClient,
		"nws-weather",
		external.RetryPolicy{
			MaxRetries: retries,
			MinWait:    500 * time.Millisecond,
			MaxWait:    10 * time.Second,
		},
		cfg.UserAgent,
	)

	return &NWSClient{
		base:      base,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		latitude:  cfg.Latitude,
		longitude: cfg.Longitude,
		logger:    logger,
		clock:     clock,
	}
}

// NewNWSClientWithBase creates an NWSClient with a pre-configured BaseClient.
// This is useful for testing when you want to control the BaseClient
// configuration (e.g., disable retries).
func NewNWSClientWithBase(base *external.BaseClient, cfg ClientConfig) *NWSClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = nwsAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	return &NWSClient{
		base:      base,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		latitude:  cfg.Latitude,
		longitude: cfg.Longitude,
		logger:    logger,
		clock:     clock,
	}
}

// Fetch resolves the gridpoint forecast URL (cached after the first success)
// and returns the current forecast period as a WeatherSample.
func (c *NWSClient) Fetch(ctx context.Context) (*types.WeatherSample, error) {
	forecastURL, err := c.resolveForecastURL(ctx)
	if err != nil {
		return nil, err
	}

	period, err := c.fetchCurrentPeriod(ctx, forecastURL)
	if err != nil {
		return nil, err
	}

	return c.toSample(period), nil
}

// resolveForecastURL returns the cached gridpoint forecast URL, performing
// the NWS point lookup on first use. Coordinates are truncated to four
// decimal places; the NWS API redirects anything more precise.
func (c *NWSClient) resolveForecastURL(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.forecastURL
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	url := fmt.Sprintf("%s/points/%.4f,%.4f", c.baseURL, c.latitude, c.longitude)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create NWS points request",
			err,
		)
	}
	req.Header.Set("Accept", "application/geo+json")

	resp, err := c.base.Do(req)
	if err != nil {
		return "", c.wrapError("points lookup", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", c.handleErrorResponse(resp, "points lookup")
	}

	var points pointsResponse
	if err := json.NewDecoder(resp.Body).Decode(&points); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalWeatherMalformed,
			"failed to decode NWS points response",
			err,
		)
	}
	if points.Properties.Forecast == "" {
		return "", types.NewAppError(
			types.ErrCodeInternalWeatherMalformed,
			"NWS points response missing forecast URL",
			nil,
		)
	}

	c.mu.Lock()
	c.forecastURL = points.Properties.Forecast
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "resolved NWS gridpoint forecast URL",
		slog.String("forecast_url", points.Properties.Forecast),
	)

	return points.Properties.Forecast, nil
}

// fetchCurrentPeriod retrieves the forecast and returns its leading period.
// A 404 drops the cached gridpoint URL so the next fetch re-resolves it; NWS
// occasionally remaps gridpoints.
func (c *NWSClient) fetchCurrentPeriod(ctx context.Context, forecastURL string) (*forecastPeriod, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, forecastURL, nil)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create NWS forecast request",
			err,
		)
	}
	req.Header.Set("Accept", "application/geo+json")

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, c.wrapError("forecast fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		if resp.StatusCode == http.StatusNotFound {
			c.mu.Lock()
			c.forecastURL = ""
			c.mu.Unlock()
		}
		return nil, c.handleErrorResponse(resp, "forecast fetch")
	}

	var forecast forecastResponse
	if err := json.NewDecoder(resp.Body).Decode(&forecast); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalWeatherMalformed,
			"failed to decode NWS forecast response",
			err,
		)
	}
	if len(forecast.Properties.Periods) == 0 {
		return nil, types.NewAppError(
			types.ErrCodeInternalWeatherMalformed,
			"NWS forecast response contains no periods",
			nil,
		)
	}

	period := forecast.Properties.Periods[0]
	if period.Name == "" {
		return nil, types.NewAppError(
			types.ErrCodeInternalWeatherMalformed,
			"NWS forecast period missing name",
			nil,
		)
	}

	return &period, nil
}

// toSample maps a forecast period into the domain sample.
func (c *NWSClient) toSample(p *forecastPeriod) *types.WeatherSample {
	prob := intValue(p.ProbabilityOfPrecipitation)
	return &types.WeatherSample{
		Name:              p.Name,
		Temperature:       p.Temperature,
		TemperatureUnit:   p.TemperatureUnit,
		ShortForecast:     p.ShortForecast,
		DetailedForecast:  p.DetailedForecast,
		WindSpeed:         p.WindSpeed,
		WindDirection:     p.WindDirection,
		IsPrecipitation:   precipitationLikely(p.ShortForecast, prob),
		PrecipitationProb: prob,
		Dewpoint:          floatValue(p.Dewpoint),
		RelativeHumidity:  intValue(p.RelativeHumidity),
		IsDaytime:         p.IsDaytime,
		StartTime:         p.StartTime,
		EndTime:           p.EndTime,
		FetchedAt:         c.clock.Now(),
	}
}

func intValue(m measurement) int {
	if m.Value == nil {
		return 0
	}
	return int(*m.Value)
}

func floatValue(m measurement) float64 {
	if m.Value == nil {
		return 0
	}
	return *m.Value
}

// precipitationTerms are the forecast words treated as active precipitation.
var precipitationTerms = []string{
	"rain", "shower", "snow", "storm", "drizzle", "sleet", "thunder", "hail",
}

// precipitationLikely reports whether a period should be flagged as
// precipitating: either the stated probability reaches 50% or the short
// forecast names a precipitation type.
func precipitationLikely(shortForecast string, probability int) bool {
	if probability >= 50 {
		return true
	}
	lower := strings.ToLower(shortForecast)
	for _, term := range precipitationTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// handleErrorResponse reads and logs the error body from a non-2xx response,
// then returns an upstream AppError.
func (c *NWSClient) handleErrorResponse(resp *http.Response, operation string) *types.AppError {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	bodyStr := string(bodyBytes)

	c.logger.Error("NWS API error",
		slog.String("operation", operation),
		slog.Int("status_code", resp.StatusCode),
		slog.String("response_body", bodyStr),
	)

	return types.NewAppError(
		types.ErrCodeUpstreamWeather,
		fmt.Sprintf("NWS %s returned %d", operation, resp.StatusCode),
		fmt.Errorf("NWS %s: %s", operation, bodyStr),
	)
}

// wrapError converts BaseClient failures into weather-scoped errors while
// preserving the original error code.
func (c *NWSClient) wrapError(operation string, err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return types.NewAppError(
			appErr.Code,
			fmt.Sprintf("NWS %s: %s", operation, appErr.Message),
			appErr.Err,
		)
	}
	return types.NewAppError(
		types.ErrCodeUpstreamWeather,
		fmt.Sprintf("NWS %s failed", operation),
		err,
	)
}

// Compile-time interface compliance check.
var _ Fetcher = (*NWSClient)(nil)
