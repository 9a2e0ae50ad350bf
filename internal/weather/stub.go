package weather

import (
	"context"
	"log/slog"
	"time"

	"crosswatch/internal/types"
)

// StubFetcher serves a fixed fair-weather sample so the agent can boot in
// local and test environments without reaching the NWS API.
type StubFetcher struct {
	clock  types.Clock
	logger *slog.Logger
}

// NewStubFetcher creates a stub weather fetcher.
func NewStubFetcher(clock types.Clock, logger *slog.Logger) *StubFetcher {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StubFetcher{clock: clock, logger: logger}
}

// Fetch returns the canned sample stamped with the current instant.
func (s *StubFetcher) Fetch(ctx context.Context) (*types.WeatherSample, error) {
	now := s.clock.Now()
	s.logger.InfoContext(ctx, "serving stub weather sample",
		slog.String("mode", "stub"),
	)
	return &types.WeatherSample{
		Name:              "This Afternoon",
		Temperature:       68,
		TemperatureUnit:   "F",
		ShortForecast:     "Mostly Sunny",
		DetailedForecast:  "Mostly sunny, with a high near 68. Northwest wind around 10 mph.",
		WindSpeed:         "10 mph",
		WindDirection:     "NW",
		IsPrecipitation:   false,
		PrecipitationProb: 5,
		Dewpoint:          11.5,
		RelativeHumidity:  55,
		IsDaytime:         true,
		StartTime:         now,
		EndTime:           now.Add(6 * time.Hour),
		FetchedAt:         now,
	}, nil
}

// Compile-time interface compliance check.
var _ Fetcher = (*StubFetcher)(nil)
