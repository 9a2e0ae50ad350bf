// Package handlers contains the HTTP handler implementations for the
// CrossWatch agent API.
//
// This file implements the weather endpoint:
//   - Cached forecast retrieval (GET /v1/weather/current)
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"crosswatch/internal/core"
	"crosswatch/internal/types"
)

// WeatherServiceInterface defines the cache contract for the weather handler.
type WeatherServiceInterface interface {
	Current(ctx context.Context, forceRefresh bool) (*types.WeatherSample, error)
}

// WeatherTTLSource exposes the freshness window so the handler can flag stale
// samples. The settings store satisfies this.
type WeatherTTLSource interface {
	WeatherTTL() time.Duration
}

// WeatherHandler maps HTTP requests to the weather cache.
type WeatherHandler struct {
	service WeatherServiceInterface
	ttl     WeatherTTLSource
	clock   types.Clock
	logger  *slog.Logger
}

// NewWeatherHandler creates a new WeatherHandler with the provided
// dependencies. ttl may be nil, in which case staleness warnings are skipped.
func NewWeatherHandler(
	svc WeatherServiceInterface,
	ttl WeatherTTLSource,
	clock types.Clock,
	logger *slog.Logger,
) *WeatherHandler {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WeatherHandler{
		service: svc,
		ttl:     ttl,
		clock:   clock,
		logger:  logger,
	}
}

// RegisterRoutes mounts the weather endpoints onto the mux.
func (h *WeatherHandler) RegisterRoutes(r chi.Router) {
	r.Get("/current", h.HandleGetCurrent)
}

// weatherResponse is the wire shape for the weather endpoint: the sample
// fields plus the derived wind_info string.
type weatherResponse struct {
	*types.WeatherSample
	WindInfo string `json:"wind_info"`
}

// HandleGetCurrent handles GET /v1/weather/current.
//
// force_refresh (default false) bypasses the cache window. When the upstream
// is failing and an expired sample is all the cache has, that sample is served
// with its original fetched_at and a staleness warning in meta. 502 only when
// nothing can be produced at all.
func (h *WeatherHandler) HandleGetCurrent(w http.ResponseWriter, r *http.Request) {
	force, err := parseBoolParam(r, "force_refresh", false)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	sample, err := h.service.Current(r.Context(), force)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: weatherResponse{
			WeatherSample: sample,
			WindInfo:      sample.WindInfo(),
		},
		Meta: h.weatherMeta(sample),
	})
}

// weatherMeta attaches a staleness warning when the sample is older than the
// freshness window, which only happens on the stale-fallback path.
func (h *WeatherHandler) weatherMeta(sample *types.WeatherSample) *types.ResponseMeta {
	if h.ttl == nil || sample.FetchedAt.IsZero() {
		return nil
	}
	if h.clock.Now().Sub(sample.FetchedAt) <= h.ttl.WeatherTTL() {
		return nil
	}
	return &types.ResponseMeta{
		Warnings: []string{"weather data is stale: upstream refresh failing"},
	}
}
