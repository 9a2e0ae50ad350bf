// Package handlers contains the HTTP handler implementations for the
// CrossWatch agent API.
//
// This file implements the traffic endpoints:
//   - Composite snapshot retrieval (GET /v1/traffic/current)
//   - Archived snapshot history (GET /v1/traffic/history)
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"crosswatch/internal/core"
	"crosswatch/internal/intelligence"
	"crosswatch/internal/types"
)

// SnapshotServiceInterface defines the aggregator contract for the traffic
// handler. Matches intelligence.Service but is defined locally to avoid tight
// coupling per the handler injection pattern.
type SnapshotServiceInterface interface {
	Snapshot(ctx context.Context, opts intelligence.SnapshotOptions) (*types.TrafficSnapshot, error)
}

// SnapshotHistoryInterface is the read side of the snapshot archive. A nil
// history source means archiving is disabled and the endpoint 404s.
type SnapshotHistoryInterface interface {
	Recent(ctx context.Context, limit int, before time.Time) ([]types.SnapshotRecord, types.PageInfo, error)
}

// TrafficHandler maps HTTP requests to the snapshot aggregator.
type TrafficHandler struct {
	service SnapshotServiceInterface
	history SnapshotHistoryInterface
	logger  *slog.Logger
}

// NewTrafficHandler creates a new TrafficHandler with the provided
// dependencies. history may be nil when the snapshot archive is disabled.
func NewTrafficHandler(
	svc SnapshotServiceInterface,
	history SnapshotHistoryInterface,
	logger *slog.Logger,
) *TrafficHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TrafficHandler{
		service: svc,
		history: history,
		logger:  logger,
	}
}

// RegisterRoutes mounts the traffic endpoints onto the mux.
func (h *TrafficHandler) RegisterRoutes(r chi.Router) {
	r.Get("/current", h.HandleGetCurrent)
	r.Get("/history", h.HandleGetHistory)
}

// HandleGetCurrent handles GET /v1/traffic/current.
//
// The images query parameter (default true) opts camera frames in or out of
// the response; it changes nothing but the camera_images field. A cold camera
// state maps to 404 not_found_traffic_state.
func (h *TrafficHandler) HandleGetCurrent(w http.ResponseWriter, r *http.Request) {
	includeImages, err := parseBoolParam(r, "images", true)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	snap, err := h.service.Snapshot(r.Context(), intelligence.SnapshotOptions{
		IncludeImages: includeImages,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: snap,
		Meta: snapshotMeta(snap),
	})
}

// HandleGetHistory handles GET /v1/traffic/history.
//
// Served only when the snapshot archive is enabled; otherwise the route
// behaves as if it does not exist. limit must be in [1, 500]. The optional
// before parameter takes the next_cursor of a previous page (RFC3339Nano) and
// returns rows assembled strictly before it.
func (h *TrafficHandler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeNotFoundRoute,
			"the requested resource does not exist",
			nil,
		))
		return
	}

	limit := types.DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > types.MaxHistoryLimit {
			core.Error(w, r, types.NewAppErrorWithDetails(
				types.ErrCodeValidationQueryParam,
				"limit must be an integer between 1 and 500",
				err,
				map[string]any{"param": "limit", "value": raw},
			))
			return
		}
		limit = parsed
	}

	var before time.Time
	if raw := r.URL.Query().Get("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			core.Error(w, r, types.NewAppErrorWithDetails(
				types.ErrCodeValidationQueryParam,
				"before must be an RFC3339 timestamp cursor",
				err,
				map[string]any{"param": "before", "value": raw},
			))
			return
		}
		before = parsed
	}

	records, pageInfo, err := h.history.Recent(r.Context(), limit, before)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if records == nil {
		records = []types.SnapshotRecord{}
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: records,
		Meta: &types.ResponseMeta{Pagination: &pageInfo},
	})
}

// snapshotMeta surfaces snapshot degradations as non-blocking warnings.
func snapshotMeta(snap *types.TrafficSnapshot) *types.ResponseMeta {
	var warnings []string
	if snap.WeatherData == nil {
		warnings = append(warnings, "weather data unavailable: upstream fetch failing and nothing cached")
	}
	if snap.VLMAnalysis.Degraded() {
		warnings = append(warnings, "vlm analysis degraded: serving snapshot without model output")
	}
	if warnings == nil {
		return nil
	}
	return &types.ResponseMeta{Warnings: warnings}
}

// parseBoolParam reads a boolean query parameter, returning def when absent.
// Unparseable values map to a 400 validation error.
func parseBoolParam(r *http.Request, name string, def bool) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def, types.NewAppErrorWithDetails(
			types.ErrCodeValidationQueryParam,
			name+" must be a boolean",
			err,
			map[string]any{"param": name, "value": raw},
		)
	}
	return v, nil
}
