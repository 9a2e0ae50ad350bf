// Package handlers contains the HTTP handler implementations for the
// CrossWatch agent API.
//
// This file implements the runtime configuration endpoints:
//   - Configuration view (GET /v1/config)
//   - Density threshold update (PUT /v1/config/threshold)
//   - Weather marker update (PUT /v1/config/weather)
//   - Incident type update (PUT /v1/config/incident)
//
// The read endpoint is open; the mutation endpoints run behind the operator
// key guard supplied at registration.
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

// SettingsStoreInterface defines the runtime settings contract for the
// configuration handler. Matches settings.Store but is defined locally to
// avoid tight coupling per the handler injection pattern.
type SettingsStoreInterface interface {
	Intersection() types.IntersectionIdentity
	CameraTopics() map[types.Direction]string
	WeatherTTL() time.Duration

	HighDensityThreshold() int
	UpdateHighDensityThreshold(v int) (int, error)

	WeatherMarker() types.MarkerType
	MarkerFlags() types.AlertMarkerFlags
	SetWeatherMarker(m types.MarkerType) (types.MarkerType, error)

	IncidentType() types.IncidentType
	SetIncidentType(t types.IncidentType) (types.IncidentType, error)
}

// WeatherRefresher triggers the forced cache refresh after a marker change.
// The weather cache satisfies this; nil skips the refresh.
type WeatherRefresher interface {
	Current(ctx context.Context, forceRefresh bool) (*types.WeatherSample, error)
}

// ConfigHandler maps HTTP requests to the runtime settings store.
type ConfigHandler struct {
	settings  SettingsStoreInterface
	refresher WeatherRefresher
	clock     types.Clock
	logger    *slog.Logger
}

// NewConfigHandler creates a new ConfigHandler with the provided dependencies.
func NewConfigHandler(
	settings SettingsStoreInterface,
	refresher WeatherRefresher,
	clock types.Clock,
	logger *slog.Logger,
) *ConfigHandler {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfigHandler{
		settings:  settings,
		refresher: refresher,
		clock:     clock,
		logger:    logger,
	}
}

// RegisterRoutes mounts the configuration endpoints onto the mux. guard is
// the operator key middleware applied to the mutation group; nil registers
// the mutations unguarded (tests only).
func (h *ConfigHandler) RegisterRoutes(r chi.Router, guard func(http.Handler) http.Handler) {
	r.Get("/", h.HandleGetConfig)
	r.Group(func(r chi.Router) {
		if guard != nil {
			r.Use(guard)
		}
		r.Put("/threshold", h.HandleUpdateThreshold)
		r.Put("/weather", h.HandleUpdateWeatherMarkers)
		r.Put("/incident", h.HandleUpdateIncident)
	})
}

// --- Wire shapes ---

type configResponse struct {
	Intersection intersectionConfig `json:"intersection"`
	CameraTopics map[string]string  `json:"camera_topics"`
	Traffic      trafficConfig      `json:"traffic"`
	Weather      weatherConfig      `json:"weather"`
}

type intersectionConfig struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Coordinates coordinatesConfig `json:"coordinates"`
}

type coordinatesConfig struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type trafficConfig struct {
	HighDensityThreshold int    `json:"high_density_threshold"`
	IncidentType         string `json:"incident_type"`
}

type weatherConfig struct {
	CacheDurationMinutes int  `json:"cache_duration_minutes"`
	EnableFireMarkers    bool `json:"enable_fire_markers"`
	EnableStormMarkers   bool `json:"enable_storm_markers"`
	EnableFloodMarkers   bool `json:"enable_flood_markers"`
}

type thresholdUpdateRequest struct {
	Threshold *int `json:"threshold"`
}

type thresholdUpdateResponse struct {
	Message      string    `json:"message"`
	OldThreshold int       `json:"old_threshold"`
	NewThreshold int       `json:"new_threshold"`
	Timestamp    time.Time `json:"timestamp"`
}

type markerUpdateRequest struct {
	MarkerType string `json:"marker_type"`
}

type markerUpdateResponse struct {
	Message    string    `json:"message"`
	MarkerType string    `json:"marker_type"`
	OldMarker  string    `json:"old_marker"`
	NewMarker  string    `json:"new_marker"`
	Timestamp  time.Time `json:"timestamp"`
}

type incidentUpdateRequest struct {
	IncidentType string `json:"incident_type"`
}

type incidentUpdateResponse struct {
	Message   string    `json:"message"`
	OldType   string    `json:"old_type"`
	NewType   string    `json:"new_type"`
	Timestamp time.Time `json:"timestamp"`
}

// --- Handlers ---

// HandleGetConfig handles GET /v1/config. Returns the immutable intersection
// identity plus the current operator-tunable state.
func (h *ConfigHandler) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	identity := h.settings.Intersection()
	flags := h.settings.MarkerFlags()

	topics := make(map[string]string)
	for dir, topic := range h.settings.CameraTopics() {
		topics[string(dir)] = topic
	}

	resp := configResponse{
		Intersection: intersectionConfig{
			ID:   identity.ID,
			Name: identity.Name,
			Coordinates: coordinatesConfig{
				Latitude:  identity.Latitude,
				Longitude: identity.Longitude,
			},
		},
		CameraTopics: topics,
		Traffic: trafficConfig{
			HighDensityThreshold: h.settings.HighDensityThreshold(),
			IncidentType:         string(h.settings.IncidentType()),
		},
		Weather: weatherConfig{
			CacheDurationMinutes: int(h.settings.WeatherTTL().Minutes()),
			EnableFireMarkers:    flags.Fires,
			EnableStormMarkers:   flags.Storm,
			EnableFloodMarkers:   flags.Flood,
		},
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: resp})
}

// HandleUpdateThreshold handles PUT /v1/config/threshold.
// Body: {"threshold": n} with n in [1, 50].
func (h *ConfigHandler) HandleUpdateThreshold(w http.ResponseWriter, r *http.Request) {
	var req thresholdUpdateRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if req.Threshold == nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"threshold is required",
			nil,
		))
		return
	}

	previous, err := h.settings.UpdateHighDensityThreshold(*req.Threshold)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: thresholdUpdateResponse{
		Message:      "Threshold updated successfully",
		OldThreshold: previous,
		NewThreshold: *req.Threshold,
		Timestamp:    h.clock.Now(),
	}})
}

// HandleUpdateWeatherMarkers handles PUT /v1/config/weather.
// Body: {"marker_type": "fires"|"storm"|"flood"|"clear"}.
//
// A successful update forces a weather cache refresh so the next snapshot is
// analyzed against a forecast fetched under the new marker. The refresh is
// best-effort: a failure is logged and the update still succeeds.
func (h *ConfigHandler) HandleUpdateWeatherMarkers(w http.ResponseWriter, r *http.Request) {
	var req markerUpdateRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if req.MarkerType == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"marker_type is required",
			nil,
		))
		return
	}

	marker := types.MarkerType(req.MarkerType)
	previous, err := h.settings.SetWeatherMarker(marker)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if h.refresher != nil {
		if _, err := h.refresher.Current(r.Context(), true); err != nil {
			h.logger.Warn("forced weather refresh after marker update failed",
				slog.String("marker_type", req.MarkerType),
				slog.String("error", err.Error()),
			)
		}
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: markerUpdateResponse{
		Message:    "Climate Threat markers configuration updated successfully",
		MarkerType: req.MarkerType,
		OldMarker:  string(previous),
		NewMarker:  string(marker),
		Timestamp:  h.clock.Now(),
	}})
}

// HandleUpdateIncident handles PUT /v1/config/incident.
// Body: {"incident_type": "..."} from the closed incident enumeration.
func (h *ConfigHandler) HandleUpdateIncident(w http.ResponseWriter, r *http.Request) {
	var req incidentUpdateRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if req.IncidentType == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"incident_type is required",
			nil,
		))
		return
	}

	incident := types.IncidentType(req.IncidentType)
	previous, err := h.settings.SetIncidentType(incident)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: incidentUpdateResponse{
		Message:   "Incident type updated",
		OldType:   string(previous),
		NewType:   string(incident),
		Timestamp: h.clock.Now(),
	}})
}
