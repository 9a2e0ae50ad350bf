// Package settings holds the operator-tunable runtime state of the agent.
// The boot config is immutable after startup; everything an operator can
// change while the process runs (density threshold, weather markers, incident
// type) lives here behind a single mutex. Every successful update is visible
// to the very next read, and concurrent readers see either the old state or
// the fully-applied new state, never a mix.
package settings

import (
	"log/slog"
	"sync"
	"time"

	"crosswatch/internal/config"
	"crosswatch/internal/types"
)

// DefaultHighDensityThreshold is the vehicle count per direction at which a
// camera band is considered congested, until an operator retunes it via the
// config API.
const DefaultHighDensityThreshold = 10

// Store is the runtime settings container shared by the HTTP handlers, the
// weather cache, the camera ingest pipeline, and the snapshot aggregator.
type Store struct {
	mu sync.RWMutex

	intersection types.IntersectionIdentity
	cameraTopics map[types.Direction]string
	threshold    int
	markers      types.AlertMarkerFlags
	incident     types.IncidentType
	weatherTTL   time.Duration

	logger *slog.Logger
}

// NewStore seeds the runtime state from the validated boot config. Markers
// start clear and the incident type starts at the clear sentinel; the
// threshold starts at DefaultHighDensityThreshold.
func NewStore(cfg *config.Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		intersection: cfg.Intersection.Identity(),
		cameraTopics: cfg.Cameras.Topics(),
		threshold:    DefaultHighDensityThreshold,
		incident:     types.IncidentClear,
		weatherTTL:   cfg.Weather.CacheTTL,
		logger:       logger,
	}
}

// HighDensityThreshold returns the current congestion threshold.
func (s *Store) HighDensityThreshold() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threshold
}

// UpdateHighDensityThreshold replaces the congestion threshold and returns the
// value it replaced. Values outside the allowed operator range are rejected
// with ErrCodeValidationThresholdRange and the stored value is untouched.
func (s *Store) UpdateHighDensityThreshold(v int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := types.ValidateThreshold(v); err != nil {
		return s.threshold, err
	}

	previous := s.threshold
	s.threshold = v
	s.logger.Info("high density threshold updated",
		slog.Int("old_threshold", previous),
		slog.Int("new_threshold", v),
	)
	return previous, nil
}

// WeatherMarker returns the logical marker derived from the flags: the single
// active flag's marker, or clear when none is set.
func (s *Store) WeatherMarker() types.MarkerType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.markers.Active()
}

// SetWeatherMarker applies a marker transition as one atomic step: a non-clear
// marker sets its flag and clears the other two, clear drops all three. The
// previous logical marker is returned. Unrecognized values are rejected with
// ErrCodeValidationMarkerType before any mutation; setting the already-active
// marker is a no-op that still reports the transition.
func (s *Store) SetWeatherMarker(m types.MarkerType) (types.MarkerType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.markers.Active()
	if err := types.ValidateMarkerType(m); err != nil {
		return previous, err
	}

	s.markers = types.AlertMarkerFlags{
		Fires: m == types.MarkerFires,
		Storm: m == types.MarkerStorm,
		Flood: m == types.MarkerFlood,
	}
	s.logger.Info("weather marker updated",
		slog.String("old_marker", string(previous)),
		slog.String("new_marker", string(m)),
	)
	return previous, nil
}

// MarkerFlags returns the raw marker booleans for the analyzer context and
// the config read endpoint.
func (s *Store) MarkerFlags() types.AlertMarkerFlags {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.markers
}

// IncidentType returns the operator-reported incident type.
func (s *Store) IncidentType() types.IncidentType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.incident
}

// SetIncidentType replaces the incident type and returns the value it
// replaced. The clear sentinel is a valid member; anything outside the closed
// enumeration is rejected with ErrCodeValidationIncidentType.
func (s *Store) SetIncidentType(t types.IncidentType) (types.IncidentType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.incident
	if err := types.ValidateIncidentType(t); err != nil {
		return previous, err
	}

	s.incident = t
	s.logger.Info("incident type updated",
		slog.String("old_type", string(previous)),
		slog.String("new_type", string(t)),
	)
	return previous, nil
}

// Intersection returns the monitored intersection identity.
func (s *Store) Intersection() types.IntersectionIdentity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.intersection
}

// CameraTopics returns a copy of the per-direction Kafka topic mapping so
// callers cannot mutate the shared state.
func (s *Store) CameraTopics() map[types.Direction]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	topics := make(map[types.Direction]string, len(s.cameraTopics))
	for dir, topic := range s.cameraTopics {
		topics[dir] = topic
	}
	return topics
}

// WeatherTTL returns the weather cache freshness window.
func (s *Store) WeatherTTL() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.weatherTTL
}
