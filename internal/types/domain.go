package types

import (
	"encoding/json"
	"strings"
	"time"
)

// IntersectionIdentity describes the physical junction this service monitors.
type IntersectionIdentity struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// DirectionalReading is the latest analytics sample for one approach of the
// intersection, produced by the camera ingest pipeline. The aggregator treats
// a reading as immutable once read.
type DirectionalReading struct {
	Direction       Direction `json:"direction"`
	VehicleCount    int       `json:"vehicle_count"`
	PedestrianCount int       `json:"pedestrian_count"`
	Timestamp       time.Time `json:"timestamp"`
}

// TrafficState is the fused camera picture of the intersection at read time.
//
// TotalDensity, TotalPedestrianCount and Timestamp are always derived from the
// four readings when the state is assembled, never stored independently, so
// staleness stays visible through Timestamp instead of hiding behind a cached
// aggregate. Status is banded against the operator threshold by the aggregator.
//
// The JSON shape is the flattened per-direction contract consumed by the
// dashboard (north_camera, north_pedestrian, north_timestamp, ...), produced
// by MarshalJSON below.
type TrafficState struct {
	// Identity
	IntersectionID   string
	IntersectionName string
	Latitude         float64
	Longitude        float64

	// Per-direction readings, keyed by compass approach.
	Readings map[Direction]DirectionalReading

	// Derived on read.
	TotalDensity         int
	TotalPedestrianCount int
	Status               IntersectionStatus
	Timestamp            time.Time
}

// Reading returns the reading for one direction (zero value if none arrived yet).
func (s *TrafficState) Reading(d Direction) DirectionalReading {
	if s == nil || s.Readings == nil {
		return DirectionalReading{Direction: d}
	}
	return s.Readings[d]
}

// MarshalJSON renders the flattened wire contract. Per-direction timestamps
// and the overall timestamp marshal as null when never observed so consumers
// can distinguish "no data yet" from an epoch value.
func (s *TrafficState) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 20)
	out["intersection_id"] = s.IntersectionID
	out["intersection_name"] = s.IntersectionName
	out["latitude"] = s.Latitude
	out["longitude"] = s.Longitude
	for _, d := range Directions() {
		r := s.Reading(d)
		out[string(d)+"_camera"] = r.VehicleCount
		out[string(d)+"_pedestrian"] = r.PedestrianCount
		out[string(d)+"_timestamp"] = nullableTime(r.Timestamp)
	}
	out["total_density"] = s.TotalDensity
	out["total_pedestrian_count"] = s.TotalPedestrianCount
	out["intersection_status"] = string(s.Status)
	out["timestamp"] = nullableTime(s.Timestamp)
	return json.Marshal(out)
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

// WeatherSample is one forecast period from the upstream weather service.
// Every field is populated on a well-formed sample; a sample missing its
// identifying Name is malformed upstream data, a distinct failure class from
// the upstream being unreachable.
type WeatherSample struct {
	Name              string    `json:"name"`
	Temperature       float64   `json:"temperature"`
	TemperatureUnit   string    `json:"temperature_unit"`
	ShortForecast     string    `json:"short_forecast"`
	DetailedForecast  string    `json:"detailed_forecast"`
	WindSpeed         string    `json:"wind_speed"`
	WindDirection     string    `json:"wind_direction"`
	IsPrecipitation   bool      `json:"is_precipitation"`
	PrecipitationProb int       `json:"precipitation_prob"`
	Dewpoint          float64   `json:"dewpoint"`
	RelativeHumidity  int       `json:"relative_humidity"`
	IsDaytime         bool      `json:"is_daytime"`
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	FetchedAt         time.Time `json:"fetched_at"`
}

// WindInfo renders the compact wind string used by downstream dashboards,
// e.g. "10mph/NW".
func (w *WeatherSample) WindInfo() string {
	speed := strings.ReplaceAll(w.WindSpeed, " ", "")
	if speed == "" && w.WindDirection == "" {
		return ""
	}
	return speed + "/" + w.WindDirection
}

// AlertMarkerFlags are the operator-set weather-threat flags consumed by the
// analyzer. At most one flag is true at any time; all false means clear.
type AlertMarkerFlags struct {
	Fires bool `json:"enable_fire_markers"`
	Storm bool `json:"enable_storm_markers"`
	Flood bool `json:"enable_flood_markers"`
}

// Active returns the logical marker derived from the flags.
func (f AlertMarkerFlags) Active() MarkerType {
	switch {
	case f.Fires:
		return MarkerFires
	case f.Storm:
		return MarkerStorm
	case f.Flood:
		return MarkerFlood
	default:
		return MarkerClear
	}
}

// VLMAlert is a single alert emitted by the analysis stage.
// WeatherRelated is decided by the analyzer from the active marker and the
// weather sample, never taken from the model output.
type VLMAlert struct {
	AlertType      AlertType  `json:"alert_type"`
	Level          AlertLevel `json:"level"`
	Description    string     `json:"description"`
	WeatherRelated bool       `json:"weather_related"`
}

// VLMAnalysis is the analysis stage's output. It is always well-formed: a
// failed or timed-out inference run yields an empty alert list, a degraded
// summary and a nil AnalysisTimestamp rather than an error.
type VLMAnalysis struct {
	TrafficSummary    string     `json:"traffic_summary"`
	Alerts            []VLMAlert `json:"alerts"`
	Recommendations   []string   `json:"recommendations,omitempty"`
	AnalysisTimestamp *time.Time `json:"analysis_timestamp"`
}

// Degraded reports whether this analysis is the soft-failure placeholder.
func (a *VLMAnalysis) Degraded() bool {
	return a != nil && a.AnalysisTimestamp == nil
}

// CriticalAlerts returns the alerts at critical level, in emission order.
func (a *VLMAnalysis) CriticalAlerts() []VLMAlert {
	if a == nil {
		return nil
	}
	var out []VLMAlert
	for _, alert := range a.Alerts {
		if alert.Level == AlertLevelCritical {
			out = append(out, alert)
		}
	}
	return out
}

// IncidentReport carries the operator incident marker on a snapshot.
// ReportingEnabled is derived: true iff the incident type is set and not clear.
type IncidentReport struct {
	ReportingEnabled bool         `json:"reporting_enabled"`
	IncidentType     IncidentType `json:"incident_type"`
}

// TrafficSnapshot is the composite the aggregator assembles per request.
//
// ResponseAge is seconds elapsed between assembly and TrafficState.Timestamp,
// nil when no directional timestamp has ever been observed. WeatherData is nil
// when the weather upstream is unavailable and nothing was ever cached; the
// snapshot itself still succeeds. CameraImages is attached only on caller
// opt-in and never influences any other field.
type TrafficSnapshot struct {
	Timestamp      time.Time         `json:"timestamp"`
	ResponseAge    *float64          `json:"response_age"`
	IntersectionID string            `json:"intersection_id"`
	Data           *TrafficState     `json:"data"`
	Incident       IncidentReport    `json:"incident"`
	WeatherData    *WeatherSample    `json:"weather_data"`
	VLMAnalysis    *VLMAnalysis      `json:"vlm_analysis"`
	CameraImages   map[string]string `json:"camera_images,omitempty"`
}

// SnapshotRecord is the archived summary row persisted after assembly.
type SnapshotRecord struct {
	ID               string    `json:"id" db:"id"`
	AssembledAt      time.Time `json:"assembled_at" db:"assembled_at"`
	TotalDensity     int       `json:"total_density" db:"total_density"`
	TotalPedestrians int       `json:"total_pedestrians" db:"total_pedestrians"`
	Status           string    `json:"intersection_status" db:"intersection_status"`
	ShortForecast    *string   `json:"short_forecast,omitempty" db:"short_forecast"`
	AlertCount       int       `json:"alert_count" db:"alert_count"`
	VLMDegraded      bool      `json:"vlm_degraded" db:"vlm_degraded"`
}

// CriticalAlertEvent is the message published when a snapshot carries one or
// more critical alerts.
type CriticalAlertEvent struct {
	EventID        string             `json:"event_id"`
	IntersectionID string             `json:"intersection_id"`
	AssembledAt    time.Time          `json:"assembled_at"`
	Status         IntersectionStatus `json:"intersection_status"`
	TotalDensity   int                `json:"total_density"`
	Alerts         []VLMAlert         `json:"alerts"`
}
