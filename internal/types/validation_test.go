package types

import (
	"errors"
	"testing"
	"time"
)

// --- ValidateThreshold Tests ---

func TestValidateThreshold_WithinRange(t *testing.T) {
	tests := []struct {
		name string
		v    int
	}{
		{"exact min boundary", 1},
		{"exact max boundary", 50},
		{"typical value", 8},
		{"mid range", 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateThreshold(tt.v); err != nil {
				t.Errorf("ValidateThreshold(%d) = %v, want nil", tt.v, err)
			}
		})
	}
}

func TestValidateThreshold_OutOfRange(t *testing.T) {
	tests := []struct {
		name string
		v    int
	}{
		{"zero just below min", 0},
		{"just above max", 51},
		{"negative", -3},
		{"far above max", 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateThreshold(tt.v)
			if err == nil {
				t.Fatalf("ValidateThreshold(%d) = nil, want validation error", tt.v)
			}

			var appErr *AppError
			if !errors.As(err, &appErr) {
				t.Fatalf("error is %T, want *AppError", err)
			}
			if appErr.Code != ErrCodeValidationThresholdRange {
				t.Errorf("Code = %q, want %q", appErr.Code, ErrCodeValidationThresholdRange)
			}
			if appErr.Details["value"] != tt.v {
				t.Errorf("Details[value] = %v, want %d", appErr.Details["value"], tt.v)
			}
		})
	}
}

// --- ValidateMarkerType Tests ---

func TestValidateMarkerType_Recognized(t *testing.T) {
	for _, m := range []MarkerType{MarkerFires, MarkerStorm, MarkerFlood, MarkerClear} {
		if err := ValidateMarkerType(m); err != nil {
			t.Errorf("ValidateMarkerType(%q) = %v, want nil", m, err)
		}
	}
}

func TestValidateMarkerType_Unrecognized(t *testing.T) {
	tests := []string{"tornado", "", "FIRES", "cleared"}

	for _, raw := range tests {
		t.Run("marker_"+raw, func(t *testing.T) {
			err := ValidateMarkerType(MarkerType(raw))
			if err == nil {
				t.Fatalf("ValidateMarkerType(%q) = nil, want validation error", raw)
			}
			var appErr *AppError
			if !errors.As(err, &appErr) {
				t.Fatalf("error is %T, want *AppError", err)
			}
			if appErr.Code != ErrCodeValidationMarkerType {
				t.Errorf("Code = %q, want %q", appErr.Code, ErrCodeValidationMarkerType)
			}
		})
	}
}

// --- ValidateIncidentType Tests ---

func TestValidateIncidentType_ClosedEnum(t *testing.T) {
	valid := []IncidentType{
		IncidentClear, IncidentAccident, IncidentConstruction,
		IncidentRoadClosure, IncidentHazard, IncidentSpecialEvent,
	}
	for _, v := range valid {
		if err := ValidateIncidentType(v); err != nil {
			t.Errorf("ValidateIncidentType(%q) = %v, want nil", v, err)
		}
	}

	invalid := []string{"fire", "", "ACCIDENT", "parade"}
	for _, raw := range invalid {
		err := ValidateIncidentType(IncidentType(raw))
		if err == nil {
			t.Errorf("ValidateIncidentType(%q) = nil, want validation error", raw)
			continue
		}
		var appErr *AppError
		if !errors.As(err, &appErr) {
			t.Errorf("error is %T, want *AppError", err)
			continue
		}
		if appErr.Code != ErrCodeValidationIncidentType {
			t.Errorf("Code = %q, want %q", appErr.Code, ErrCodeValidationIncidentType)
		}
	}
}

// --- Enum helper Tests ---

func TestDirectionValid(t *testing.T) {
	for _, d := range Directions() {
		if !d.Valid() {
			t.Errorf("Direction %q should be valid", d)
		}
	}
	if Direction("northeast").Valid() {
		t.Error("northeast should not be a valid direction")
	}
	if len(Directions()) != 4 {
		t.Errorf("Directions() returned %d entries, want 4", len(Directions()))
	}
}

func TestIncidentTypeReporting(t *testing.T) {
	if IncidentClear.Reporting() {
		t.Error("clear sentinel must not enable reporting")
	}
	if IncidentType("").Reporting() {
		t.Error("empty incident must not enable reporting")
	}
	if !IncidentAccident.Reporting() {
		t.Error("accident must enable reporting")
	}
}

func TestAlertMarkerFlagsActive(t *testing.T) {
	tests := []struct {
		name  string
		flags AlertMarkerFlags
		want  MarkerType
	}{
		{"all false is clear", AlertMarkerFlags{}, MarkerClear},
		{"fires", AlertMarkerFlags{Fires: true}, MarkerFires},
		{"storm", AlertMarkerFlags{Storm: true}, MarkerStorm},
		{"flood", AlertMarkerFlags{Flood: true}, MarkerFlood},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.flags.Active(); got != tt.want {
				t.Errorf("Active() = %q, want %q", got, tt.want)
			}
		})
	}
}

// --- BandDensity Tests ---

func TestBandDensity(t *testing.T) {
	tests := []struct {
		name      string
		density   int
		threshold int
		want      IntersectionStatus
	}{
		{"above threshold", 10, 8, StatusAboveThreshold},
		{"below threshold", 10, 12, StatusBelowThreshold},
		{"exactly at threshold", 8, 8, StatusAtThreshold},
		{"zero density low threshold", 0, 1, StatusBelowThreshold},
		{"just over", 9, 8, StatusAboveThreshold},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BandDensity(tt.density, tt.threshold); got != tt.want {
				t.Errorf("BandDensity(%d, %d) = %q, want %q", tt.density, tt.threshold, got, tt.want)
			}
		})
	}
}

// --- WeatherSample helpers ---

func TestWeatherSampleWindInfo(t *testing.T) {
	tests := []struct {
		name   string
		sample WeatherSample
		want   string
	}{
		{"speed with spaces", WeatherSample{WindSpeed: "10 mph", WindDirection: "NW"}, "10mph/NW"},
		{"range speed", WeatherSample{WindSpeed: "5 to 10 mph", WindDirection: "SSW"}, "5to10mph/SSW"},
		{"empty wind", WeatherSample{}, ""},
		{"direction only", WeatherSample{WindDirection: "E"}, "/E"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sample.WindInfo(); got != tt.want {
				t.Errorf("WindInfo() = %q, want %q", got, tt.want)
			}
		})
	}
}

// --- VLMAnalysis helpers ---

func TestVLMAnalysisDegraded(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	healthy := &VLMAnalysis{TrafficSummary: "ok", AnalysisTimestamp: &at}
	if healthy.Degraded() {
		t.Error("analysis with timestamp should not be degraded")
	}

	degraded := &VLMAnalysis{TrafficSummary: "unavailable"}
	if !degraded.Degraded() {
		t.Error("analysis without timestamp should be degraded")
	}
}

func TestVLMAnalysisCriticalAlerts(t *testing.T) {
	analysis := &VLMAnalysis{
		Alerts: []VLMAlert{
			{AlertType: AlertTypeCongestion, Level: AlertLevelInfo, Description: "a"},
			{AlertType: AlertTypeIncident, Level: AlertLevelCritical, Description: "b"},
			{AlertType: AlertTypeWeatherHazard, Level: AlertLevelCritical, Description: "c"},
			{AlertType: AlertTypeVisibility, Level: AlertLevelWarning, Description: "d"},
		},
	}

	critical := analysis.CriticalAlerts()
	if len(critical) != 2 {
		t.Fatalf("CriticalAlerts() returned %d, want 2", len(critical))
	}
	// Emission order preserved.
	if critical[0].Description != "b" || critical[1].Description != "c" {
		t.Errorf("CriticalAlerts() order = %q, %q; want b, c", critical[0].Description, critical[1].Description)
	}

	var nilAnalysis *VLMAnalysis
	if nilAnalysis.CriticalAlerts() != nil {
		t.Error("CriticalAlerts() on nil analysis should return nil")
	}
}
