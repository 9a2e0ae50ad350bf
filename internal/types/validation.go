package types

import "fmt"

// Validation constraint constants.
const (
	MinHighDensityThreshold = 1
	MaxHighDensityThreshold = 50
	MaxHistoryLimit         = 500
	DefaultHistoryLimit     = 50
)

// ValidateThreshold checks a high-density threshold update against the
// allowed operator range. The prior value must stay untouched on rejection.
func ValidateThreshold(v int) error {
	if v < MinHighDensityThreshold || v > MaxHighDensityThreshold {
		return NewAppErrorWithDetails(
			ErrCodeValidationThresholdRange,
			fmt.Sprintf("threshold must be between %d and %d", MinHighDensityThreshold, MaxHighDensityThreshold),
			nil,
			map[string]any{"value": v, "min": MinHighDensityThreshold, "max": MaxHighDensityThreshold},
		)
	}
	return nil
}

// ValidateMarkerType rejects marker values outside the recognized set.
// Unrecognized values never default to clear; they are a hard validation
// failure before any state mutation.
func ValidateMarkerType(m MarkerType) error {
	if !m.Valid() {
		return NewAppErrorWithDetails(
			ErrCodeValidationMarkerType,
			fmt.Sprintf("unrecognized weather marker %q", string(m)),
			nil,
			map[string]any{"marker": string(m), "allowed": []string{
				string(MarkerFires), string(MarkerStorm), string(MarkerFlood), string(MarkerClear),
			}},
		)
	}
	return nil
}

// ValidateIncidentType rejects incident values outside the closed enumeration.
// The clear sentinel is a valid member.
func ValidateIncidentType(t IncidentType) error {
	if !t.Valid() {
		return NewAppErrorWithDetails(
			ErrCodeValidationIncidentType,
			fmt.Sprintf("unrecognized incident type %q", string(t)),
			nil,
			map[string]any{"incident_type": string(t)},
		)
	}
	return nil
}
