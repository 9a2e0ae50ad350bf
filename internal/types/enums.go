package types

// Direction identifies one camera approach of the intersection.
type Direction string

const (
	DirectionNorth Direction = "north"
	DirectionSouth Direction = "south"
	DirectionEast  Direction = "east"
	DirectionWest  Direction = "west"
)

// Directions lists the four approaches in canonical order.
func Directions() []Direction {
	return []Direction{DirectionNorth, DirectionSouth, DirectionEast, DirectionWest}
}

// Valid reports whether d is one of the four compass approaches.
func (d Direction) Valid() bool {
	switch d {
	case DirectionNorth, DirectionSouth, DirectionEast, DirectionWest:
		return true
	}
	return false
}

// MarkerType is the logical weather-threat marker derived from the three
// mutually exclusive flags. Clear means no flag is set.
type MarkerType string

const (
	MarkerFires MarkerType = "fires"
	MarkerStorm MarkerType = "storm"
	MarkerFlood MarkerType = "flood"
	MarkerClear MarkerType = "clear"
)

// Valid reports whether m is a recognized marker value.
func (m MarkerType) Valid() bool {
	switch m {
	case MarkerFires, MarkerStorm, MarkerFlood, MarkerClear:
		return true
	}
	return false
}

// IncidentType is the operator-set incident marker. IncidentClear is the
// sentinel meaning no incident reporting.
type IncidentType string

const (
	IncidentClear        IncidentType = "clear"
	IncidentAccident     IncidentType = "accident"
	IncidentConstruction IncidentType = "construction"
	IncidentRoadClosure  IncidentType = "road_closure"
	IncidentHazard       IncidentType = "hazard"
	IncidentSpecialEvent IncidentType = "special_event"
)

// Valid reports whether t is a member of the closed incident enumeration.
func (t IncidentType) Valid() bool {
	switch t {
	case IncidentClear, IncidentAccident, IncidentConstruction,
		IncidentRoadClosure, IncidentHazard, IncidentSpecialEvent:
		return true
	}
	return false
}

// Reporting reports whether this incident type enables incident reporting.
func (t IncidentType) Reporting() bool {
	return t != "" && t != IncidentClear
}

// IntersectionStatus bands total vehicle density against the configured
// high-density threshold.
type IntersectionStatus string

const (
	StatusBelowThreshold IntersectionStatus = "below_threshold"
	StatusAtThreshold    IntersectionStatus = "at_threshold"
	StatusAboveThreshold IntersectionStatus = "above_threshold"
)

// BandDensity maps a total density to its status band for the given threshold.
func BandDensity(totalDensity, threshold int) IntersectionStatus {
	switch {
	case totalDensity > threshold:
		return StatusAboveThreshold
	case totalDensity == threshold:
		return StatusAtThreshold
	default:
		return StatusBelowThreshold
	}
}

// AlertType categorizes an analysis alert.
type AlertType string

const (
	AlertTypeCongestion       AlertType = "congestion"
	AlertTypePedestrianSafety AlertType = "pedestrian_safety"
	AlertTypeWeatherHazard    AlertType = "weather_hazard"
	AlertTypeIncident         AlertType = "incident"
	AlertTypeVisibility       AlertType = "visibility"
	AlertTypeOther            AlertType = "other"
)

// Valid reports whether t is a recognized alert type.
func (t AlertType) Valid() bool {
	switch t {
	case AlertTypeCongestion, AlertTypePedestrianSafety, AlertTypeWeatherHazard,
		AlertTypeIncident, AlertTypeVisibility, AlertTypeOther:
		return true
	}
	return false
}

// AlertLevel is the severity of an analysis alert.
type AlertLevel string

const (
	AlertLevelInfo     AlertLevel = "info"
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
)

// Valid reports whether l is a recognized alert level.
func (l AlertLevel) Valid() bool {
	switch l {
	case AlertLevelInfo, AlertLevelWarning, AlertLevelCritical:
		return true
	}
	return false
}
