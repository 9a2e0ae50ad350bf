package types

import "time"

// CameraAnalyticsMessage is the per-frame analytics payload published by the
// edge camera pipeline onto each direction's Kafka topic. This struct is the
// transport envelope the ingest consumer decodes before applying a reading to
// the state view. JSON tags use snake_case to match the edge publisher.
type CameraAnalyticsMessage struct {
	// CameraID identifies the publishing camera (e.g. "cam-north-01").
	CameraID string `json:"camera_id"`

	// Timestamp is the capture instant of the analyzed frame.
	Timestamp time.Time `json:"timestamp"`

	// Counts extracted from the frame by the edge detector.
	VehicleCount    int `json:"vehicle_count"`
	PedestrianCount int `json:"pedestrian_count"`

	// FrameJPEGB64 optionally carries the annotated frame as base64 JPEG.
	// Large deployments omit it or publish zstd-framed messages instead.
	FrameJPEGB64 string `json:"frame_jpeg_b64,omitempty"`
}

// Reading converts the message into a directional reading for the given
// approach. Validation happens in the ingest decoder before this is called.
func (m *CameraAnalyticsMessage) Reading(d Direction) DirectionalReading {
	return DirectionalReading{
		Direction:       d,
		VehicleCount:    m.VehicleCount,
		PedestrianCount: m.PedestrianCount,
		Timestamp:       m.Timestamp,
	}
}
