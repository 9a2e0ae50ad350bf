package vlm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"crosswatch/internal/metrics"
	"crosswatch/internal/types"
)

// DegradedSummary is the traffic summary served when inference fails. A
// degraded analysis additionally carries an empty alert list and a nil
// analysis timestamp.
const DegradedSummary = "Traffic analysis temporarily unavailable"

// Request carries the scene the analyzer describes to the model.
type Request struct {
	State     *types.TrafficState
	Weather   *types.WeatherSample // nil when the weather upstream is down
	Marker    types.MarkerType
	Incident  types.IncidentType
	Threshold int
	Frames    map[types.Direction][]byte
}

// Analyzer prompts the inference client with the fused intersection picture
// and normalizes the reply. Analyze never returns an error: any failure
// (client error, context timeout, unparseable reply) yields the degraded
// placeholder so the snapshot read path stays available.
type Analyzer struct {
	client InferenceClient
	clock  types.Clock
	rec    metrics.Recorder
	logger *slog.Logger
}

// NewAnalyzer wires an analyzer. Nil clock, recorder and logger fall back to
// the real clock, a no-op recorder and slog.Default.
func NewAnalyzer(client InferenceClient, clock types.Clock, rec metrics.Recorder, logger *slog.Logger) *Analyzer {
	if clock == nil {
		clock = types.RealClock{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{client: client, clock: clock, rec: rec, logger: logger}
}

// modelReply is the JSON shape the prompt instructs the model to emit.
type modelReply struct {
	TrafficSummary  string       `json:"traffic_summary"`
	Alerts          []modelAlert `json:"alerts"`
	Recommendations []string     `json:"recommendations"`
}

type modelAlert struct {
	AlertType   string `json:"alert_type"`
	Level       string `json:"level"`
	Description string `json:"description"`
}

// Analyze runs one inference round over the scene and returns a well-formed
// analysis. Alert order is preserved exactly as the model emitted it;
// alert_type and level are coerced into the closed enums; weather_related is
// computed here from the scene, never trusted from the model.
func (a *Analyzer) Analyze(ctx context.Context, req Request) *types.VLMAnalysis {
	prompt := buildPrompt(req)
	_, images := orderedFrames(req.Frames)

	raw, err := a.client.Complete(ctx, prompt, images)
	if err != nil {
		return a.degrade(ctx, "inference request failed", err)
	}

	reply, err := parseReply(raw)
	if err != nil {
		return a.degrade(ctx, "model reply unparseable", err)
	}

	alerts := make([]types.VLMAlert, 0, len(reply.Alerts))
	for _, al := range reply.Alerts {
		alert := types.VLMAlert{
			AlertType:   normalizeAlertType(al.AlertType),
			Level:       normalizeAlertLevel(al.Level),
			Description: al.Description,
		}
		alert.WeatherRelated = weatherRelated(alert, req.Marker, req.Weather)
		alerts = append(alerts, alert)
	}

	now := a.clock.Now()
	return &types.VLMAnalysis{
		TrafficSummary:    reply.TrafficSummary,
		Alerts:            alerts,
		Recommendations:   reply.Recommendations,
		AnalysisTimestamp: &now,
	}
}

func (a *Analyzer) degrade(ctx context.Context, reason string, err error) *types.VLMAnalysis {
	a.logger.WarnContext(ctx, "VLM analysis degraded",
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)
	a.rec.VLMFailure(ctx)
	return &types.VLMAnalysis{
		TrafficSummary:    DegradedSummary,
		Alerts:            []types.VLMAlert{},
		AnalysisTimestamp: nil,
	}
}

// buildPrompt renders the scene description and the reply-format contract.
func buildPrompt(req Request) string {
	var b strings.Builder

	b.WriteString("You are a traffic operations analyst monitoring the intersection ")
	if req.State != nil {
		fmt.Fprintf(&b, "%q (%s).\n\n", req.State.IntersectionName, req.State.IntersectionID)
		b.WriteString("Current per-approach readings:\n")
		for _, d := range types.Directions() {
			r := req.State.Reading(d)
			fmt.Fprintf(&b, "- %s: %d vehicles, %d pedestrians\n", d, r.VehicleCount, r.PedestrianCount)
		}
		fmt.Fprintf(&b, "Total vehicle density: %d (high-density threshold: %d)\n",
			req.State.TotalDensity, req.Threshold)
		fmt.Fprintf(&b, "Total pedestrians: %d\n", req.State.TotalPedestrianCount)
	}

	if req.Weather != nil {
		fmt.Fprintf(&b, "\nWeather: %s, %.0f%s, wind %s %s",
			req.Weather.ShortForecast, req.Weather.Temperature, req.Weather.TemperatureUnit,
			req.Weather.WindSpeed, req.Weather.WindDirection)
		if req.Weather.IsPrecipitation {
			fmt.Fprintf(&b, ", precipitation likely (%d%%)", req.Weather.PrecipitationProb)
		}
		b.WriteString("\n")
	} else {
		b.WriteString("\nWeather: no current data available\n")
	}

	if req.Marker != "" && req.Marker != types.MarkerClear {
		fmt.Fprintf(&b, "The operator has flagged an active %s threat for this area.\n", req.Marker)
	}
	if req.Incident.Reporting() {
		fmt.Fprintf(&b, "An incident of type %q is marked at the intersection.\n", req.Incident)
	}

	if directions, _ := orderedFrames(req.Frames); len(directions) > 0 {
		names := make([]string, len(directions))
		for i, d := range directions {
			names[i] = string(d)
		}
		fmt.Fprintf(&b, "Camera frames are attached in this order: %s.\n", strings.Join(names, ", "))
	}

	b.WriteString(`
Assess the traffic situation. Respond with JSON only, no prose, exactly this shape:
{
  "traffic_summary": "one or two sentences describing the overall situation",
  "alerts": [
    {"alert_type": "congestion|pedestrian_safety|weather_hazard|incident|visibility|other",
     "level": "info|warning|critical",
     "description": "what you observed"}
  ],
  "recommendations": ["optional operator actions"]
}
Emit an empty alerts array when nothing needs attention.`)

	return b.String()
}

// orderedFrames returns the attached frames in canonical direction order so
// the prompt's frame captions stay aligned with the image sequence.
func orderedFrames(frames map[types.Direction][]byte) ([]types.Direction, [][]byte) {
	var directions []types.Direction
	var images [][]byte
	for _, d := range types.Directions() {
		if f, ok := frames[d]; ok && len(f) > 0 {
			directions = append(directions, d)
			images = append(images, f)
		}
	}
	return directions, images
}

// parseReply extracts the JSON analysis from a raw model reply. Models wrap
// JSON in markdown fences or lead with prose often enough that the parser
// hunts for the outermost object instead of trusting the whole reply.
func parseReply(raw string) (*modelReply, error) {
	cleaned := stripCodeFence(raw)

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in model reply")
	}

	var reply modelReply
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &reply); err != nil {
		return nil, fmt.Errorf("failed to parse model reply: %w", err)
	}

	if strings.TrimSpace(reply.TrafficSummary) == "" {
		return nil, fmt.Errorf("model reply missing traffic_summary")
	}

	return &reply, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// normalizeAlertType coerces a model-emitted type into the closed enum.
// Anything unrecognized becomes AlertTypeOther.
func normalizeAlertType(s string) types.AlertType {
	t := types.AlertType(canonicalToken(s))
	if t.Valid() {
		return t
	}
	switch canonicalToken(s) {
	case "traffic_congestion", "heavy_traffic", "traffic":
		return types.AlertTypeCongestion
	case "pedestrian", "pedestrians", "pedestrian_hazard":
		return types.AlertTypePedestrianSafety
	case "weather", "weather_alert":
		return types.AlertTypeWeatherHazard
	case "accident", "collision", "crash":
		return types.AlertTypeIncident
	case "low_visibility", "poor_visibility":
		return types.AlertTypeVisibility
	}
	return types.AlertTypeOther
}

// normalizeAlertLevel coerces a model-emitted level into the closed enum.
// Unrecognized levels map to info so malformed model output can never feed
// the critical-alert pipeline.
func normalizeAlertLevel(s string) types.AlertLevel {
	l := types.AlertLevel(canonicalToken(s))
	if l.Valid() {
		return l
	}
	switch canonicalToken(s) {
	case "information", "low", "notice":
		return types.AlertLevelInfo
	case "warn", "medium", "moderate":
		return types.AlertLevelWarning
	case "high", "severe", "danger", "emergency":
		return types.AlertLevelCritical
	}
	return types.AlertLevelInfo
}

func canonicalToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}

// weatherRelatedTerms is the vocabulary that marks an alert description as
// weather-driven when the scene already carries a weather threat.
var weatherRelatedTerms = []string{
	"rain", "snow", "ice", "icy", "wet", "fog", "storm", "wind", "flood",
	"hail", "visibility", "slippery", "weather", "fire", "smoke",
}

// weatherRelated decides whether an alert is weather-related: weather-hazard
// alerts always are; otherwise the scene must carry a weather threat (active
// marker or precipitating sample) and the description must use weather
// vocabulary.
func weatherRelated(alert types.VLMAlert, marker types.MarkerType, sample *types.WeatherSample) bool {
	if alert.AlertType == types.AlertTypeWeatherHazard {
		return true
	}

	threatContext := (marker != "" && marker != types.MarkerClear) ||
		(sample != nil && sample.IsPrecipitation)
	if !threatContext {
		return false
	}

	desc := strings.ToLower(alert.Description)
	for _, term := range weatherRelatedTerms {
		if strings.Contains(desc, term) {
			return true
		}
	}
	return false
}
