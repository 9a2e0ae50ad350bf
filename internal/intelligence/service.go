// Package intelligence assembles the composite traffic snapshot: the fused
// camera state, the cached weather sample, the VLM analysis and the operator
// incident marker, banded against the current density threshold. The
// aggregator is read-only: it never mutates settings, never forces a weather
// refresh, never writes camera state.
package intelligence

import (
	"context"
	"encoding/base64"
	"log/slog"
	"sync"
	"time"

	"crosswatch/internal/metrics"
	"crosswatch/internal/types"
	"crosswatch/internal/vlm"
)

// StateSource provides the fused camera picture. The camera state view
// satisfies this.
type StateSource interface {
	Latest() (*types.TrafficState, bool)
	Frames() map[types.Direction][]byte
}

// WeatherSource provides the cached weather sample. The weather cache
// satisfies this.
type WeatherSource interface {
	Current(ctx context.Context, forceRefresh bool) (*types.WeatherSample, error)
}

// Analyzer runs one analysis round. Implementations never return an error;
// failure yields the degraded placeholder.
type Analyzer interface {
	Analyze(ctx context.Context, req vlm.Request) *types.VLMAnalysis
}

// SettingsSource supplies the operator-tunable values a snapshot depends on.
// The settings store satisfies this.
type SettingsSource interface {
	HighDensityThreshold() int
	WeatherMarker() types.MarkerType
	IncidentType() types.IncidentType
}

// ArchiveSink persists snapshot summaries. Nil disables archiving.
type ArchiveSink interface {
	Insert(ctx context.Context, rec types.SnapshotRecord) error
}

// AlertSink publishes critical alert events. Nil disables publishing.
type AlertSink interface {
	Publish(ctx context.Context, event types.CriticalAlertEvent) error
}

// defaultVLMTimeout bounds the analysis stage when no timeout is configured.
const defaultVLMTimeout = 40 * time.Second

// hookTimeout bounds each post-assembly observer (archive insert, alert
// publish, metrics emission).
const hookTimeout = 5 * time.Second

// Config wires a Service. State, Weather, Analyzer and Settings are
// required; Archive and Alerts are optional feature hooks.
type Config struct {
	State      StateSource
	Weather    WeatherSource
	Analyzer   Analyzer
	Settings   SettingsSource
	Archive    ArchiveSink
	Alerts     AlertSink
	Metrics    metrics.Recorder
	Clock      types.Clock
	Logger     *slog.Logger
	VLMTimeout time.Duration
}

// Service is the snapshot aggregator.
type Service struct {
	state      StateSource
	weather    WeatherSource
	analyzer   Analyzer
	settings   SettingsSource
	archive    ArchiveSink
	alerts     AlertSink
	rec        metrics.Recorder
	clock      types.Clock
	logger     *slog.Logger
	vlmTimeout time.Duration

	// hooks tracks in-flight post-assembly observers so shutdown can drain
	// them.
	hooks sync.WaitGroup
}

// NewService builds the aggregator. Nil clock, logger and metrics fall back
// to defaults; a zero VLMTimeout falls back to defaultVLMTimeout.
func NewService(cfg Config) *Service {
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rec := cfg.Metrics
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	timeout := cfg.VLMTimeout
	if timeout <= 0 {
		timeout = defaultVLMTimeout
	}

	return &Service{
		state:      cfg.State,
		weather:    cfg.Weather,
		analyzer:   cfg.Analyzer,
		settings:   cfg.Settings,
		archive:    cfg.Archive,
		alerts:     cfg.Alerts,
		rec:        rec,
		clock:      clock,
		logger:     logger,
		vlmTimeout: timeout,
	}
}

// SnapshotOptions tunes the assembled snapshot's presentation. IncludeImages
// only controls whether camera imagery is attached; no other field may vary
// with it.
type SnapshotOptions struct {
	IncludeImages bool
}

// Snapshot assembles the current intelligence composite.
//
// A cold camera state (no reading ever) is the only hard failure. Weather
// unavailability degrades the snapshot to a nil weather_data; analysis
// failure degrades to the placeholder analysis. Post-assembly observers run
// fire-and-forget and can neither delay nor fail the snapshot.
func (s *Service) Snapshot(ctx context.Context, opts SnapshotOptions) (*types.TrafficSnapshot, error) {
	start := s.clock.Now()

	state, ok := s.state.Latest()
	if !ok {
		return nil, types.NewAppError(
			types.ErrCodeNotFoundTrafficState,
			"no traffic data available",
			nil,
		)
	}

	threshold := s.settings.HighDensityThreshold()
	state.Status = types.BandDensity(state.TotalDensity, threshold)

	sample, err := s.weather.Current(ctx, false)
	if err != nil {
		s.logger.WarnContext(ctx, "assembling snapshot without weather data",
			slog.String("error", err.Error()),
		)
		sample = nil
	}

	frames := s.state.Frames()
	incident := s.settings.IncidentType()

	vlmCtx, cancel := context.WithTimeout(ctx, s.vlmTimeout)
	defer cancel()
	analysis := s.analyzer.Analyze(vlmCtx, vlm.Request{
		State:     state,
		Weather:   sample,
		Marker:    s.settings.WeatherMarker(),
		Incident:  incident,
		Threshold: threshold,
		Frames:    frames,
	})

	now := s.clock.Now()
	snapshot := &types.TrafficSnapshot{
		Timestamp:      now,
		IntersectionID: state.IntersectionID,
		Data:           state,
		Incident: types.IncidentReport{
			ReportingEnabled: incident.Reporting(),
			IncidentType:     incident,
		},
		WeatherData: sample,
		VLMAnalysis: analysis,
	}

	if !state.Timestamp.IsZero() {
		age := now.Sub(state.Timestamp).Seconds()
		if age < 0 {
			age = 0
		}
		snapshot.ResponseAge = &age
	}

	if opts.IncludeImages {
		snapshot.CameraImages = encodeFrames(frames)
	}

	s.observe(snapshot, now.Sub(start))

	return snapshot, nil
}

// Wait blocks until all in-flight post-assembly observers finish. Called
// during shutdown.
func (s *Service) Wait() {
	s.hooks.Wait()
}

// observe fans the assembled snapshot out to the metrics, archive and alert
// hooks, each on its own goroutine with a bounded timeout.
func (s *Service) observe(snap *types.TrafficSnapshot, latency time.Duration) {
	alertCount := 0
	degraded := true
	if snap.VLMAnalysis != nil {
		alertCount = len(snap.VLMAnalysis.Alerts)
		degraded = snap.VLMAnalysis.Degraded()
	}

	s.spawn(func(ctx context.Context) {
		s.rec.SnapshotAssembled(ctx, latency, alertCount, degraded)
	})

	if s.archive != nil {
		rec := buildRecord(snap, alertCount, degraded)
		s.spawn(func(ctx context.Context) {
			if err := s.archive.Insert(ctx, rec); err != nil {
				s.logger.Error("failed to archive snapshot",
					slog.String("error", err.Error()),
				)
			}
		})
	}

	if s.alerts != nil {
		critical := snap.VLMAnalysis.CriticalAlerts()
		if len(critical) > 0 {
			event := types.CriticalAlertEvent{
				IntersectionID: snap.IntersectionID,
				AssembledAt:    snap.Timestamp,
				Status:         snap.Data.Status,
				TotalDensity:   snap.Data.TotalDensity,
				Alerts:         critical,
			}
			s.spawn(func(ctx context.Context) {
				if err := s.alerts.Publish(ctx, event); err != nil {
					s.logger.Error("failed to publish critical alert event",
						slog.String("error", err.Error()),
					)
				}
				s.rec.CriticalAlertPublished(ctx)
			})
		}
	}
}

func (s *Service) spawn(fn func(ctx context.Context)) {
	s.hooks.Add(1)
	go func() {
		defer s.hooks.Done()
		ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func buildRecord(snap *types.TrafficSnapshot, alertCount int, degraded bool) types.SnapshotRecord {
	rec := types.SnapshotRecord{
		AssembledAt:      snap.Timestamp,
		TotalDensity:     snap.Data.TotalDensity,
		TotalPedestrians: snap.Data.TotalPedestrianCount,
		Status:           string(snap.Data.Status),
		AlertCount:       alertCount,
		VLMDegraded:      degraded,
	}
	if snap.WeatherData != nil {
		forecast := snap.WeatherData.ShortForecast
		rec.ShortForecast = &forecast
	}
	return rec
}

func encodeFrames(frames map[types.Direction][]byte) map[string]string {
	out := make(map[string]string, len(frames))
	for d, f := range frames {
		out[string(d)] = base64.StdEncoding.EncodeToString(f)
	}
	return out
}
