package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricSnapshotAssembled   = "SnapshotAssembled"
	MetricSnapshotLatency     = "SnapshotLatencyMs"
	MetricWeatherFetch        = "WeatherFetch"
	MetricWeatherFetchFailure = "WeatherFetchFailure"
	MetricWeatherStaleServed  = "WeatherStaleServed"
	MetricVLMFailure          = "VLMAnalysisFailure"
	MetricIngestMessage       = "IngestMessage"
	MetricIngestMalformed     = "IngestMalformed"
	MetricAPIRequest          = "APIRequest"
	MetricCriticalAlert       = "CriticalAlertPublished"

	// Dimension Keys
	DimIntersection = "IntersectionID"
	DimDirection    = "Direction"
	DimStatusClass  = "StatusClass"
	DimEndpoint     = "Endpoint"

	// Metric Namespace
	MetricNamespace = "CrossWatch"
)
