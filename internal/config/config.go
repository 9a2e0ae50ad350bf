// Package config defines the boot configuration for the crosswatch agent.
// Configuration is loaded once at process startup and is immutable thereafter;
// operator-tunable runtime state (threshold, markers, incident type) lives in
// the settings store, seeded from these values. It follows 12-Factor App
// principles by strictly separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format causes the application to exit
// immediately on startup (fail fast).
package config

import (
	"time"

	"crosswatch/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the crosswatch agent.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"crosswatch-agent"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	IsTestMode  bool   `envconfig:"IS_TEST_MODE" default:"false"`

	// Domain Configurations
	Server       ServerConfig
	Intersection IntersectionConfig
	Cameras      CameraConfig
	Weather      WeatherConfig
	VLM          VLMConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	AWS          AWSConfig
	Security     SecurityConfig
	Feature      FeatureConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server tuning parameters.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// IntersectionConfig identifies the monitored intersection. The coordinates
// drive both the snapshot identity fields and the weather point lookup, so
// they must fall inside National Weather Service coverage.
type IntersectionConfig struct {
	ID        string  `envconfig:"INTERSECTION_ID" default:"intersection-001"`
	Name      string  `envconfig:"INTERSECTION_NAME" default:"Main St & 1st Ave"`
	Latitude  float64 `envconfig:"INTERSECTION_LATITUDE" default:"45.5231" validate:"gte=-90,lte=90"`
	Longitude float64 `envconfig:"INTERSECTION_LONGITUDE" default:"-122.6765" validate:"gte=-180,lte=180"`
}

// Identity converts the boot configuration into the domain identity struct
// consumed by the settings store and snapshot assembly.
func (c IntersectionConfig) Identity() types.IntersectionIdentity {
	return types.IntersectionIdentity{
		ID:        c.ID,
		Name:      c.Name,
		Latitude:  c.Latitude,
		Longitude: c.Longitude,
	}
}

// CameraConfig holds the Kafka consumer settings for the four per-direction
// camera analytics topics.
type CameraConfig struct {
	Brokers []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	GroupID string   `envconfig:"KAFKA_GROUP_ID" default:"crosswatch-agent"`

	TopicNorth string `envconfig:"CAMERA_TOPIC_NORTH" default:"camera_north"`
	TopicSouth string `envconfig:"CAMERA_TOPIC_SOUTH" default:"camera_south"`
	TopicEast  string `envconfig:"CAMERA_TOPIC_EAST" default:"camera_east"`
	TopicWest  string `envconfig:"CAMERA_TOPIC_WEST" default:"camera_west"`

	// MaxWait bounds how long a fetch blocks waiting for new messages.
	MaxWait time.Duration `envconfig:"KAFKA_MAX_WAIT" default:"1s"`
	// StaleAfter is the feed age beyond which the health probe reports the
	// camera pipeline as degraded.
	StaleAfter time.Duration `envconfig:"CAMERA_STALE_AFTER" default:"2m"`
}

// Topics returns the per-direction topic mapping consumed by the settings
// store and the ingest consumer.
func (c CameraConfig) Topics() map[types.Direction]string {
	return map[types.Direction]string{
		types.DirectionNorth: c.TopicNorth,
		types.DirectionSouth: c.TopicSouth,
		types.DirectionEast:  c.TopicEast,
		types.DirectionWest:  c.TopicWest,
	}
}

// WeatherConfig holds the National Weather Service client and cache settings.
// The NWS API requires an identifying User-Agent on every request.
type WeatherConfig struct {
	BaseURL    string        `envconfig:"WEATHER_API_BASE_URL" default:"https://api.weather.gov" validate:"required,url"`
	UserAgent  string        `envconfig:"WEATHER_USER_AGENT" default:"crosswatch-agent/1.0 (traffic intersection monitor)"`
	CacheTTL   time.Duration `envconfig:"WEATHER_CACHE_TTL" default:"15m"`
	Timeout    time.Duration `envconfig:"WEATHER_TIMEOUT" default:"10s"`
	MaxRetries int           `envconfig:"WEATHER_MAX_RETRIES" default:"2"`
}

// VLMConfig holds the vision-language inference endpoint settings. The
// endpoint speaks the OpenAI chat-completions protocol; locally that is
// typically a vLLM or OVMS deployment serving a vision model.
type VLMConfig struct {
	BaseURL     string        `envconfig:"VLM_BASE_URL" default:"http://localhost:8000/v1" validate:"required,url"`
	APIKey      SecretString  `envconfig:"VLM_API_KEY"`
	Model       string        `envconfig:"VLM_MODEL" default:"Qwen/Qwen2.5-VL-7B-Instruct"`
	Timeout     time.Duration `envconfig:"VLM_TIMEOUT" default:"40s"`
	MaxTokens   int           `envconfig:"VLM_MAX_TOKENS" default:"512"`
	Temperature float64       `envconfig:"VLM_TEMPERATURE" default:"0.1"`
}

// DatabaseConfig holds the optional snapshot archive connection and pool
// tuning parameters. An empty URL disables the archive entirely.
type DatabaseConfig struct {
	// Resolved from SSM or Env
	URL SecretString `envconfig:"DATABASE_URL" validate:"omitempty,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"4"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// Enabled reports whether a database URL was configured.
func (c DatabaseConfig) Enabled() bool {
	return c.URL.Unmask() != ""
}

// RedisConfig holds the optional rate-limit store connection and the
// per-client request budget. An empty URL disables rate limiting.
type RedisConfig struct {
	// Resolved from SSM or Env; the URL may carry credentials.
	URL SecretString `envconfig:"REDIS_URL" validate:"omitempty,uri"`

	RequestsPerWindow int           `envconfig:"RATE_LIMIT_REQUESTS" default:"120" validate:"gt=0"`
	Window            time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
}

// Enabled reports whether a Redis URL was configured.
func (c RedisConfig) Enabled() bool {
	return c.URL.Unmask() != ""
}

// AWSConfig holds AWS resource identifiers and regional configuration for
// the optional CloudWatch metrics and SQS alert integrations.
type AWSConfig struct {
	Region          string `envconfig:"AWS_REGION" default:"us-east-1"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"CrossWatch"`
	AlertQueueURL   string `envconfig:"SQS_ALERT_QUEUE" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// SecurityConfig holds operator access and CORS settings. OperatorKeyHash is
// a bcrypt hash of the shared operator key; when empty, mutation endpoints
// are unauthenticated (local development mode) and a startup warning is
// logged.
type SecurityConfig struct {
	OperatorKeyHash    SecretString `envconfig:"OPERATOR_KEY_HASH"`
	CorsAllowedOrigins []string     `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// OperatorAuthEnabled reports whether an operator key hash was configured.
func (c SecurityConfig) OperatorAuthEnabled() bool {
	return c.OperatorKeyHash.Unmask() != ""
}

// FeatureConfig holds emergency kill switches for optional subsystems.
// A switch only takes effect when its backing resource is also configured.
type FeatureConfig struct {
	EnableIngest    bool `envconfig:"FEATURE_ENABLE_INGEST" default:"true"`
	EnableArchive   bool `envconfig:"FEATURE_SNAPSHOT_ARCHIVE" default:"true"`
	EnableAlerts    bool `envconfig:"FEATURE_ALERT_PUBLISH" default:"true"`
	EnableMetrics   bool `envconfig:"FEATURE_ENABLE_METRICS" default:"true"`
	EnableRateLimit bool `envconfig:"FEATURE_ENABLE_RATE_LIMIT" default:"true"`
}

// ArchiveEnabled reports whether snapshot archiving is both switched on and
// backed by a configured database.
func (c *Config) ArchiveEnabled() bool {
	return c.Feature.EnableArchive && c.Database.Enabled()
}

// AlertsEnabled reports whether critical-alert publishing is both switched on
// and backed by a configured SQS queue.
func (c *Config) AlertsEnabled() bool {
	return c.Feature.EnableAlerts && c.AWS.AlertQueueURL != ""
}

// RateLimitEnabled reports whether rate limiting is both switched on and
// backed by a configured Redis store.
func (c *Config) RateLimitEnabled() bool {
	return c.Feature.EnableRateLimit && c.Redis.Enabled()
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
