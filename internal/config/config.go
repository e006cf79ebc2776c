// Package config provides configuration management for matchcast using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides.
// Example: MATCHCAST_STREAM_RTMP_URL=rtmp://host/live/key.
const EnvPrefix = "MATCHCAST"

// Default configuration values.
const (
	defaultTBABaseURL         = "https://www.thebluealliance.com/api/v3"
	defaultTBARequestDelay    = 500 * time.Millisecond
	defaultTBACacheTTL        = time.Hour
	defaultTBATimeout         = 30 * time.Second
	defaultRTMPURL            = "rtmp://restreamer:1935/live/external.stream"
	defaultVideoBitrate       = "2500k"
	defaultAudioBitrate       = "128k"
	defaultPreset             = "veryfast"
	defaultYtdlpFormat        = "best[height<=1080]"
	defaultVAAPIDevice        = "/dev/dri/renderD128"
	defaultMaxRetriesPerVideo = 2
	defaultRetryDelay         = 5 * time.Second
	defaultErrorCooldown      = 10 * time.Second
	defaultCircuitThreshold   = 10
	defaultCircuitPause       = 60 * time.Second
	defaultExhaustedPause     = 60 * time.Second
	defaultMaxBackoff         = 120 * time.Second
	defaultStopGrace          = 5 * time.Second
	defaultKillGrace          = 2 * time.Second
	defaultDrainTimeout       = 5 * time.Second
	defaultProbeTimeout       = 10 * time.Second
	defaultHealthPort         = 8090
)

// Accelerator preferences accepted by stream.hw_accel.
var validHWAccel = []string{"auto", "nvenc", "videotoolbox", "vaapi", "none"}

// Competition levels TBA reports for matches.
var validCompLevels = []string{"qm", "ef", "qf", "sf", "f"}

// Config holds all configuration for the application.
type Config struct {
	TBA        TBAConfig        `mapstructure:"tba" yaml:"tba"`
	Filters    FiltersConfig    `mapstructure:"filters" yaml:"filters"`
	Stream     StreamConfig     `mapstructure:"stream" yaml:"stream"`
	Resilience ResilienceConfig `mapstructure:"resilience" yaml:"resilience"`
	Binaries   BinariesConfig   `mapstructure:"binaries" yaml:"binaries"`
	Health     HealthConfig     `mapstructure:"health" yaml:"health"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

// TBAConfig holds The Blue Alliance API client configuration.
type TBAConfig struct {
	APIKey       string        `mapstructure:"api_key" yaml:"api_key"`
	BaseURL      string        `mapstructure:"base_url" yaml:"base_url"`
	RequestDelay time.Duration `mapstructure:"request_delay" yaml:"request_delay"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	CachePath    string        `mapstructure:"cache_path" yaml:"cache_path"` // empty = in-memory ETag cache
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// FiltersConfig narrows which match videos end up in the pool.
type FiltersConfig struct {
	Years      []int    `mapstructure:"years" yaml:"years"`
	Teams      []int    `mapstructure:"teams" yaml:"teams"`
	Events     []string `mapstructure:"events" yaml:"events"`
	States     []string `mapstructure:"states" yaml:"states"`
	Districts  []string `mapstructure:"districts" yaml:"districts"`
	CompLevels []string `mapstructure:"comp_levels" yaml:"comp_levels"`
}

// StreamConfig holds the retrieval and encode settings for each pipeline run.
type StreamConfig struct {
	RTMPURL            string        `mapstructure:"rtmp_url" yaml:"rtmp_url"`
	RTMPToken          string        `mapstructure:"rtmp_token" yaml:"rtmp_token"`
	HWAccel            string        `mapstructure:"hw_accel" yaml:"hw_accel"` // auto, nvenc, videotoolbox, vaapi, none
	VideoBitrate       string        `mapstructure:"video_bitrate" yaml:"video_bitrate"`
	AudioBitrate       string        `mapstructure:"audio_bitrate" yaml:"audio_bitrate"`
	Preset             string        `mapstructure:"preset" yaml:"preset"`
	YtdlpFormat        string        `mapstructure:"ytdlp_format" yaml:"ytdlp_format"`
	VAAPIDevice        string        `mapstructure:"vaapi_device" yaml:"vaapi_device"`
	MaxRetriesPerVideo int           `mapstructure:"max_retries_per_video" yaml:"max_retries_per_video"`
	RetryDelay         time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	ErrorCooldown      time.Duration `mapstructure:"error_cooldown" yaml:"error_cooldown"`
}

// ResilienceConfig holds the run loop's backoff and process teardown settings.
type ResilienceConfig struct {
	CircuitThreshold int           `mapstructure:"circuit_threshold" yaml:"circuit_threshold"`
	CircuitPause     time.Duration `mapstructure:"circuit_pause" yaml:"circuit_pause"`
	ExhaustedPause   time.Duration `mapstructure:"exhausted_pause" yaml:"exhausted_pause"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
	StopGrace        time.Duration `mapstructure:"stop_grace" yaml:"stop_grace"`
	KillGrace        time.Duration `mapstructure:"kill_grace" yaml:"kill_grace"`
	DrainTimeout     time.Duration `mapstructure:"drain_timeout" yaml:"drain_timeout"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
}

// BinariesConfig overrides where external tools are looked up.
type BinariesConfig struct {
	FFmpeg string `mapstructure:"ffmpeg" yaml:"ffmpeg"` // empty = auto-detect
	Ytdlp  string `mapstructure:"ytdlp" yaml:"ytdlp"`   // empty = auto-detect
}

// HealthConfig holds the optional status endpoint configuration.
type HealthConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Host    string `mapstructure:"host" yaml:"host"`
	Port    int    `mapstructure:"port" yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`   // trace, debug, info, warn, error
	Format     string `mapstructure:"format" yaml:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source" yaml:"add_source"`
	TimeFormat string `mapstructure:"time_format" yaml:"time_format"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with MATCHCAST_ and use underscores for nesting.
func Load(configPath string) (*Config, error) {
	cfg, err := LoadUnvalidated(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// LoadUnvalidated is Load without Validate, for commands that report
// problems themselves or need logging set up before validation.
func LoadUnvalidated(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		AddConfigPaths(v)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return Decode(v)
}

// AddConfigPaths registers the default config file search locations.
func AddConfigPaths(v *viper.Viper) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/matchcast")
	v.AddConfigPath("/etc/matchcast")
}

// FromViper decodes and validates the configuration held by an
// already-populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg, err := Decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Decode expands ${VAR} references and unmarshals v without validating.
func Decode(v *viper.Viper) (*Config, error) {
	if err := ExpandEnv(v); err != nil {
		return nil, err
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		SecondsOrDurationHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// TBA defaults
	v.SetDefault("tba.api_key", "")
	v.SetDefault("tba.base_url", defaultTBABaseURL)
	v.SetDefault("tba.request_delay", defaultTBARequestDelay)
	v.SetDefault("tba.cache_ttl", defaultTBACacheTTL)
	v.SetDefault("tba.cache_path", "")
	v.SetDefault("tba.timeout", defaultTBATimeout)

	// Filter defaults
	v.SetDefault("filters.years", []int{2024})
	v.SetDefault("filters.teams", []int{})
	v.SetDefault("filters.events", []string{})
	v.SetDefault("filters.states", []string{})
	v.SetDefault("filters.districts", []string{})
	v.SetDefault("filters.comp_levels", []string{"qm", "qf", "sf", "f"})

	// Stream defaults
	v.SetDefault("stream.rtmp_url", defaultRTMPURL)
	v.SetDefault("stream.rtmp_token", "")
	v.SetDefault("stream.hw_accel", "auto")
	v.SetDefault("stream.video_bitrate", defaultVideoBitrate)
	v.SetDefault("stream.audio_bitrate", defaultAudioBitrate)
	v.SetDefault("stream.preset", defaultPreset)
	v.SetDefault("stream.ytdlp_format", defaultYtdlpFormat)
	v.SetDefault("stream.vaapi_device", defaultVAAPIDevice)
	v.SetDefault("stream.max_retries_per_video", defaultMaxRetriesPerVideo)
	v.SetDefault("stream.retry_delay", defaultRetryDelay)
	v.SetDefault("stream.error_cooldown", defaultErrorCooldown)

	// Resilience defaults
	v.SetDefault("resilience.circuit_threshold", defaultCircuitThreshold)
	v.SetDefault("resilience.circuit_pause", defaultCircuitPause)
	v.SetDefault("resilience.exhausted_pause", defaultExhaustedPause)
	v.SetDefault("resilience.max_backoff", defaultMaxBackoff)
	v.SetDefault("resilience.stop_grace", defaultStopGrace)
	v.SetDefault("resilience.kill_grace", defaultKillGrace)
	v.SetDefault("resilience.drain_timeout", defaultDrainTimeout)
	v.SetDefault("resilience.probe_timeout", defaultProbeTimeout)

	// Binary overrides
	v.SetDefault("binaries.ffmpeg", "")
	v.SetDefault("binaries.ytdlp", "")

	// Health endpoint defaults
	v.SetDefault("health.enabled", false)
	v.SetDefault("health.host", "0.0.0.0")
	v.SetDefault("health.port", defaultHealthPort)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
}

// normalize lowercases enum-like values so validation and consumers can
// compare them directly.
func (c *Config) normalize() {
	c.Stream.HWAccel = strings.ToLower(strings.TrimSpace(c.Stream.HWAccel))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "warning" {
		c.Logging.Level = "warn"
	}
	for i, level := range c.Filters.CompLevels {
		c.Filters.CompLevels[i] = strings.ToLower(strings.TrimSpace(level))
	}
}

// Validate checks the configuration for errors. All problems are reported
// together rather than stopping at the first one.
func (c *Config) Validate() error {
	var errs []error

	if c.TBA.APIKey == "" {
		errs = append(errs, errors.New("tba.api_key is required"))
	}
	if c.TBA.RequestDelay < 0 {
		errs = append(errs, errors.New("tba.request_delay must be non-negative"))
	}
	if len(c.Filters.Years) == 0 && len(c.Filters.Events) == 0 {
		errs = append(errs, errors.New("filters.years or filters.events must be set"))
	}
	if !slices.Contains(validHWAccel, c.Stream.HWAccel) {
		errs = append(errs, fmt.Errorf("stream.hw_accel must be one of: %s", strings.Join(validHWAccel, ", ")))
	}
	if c.Stream.RTMPURL == "" {
		errs = append(errs, errors.New("stream.rtmp_url is required"))
	}
	if c.Stream.MaxRetriesPerVideo < 0 {
		errs = append(errs, errors.New("stream.max_retries_per_video must be non-negative"))
	}
	if c.Resilience.CircuitThreshold < 1 {
		errs = append(errs, errors.New("resilience.circuit_threshold must be at least 1"))
	}
	if c.Resilience.MaxBackoff <= 0 {
		errs = append(errs, errors.New("resilience.max_backoff must be positive"))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		errs = append(errs, errors.New("logging.format must be one of: json, text"))
	}
	if c.Health.Enabled && (c.Health.Port < 1 || c.Health.Port > 65535) {
		errs = append(errs, errors.New("health.port must be between 1 and 65535"))
	}

	return errors.Join(errs...)
}

// Warnings reports suspicious but non-fatal settings.
func (c *Config) Warnings() []string {
	var warnings []string
	for _, level := range c.Filters.CompLevels {
		if !slices.Contains(validCompLevels, level) {
			warnings = append(warnings, fmt.Sprintf("filters.comp_levels: unknown level %q", level))
		}
	}
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		warnings = append(warnings, fmt.Sprintf("logging.level: unknown level %q, using info", c.Logging.Level))
	}
	return warnings
}

// Address returns the health server address in host:port format.
func (c *HealthConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
