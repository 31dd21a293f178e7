package aura

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the engine configuration, read once at Connect time. Changing any
// session parameter afterwards goes through Engine.UpdateParams, which cycles
// the session.
type Config struct {
	Persona         string `mapstructure:"persona"`
	Voice           string `mapstructure:"voice"`
	WakePhrase      string `mapstructure:"wake_phrase"`
	StopPhrase      string `mapstructure:"stop_phrase"`
	LowLatency      bool   `mapstructure:"low_latency"`
	PowerSaving     bool   `mapstructure:"power_saving"`
	AutoReconnect   bool   `mapstructure:"auto_reconnect"`
	HaltOnInterrupt bool   `mapstructure:"halt_on_interrupt"`
	Proxied         bool   `mapstructure:"proxied"`

	Capture   CaptureConfig   `mapstructure:"capture"`
	Playback  PlaybackConfig  `mapstructure:"playback"`
	Timers    TimersConfig    `mapstructure:"timers"`
	Transport TransportConfig `mapstructure:"transport"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Privacy   PrivacyConfig   `mapstructure:"privacy"`

	Observability ObservabilityConfig `mapstructure:"observability"`

	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`
}

type CaptureConfig struct {
	SampleRate    int     `mapstructure:"sample_rate"`
	GateThreshold float64 `mapstructure:"gate_threshold"`
	SuppressLimit int     `mapstructure:"suppress_limit"`
}

type PlaybackConfig struct {
	// MaxBuffer of 0 picks the mode-dependent default.
	MaxBuffer int    `mapstructure:"max_buffer"`
	Codec     string `mapstructure:"codec"`
}

type TimersConfig struct {
	KeepaliveMS      int `mapstructure:"keepalive_ms"`
	StandbyCheckMS   int `mapstructure:"standby_check_ms"`
	IdleTimeoutMS    int `mapstructure:"idle_timeout_ms"`
	ReconnectDelayMS int `mapstructure:"reconnect_delay_ms"`
}

type TransportConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

type ObservabilityConfig struct {
	// MetricsPath appends metric events as JSON lines; empty disables it.
	MetricsPath string `mapstructure:"metrics_path"`
	// SampleRate thins per-block capture events; 1 records everything.
	SampleRate float64 `mapstructure:"sample_rate"`
}

type ToolsConfig struct {
	Concurrency    int `mapstructure:"concurrency"`
	TimeoutMS      int `mapstructure:"timeout_ms"`
	Retries        int `mapstructure:"retries"`
	RetryBackoffMS int `mapstructure:"retry_backoff_ms"`
}

// LoadConfig reads a config file, applies defaults, expands ${ENV} references
// in string values, and validates the result.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("persona", "default")
	v.SetDefault("voice", "neutral")
	v.SetDefault("wake_phrase", "")
	v.SetDefault("stop_phrase", "")
	v.SetDefault("low_latency", true)
	v.SetDefault("power_saving", false)
	v.SetDefault("auto_reconnect", true)
	v.SetDefault("halt_on_interrupt", false)
	v.SetDefault("proxied", false)
	v.SetDefault("capture.sample_rate", 16000)
	v.SetDefault("capture.gate_threshold", 0.01)
	v.SetDefault("capture.suppress_limit", 2)
	v.SetDefault("playback.max_buffer", 0)
	v.SetDefault("playback.codec", "pcm16")
	v.SetDefault("timers.keepalive_ms", 10000)
	v.SetDefault("timers.standby_check_ms", 5000)
	v.SetDefault("timers.idle_timeout_ms", 30000)
	v.SetDefault("timers.reconnect_delay_ms", 2000)
	v.SetDefault("tools.concurrency", 4)
	v.SetDefault("tools.timeout_ms", 6000)
	v.SetDefault("tools.retries", 1)
	v.SetDefault("tools.retry_backoff_ms", 200)
	v.SetDefault("privacy.redact_pii", true)
	v.SetDefault("observability.metrics_path", "")
	v.SetDefault("observability.sample_rate", 0.1)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	cfg.Persona = os.ExpandEnv(cfg.Persona)
	cfg.Voice = os.ExpandEnv(cfg.Voice)
	cfg.Transport.Settings = expandSettings(cfg.Transport.Settings)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Transport.Provider) == "" {
		return fmt.Errorf("transport.provider is required")
	}
	if c.Capture.GateThreshold < 0 || c.Capture.GateThreshold > 1 {
		return fmt.Errorf("capture.gate_threshold must be within [0, 1]")
	}
	if c.Playback.MaxBuffer < 0 {
		return fmt.Errorf("playback.max_buffer must not be negative")
	}
	return nil
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}
