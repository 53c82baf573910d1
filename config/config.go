package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable override,
// e.g. FASTHTTPD_SERVER_THREADS=16
const EnvPrefix = "FASTHTTPD"

// Config represents the complete server configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (FASTHTTPD_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains listener, reactor and file serving settings
	Server ServerConfig `mapstructure:"server"`

	// Metrics controls the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Runtime contains Go runtime tuning
	Runtime RuntimeConfig `mapstructure:"runtime"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// Port is the TCP port to listen on
	Port int `mapstructure:"port" validate:"required,min=1,max=65535"`

	// DocumentRoot is the absolute directory files are served from
	DocumentRoot string `mapstructure:"document_root" validate:"required"`

	// Threads is the number of worker threads
	Threads int `mapstructure:"threads" validate:"required,min=1,max=1024"`

	// QueueCapacity bounds pending requests; 0 means unlimited
	QueueCapacity int `mapstructure:"queue_capacity" validate:"min=0"`

	// MaxConnections is the number of connection slots
	MaxConnections int `mapstructure:"max_connections" validate:"required,min=1"`

	// AcceptRate limits new connections per second; 0 means unlimited
	AcceptRate float64 `mapstructure:"accept_rate" validate:"min=0"`

	// AcceptBurst is how many connections may be accepted at once above
	// accept_rate
	AcceptBurst int `mapstructure:"accept_burst" validate:"min=0"`

	// ReadBufferSize is the per-connection request buffer size
	ReadBufferSize int `mapstructure:"read_buffer_size" validate:"required,min=64"`

	// WriteBufferSize is the per-connection header buffer size. It must
	// hold the largest canned error response.
	WriteBufferSize int `mapstructure:"write_buffer_size" validate:"required,min=256"`

	// MaxPathLength bounds document_root plus the request URL
	MaxPathLength int `mapstructure:"max_path_length" validate:"required,min=2"`

	// MaxEvents is the number of readiness events fetched per wait
	MaxEvents int `mapstructure:"max_events" validate:"required,min=1"`

	// PollTimeout bounds each readiness wait, and so shutdown latency
	PollTimeout time.Duration `mapstructure:"poll_timeout" validate:"required,gt=0"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`

	// DetectContentType picks Content-Type by extension instead of text/html
	DetectContentType bool `mapstructure:"detect_content_type"`

	// Rewrites are exact-match URL rewrites applied after parsing
	Rewrites []RewriteConfig `mapstructure:"rewrites" validate:"dive"`
}

// RewriteConfig maps one request URL to another.
type RewriteConfig struct {
	From string `mapstructure:"from" validate:"required,startswith=/"`
	To   string `mapstructure:"to" validate:"required,startswith=/"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port" validate:"min=0,max=65535"`
	Path    string `mapstructure:"path" validate:"required,startswith=/"`
}

// RuntimeConfig contains Go runtime tuning.
type RuntimeConfig struct {
	// GCPercent sets GOGC; 0 leaves the runtime setting untouched
	GCPercent int `mapstructure:"gc_percent" validate:"min=0"`

	// MemoryLimit sets a soft memory limit in bytes; 0 means none
	MemoryLimit int64 `mapstructure:"memory_limit" validate:"min=0"`
}

// RewriteMap returns the rewrites as a lookup table
func (c *ServerConfig) RewriteMap() map[string]string {
	m := make(map[string]string, len(c.Rewrites))
	for _, r := range c.Rewrites {
		m[r.From] = r.To
	}
	return m
}

// flagKeys maps CLI flag names to configuration keys
var flagKeys = map[string]string{
	"port":                "server.port",
	"root":                "server.document_root",
	"threads":             "server.threads",
	"queue-capacity":      "server.queue_capacity",
	"max-connections":     "server.max_connections",
	"accept-rate":         "server.accept_rate",
	"detect-content-type": "server.detect_content_type",
	"log-level":           "logging.level",
	"log-format":          "logging.format",
	"log-output":          "logging.output",
	"metrics":             "metrics.enabled",
	"metrics-port":        "metrics.port",
}

// RegisterFlags defines the command line flags Load understands on fs
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "Path to config file (YAML or TOML)")
	fs.IntP("port", "p", 0, "Port to listen on")
	fs.StringP("root", "r", "", "Document root (default <cwd>/resources)")
	fs.IntP("threads", "t", defaultThreads, "Number of worker threads")
	fs.Int("queue-capacity", defaultQueueCapacity, "Maximum queued requests (0 = unlimited)")
	fs.Int("max-connections", defaultMaxConnections, "Maximum concurrent connections")
	fs.Float64("accept-rate", 0, "Maximum new connections per second (0 = unlimited)")
	fs.Bool("detect-content-type", false, "Send Content-Type based on file extension")
	fs.String("log-level", defaultLogLevel, "Log level (DEBUG, INFO, WARN, ERROR)")
	fs.String("log-format", defaultLogFormat, "Log format (text, json)")
	fs.String("log-output", defaultLogOutput, "Log output (stdout, stderr or a file path)")
	fs.Bool("metrics", false, "Expose Prometheus metrics")
	fs.Int("metrics-port", defaultMetricsPort, "Port for the metrics endpoint")
}

// Load loads configuration from file, environment, flags and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string skips the file)
//   - flags: Parsed flag set from RegisterFlags, or nil
//
// Only flags that were explicitly set override lower sources.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)
	setDefaults(v)

	if err := bindFlags(v, flags); err != nil {
		return nil, err
	}

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := ApplyDefaults(&cfg); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: FASTHTTPD_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	}
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
}

// readConfigFile reads the configuration file if one was given and exists.
func readConfigFile(v *viper.Viper, configPath string) error {
	if configPath == "" {
		return nil
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}
