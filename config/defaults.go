package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultLogLevel        = "INFO"
	defaultLogFormat       = "text"
	defaultLogOutput       = "stdout"
	defaultThreads         = 8
	defaultQueueCapacity   = 10000
	defaultMaxConnections  = 65536
	defaultAcceptBurst     = 64
	defaultReadBufferSize  = 2048
	defaultWriteBufferSize = 1024
	defaultMaxPathLength   = 200
	defaultMaxEvents       = 10000
	defaultPollTimeout     = 100 * time.Millisecond
	defaultShutdownTimeout = 30 * time.Second
	defaultMetricsPort     = 9090
	defaultMetricsPath     = "/metrics"

	// defaultDocumentDir is resolved against the working directory
	defaultDocumentDir = "resources"
)

// defaultRewrites serves the landing page for the bare root
func defaultRewrites() []RewriteConfig {
	return []RewriteConfig{{From: "/", To: "/judge.html"}}
}

// setDefaults registers every default with viper so that environment
// variables are seen for keys absent from the config file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", defaultLogLevel)
	v.SetDefault("logging.format", defaultLogFormat)
	v.SetDefault("logging.output", defaultLogOutput)

	v.SetDefault("server.port", 0)
	v.SetDefault("server.document_root", "")
	v.SetDefault("server.threads", defaultThreads)
	v.SetDefault("server.queue_capacity", defaultQueueCapacity)
	v.SetDefault("server.max_connections", defaultMaxConnections)
	v.SetDefault("server.accept_rate", 0)
	v.SetDefault("server.accept_burst", defaultAcceptBurst)
	v.SetDefault("server.read_buffer_size", defaultReadBufferSize)
	v.SetDefault("server.write_buffer_size", defaultWriteBufferSize)
	v.SetDefault("server.max_path_length", defaultMaxPathLength)
	v.SetDefault("server.max_events", defaultMaxEvents)
	v.SetDefault("server.poll_timeout", defaultPollTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.detect_content_type", false)
	v.SetDefault("server.rewrites", []map[string]any{{"from": "/", "to": "/judge.html"}})

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", defaultMetricsPort)
	v.SetDefault("metrics.path", defaultMetricsPath)

	v.SetDefault("runtime.gc_percent", 0)
	v.SetDefault("runtime.memory_limit", 0)
}

// ApplyDefaults fills values that depend on the environment and
// normalizes the rest.
//
// Default Strategy:
//   - Empty strings are replaced with defaults
//   - A relative document root is made absolute against the working directory
//   - Log level is normalized to uppercase
func ApplyDefaults(cfg *Config) error {
	applyLoggingDefaults(&cfg.Logging)
	if err := applyServerDefaults(&cfg.Server); err != nil {
		return err
	}
	applyMetricsDefaults(&cfg.Metrics)
	return nil
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = defaultLogLevel
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = defaultLogFormat
	}
	if cfg.Output == "" {
		cfg.Output = defaultLogOutput
	}
}

// applyServerDefaults resolves the document root.
func applyServerDefaults(cfg *ServerConfig) error {
	if cfg.DocumentRoot == "" {
		cfg.DocumentRoot = defaultDocumentDir
	}
	if !filepath.IsAbs(cfg.DocumentRoot) {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to resolve document root: %w", err)
		}
		cfg.DocumentRoot = filepath.Join(wd, cfg.DocumentRoot)
	}
	if cfg.Rewrites == nil {
		cfg.Rewrites = defaultRewrites()
	}
	return nil
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Path == "" {
		cfg.Path = defaultMetricsPath
	}
}

// GetDefaultConfig returns a configuration holding only defaults. Port is
// left unset.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Logging: LoggingConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
			Output: defaultLogOutput,
		},
		Server: ServerConfig{
			Threads:         defaultThreads,
			QueueCapacity:   defaultQueueCapacity,
			MaxConnections:  defaultMaxConnections,
			AcceptBurst:     defaultAcceptBurst,
			ReadBufferSize:  defaultReadBufferSize,
			WriteBufferSize: defaultWriteBufferSize,
			MaxPathLength:   defaultMaxPathLength,
			MaxEvents:       defaultMaxEvents,
			PollTimeout:     defaultPollTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
			Rewrites:        defaultRewrites(),
		},
		Metrics: MetricsConfig{
			Port: defaultMetricsPort,
			Path: defaultMetricsPath,
		},
	}
	_ = applyServerDefaults(&cfg.Server)
	return cfg
}
