// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"firestige.xyz/netcap/internal/core"
)

// Config represents the top-level configuration.
// Maps to the `netcap:` root key in YAML.
type Config struct {
	Capture    CaptureConfig    `mapstructure:"capture"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Forwarder  ForwarderConfig  `mapstructure:"forwarder"`
	Adaptation AdaptationConfig `mapstructure:"adaptation"`
	Stats      StatsConfig      `mapstructure:"stats"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Log        LogConfig        `mapstructure:"log"`
	Commands   CommandsConfig   `mapstructure:"commands"`

	Duration        int    `mapstructure:"duration"` // Seconds, 0 = run until quit
	Debug           bool   `mapstructure:"debug"`
	REPL            bool   `mapstructure:"repl"`
	PIDFile         string `mapstructure:"pid_file"`         // Empty disables
	ShutdownTimeout string `mapstructure:"shutdown_timeout"` // Per shutdown phase, e.g. "5s"

	shutdownTimeout time.Duration
}

// ─── Capture ───

// CaptureConfig contains capture device settings.
type CaptureConfig struct {
	Type        string `mapstructure:"type"`         // pcap | afpacket
	Interface   string `mapstructure:"interface"`    // Live capture interface
	ReadFile    string `mapstructure:"read_file"`    // Offline pcap file, replaces live capture
	Filter      string `mapstructure:"filter"`       // Initial BPF filter clause
	SnapLen     int    `mapstructure:"snap_len"`     // Maximum bytes captured per packet
	BufferSize  int    `mapstructure:"buffer_size"`  // Kernel/ring buffer size in bytes
	Promiscuous bool   `mapstructure:"promiscuous"`  // Promiscuous mode for live capture
	PushTimeout string `mapstructure:"push_timeout"` // Bound for a filter push to the device

	pushTimeout time.Duration
}

// ─── Pipeline ───

// PipelineConfig contains processing pipeline settings.
type PipelineConfig struct {
	Workers               int    `mapstructure:"workers"`
	QueueSize             int    `mapstructure:"queue_size"`
	Overflow              string `mapstructure:"overflow"`  // drop | block
	BulkSize              int    `mapstructure:"bulk_size"` // > 1 enables batched processing
	BulkTimeout           string `mapstructure:"bulk_timeout"`
	Raw                   bool   `mapstructure:"raw"`            // Bypass transformation
	Transformation        string `mapstructure:"transformation"` // Preset transformation name
	DSL                   string `mapstructure:"dsl"`            // DSL expression name, literal or @file
	DynamicTransformation bool   `mapstructure:"dynamic_transformation"`

	bulkTimeout time.Duration
}

// ─── Forwarder ───

// ForwarderConfig selects and configures the record sink.
type ForwarderConfig struct {
	Name       string         `mapstructure:"name"`        // stdout | file | kafka | count
	OutputFile string         `mapstructure:"output_file"` // Enables the file forwarder
	ARFFHeader bool           `mapstructure:"arff_header"` // File output only
	Options    map[string]any `mapstructure:"options"`     // Forwarder specific options
}

// ─── Self adaptation ───

// AdaptationConfig tunes the self-adaptation controller.
type AdaptationConfig struct {
	Interval          int     `mapstructure:"interval"` // Milliseconds, <= 0 disables
	Threshold         float64 `mapstructure:"threshold"`
	Interpolation     int     `mapstructure:"interpolation"`
	Inactivity        int     `mapstructure:"inactivity"`
	PreferScaleDown   bool    `mapstructure:"prefer_scale_down"`
	MaxProcessingTime string  `mapstructure:"max_processing_time"` // Per record, "" disables

	maxProcessingTime time.Duration
}

// ─── Stats / Metrics ───

// StatsConfig configures the periodic stats printer.
type StatsConfig struct {
	Interval int `mapstructure:"interval"` // Milliseconds, <= 0 disables
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"` // Empty disables the metrics server
	Path   string `mapstructure:"path"`
}

// ─── Command channels ───

// CommandsConfig enables command channels besides the interactive prompt.
type CommandsConfig struct {
	Socket string             `mapstructure:"socket"` // Unix socket path, empty disables
	Kafka  CommandKafkaConfig `mapstructure:"kafka"`
}

// CommandKafkaConfig configures the kafka command consumer. No brokers disables it.
type CommandKafkaConfig struct {
	Brokers         []string `mapstructure:"brokers"`
	Topic           string   `mapstructure:"topic"`
	GroupID         string   `mapstructure:"group_id"`
	AutoOffsetReset string   `mapstructure:"auto_offset_reset"` // earliest | latest
	CommandTTL      string   `mapstructure:"command_ttl"`       // Older commands are skipped

	commandTTL time.Duration
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`   // trace / debug / info / warn / error
	Format  string           `mapstructure:"format"`  // pattern / json / prefixed
	Pattern string           `mapstructure:"pattern"` // Used by the pattern format
	Time    string           `mapstructure:"time"`    // Time layout for the pattern format
	File    FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `netcap: ...`.
type configRoot struct {
	Netcap Config `mapstructure:"netcap"`
}

// flagKeys maps command line flag names to configuration keys.
var flagKeys = map[string]string{
	"self-adaptation":        "netcap.adaptation.interval",
	"sa-threshold":           "netcap.adaptation.threshold",
	"sa-interpolation":       "netcap.adaptation.interpolation",
	"sa-inactivity":          "netcap.adaptation.inactivity",
	"sa-prefer-scale-down":   "netcap.adaptation.prefer_scale_down",
	"sa-max-processing-time": "netcap.adaptation.max_processing_time",
	"bulk-size":              "netcap.pipeline.bulk_size",
	"workers":                "netcap.pipeline.workers",
	"queue-size":             "netcap.pipeline.queue_size",
	"overflow":               "netcap.pipeline.overflow",
	"raw":                    "netcap.pipeline.raw",
	"transformation":         "netcap.pipeline.transformation",
	"dsl":                    "netcap.pipeline.dsl",
	"dynamic-transformation": "netcap.pipeline.dynamic_transformation",
	"duration":               "netcap.duration",
	"debug":                  "netcap.debug",
	"filter":                 "netcap.capture.filter",
	"interface":              "netcap.capture.interface",
	"read-file":              "netcap.capture.read_file",
	"snap-len":               "netcap.capture.snap_len",
	"buffer-size":            "netcap.capture.buffer_size",
	"capture-type":           "netcap.capture.type",
	"stats":                  "netcap.stats.interval",
	"write-to-file":          "netcap.forwarder.output_file",
	"arff-header":            "netcap.forwarder.arff_header",
	"forwarder":              "netcap.forwarder.name",
	"metrics-listen":         "netcap.metrics.listen",
	"log-level":              "netcap.log.level",
	"control-socket":         "netcap.commands.socket",
	"pid-file":               "netcap.pid_file",
}

// Load loads configuration from defaults, an optional file, NETCAP_* environment
// variables and command line flags, in increasing order of precedence.
// An empty path skips the file.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `netcap.` key prefix maps to NETCAP_ env vars through the replacer,
	// e.g. "netcap.capture.interface" -> NETCAP_CAPTURE_INTERFACE.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag %q: %w", name, err)
			}
		}
	}

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Netcap

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
func setDefaults(v *viper.Viper) {
	// Capture defaults
	v.SetDefault("netcap.capture.type", "pcap")
	v.SetDefault("netcap.capture.interface", "lo")
	v.SetDefault("netcap.capture.filter", "")
	v.SetDefault("netcap.capture.snap_len", 65535)
	v.SetDefault("netcap.capture.buffer_size", 16*1024*1024)
	v.SetDefault("netcap.capture.promiscuous", true)
	v.SetDefault("netcap.capture.push_timeout", "2s")

	// Pipeline defaults
	v.SetDefault("netcap.pipeline.workers", 1)
	v.SetDefault("netcap.pipeline.queue_size", 65536)
	v.SetDefault("netcap.pipeline.overflow", "drop")
	v.SetDefault("netcap.pipeline.bulk_size", 1)
	v.SetDefault("netcap.pipeline.bulk_timeout", "100ms")
	v.SetDefault("netcap.pipeline.transformation", "")
	v.SetDefault("netcap.pipeline.dsl", "")
	v.SetDefault("netcap.pipeline.dynamic_transformation", false)

	// Forwarder defaults
	v.SetDefault("netcap.forwarder.name", "stdout")

	// Self adaptation defaults
	v.SetDefault("netcap.adaptation.interval", 0)
	v.SetDefault("netcap.adaptation.threshold", 0.1)
	v.SetDefault("netcap.adaptation.interpolation", 4)
	v.SetDefault("netcap.adaptation.inactivity", 3)
	v.SetDefault("netcap.adaptation.prefer_scale_down", true)
	v.SetDefault("netcap.adaptation.max_processing_time", "")

	// Stats / metrics defaults
	v.SetDefault("netcap.stats.interval", 0)
	v.SetDefault("netcap.metrics.listen", "")
	v.SetDefault("netcap.metrics.path", "/metrics")

	// Log defaults
	v.SetDefault("netcap.log.level", "info")
	v.SetDefault("netcap.log.format", "pattern")
	v.SetDefault("netcap.log.pattern", "%time [%level] %field: %msg\n")
	v.SetDefault("netcap.log.time", "2006-01-02 15:04:05.000")
	v.SetDefault("netcap.log.file.enabled", false)
	v.SetDefault("netcap.log.file.path", "/var/log/netcap/netcap.log")
	v.SetDefault("netcap.log.file.rotation.max_size_mb", 100)
	v.SetDefault("netcap.log.file.rotation.max_age_days", 30)
	v.SetDefault("netcap.log.file.rotation.max_backups", 5)
	v.SetDefault("netcap.log.file.rotation.compress", true)

	// Command channel defaults
	v.SetDefault("netcap.commands.socket", "")
	v.SetDefault("netcap.commands.kafka.topic", "netcap-commands")
	v.SetDefault("netcap.commands.kafka.group_id", "netcap")
	v.SetDefault("netcap.commands.kafka.auto_offset_reset", "latest")
	v.SetDefault("netcap.commands.kafka.command_ttl", "5m")

	v.SetDefault("netcap.duration", 0)
	v.SetDefault("netcap.debug", false)
	v.SetDefault("netcap.repl", true)
	v.SetDefault("netcap.pid_file", "")
	v.SetDefault("netcap.shutdown_timeout", "5s")
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *Config) ValidateAndApplyDefaults() error {
	var err error

	// ── Log validation ──
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return invalid("invalid log level: %s (must be trace/debug/info/warn/error)", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "pattern", "json", "prefixed":
	default:
		return invalid("invalid log format: %s (must be pattern/json/prefixed)", cfg.Log.Format)
	}
	if cfg.Debug && cfg.Log.Level != "trace" {
		cfg.Log.Level = "debug"
	}

	// ── Capture ──
	if cfg.Capture.Type != "pcap" && cfg.Capture.Type != "afpacket" {
		return invalid("unsupported capture.type: %s (must be pcap/afpacket)", cfg.Capture.Type)
	}
	if cfg.Capture.ReadFile == "" && cfg.Capture.Interface == "" {
		return invalid("capture.interface or capture.read_file is required")
	}
	if cfg.Capture.SnapLen <= 0 {
		return invalid("capture.snap_len must be positive, got %d", cfg.Capture.SnapLen)
	}
	if cfg.Capture.BufferSize < 0 {
		return invalid("capture.buffer_size must not be negative, got %d", cfg.Capture.BufferSize)
	}
	if cfg.Capture.pushTimeout, err = parseDuration("capture.push_timeout", cfg.Capture.PushTimeout, 2*time.Second); err != nil {
		return err
	}

	// ── Pipeline ──
	if cfg.Pipeline.Workers <= 0 {
		cfg.Pipeline.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Pipeline.QueueSize <= 0 {
		return invalid("pipeline.queue_size must be positive, got %d", cfg.Pipeline.QueueSize)
	}
	if cfg.Pipeline.Overflow != "drop" && cfg.Pipeline.Overflow != "block" {
		return invalid("invalid pipeline.overflow: %s (must be drop/block)", cfg.Pipeline.Overflow)
	}
	if cfg.Pipeline.BulkSize < 1 {
		cfg.Pipeline.BulkSize = 1
	}
	if cfg.Pipeline.bulkTimeout, err = parseDuration("pipeline.bulk_timeout", cfg.Pipeline.BulkTimeout, 100*time.Millisecond); err != nil {
		return err
	}
	if cfg.Pipeline.Raw && cfg.Pipeline.DSL != "" {
		return invalid("pipeline.raw and pipeline.dsl are mutually exclusive")
	}

	// ── Forwarder ──
	if cfg.Forwarder.OutputFile != "" && (cfg.Forwarder.Name == "" || cfg.Forwarder.Name == "stdout") {
		cfg.Forwarder.Name = "file"
	}
	if cfg.Forwarder.Name == "" {
		cfg.Forwarder.Name = "stdout"
	}
	if cfg.Forwarder.ARFFHeader && cfg.Forwarder.OutputFile == "" {
		return invalid("forwarder.arff_header requires forwarder.output_file")
	}

	// ── Self adaptation ──
	if cfg.Adaptation.Interval > 0 {
		if cfg.Adaptation.Threshold < 0 {
			return invalid("adaptation.threshold must not be negative, got %v", cfg.Adaptation.Threshold)
		}
		if cfg.Adaptation.Interpolation < 1 {
			return invalid("adaptation.interpolation must be >= 1, got %d", cfg.Adaptation.Interpolation)
		}
		if cfg.Adaptation.Inactivity < 1 {
			return invalid("adaptation.inactivity must be >= 1, got %d", cfg.Adaptation.Inactivity)
		}
		if cfg.Pipeline.DSL == "" {
			return invalid("adaptation requires a DSL expression (pipeline.dsl)")
		}
	}
	if cfg.Adaptation.maxProcessingTime, err = parseDuration("adaptation.max_processing_time", cfg.Adaptation.MaxProcessingTime, 0); err != nil {
		return err
	}

	// ── Command channels ──
	if kc := &cfg.Commands.Kafka; len(kc.Brokers) > 0 {
		if kc.Topic == "" {
			return invalid("commands.kafka.topic is required")
		}
		if kc.GroupID == "" {
			return invalid("commands.kafka.group_id is required")
		}
		switch kc.AutoOffsetReset {
		case "", "earliest", "latest":
		default:
			return invalid("invalid commands.kafka.auto_offset_reset: %s (must be earliest/latest)", kc.AutoOffsetReset)
		}
		if kc.commandTTL, err = parseDuration("commands.kafka.command_ttl", kc.CommandTTL, 5*time.Minute); err != nil {
			return err
		}
	}

	// ── Misc ──
	if cfg.Duration < 0 {
		return invalid("duration must not be negative, got %d", cfg.Duration)
	}
	if cfg.shutdownTimeout, err = parseDuration("shutdown_timeout", cfg.ShutdownTimeout, 5*time.Second); err != nil {
		return err
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	return nil
}

// ShutdownTimeoutDuration returns the per-phase shutdown bound.
func (cfg *Config) ShutdownTimeoutDuration() time.Duration { return cfg.shutdownTimeout }

// PushTimeoutDuration returns the bound for one filter push.
func (c *CaptureConfig) PushTimeoutDuration() time.Duration { return c.pushTimeout }

// BulkTimeoutDuration returns the maximum time a partial batch waits.
func (c *PipelineConfig) BulkTimeoutDuration() time.Duration { return c.bulkTimeout }

// MaxProcessingTimeDuration returns the per-record processing time bound, 0 if disabled.
func (c *AdaptationConfig) MaxProcessingTimeDuration() time.Duration { return c.maxProcessingTime }

// CommandTTLDuration returns the age after which a kafka command is skipped.
func (c *CommandKafkaConfig) CommandTTLDuration() time.Duration { return c.commandTTL }

// IntervalDuration returns the adaptation interval, 0 if disabled.
func (c *AdaptationConfig) IntervalDuration() time.Duration {
	return millis(c.Interval)
}

// IntervalDuration returns the stats print interval, 0 if disabled.
func (c *StatsConfig) IntervalDuration() time.Duration {
	return millis(c.Interval)
}

func millis(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

func parseDuration(key, value string, def time.Duration) (time.Duration, error) {
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, invalid("invalid %s %q: %v", key, value, err)
	}
	if d < 0 {
		return 0, invalid("%s must not be negative, got %s", key, value)
	}
	return d, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", core.ErrConfigInvalid, fmt.Sprintf(format, args...))
}
