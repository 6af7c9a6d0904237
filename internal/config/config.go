// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/anansi/internal/capture"
	"firestige.xyz/anansi/internal/core"
)

// Root is the top-level YAML key; env vars use the ANANSI_ prefix
// (e.g. ANANSI_CAPTURE_INTERFACE).
const Root = "anansi"

// GlobalConfig represents the effective configuration.
// Maps to the `anansi:` root key in YAML.
type GlobalConfig struct {
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Filter  FilterSection `mapstructure:"filter" yaml:"filter"`
	Output  OutputConfig  `mapstructure:"output" yaml:"output"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Control ControlConfig `mapstructure:"control" yaml:"control"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level" yaml:"level"`   // debug / info / warn / error
	Format  string           `mapstructure:"format" yaml:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs" yaml:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ─── Capture ───

// CaptureConfig selects the device and tunes the capture handle.
type CaptureConfig struct {
	Interface    string        `mapstructure:"interface" yaml:"interface"`
	Engine       string        `mapstructure:"engine" yaml:"engine"` // pcap / afpacket
	Promiscuous  bool          `mapstructure:"promiscuous" yaml:"promiscuous"`
	Filter       string        `mapstructure:"filter" yaml:"filter"` // BPF, passed through verbatim
	SnapLen      int           `mapstructure:"snap_len" yaml:"snap_len"`
	BufferSizeMB int           `mapstructure:"buffer_size_mb" yaml:"buffer_size_mb"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	Count        uint64        `mapstructure:"count" yaml:"count"` // 0 = unlimited
}

// FilterSection is the raw form of FilterConfig.
type FilterSection struct {
	Ports     string   `mapstructure:"ports" yaml:"ports"` // "80,443,8000-8100"
	Protocols []string `mapstructure:"protocols" yaml:"protocols"`
}

// ─── Output ───

// OutputConfig groups the observers attached to a capture.
type OutputConfig struct {
	Console  ConsoleOutputConfig  `mapstructure:"console" yaml:"console"`
	PcapFile PcapFileOutputConfig `mapstructure:"pcap_file" yaml:"pcap_file"`
	Kafka    KafkaOutputConfig    `mapstructure:"kafka" yaml:"kafka"`
}

// ConsoleOutputConfig configures the console observer.
type ConsoleOutputConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Format  string `mapstructure:"format" yaml:"format"` // text / json
	Verbose bool   `mapstructure:"verbose" yaml:"verbose"`
	Color   bool   `mapstructure:"color" yaml:"color"`
	GeoIPDB string `mapstructure:"geoip_db" yaml:"geoip_db"` // empty = no country annotation
}

// PcapFileOutputConfig configures the trace writer observer.
type PcapFileOutputConfig struct {
	Path    string `mapstructure:"path" yaml:"path"` // empty = disabled
	SnapLen uint32 `mapstructure:"snap_len" yaml:"snap_len"`
}

// KafkaOutputConfig configures the Kafka observer. It is enabled when
// brokers are set.
type KafkaOutputConfig struct {
	Brokers      []string      `mapstructure:"brokers" yaml:"brokers"`
	Topic        string        `mapstructure:"topic" yaml:"topic"`
	Compression  string        `mapstructure:"compression" yaml:"compression"` // none / gzip / snappy / lz4 / zstd
	BatchSize    int           `mapstructure:"batch_size" yaml:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout" yaml:"batch_timeout"`
}

// Enabled reports whether brokers are configured.
func (k KafkaOutputConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Control ───

// ControlConfig configures the daemon control socket.
type ControlConfig struct {
	Socket  string `mapstructure:"socket" yaml:"socket"`
	PIDFile string `mapstructure:"pid_file" yaml:"pid_file"` // empty = none
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `anansi: ...`.
type configRoot struct {
	Anansi GlobalConfig `mapstructure:"anansi"`
}

// Key returns the fully qualified viper key for a dotted path below the root.
func Key(path string) string {
	return Root + "." + path
}

// NewViper returns a viper instance with defaults and environment overrides
// installed. Callers may bind flags to it before calling LoadViper.
func NewViper() *viper.Viper {
	v := viper.New()
	// The `anansi.` key prefix maps to `ANANSI_` via the key replacer
	// (e.g. key "anansi.log.level" → env "ANANSI_LOG_LEVEL").
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load loads configuration from path. An empty path yields defaults plus
// environment overrides.
func Load(path string) (*GlobalConfig, error) {
	return LoadViper(NewViper(), path)
}

// LoadViper reads path (when set) into v and returns the validated config.
func LoadViper(v *viper.Viper, path string) (*GlobalConfig, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: failed to read config file: %v", core.ErrConfiguration, err)
		}
	}

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal config: %v", core.ErrConfiguration, err)
	}
	cfg := root.Anansi

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default values for every key so env overrides are seen
// by Unmarshal.
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault(Key("log.level"), "info")
	v.SetDefault(Key("log.format"), "text")
	v.SetDefault(Key("log.outputs.file.enabled"), false)
	v.SetDefault(Key("log.outputs.file.path"), "/var/log/anansi/anansi.log")
	v.SetDefault(Key("log.outputs.file.rotation.max_size_mb"), 100)
	v.SetDefault(Key("log.outputs.file.rotation.max_age_days"), 30)
	v.SetDefault(Key("log.outputs.file.rotation.max_backups"), 5)
	v.SetDefault(Key("log.outputs.file.rotation.compress"), true)

	// Capture defaults
	v.SetDefault(Key("capture.interface"), "")
	v.SetDefault(Key("capture.engine"), "pcap")
	v.SetDefault(Key("capture.promiscuous"), true)
	v.SetDefault(Key("capture.filter"), "")
	v.SetDefault(Key("capture.snap_len"), 65535)
	v.SetDefault(Key("capture.buffer_size_mb"), 2)
	v.SetDefault(Key("capture.read_timeout"), "1s")
	v.SetDefault(Key("capture.count"), 0)

	// Filter defaults
	v.SetDefault(Key("filter.ports"), "")
	v.SetDefault(Key("filter.protocols"), []string{})

	// Output defaults
	v.SetDefault(Key("output.console.enabled"), true)
	v.SetDefault(Key("output.console.format"), "text")
	v.SetDefault(Key("output.console.verbose"), false)
	v.SetDefault(Key("output.console.color"), true)
	v.SetDefault(Key("output.console.geoip_db"), "")
	v.SetDefault(Key("output.pcap_file.path"), "")
	v.SetDefault(Key("output.pcap_file.snap_len"), 0x40000)
	v.SetDefault(Key("output.kafka.brokers"), []string{})
	v.SetDefault(Key("output.kafka.topic"), "anansi-records")
	v.SetDefault(Key("output.kafka.compression"), "snappy")
	v.SetDefault(Key("output.kafka.batch_size"), 100)
	v.SetDefault(Key("output.kafka.batch_timeout"), "1s")

	// Metrics defaults
	v.SetDefault(Key("metrics.enabled"), false)
	v.SetDefault(Key("metrics.listen"), ":9091")
	v.SetDefault(Key("metrics.path"), "/metrics")

	// Control defaults
	v.SetDefault(Key("control.socket"), "/var/run/anansi.sock")
	v.SetDefault(Key("control.pid_file"), "")
}

var (
	validEngines       = map[string]bool{"pcap": true, "afpacket": true}
	validConsoleFormat = map[string]bool{"text": true, "json": true}
	validCompression   = map[string]bool{"none": true, "gzip": true, "snappy": true, "lz4": true, "zstd": true}
)

// ValidateAndApplyDefaults validates configuration and fills zero values
// left by an explicit empty setting.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: invalid log level: %s (must be debug/info/warn/error)", core.ErrConfiguration, cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("%w: invalid log format: %s (must be json/text)", core.ErrConfiguration, cfg.Log.Format)
	}
	if cfg.Log.Outputs.File.Enabled && cfg.Log.Outputs.File.Path == "" {
		return fmt.Errorf("%w: log.outputs.file.path is required when file output is enabled", core.ErrConfiguration)
	}

	// ── Capture ──
	c := &cfg.Capture
	c.Engine = strings.ToLower(c.Engine)
	if c.Engine == "" {
		c.Engine = "pcap"
	}
	if !validEngines[c.Engine] {
		return fmt.Errorf("%w: unsupported capture.engine: %s (must be pcap/afpacket)", core.ErrConfiguration, c.Engine)
	}
	if c.SnapLen < 0 || c.SnapLen > 0x40000 {
		return fmt.Errorf("%w: capture.snap_len out of range: %d", core.ErrConfiguration, c.SnapLen)
	}
	if c.SnapLen == 0 {
		c.SnapLen = 65535
	}
	if c.BufferSizeMB < 0 {
		return fmt.Errorf("%w: capture.buffer_size_mb must not be negative", core.ErrConfiguration)
	}
	if c.BufferSizeMB == 0 {
		c.BufferSizeMB = 2
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("%w: capture.read_timeout must not be negative", core.ErrConfiguration)
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = time.Second
	}

	// ── Filter ──
	if _, err := cfg.FilterConfig(); err != nil {
		return err
	}

	// ── Output ──
	con := &cfg.Output.Console
	con.Format = strings.ToLower(con.Format)
	if con.Format == "" {
		con.Format = "text"
	}
	if !validConsoleFormat[con.Format] {
		return fmt.Errorf("%w: invalid output.console.format: %s (must be text/json)", core.ErrConfiguration, con.Format)
	}
	if cfg.Output.PcapFile.SnapLen == 0 {
		cfg.Output.PcapFile.SnapLen = 0x40000
	}

	k := &cfg.Output.Kafka
	k.Brokers = compact(k.Brokers)
	k.Compression = strings.ToLower(k.Compression)
	if k.Compression == "" {
		k.Compression = "none"
	}
	if !validCompression[k.Compression] {
		return fmt.Errorf("%w: unsupported output.kafka.compression: %s", core.ErrConfiguration, k.Compression)
	}
	if k.Enabled() && k.Topic == "" {
		return fmt.Errorf("%w: output.kafka.topic is required when brokers are set", core.ErrConfiguration)
	}
	if k.BatchSize <= 0 {
		k.BatchSize = 100
	}
	if k.BatchTimeout <= 0 {
		k.BatchTimeout = time.Second
	}

	// ── Metrics ──
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("%w: metrics.listen is required when metrics are enabled", core.ErrConfiguration)
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	// ── Control ──
	if cfg.Control.Socket == "" {
		cfg.Control.Socket = "/var/run/anansi.sock"
	}

	return nil
}

// FilterConfig parses the filter section.
func (cfg *GlobalConfig) FilterConfig() (FilterConfig, error) {
	return NewFilterConfig(cfg.Filter.Ports, cfg.Filter.Protocols)
}

// CaptureFilter returns the capture filter to install: capture.filter when
// set, otherwise one derived from filter.ports, otherwise empty.
func (cfg *GlobalConfig) CaptureFilter() string {
	if cfg.Capture.Filter != "" {
		return cfg.Capture.Filter
	}
	ports, err := ParsePorts(cfg.Filter.Ports)
	if err != nil {
		return ""
	}
	return ports.BPF()
}

// CaptureOptions returns the handle options for a session.
func (cfg *GlobalConfig) CaptureOptions() capture.Options {
	return capture.Options{
		Promiscuous: cfg.Capture.Promiscuous,
		Filter:      cfg.CaptureFilter(),
		SnapLen:     cfg.Capture.SnapLen,
		BufferSize:  cfg.Capture.BufferSizeMB << 20,
		ReadTimeout: cfg.Capture.ReadTimeout,
	}
}

// compact trims entries and drops empty ones, so "a, b," from the
// environment yields two brokers.
func compact(items []string) []string {
	out := items[:0]
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
