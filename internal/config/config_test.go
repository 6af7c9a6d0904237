package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/anansi/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "anansi.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "pcap", cfg.Capture.Engine)
	assert.True(t, cfg.Capture.Promiscuous)
	assert.Equal(t, 65535, cfg.Capture.SnapLen)
	assert.Equal(t, 2, cfg.Capture.BufferSizeMB)
	assert.Equal(t, time.Second, cfg.Capture.ReadTimeout)
	assert.True(t, cfg.Output.Console.Enabled)
	assert.Equal(t, "text", cfg.Output.Console.Format)
	assert.Equal(t, uint32(0x40000), cfg.Output.PcapFile.SnapLen)
	assert.False(t, cfg.Output.Kafka.Enabled())
	assert.Equal(t, "snappy", cfg.Output.Kafka.Compression)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "/var/run/anansi.sock", cfg.Control.Socket)
	assert.Empty(t, cfg.Control.PIDFile)
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
anansi:
  log:
    level: DEBUG
    format: json
  capture:
    interface: eth1
    engine: afpacket
    promiscuous: false
    snap_len: 1500
    read_timeout: 250ms
  filter:
    ports: "53,8000-8100"
    protocols: [dns, Http]
  output:
    console:
      format: json
      verbose: true
    pcap_file:
      path: /tmp/out.pcap
    kafka:
      brokers: ["k1:9092", "k2:9092"]
      topic: frames
      compression: lz4
      batch_timeout: 2s
  metrics:
    enabled: true
    listen: "127.0.0.1:9100"
  control:
    socket: /tmp/anansi-test.sock
    pid_file: /tmp/anansi-test.pid
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "eth1", cfg.Capture.Interface)
	assert.Equal(t, "afpacket", cfg.Capture.Engine)
	assert.False(t, cfg.Capture.Promiscuous)
	assert.Equal(t, 1500, cfg.Capture.SnapLen)
	assert.Equal(t, 250*time.Millisecond, cfg.Capture.ReadTimeout)
	assert.Equal(t, "json", cfg.Output.Console.Format)
	assert.True(t, cfg.Output.Console.Verbose)
	assert.Equal(t, "/tmp/out.pcap", cfg.Output.PcapFile.Path)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Output.Kafka.Brokers)
	assert.Equal(t, "frames", cfg.Output.Kafka.Topic)
	assert.Equal(t, "lz4", cfg.Output.Kafka.Compression)
	assert.Equal(t, 2*time.Second, cfg.Output.Kafka.BatchTimeout)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Listen)
	assert.Equal(t, "/tmp/anansi-test.sock", cfg.Control.Socket)
	assert.Equal(t, "/tmp/anansi-test.pid", cfg.Control.PIDFile)

	f, err := cfg.FilterConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"DNS", "HTTP"}, f.ProtocolNames())
	assert.Equal(t, "port 53 or portrange 8000-8100", cfg.CaptureFilter())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ANANSI_CAPTURE_INTERFACE", "lo")
	t.Setenv("ANANSI_LOG_LEVEL", "warn")
	t.Setenv("ANANSI_FILTER_PROTOCOLS", "tcp,udp")

	path := writeConfig(t, `
anansi:
  capture:
    interface: eth0
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "lo", cfg.Capture.Interface)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, []string{"tcp", "udp"}, cfg.Filter.Protocols)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    error
	}{
		{"log level", "anansi:\n  log:\n    level: loud\n", core.ErrConfiguration},
		{"log format", "anansi:\n  log:\n    format: xml\n", core.ErrConfiguration},
		{"engine", "anansi:\n  capture:\n    engine: xdp\n", core.ErrConfiguration},
		{"snaplen", "anansi:\n  capture:\n    snap_len: -1\n", core.ErrConfiguration},
		{"ports", "anansi:\n  filter:\n    ports: \"90-80\"\n", core.ErrInvalidPortRange},
		{"protocol", "anansi:\n  filter:\n    protocols: [gopher]\n", core.ErrUnknownProtocol},
		{"console format", "anansi:\n  output:\n    console:\n      format: html\n", core.ErrConfiguration},
		{"compression", "anansi:\n  output:\n    kafka:\n      compression: brotli\n", core.ErrConfiguration},
		{"kafka topic", "anansi:\n  output:\n    kafka:\n      brokers: [k:9092]\n      topic: \"\"\n", core.ErrConfiguration},
		{"metrics listen", "anansi:\n  metrics:\n    enabled: true\n    listen: \"\"\n", core.ErrConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, core.ErrConfiguration)
		})
	}
}

func TestCaptureFilterPrefersExplicit(t *testing.T) {
	cfg := &GlobalConfig{
		Capture: CaptureConfig{Filter: "udp"},
		Filter:  FilterSection{Ports: "53"},
	}
	assert.Equal(t, "udp", cfg.CaptureFilter())

	cfg.Capture.Filter = ""
	assert.Equal(t, "port 53", cfg.CaptureFilter())

	cfg.Filter.Ports = ""
	assert.Empty(t, cfg.CaptureFilter())
}

func TestCaptureOptions(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Filter.Ports = "443"

	opts := cfg.CaptureOptions()
	assert.True(t, opts.Promiscuous)
	assert.Equal(t, "port 443", opts.Filter)
	assert.Equal(t, 65535, opts.SnapLen)
	assert.Equal(t, 2<<20, opts.BufferSize)
	assert.Equal(t, time.Second, opts.ReadTimeout)
}

func TestLoadViperFlagBinding(t *testing.T) {
	v := NewViper()
	v.Set(Key("capture.interface"), "wlan0")

	cfg, err := LoadViper(v, "")
	require.NoError(t, err)
	assert.Equal(t, "wlan0", cfg.Capture.Interface)
}
