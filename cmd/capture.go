package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/anansi/internal/capture"
	"firestige.xyz/anansi/internal/config"
	"firestige.xyz/anansi/internal/core"
	"firestige.xyz/anansi/internal/metrics"
	"firestige.xyz/anansi/internal/observer"
	"firestige.xyz/anansi/pkg/plugin"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture frames from an interface",
	Long: `Capture frames from a network interface and hand each one to the
configured observers until interrupted (SIGINT/SIGTERM), the capture fails,
or --count frames were seen.

Examples:
  anansi capture -i eth0
  anansi capture -i eth0 -f "tcp port 443" -o tls.pcap
  anansi capture -i eth0 --ports 53,67-68 --protocols dns,dhcp --format json
  anansi capture -i eth0 -c 100 --kafka-brokers k1:9092,k2:9092`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runCapture(ctx, cfg, captureDeps{
			opener: openerFor(cfg.Capture.Engine),
			stdout: cmd.OutOrStdout(),
		})
	},
}

func init() {
	f := captureCmd.Flags()
	f.StringP("interface", "i", "", "interface to capture on")
	f.StringP("filter", "f", "", "capture filter expression (BPF)")
	f.StringP("output", "o", "", "write frames to this pcap file")
	f.Uint64P("count", "c", 0, "stop after this many frames (0 = unlimited)")
	f.String("ports", "", "report only these ports, e.g. 80,443,8000-8100")
	f.StringSlice("protocols", nil, "report only these protocols, e.g. tcp,dns")
	f.Bool("promisc", true, "enable promiscuous mode")
	f.String("engine", "pcap", "capture engine: pcap|afpacket")
	f.Int("snaplen", 65535, "snapshot length in bytes")
	f.String("format", "text", "console format: text|json")
	f.Bool("verbose", false, "append a hex dump of every frame")
	f.Bool("color", true, "color protocol labels on the console")
	f.String("geoip-db", "", "MaxMind country database for endpoint annotation")
	f.StringSlice("kafka-brokers", nil, "publish records to these Kafka brokers")
	f.String("kafka-topic", "anansi-records", "Kafka topic")
	f.Bool("metrics", false, "serve Prometheus metrics")
	f.String("metrics-listen", ":9091", "metrics listen address")
	flagKeys[captureCmd] = map[string]string{
		"interface":      "capture.interface",
		"filter":         "capture.filter",
		"output":         "output.pcap_file.path",
		"count":          "capture.count",
		"ports":          "filter.ports",
		"protocols":      "filter.protocols",
		"promisc":        "capture.promiscuous",
		"engine":         "capture.engine",
		"snaplen":        "capture.snap_len",
		"format":         "output.console.format",
		"verbose":        "output.console.verbose",
		"color":          "output.console.color",
		"geoip-db":       "output.console.geoip_db",
		"kafka-brokers":  "output.kafka.brokers",
		"kafka-topic":    "output.kafka.topic",
		"metrics":        "metrics.enabled",
		"metrics-listen": "metrics.listen",
	}
}

type captureDeps struct {
	opener  capture.Opener
	devices capture.DeviceSource // nil = live device list
	stdout  io.Writer
}

func openerFor(engine string) capture.Opener {
	if engine == "afpacket" {
		return capture.AFPacketOpener{}
	}
	return capture.PcapOpener{}
}

// runCapture runs one capture session to completion. A clean stop returns
// nil; a session ended by a read error returns that error.
func runCapture(ctx context.Context, cfg *config.GlobalConfig, deps captureDeps) error {
	if cfg.Capture.Interface == "" {
		return fmt.Errorf("%w: an interface is required (-i or capture.interface)", core.ErrConfiguration)
	}
	filter, err := cfg.FilterConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg := observer.NewRegistry()
	ctl := capture.NewController(reg, deps.opener, deps.devices)

	observers, err := plugin.BuildObservers(plugin.Env{
		Config:   cfg,
		Filter:   filter,
		LinkType: ctl.LinkType,
		Stdout:   deps.stdout,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := plugin.CloseAll(observers); err != nil {
			slog.Error("closing observers", "error", err)
		}
	}()
	for _, o := range observers {
		id := reg.Add(o)
		slog.Debug("observer registered", "observer", o.Name(), "observer_id", id)
	}

	if n := cfg.Capture.Count; n > 0 {
		reg.Add(observer.Limit(n, cancel))
	}

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Stop(shutdownCtx)
		}()
	}

	if err := ctl.Start(cfg.Capture.Interface, cfg.CaptureOptions()); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-ctl.Done():
	}
	frames := ctl.Frames()
	ctl.Stop()
	slog.Info("capture finished", "interface", cfg.Capture.Interface, "frames", frames)
	return ctl.LastError()
}
