package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/gopacket/layers"
	"github.com/spf13/cobra"

	"firestige.xyz/anansi/internal/config"
	"firestige.xyz/anansi/internal/dissect"
	"firestige.xyz/anansi/internal/observer"
	"firestige.xyz/anansi/internal/trace"
	"firestige.xyz/anansi/pkg/plugin"
)

var readFile string

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Replay a pcap trace through the observers",
	Long: `Read frames from a pcap trace file and hand them to the same observers a
live capture uses. Record timestamps come from the trace.

Examples:
  anansi read -r capture.pcap
  anansi read -r capture.pcap --protocols dns --format json
  anansi read -r big.pcap -o first100.pcap -c 100`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runRead(ctx, cfg, readFile, cmd.OutOrStdout())
	},
}

func init() {
	f := readCmd.Flags()
	f.StringVarP(&readFile, "read", "r", "", "pcap trace to read (required)")
	_ = readCmd.MarkFlagRequired("read")
	f.StringP("output", "o", "", "write frames to this pcap file")
	f.Uint64P("count", "c", 0, "stop after this many frames (0 = all)")
	f.String("ports", "", "report only these ports, e.g. 80,443,8000-8100")
	f.StringSlice("protocols", nil, "report only these protocols, e.g. tcp,dns")
	f.String("format", "text", "console format: text|json")
	f.Bool("verbose", false, "append a hex dump of every frame")
	f.Bool("color", true, "color protocol labels on the console")
	f.String("geoip-db", "", "MaxMind country database for endpoint annotation")
	flagKeys[readCmd] = map[string]string{
		"output":    "output.pcap_file.path",
		"count":     "capture.count",
		"ports":     "filter.ports",
		"protocols": "filter.protocols",
		"format":    "output.console.format",
		"verbose":   "output.console.verbose",
		"color":     "output.console.color",
		"geoip-db":  "output.console.geoip_db",
	}
}

// runRead dispatches every frame of the trace at path in file order.
func runRead(ctx context.Context, cfg *config.GlobalConfig, path string, stdout io.Writer) error {
	filter, err := cfg.FilterConfig()
	if err != nil {
		return err
	}
	r, err := trace.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	linkType := r.Header().LinkType
	if !dissect.SupportsLinkType(linkType) {
		slog.Warn("link type is not decoded, frames will dissect as Unknown",
			"file", path, "link_type", linkType)
	}
	observers, err := plugin.BuildObservers(plugin.Env{
		Config:   cfg,
		Filter:   filter,
		LinkType: func() layers.LinkType { return linkType },
		Stdout:   stdout,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := plugin.CloseAll(observers); err != nil {
			slog.Error("closing observers", "error", err)
		}
	}()

	reg := observer.NewRegistry()
	for _, o := range observers {
		reg.Add(o)
	}

	var n uint64
	for frame, err := range r.Frames() {
		if err != nil {
			return fmt.Errorf("%s: frame %d: %w", path, n+1, err)
		}
		reg.Dispatch(frame)
		n++
		if cfg.Capture.Count > 0 && n >= cfg.Capture.Count {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	slog.Info("trace replayed", "path", path, "link_type", linkType, "frames", n)
	return nil
}
