package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/anansi/internal/config"
	"firestige.xyz/anansi/internal/daemon"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the capture daemon in the foreground",
	Long: `Run anansi as a daemon controlled over a Unix socket.

The daemon will:
  1. Write the PID file and start the metrics server (if configured)
  2. Build the configured observers
  3. Serve capture_start / capture_stop / capture_status on the control socket
  4. Start capturing on capture.interface right away, if set
  5. Stop on SIGTERM, SIGINT or "anansi ctl shutdown"; reload on SIGHUP

Examples:
  anansi daemon --socket /run/anansi.sock -o /var/lib/anansi/trace.pcap
  anansi daemon -i eth0 --metrics`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d := daemon.New(cfg, daemon.Deps{
			Opener: openerFor(cfg.Capture.Engine),
			Stdout: cmd.OutOrStdout(),
			Reload: func() (*config.GlobalConfig, error) {
				return config.LoadViper(v, configFile)
			},
		})
		if err := d.Start(); err != nil {
			return fmt.Errorf("failed to start daemon: %w", err)
		}
		return d.Run(cmd.Context())
	},
}

func init() {
	f := daemonCmd.Flags()
	f.String("socket", "/var/run/anansi.sock", "control socket path")
	f.StringP("pidfile", "p", "", "PID file path")
	f.StringP("interface", "i", "", "start capturing on this interface immediately")
	f.StringP("filter", "f", "", "default capture filter expression (BPF)")
	f.StringP("output", "o", "", "write frames to this pcap file")
	f.String("engine", "pcap", "capture engine: pcap|afpacket")
	f.Bool("metrics", false, "serve Prometheus metrics")
	f.String("metrics-listen", ":9091", "metrics listen address")
	flagKeys[daemonCmd] = map[string]string{
		"socket":         "control.socket",
		"pidfile":        "control.pid_file",
		"interface":      "capture.interface",
		"filter":         "capture.filter",
		"output":         "output.pcap_file.path",
		"engine":         "capture.engine",
		"metrics":        "metrics.enabled",
		"metrics-listen": "metrics.listen",
	}
}
