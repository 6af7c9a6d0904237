package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/anansi/internal/command"
)

var (
	ctlSocket  string
	ctlTimeout time.Duration
	ctlStart   command.StartParams
	ctlPromisc bool
)

var ctlCmd = &cobra.Command{
	Use:   "ctl",
	Short: "Control a running daemon",
	Long: `Send a command to a running "anansi daemon" over its control socket.
The socket defaults to control.socket from the configuration.`,
}

var ctlStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a capture session",
	Long: `Start a capture session on the daemon. Omitted settings fall back to
the daemon's configuration.

Examples:
  anansi ctl start -i eth0
  anansi ctl start -i eth0 -f "udp port 53" --snaplen 512`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		params := ctlStart
		if cmd.Flags().Changed("promisc") {
			params.Promiscuous = &ctlPromisc
		}
		return runCtl(cmd.Context(), cmd.OutOrStdout(), ctlClient(), command.MethodCaptureStart, params)
	},
}

func ctlSimple(use, short, method string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCtl(cmd.Context(), cmd.OutOrStdout(), ctlClient(), method, nil)
		},
	}
}

func init() {
	pf := ctlCmd.PersistentFlags()
	pf.StringVarP(&ctlSocket, "socket", "s", "", "control socket path (default control.socket)")
	pf.DurationVar(&ctlTimeout, "timeout", 10*time.Second, "request timeout")

	f := ctlStartCmd.Flags()
	f.StringVarP(&ctlStart.Interface, "interface", "i", "", "interface to capture on")
	f.StringVarP(&ctlStart.Filter, "filter", "f", "", "capture filter expression (BPF)")
	f.IntVar(&ctlStart.SnapLen, "snaplen", 0, "snapshot length in bytes")
	f.BoolVar(&ctlPromisc, "promisc", true, "enable promiscuous mode")

	ctlCmd.AddCommand(
		ctlStartCmd,
		ctlSimple("stop", "Stop the capture session", command.MethodCaptureStop),
		ctlSimple("status", "Show the capture session state", command.MethodCaptureStatus),
		ctlSimple("interfaces", "List the daemon's capturable interfaces", command.MethodInterfaceList),
		ctlSimple("info", "Show daemon status", command.MethodDaemonStatus),
		ctlSimple("shutdown", "Stop the daemon", command.MethodDaemonShutdown),
	)
}

func ctlClient() *command.UDSClient {
	socket := ctlSocket
	if socket == "" {
		socket = cfg.Control.Socket
	}
	return command.NewUDSClient(socket, ctlTimeout)
}

// runCtl sends one request and prints its result as YAML.
func runCtl(ctx context.Context, w io.Writer, client *command.UDSClient, method string, params interface{}) error {
	resp, err := client.Call(ctx, method, params)
	if err != nil {
		return fmt.Errorf("daemon is not running or socket is inaccessible: %w", err)
	}
	if err := resp.Err(); err != nil {
		return fmt.Errorf("%s failed: %w", method, err)
	}
	data, err := yaml.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("failed to format result: %w", err)
	}
	_, err = w.Write(data)
	return err
}
