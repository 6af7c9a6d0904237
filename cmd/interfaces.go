package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"firestige.xyz/anansi/internal/capture"
)

var interfacesCmd = &cobra.Command{
	Use:     "interfaces",
	Aliases: []string{"ifaces"},
	Short:   "List interfaces available for capture",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInterfaces(cmd.OutOrStdout(), capture.ListDevices)
	},
}

func runInterfaces(w io.Writer, devices capture.DeviceSource) error {
	list, err := devices()
	if err != nil {
		return fmt.Errorf("failed to list interfaces: %w", err)
	}
	if len(list) == 0 {
		fmt.Fprintln(w, "no interfaces found (capture may require elevated privileges)")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDESCRIPTION")
	for _, d := range list {
		desc := d.Description
		if desc == "" {
			desc = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\n", d.Name, desc)
	}
	return tw.Flush()
}
