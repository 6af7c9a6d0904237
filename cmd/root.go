// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"firestige.xyz/anansi/internal/config"
	"firestige.xyz/anansi/internal/log"

	// Built-in observers.
	_ "firestige.xyz/anansi/plugins"
)

var (
	// Global flags
	configFile string

	// v collects defaults, env, the config file and bound flags.
	v = config.NewViper()
	// cfg is loaded by PersistentPreRunE.
	cfg *config.GlobalConfig

	// flagKeys maps each command's flags to config keys. Commands share
	// keys, so only the running command's flags are bound.
	flagKeys = map[*cobra.Command]map[string]string{}
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "anansi",
	Short: "Anansi - live frame capture and protocol dissection",
	Long: `Anansi captures frames from a network interface, dissects them layer by
layer (Ethernet, ARP, IPv4/IPv6, TCP/UDP/ICMP/IGMP, and TLS, SMB, HTTP, FTP,
DNS, DHCP by well-known port) and fans every frame out to observers: the
console, a pcap trace file, Kafka, and Prometheus counters. "anansi daemon"
keeps the observers up and lets "anansi ctl" start and stop capture sessions.

Configuration is read from an optional YAML file under the "anansi:" key,
ANANSI_* environment variables, and command-line flags, in increasing
order of precedence.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		bindFlags(cmd.Flags(), flagKeys[cmd])
		loaded, err := config.LoadViper(v, configFile)
		if err != nil {
			return err
		}
		cfg = loaded
		return log.Init(cfg.Log)
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return log.Close()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file path (YAML, root key \"anansi\")")
	pf.String("log-level", "info", "log level: debug|info|warn|error")
	pf.String("log-format", "text", "log format: text|json")
	flagKeys[rootCmd] = map[string]string{
		"log-level":  "log.level",
		"log-format": "log.format",
	}
	bindFlags(pf, flagKeys[rootCmd])

	// Add subcommands
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(interfacesCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(ctlCmd)
}

// bindFlags binds each flag to its key below the config root.
func bindFlags(fs *pflag.FlagSet, keys map[string]string) {
	for flag, key := range keys {
		if err := v.BindPFlag(config.Key(key), fs.Lookup(flag)); err != nil {
			panic(err)
		}
	}
}
