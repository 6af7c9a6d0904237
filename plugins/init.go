// Package plugins registers all built-in observer plugins.
package plugins

import (
	"firestige.xyz/anansi/pkg/plugin"
	"firestige.xyz/anansi/plugins/observer/console"
	"firestige.xyz/anansi/plugins/observer/kafka"
	"firestige.xyz/anansi/plugins/observer/pcapfile"
	"firestige.xyz/anansi/plugins/observer/stats"
)

func init() {
	plugin.RegisterObserver("console", console.Factory)
	plugin.RegisterObserver("kafka", kafka.Factory)
	plugin.RegisterObserver("pcap_file", pcapfile.Factory)
	plugin.RegisterObserver("stats", stats.Factory)
}
