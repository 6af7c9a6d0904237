// Package plugin holds the factory registry for observer plugins.
package plugin

import (
	"io"

	"github.com/google/gopacket/layers"

	"firestige.xyz/anansi/internal/config"
	"firestige.xyz/anansi/internal/observer"
)

// Env carries what a factory needs from the running command.
type Env struct {
	Config *config.GlobalConfig
	Filter config.FilterConfig
	// LinkType reports the link type of the frames being observed.
	LinkType func() layers.LinkType
	// Stdout receives human-facing output.
	Stdout io.Writer
}

// Observer is an observer.Observer that owns resources released by Close.
type Observer interface {
	observer.Observer
	Name() string
	Close() error
}

// Factory builds an observer from env. It returns (nil, nil) when
// configuration leaves the plugin disabled.
type Factory func(env Env) (Observer, error)
