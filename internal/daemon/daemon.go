// Package daemon runs anansi as a long-lived process whose capture session
// is driven over the control socket.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strconv"
	"sync"
	"syscall"
	"time"

	"firestige.xyz/anansi/internal/capture"
	"firestige.xyz/anansi/internal/command"
	"firestige.xyz/anansi/internal/config"
	logpkg "firestige.xyz/anansi/internal/log"
	"firestige.xyz/anansi/internal/metrics"
	"firestige.xyz/anansi/internal/observer"
	"firestige.xyz/anansi/pkg/plugin"
)

// Deps are the daemon's external collaborators.
type Deps struct {
	Opener  capture.Opener       // nil = libpcap
	Devices capture.DeviceSource // nil = live device list
	Stdout  io.Writer            // console observer output

	// Reload loads a fresh configuration on SIGHUP. Nil disables reload.
	Reload func() (*config.GlobalConfig, error)
}

// Daemon owns the controller, the observers and the control socket.
type Daemon struct {
	config *config.GlobalConfig
	deps   Deps

	registry      *observer.Registry
	controller    *capture.Controller
	observers     []plugin.Observer
	handler       *command.Handler
	server        *command.UDSServer
	metricsServer *metrics.Server // nil if metrics disabled

	serveCancel  context.CancelFunc
	serveDone    chan struct{}
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	stopOnce     sync.Once
}

// New creates a daemon for cfg. Nothing is started until Start.
func New(cfg *config.GlobalConfig, deps Deps) *Daemon {
	return &Daemon{
		config:       cfg,
		deps:         deps,
		registry:     observer.NewRegistry(),
		shutdownChan: make(chan struct{}),
	}
}

// Start brings up every component. When capture.interface is set a session
// is started on it; a failure there is logged and the daemon keeps serving.
// On error everything already started is torn down.
func (d *Daemon) Start() (err error) {
	slog.Info("starting anansi daemon",
		"socket", d.config.Control.Socket,
		"pid_file", d.config.Control.PIDFile,
	)
	defer func() {
		if err != nil {
			d.Stop()
		}
	}()

	// 1. PID file
	if err := d.writePIDFile(); err != nil {
		return err
	}

	// 2. Metrics server
	if d.config.Metrics.Enabled {
		d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
		if err := d.metricsServer.Start(); err != nil {
			d.metricsServer = nil
			return err
		}
	}

	// 3. Controller and observers
	filter, err := d.config.FilterConfig()
	if err != nil {
		return err
	}
	d.controller = capture.NewController(d.registry, d.deps.Opener, d.deps.Devices)
	d.observers, err = plugin.BuildObservers(plugin.Env{
		Config:   d.config,
		Filter:   filter,
		LinkType: d.controller.LinkType,
		Stdout:   d.deps.Stdout,
	})
	if err != nil {
		return err
	}
	for _, o := range d.observers {
		id := d.registry.Add(o)
		slog.Debug("observer registered", "observer", o.Name(), "observer_id", id)
	}

	// 4. Control socket
	d.handler = command.NewHandler(d.controller, d.deps.Devices, defaultsFor(d.config))
	d.handler.SetShutdownFunc(d.TriggerShutdown)
	d.handler.SetObserverCount(d.registry.Len)
	d.server = command.NewUDSServer(d.config.Control.Socket, d.handler)
	if err := d.server.Listen(); err != nil {
		d.server = nil
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.serveCancel = cancel
	d.serveDone = make(chan struct{})
	go func() {
		defer close(d.serveDone)
		if err := d.server.Serve(ctx); err != nil {
			slog.Error("control socket failed", "error", err)
		}
	}()

	// 5. Optional initial session
	if iface := d.config.Capture.Interface; iface != "" {
		if err := d.controller.Start(iface, d.config.CaptureOptions()); err != nil {
			slog.Error("initial capture failed to start", "interface", iface, "error", err)
		}
	}

	slog.Info("daemon started", "observers", d.registry.Len())
	return nil
}

// Run blocks until SIGINT/SIGTERM, a daemon_shutdown command or ctx
// cancellation, then stops the daemon. SIGHUP reloads the configuration.
func (d *Daemon) Run(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	slog.Info("daemon running, waiting for signals or commands")
	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				}
				continue
			}
			slog.Info("received shutdown signal", "signal", sig)
			d.Stop()
			return nil

		case <-d.shutdownChan:
			slog.Info("shutdown triggered by command")
			d.Stop()
			return nil

		case <-ctx.Done():
			slog.Info("context cancelled", "error", ctx.Err())
			d.Stop()
			return nil
		}
	}
}

// TriggerShutdown makes Run return. It is safe to call more than once.
func (d *Daemon) TriggerShutdown() {
	d.shutdownOnce.Do(func() { close(d.shutdownChan) })
}

// Reload applies a freshly loaded configuration. Logging and the defaults
// for the next capture_start apply immediately; observers, metrics and the
// control socket keep their startup settings.
func (d *Daemon) Reload() error {
	if d.deps.Reload == nil {
		return errors.New("reload not supported")
	}
	next, err := d.deps.Reload()
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	hotReloaded := []string{}
	if next.Log != d.config.Log {
		if err := logpkg.Init(next.Log); err != nil {
			return fmt.Errorf("failed to reinitialize logging: %w", err)
		}
		hotReloaded = append(hotReloaded, "log")
	}
	if d.handler != nil && !reflect.DeepEqual(next.Capture, d.config.Capture) {
		d.handler.SetDefaults(defaultsFor(next))
		hotReloaded = append(hotReloaded, "capture")
	}

	requiresRestart := []string{}
	if !reflect.DeepEqual(next.Output, d.config.Output) {
		requiresRestart = append(requiresRestart, "output")
	}
	if !reflect.DeepEqual(next.Filter, d.config.Filter) {
		requiresRestart = append(requiresRestart, "filter")
	}
	if next.Metrics != d.config.Metrics {
		requiresRestart = append(requiresRestart, "metrics")
	}
	if next.Control != d.config.Control {
		requiresRestart = append(requiresRestart, "control")
	}

	// Keep the sections that were not applied so the next diff is against
	// what is actually running.
	d.config.Log = next.Log
	d.config.Capture = next.Capture

	slog.Info("configuration reloaded",
		"hot_reloaded", hotReloaded,
		"requires_restart", requiresRestart,
	)
	return nil
}

// Stop stops the session, the control socket, the observers and the
// metrics server, in that order. Later calls are no-ops.
func (d *Daemon) Stop() {
	d.stopOnce.Do(d.stop)
}

func (d *Daemon) stop() {
	slog.Info("initiating graceful shutdown")

	// 1. Capture session (no new frames)
	if d.controller != nil {
		frames := d.controller.Frames()
		d.controller.Stop()
		slog.Info("capture stopped", "frames", frames)
	}

	// 2. Control socket (no new commands)
	if d.serveCancel != nil {
		d.serveCancel()
		<-d.serveDone
	} else if d.server != nil {
		d.server.Stop()
	}

	// 3. Observers
	if err := plugin.CloseAll(d.observers); err != nil {
		slog.Error("error closing observers", "error", err)
	}

	// 4. Metrics server
	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
	}

	// 5. PID file
	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	slog.Info("daemon stopped gracefully")
}

// Controller returns the daemon's capture controller.
func (d *Daemon) Controller() *capture.Controller {
	return d.controller
}

func defaultsFor(cfg *config.GlobalConfig) command.Defaults {
	return command.Defaults{
		Interface: cfg.Capture.Interface,
		Options:   cfg.CaptureOptions(),
	}
}

func (d *Daemon) writePIDFile() error {
	path := d.config.Control.PIDFile
	if path == "" {
		return nil
	}
	data := []byte(strconv.Itoa(os.Getpid()) + "\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", path, err)
	}
	slog.Debug("PID file written", "path", path)
	return nil
}

func (d *Daemon) removePIDFile() error {
	path := d.config.Control.PIDFile
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", path, err)
	}
	return nil
}
