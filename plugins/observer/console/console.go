// Package console implements the console observer.
// It dissects each frame and prints one line per record, as text or JSON.
package console

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"

	"firestige.xyz/anansi/internal/config"
	"firestige.xyz/anansi/internal/core"
	"firestige.xyz/anansi/internal/dissect"
	"firestige.xyz/anansi/internal/geo"
	"firestige.xyz/anansi/pkg/plugin"
)

// Options configures an Observer.
type Options struct {
	Format  string // "json" or "text", default "text"
	Verbose bool   // append a hex dump of the frame
	Color   bool
	Filter  config.FilterConfig
	Geo     geo.CountryLookup // nil = no country annotation
}

// Observer prints dissected frames.
type Observer struct {
	mu      sync.Mutex
	out     io.Writer
	opts    Options
	palette palette
	closer  io.Closer // owned lookup, if any

	printed  atomic.Uint64
	filtered atomic.Uint64
}

// New creates a console observer writing to out.
func New(out io.Writer, opts Options) (*Observer, error) {
	if opts.Format == "" {
		opts.Format = "text"
	}
	if opts.Format != "json" && opts.Format != "text" {
		return nil, fmt.Errorf("invalid format %q, must be json or text", opts.Format)
	}
	return &Observer{
		out:     out,
		opts:    opts,
		palette: newPalette(out, opts.Color),
	}, nil
}

// Factory builds the console observer when output.console.enabled is set.
func Factory(env plugin.Env) (plugin.Observer, error) {
	c := env.Config.Output.Console
	if !c.Enabled {
		return nil, nil
	}
	opts := Options{
		Format:  c.Format,
		Verbose: c.Verbose,
		Color:   c.Color,
		Filter:  env.Filter,
	}
	var closer io.Closer
	if c.GeoIPDB != "" {
		r, err := geo.Open(c.GeoIPDB)
		if err != nil {
			return nil, err
		}
		opts.Geo, closer = r, r
	}
	o, err := New(env.Stdout, opts)
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, err
	}
	o.closer = closer
	slog.Info("console observer started", "format", opts.Format, "verbose", opts.Verbose,
		"geoip", c.GeoIPDB != "")
	return o, nil
}

// Name returns the plugin name.
func (o *Observer) Name() string {
	return "console"
}

// HandleFrame dissects f and prints it if the filter allows.
func (o *Observer) HandleFrame(f core.RawFrame) error {
	rec := dissect.Dissect(f)
	if !o.opts.Filter.Allows(rec) {
		o.filtered.Add(1)
		return nil
	}

	var line string
	if o.opts.Format == "json" {
		data, err := json.Marshal(o.jsonRecord(rec, f))
		if err != nil {
			return fmt.Errorf("json marshal failed: %w", err)
		}
		line = string(data) + "\n"
	} else {
		line = o.textLine(rec, f)
	}

	o.mu.Lock()
	_, err := io.WriteString(o.out, line)
	o.mu.Unlock()
	if err != nil {
		return fmt.Errorf("console write failed: %w", err)
	}
	o.printed.Add(1)
	return nil
}

type jsonRecord struct {
	core.ProtocolRecord
	SrcCountry string `json:"src_country,omitempty"`
	DstCountry string `json:"dst_country,omitempty"`
	Hex        string `json:"hex,omitempty"`
}

func (o *Observer) jsonRecord(rec core.ProtocolRecord, f core.RawFrame) jsonRecord {
	out := jsonRecord{ProtocolRecord: rec}
	out.SrcCountry, out.DstCountry, _ = o.countries(rec)
	if o.opts.Verbose {
		out.Hex = hex.EncodeToString(f.Data)
	}
	return out
}

// textLine renders "HH:MM:SS.mmm PROTO detail".
func (o *Observer) textLine(rec core.ProtocolRecord, f core.RawFrame) string {
	var b strings.Builder
	b.WriteString(rec.Timestamp.Format("15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(o.palette.render(rec.Protocol, fmt.Sprintf("%-7s", rec.Protocol)))
	b.WriteByte(' ')
	b.WriteString(rec.Detail)
	if src, dst, ok := o.countries(rec); ok {
		fmt.Fprintf(&b, " [%s > %s]", src, dst)
	}
	b.WriteByte('\n')
	if o.opts.Verbose {
		b.WriteString(hex.Dump(f.Data))
	}
	return b.String()
}

// countries resolves both endpoints when they are IP addresses.
func (o *Observer) countries(rec core.ProtocolRecord) (src, dst string, ok bool) {
	if o.opts.Geo == nil {
		return "", "", false
	}
	s, err1 := netip.ParseAddr(rec.Source)
	d, err2 := netip.ParseAddr(rec.Destination)
	if err1 != nil || err2 != nil {
		return "", "", false
	}
	return o.opts.Geo.Country(s), o.opts.Geo.Country(d), true
}

// Close releases the geoip database, if any.
func (o *Observer) Close() error {
	slog.Info("console observer stopped", "total_printed", o.printed.Load(),
		"total_filtered", o.filtered.Load())
	if o.closer != nil {
		return o.closer.Close()
	}
	return nil
}
