// Package capture manages the live capture session and its read loop.
package capture

import (
	"errors"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const (
	DefaultSnapLen     = 65535
	DefaultReadTimeout = time.Second
	DefaultBufferSize  = 2 << 20
)

// ErrReadTimeout is returned by a Handle when no frame arrived within the
// read timeout. The read loop treats it as "try again".
var ErrReadTimeout = errors.New("capture: read timeout")

// Handle is an open capture source.
type Handle interface {
	// ReadPacketData blocks for at most the read timeout.
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
	Close()
}

// Opener opens a Handle on a device. Implementations return errors wrapping
// core.ErrInvalidFilter when the filter does not compile and
// core.ErrHandleOpen for everything else.
type Opener interface {
	Open(device string, opts Options) (Handle, error)
}

// Options configures one capture session.
type Options struct {
	Promiscuous bool
	Filter      string // passed to the capture layer verbatim
	SnapLen     int
	BufferSize  int // bytes
	ReadTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.SnapLen <= 0 {
		o.SnapLen = DefaultSnapLen
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	return o
}

// Device is one capturable interface.
type Device struct {
	Name        string
	Description string // may be empty
}

// DeviceSource supplies the devices a session may be started on.
type DeviceSource func() ([]Device, error)

// StaticDevices returns a DeviceSource over a fixed list.
func StaticDevices(devices ...Device) DeviceSource {
	return func() ([]Device, error) {
		return devices, nil
	}
}

func findDevice(devices []Device, name string) (Device, bool) {
	for _, d := range devices {
		if d.Name == name {
			return d, true
		}
	}
	return Device{}, false
}
