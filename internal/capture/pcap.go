package capture

import (
	"errors"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"

	"firestige.xyz/anansi/internal/core"
)

// PcapOpener opens live handles through libpcap.
type PcapOpener struct{}

// Open activates a handle on device with the session options applied and
// installs the filter, if any.
func (PcapOpener) Open(device string, opts Options) (Handle, error) {
	opts = opts.withDefaults()

	inactive, err := pcap.NewInactiveHandle(device)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrHandleOpen, device, err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(opts.SnapLen); err != nil {
		return nil, fmt.Errorf("%w: set snaplen: %v", core.ErrHandleOpen, err)
	}
	if err := inactive.SetPromisc(opts.Promiscuous); err != nil {
		return nil, fmt.Errorf("%w: set promiscuous: %v", core.ErrHandleOpen, err)
	}
	if err := inactive.SetTimeout(opts.ReadTimeout); err != nil {
		return nil, fmt.Errorf("%w: set timeout: %v", core.ErrHandleOpen, err)
	}
	if err := inactive.SetBufferSize(opts.BufferSize); err != nil {
		return nil, fmt.Errorf("%w: set buffer size: %v", core.ErrHandleOpen, err)
	}

	h, err := inactive.Activate()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrHandleOpen, device, err)
	}

	if opts.Filter != "" {
		if err := h.SetBPFFilter(opts.Filter); err != nil {
			h.Close()
			return nil, fmt.Errorf("%w: %q: %v", core.ErrInvalidFilter, opts.Filter, err)
		}
	}
	return pcapHandle{h}, nil
}

type pcapHandle struct {
	*pcap.Handle
}

func (h pcapHandle) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := h.Handle.ReadPacketData()
	if errors.Is(err, pcap.NextErrorTimeoutExpired) {
		return nil, ci, ErrReadTimeout
	}
	return data, ci, err
}

// ListDevices enumerates capturable interfaces through libpcap.
func ListDevices() ([]Device, error) {
	ifs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("%w: enumerate devices: %v", core.ErrResource, err)
	}
	devices := make([]Device, 0, len(ifs))
	for _, i := range ifs {
		devices = append(devices, Device{Name: i.Name, Description: i.Description})
	}
	return devices, nil
}
