//go:build linux

package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"

	"firestige.xyz/anansi/internal/core"
)

// AFPacketOpener opens TPACKET_V3 rings. The ring does not change the
// interface's promiscuous flag.
type AFPacketOpener struct{}

func (AFPacketOpener) Open(device string, opts Options) (Handle, error) {
	opts = opts.withDefaults()

	frameSize, blockSize, numBlocks, err := ringSize(opts.BufferSize, opts.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrHandleOpen, err)
	}

	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(device),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(opts.ReadTimeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrHandleOpen, device, err)
	}

	if opts.Promiscuous {
		slog.Debug("af_packet ring leaves promiscuous mode unchanged", "interface", device)
	}

	if opts.Filter != "" {
		if err := attachFilter(tp, opts.Filter, opts.SnapLen); err != nil {
			tp.Close()
			return nil, err
		}
	}
	return &afpacketHandle{tp: tp}, nil
}

// attachFilter compiles filter with libpcap and loads it into the socket.
func attachFilter(tp *afpacket.TPacket, filter string, snapLen int) error {
	insns, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, snapLen, filter)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", core.ErrInvalidFilter, filter, err)
	}
	raw := make([]bpf.RawInstruction, len(insns))
	for i, ins := range insns {
		raw[i] = bpf.RawInstruction{Op: ins.Code, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	if err := tp.SetBPF(raw); err != nil {
		return fmt.Errorf("%w: attach filter: %v", core.ErrHandleOpen, err)
	}
	return nil
}

type afpacketHandle struct {
	tp *afpacket.TPacket
}

func (h *afpacketHandle) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := h.tp.ReadPacketData()
	if errors.Is(err, afpacket.ErrTimeout) {
		return nil, ci, ErrReadTimeout
	}
	return data, ci, err
}

func (h *afpacketHandle) LinkType() layers.LinkType {
	return layers.LinkTypeEthernet
}

func (h *afpacketHandle) Close() {
	h.tp.Close()
}
