package dissect

import (
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"

	"firestige.xyz/anansi/internal/core"
)

var (
	testSrcMAC = net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	testDstMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	testSrcIP  = net.IP{10, 0, 0, 1}
	testDstIP  = net.IP{10, 0, 0, 2}
	testTime   = time.Unix(1700000000, 250000000)
)

// makeSYNFrame builds the 54-byte Ethernet+IPv4+TCP SYN
// 10.0.0.1:12345 > 10.0.0.2:80, seq 1000, win 64240.
func makeSYNFrame() []byte {
	packet := make([]byte, 54)

	// Ethernet: dst 00:11:22:33:44:55, src aa:bb:cc:dd:ee:ff, IPv4
	copy(packet[0:6], testDstMAC)
	copy(packet[6:12], testSrcMAC)
	packet[12], packet[13] = 0x08, 0x00

	// IPv4: IHL 5, total length 40, TTL 64, TCP
	packet[14] = 0x45
	packet[16], packet[17] = 0x00, 0x28
	packet[22] = 0x40
	packet[23] = 0x06
	copy(packet[26:30], testSrcIP)
	copy(packet[30:34], testDstIP)

	// TCP: 12345 > 80, seq 1000, data offset 5, SYN, win 64240
	packet[34], packet[35] = 0x30, 0x39
	packet[36], packet[37] = 0x00, 0x50
	packet[38], packet[39], packet[40], packet[41] = 0x00, 0x00, 0x03, 0xE8
	packet[46] = 0x50
	packet[47] = 0x02
	packet[48], packet[49] = 0xFA, 0xF0

	return packet
}

func frameOf(data []byte) core.RawFrame {
	return core.RawFrame{Data: data, Timestamp: testTime, OrigLen: uint32(len(data))}
}

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ls...))
	return buf.Bytes()
}

func ethernet(t layers.EthernetType) *layers.Ethernet {
	return &layers.Ethernet{SrcMAC: testSrcMAC, DstMAC: testDstMAC, EthernetType: t}
}

func ipv4(proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{Version: 4, TTL: 64, Protocol: proto, SrcIP: testSrcIP, DstIP: testDstIP}
}

func tcpFrame(t *testing.T, sport, dport uint16, payload []byte) []byte {
	t.Helper()
	ip := ipv4(layers.IPProtocolTCP)
	tcp := &layers.TCP{SrcPort: layers.TCPPort(sport), DstPort: layers.TCPPort(dport), Seq: 1, Ack: 1, ACK: true, PSH: true, Window: 512}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	return serialize(t, ethernet(layers.EthernetTypeIPv4), ip, tcp, gopacket.Payload(payload))
}

func udpFrame(t *testing.T, sport, dport uint16, payload []byte) []byte {
	t.Helper()
	ip := ipv4(layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	return serialize(t, ethernet(layers.EthernetTypeIPv4), ip, udp, gopacket.Payload(payload))
}
