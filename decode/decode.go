// Package decode implements zero-copy, byte-exact parsing of Ethernet,
// IPv4, TCP and UDP framing. It never allocates a copy of the frame buffer;
// decoded packets hold slices into the caller-supplied bytes.
package decode

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	ethernetHeaderLen = 14
	etherTypeIPv4      = 0x0800
	etherTypeIPv6      = 0x86DD

	ipv4MinHeaderLen = 20
	ipv4MFMask       = 0x2000 // bit 13 of the flags+fragment_offset field
	ipv4OffsetMask   = 0x1FFF // low 13 bits

	tcpMinHeaderLen = 20

	// TCP flag bits, byte 13 of the TCP header.
	TCPFlagFIN = 0x01
	TCPFlagSYN = 0x02
	TCPFlagRST = 0x04
	TCPFlagPSH = 0x08
	TCPFlagACK = 0x10
	TCPFlagURG = 0x20
	tcpFlagMask = 0x3F // 6 valid bits

	udpHeaderLen = 8

	protocolTCP = 6
	protocolUDP = 17
)

// IPHeader is the post-decode record of an IPv4 header.
type IPHeader struct {
	Version        uint8
	IHL            uint8 // header length, in 32-bit words
	TOS            uint8
	TotalLength    uint16
	Identification uint16
	Flags          uint8 // low 3 bits valid
	MoreFragments  bool
	FragmentOffset uint16 // in 8-byte units
	TTL            uint8
	Protocol       uint8
	HeaderChecksum uint16
	SourceIP       uint32
	DestIP         uint32
}

// IsFragment reports whether this header describes a fragment carrying no
// parseable transport header of its own.
func (h IPHeader) IsFragment() bool {
	return h.FragmentOffset > 0 || h.MoreFragments
}

// TransportKind tags the Transport union.
type TransportKind int

const (
	TransportTCP TransportKind = iota
	TransportUDP
)

// TCPTransport is the TCP variant of Transport.
type TCPTransport struct {
	SrcPort uint16
	DstPort uint16
	Seq     uint32
	Ack     uint32
	Flags   uint8 // 6 valid bits: URG|ACK|PSH|RST|SYN|FIN
	Window  uint16
	Payload []byte
}

// UDPTransport is the UDP variant of Transport.
type UDPTransport struct {
	SrcPort uint16
	DstPort uint16
	Payload []byte
}

// Transport is a tagged union over TCP and UDP transport headers. There is
// deliberately no interface/inheritance hierarchy here: Kind selects which
// of TCP/UDP is populated.
type Transport struct {
	Kind TransportKind
	TCP  TCPTransport
	UDP  UDPTransport
}

// Payload returns the transport-layer payload regardless of which variant is
// populated.
func (t Transport) Payload() []byte {
	switch t.Kind {
	case TransportTCP:
		return t.TCP.Payload
	case TransportUDP:
		return t.UDP.Payload
	default:
		return nil
	}
}

// Packet is a fully decoded frame: IP header, transport variant, capture
// timestamp and the IP payload bytes (header + options stripped).
type Packet struct {
	IPHeader  IPHeader
	Transport Transport
	Timestamp uint64
	Payload   []byte
}

// Decode parses a single link-layer frame. ctx accumulates per-call
// statistics; frame is borrowed for the duration of the call and the
// returned Packet's slices alias it.
func Decode(ctx *Context, frame []byte, timestamp uint64) (Packet, error) {
	pkt, err := decode(ctx, frame, timestamp)
	if err != nil {
		ctx.recordError(err)
	}
	return pkt, err
}

func decode(ctx *Context, frame []byte, timestamp uint64) (Packet, error) {
	if len(frame) == 0 {
		return Packet{}, EmptyPacketError{}
	}

	ctx.stats.EthernetPackets++

	if len(frame) < ethernetHeaderLen {
		return Packet{}, InsufficientLengthError{Required: ethernetHeaderLen, Actual: len(frame)}
	}

	etherType := binary.BigEndian.Uint16(frame[12:14])
	switch etherType {
	case etherTypeIPv4:
		// fall through
	case etherTypeIPv6:
		return Packet{}, IPHeaderError{Kind: IPUnsupportedVersion, Version: 6}
	default:
		return Packet{}, UnsupportedProtocolError{Protocol: uint8(etherType)}
	}

	return decodeIPv4(ctx, frame[ethernetHeaderLen:], timestamp)
}

func decodeIPv4(ctx *Context, buf []byte, timestamp uint64) (Packet, error) {
	if len(buf) < ipv4MinHeaderLen {
		return Packet{}, IPHeaderError{Kind: IPTooShort}
	}

	versionIHL := buf[0]
	version := versionIHL >> 4
	ihl := versionIHL & 0x0F
	if version != 4 {
		return Packet{}, IPHeaderError{Kind: IPUnsupportedVersion, Version: version}
	}
	if ihl < 5 {
		return Packet{}, IPHeaderError{Kind: IPTooShort}
	}

	headerLen := int(ihl) * 4
	if len(buf) < headerLen {
		return Packet{}, InsufficientLengthError{Required: headerLen, Actual: len(buf)}
	}

	totalLength := binary.BigEndian.Uint16(buf[2:4])
	if int(totalLength) < headerLen || int(totalLength) > len(buf) {
		return Packet{}, IPHeaderError{Kind: IPInvalidTotalLength, Length: totalLength}
	}

	flagsAndOffset := binary.BigEndian.Uint16(buf[6:8])
	moreFragments := flagsAndOffset&ipv4MFMask != 0
	fragmentOffset := flagsAndOffset & ipv4OffsetMask
	flags := uint8(flagsAndOffset >> 13)

	protocol := buf[9]

	header := IPHeader{
		Version:        version,
		IHL:            ihl,
		TOS:            buf[1],
		TotalLength:    totalLength,
		Identification: binary.BigEndian.Uint16(buf[4:6]),
		Flags:          flags,
		MoreFragments:  moreFragments,
		FragmentOffset: fragmentOffset,
		TTL:            buf[8],
		Protocol:       protocol,
		HeaderChecksum: binary.BigEndian.Uint16(buf[10:12]),
		SourceIP:       binary.BigEndian.Uint32(buf[12:16]),
		DestIP:         binary.BigEndian.Uint32(buf[16:20]),
	}

	ctx.stats.IPv4Packets++

	payload := buf[headerLen:int(totalLength)]

	if header.IsFragment() {
		// Fragments carry no parseable transport header: hand back the raw
		// bytes verbatim in a zeroed variant selected by protocol, so the
		// defragmenter can reassemble first and decode the transport header
		// on the resulting whole datagram.
		return packetForFragment(header, protocol, payload, timestamp)
	}

	switch protocol {
	case protocolTCP:
		transport, err := decodeTCP(payload)
		if err != nil {
			return Packet{}, err
		}
		ctx.stats.TCPPackets++
		return Packet{IPHeader: header, Transport: transport, Timestamp: timestamp, Payload: payload}, nil
	case protocolUDP:
		transport, err := decodeUDP(payload)
		if err != nil {
			return Packet{}, err
		}
		ctx.stats.UDPPackets++
		return Packet{IPHeader: header, Transport: transport, Timestamp: timestamp, Payload: payload}, nil
	default:
		return Packet{}, UnsupportedProtocolError{Protocol: protocol}
	}
}

func packetForFragment(header IPHeader, protocol uint8, payload []byte, timestamp uint64) (Packet, error) {
	var transport Transport
	switch protocol {
	case protocolTCP:
		transport = Transport{Kind: TransportTCP, TCP: TCPTransport{Payload: payload}}
	case protocolUDP:
		transport = Transport{Kind: TransportUDP, UDP: UDPTransport{Payload: payload}}
	default:
		return Packet{}, UnsupportedProtocolError{Protocol: protocol}
	}
	return Packet{IPHeader: header, Transport: transport, Timestamp: timestamp, Payload: payload}, nil
}

func decodeTCP(buf []byte) (Transport, error) {
	if len(buf) < tcpMinHeaderLen {
		return Transport{}, TCPHeaderError{Kind: TCPTooShort}
	}

	dataOffset := int(buf[12]>>4) * 4
	if dataOffset < tcpMinHeaderLen || dataOffset > len(buf) {
		return Transport{}, TCPHeaderError{Kind: TCPInvalidLength, Length: dataOffset}
	}

	flags := buf[13] & tcpFlagMask
	if flags == 0 {
		return Transport{}, TCPHeaderError{Kind: TCPInvalidFlags, Flags: 0}
	}

	t := TCPTransport{
		SrcPort: binary.BigEndian.Uint16(buf[0:2]),
		DstPort: binary.BigEndian.Uint16(buf[2:4]),
		Seq:     binary.BigEndian.Uint32(buf[4:8]),
		Ack:     binary.BigEndian.Uint32(buf[8:12]),
		Flags:   flags,
		Window:  binary.BigEndian.Uint16(buf[14:16]),
		Payload: buf[dataOffset:],
	}
	return Transport{Kind: TransportTCP, TCP: t}, nil
}

func decodeUDP(buf []byte) (Transport, error) {
	if len(buf) < udpHeaderLen {
		return Transport{}, UDPHeaderError{Kind: UDPTooShort}
	}

	length := binary.BigEndian.Uint16(buf[4:6])
	if int(length) < udpHeaderLen || int(length) > len(buf) {
		return Transport{}, UDPHeaderError{Kind: UDPInvalidLength}
	}

	u := UDPTransport{
		SrcPort: binary.BigEndian.Uint16(buf[0:2]),
		DstPort: binary.BigEndian.Uint16(buf[2:4]),
		Payload: buf[udpHeaderLen:length],
	}
	return Transport{Kind: TransportUDP, UDP: u}, nil
}

// DecodeTransport parses just the transport-layer header from payload,
// dispatching on protocol. This is the "Decoder (second pass)" the system
// overview runs over a freshly reassembled IP datagram, whose offset-0
// fragment held the real TCP/UDP header bytes that a single fragment alone
// cannot expose.
func DecodeTransport(protocol uint8, payload []byte) (Transport, error) {
	switch protocol {
	case protocolTCP:
		return decodeTCP(payload)
	case protocolUDP:
		return decodeUDP(payload)
	default:
		return Transport{}, UnsupportedProtocolError{Protocol: protocol}
	}
}

// WithContext attaches a human-readable prefix to err without discarding its
// Critical classification, mirroring the original's with_context helper.
func WithContext(err error, context string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, context)
}
