package decode

import "github.com/pkg/errors"

// Error is the flat, tagged-union error taxonomy for the Decoder. It is
// deliberately not a class hierarchy: every concrete error below implements
// Error and reports whether it is Critical.
type Error interface {
	error
	// Critical reports whether this error reflects a malformed header
	// (IP/TCP/UDP) as opposed to a merely recoverable condition.
	Critical() bool
}

// EmptyPacketError is returned when the frame buffer has zero length.
type EmptyPacketError struct{}

func (EmptyPacketError) Error() string  { return "empty packet" }
func (EmptyPacketError) Critical() bool { return false }

// InsufficientLengthError is returned when the buffer is shorter than a
// header requires.
type InsufficientLengthError struct {
	Required int
	Actual   int
}

func (e InsufficientLengthError) Error() string {
	return errors.Errorf("insufficient length: need %d bytes, have %d", e.Required, e.Actual).Error()
}
func (InsufficientLengthError) Critical() bool { return false }

// UnsupportedProtocolError is returned for an IP protocol number other than
// TCP (6) or UDP (17).
type UnsupportedProtocolError struct {
	Protocol uint8
}

func (e UnsupportedProtocolError) Error() string {
	return errors.Errorf("unsupported protocol: %d", e.Protocol).Error()
}
func (UnsupportedProtocolError) Critical() bool { return false }

// BufferKind enumerates the BufferError variants.
type BufferKind int

const (
	BufferTooShort BufferKind = iota
	BufferEmpty
	BufferOverflow
)

// BufferError reports a generic buffer-sizing problem not specific to any
// one header.
type BufferError struct {
	Kind BufferKind
}

func (e BufferError) Error() string {
	switch e.Kind {
	case BufferTooShort:
		return "buffer too short"
	case BufferEmpty:
		return "buffer is empty"
	case BufferOverflow:
		return "buffer overflow"
	default:
		return "buffer error"
	}
}
func (BufferError) Critical() bool { return false }

// IPHeaderErrorKind enumerates IpHeaderError variants.
type IPHeaderErrorKind int

const (
	IPTooShort IPHeaderErrorKind = iota
	IPUnsupportedVersion
	IPInvalidTotalLength
	IPUnsupportedProtocol
	IPInvalidChecksum
)

// IPHeaderError reports a malformed IPv4 header.
type IPHeaderError struct {
	Kind    IPHeaderErrorKind
	Version uint8
	Length  uint16
}

func (e IPHeaderError) Error() string {
	switch e.Kind {
	case IPTooShort:
		return "IP header too short"
	case IPUnsupportedVersion:
		return errors.Errorf("unsupported IP version: %d", e.Version).Error()
	case IPInvalidTotalLength:
		return errors.Errorf("invalid IP total length: %d", e.Length).Error()
	case IPUnsupportedProtocol:
		return "unsupported IP protocol"
	case IPInvalidChecksum:
		return "invalid IP header checksum"
	default:
		return "IP header error"
	}
}
func (IPHeaderError) Critical() bool { return true }

// TCPHeaderErrorKind enumerates TcpHeaderError variants.
type TCPHeaderErrorKind int

const (
	TCPTooShort TCPHeaderErrorKind = iota
	TCPInvalidLength
	TCPInvalidPort
	TCPInvalidFlags
	TCPInvalidChecksum
)

// TCPHeaderError reports a malformed TCP header.
type TCPHeaderError struct {
	Kind   TCPHeaderErrorKind
	Length int
	Port   uint16
	Flags  uint8
}

func (e TCPHeaderError) Error() string {
	switch e.Kind {
	case TCPTooShort:
		return "TCP header too short"
	case TCPInvalidLength:
		return errors.Errorf("invalid TCP data offset: %d", e.Length).Error()
	case TCPInvalidPort:
		return errors.Errorf("invalid TCP port: %d", e.Port).Error()
	case TCPInvalidFlags:
		return errors.Errorf("invalid TCP flags: 0x%02x", e.Flags).Error()
	case TCPInvalidChecksum:
		return "invalid TCP checksum"
	default:
		return "TCP header error"
	}
}
func (TCPHeaderError) Critical() bool { return true }

// UDPHeaderErrorKind enumerates UdpHeaderError variants.
type UDPHeaderErrorKind int

const (
	UDPTooShort UDPHeaderErrorKind = iota
	UDPInvalidLength
	UDPInvalidPort
	UDPInvalidChecksum
)

// UDPHeaderError reports a malformed UDP header.
type UDPHeaderError struct {
	Kind UDPHeaderErrorKind
	Port uint16
}

func (e UDPHeaderError) Error() string {
	switch e.Kind {
	case UDPTooShort:
		return "UDP header too short"
	case UDPInvalidLength:
		return "invalid UDP length"
	case UDPInvalidPort:
		return errors.Errorf("invalid UDP port: %d", e.Port).Error()
	case UDPInvalidChecksum:
		return "invalid UDP checksum"
	default:
		return "UDP header error"
	}
}
func (UDPHeaderError) Critical() bool { return true }

var (
	_ Error = EmptyPacketError{}
	_ Error = InsufficientLengthError{}
	_ Error = UnsupportedProtocolError{}
	_ Error = BufferError{}
	_ Error = IPHeaderError{}
	_ Error = TCPHeaderError{}
	_ Error = UDPHeaderError{}
)
