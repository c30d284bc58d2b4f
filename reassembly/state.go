package reassembly

import "github.com/netreassemble/netreassemble/decode"

// State is a TCP connection state as observed passively by the
// reassembler; it never emits packets of its own.
type State int

const (
	Closed State = iota
	SynSent
	SynReceived
	Established
	FinWait1
	FinWait2
	CloseWait
	Closing
	LastAck
	TimeWait
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case SynSent:
		return "syn-sent"
	case SynReceived:
		return "syn-received"
	case Established:
		return "established"
	case FinWait1:
		return "fin-wait-1"
	case FinWait2:
		return "fin-wait-2"
	case CloseWait:
		return "close-wait"
	case Closing:
		return "closing"
	case LastAck:
		return "last-ack"
	case TimeWait:
		return "time-wait"
	default:
		return "unknown"
	}
}

// nextState drives the passive state machine from the observed flag bits of
// one packet on this flow's direction. A flag combination with no matching
// row leaves the state unchanged rather than raising an error: only a
// handful of transitions are named, and silence on a row is not itself a
// protocol violation.
func nextState(current State, flags uint8) (State, bool) {
	if flags&decode.TCPFlagRST != 0 {
		return Closed, current != Closed
	}

	syn := flags&decode.TCPFlagSYN != 0
	ack := flags&decode.TCPFlagACK != 0
	fin := flags&decode.TCPFlagFIN != 0

	switch current {
	case Closed:
		if syn && !ack {
			return SynReceived, true
		}
	case SynSent:
		if syn && ack {
			return Established, true
		}
	case SynReceived:
		if ack && !syn {
			return Established, true
		}
	case Established:
		if fin {
			return CloseWait, true
		}
		if flags == decode.TCPFlagACK {
			// A pure ACK, carrying no other flag, observed while established
			// is read as this side initiating close, per the documented
			// transition table; PSH/URG-bearing data ACKs don't match.
			return FinWait1, true
		}
	case FinWait1:
		if ack {
			return FinWait2, true
		}
	case FinWait2:
		if fin {
			return Closing, true
		}
	case CloseWait:
		if fin {
			return LastAck, true
		}
	case Closing:
		if ack {
			return TimeWait, true
		}
	case LastAck:
		if ack {
			return Closed, true
		}
	}
	return current, false
}
