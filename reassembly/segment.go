package reassembly

import "time"

// Segment is one buffered, not-yet-delivered span of a TCP stream, owned by
// exactly one Stream.
type Segment struct {
	Seq             uint32
	Data            []byte
	EndSeq          uint32
	ReceivedAt      time.Time
	RetransmitCount int
	LastRetransmit  time.Time
}

func newSegment(seq uint32, data []byte, now time.Time) Segment {
	return Segment{
		Seq:        seq,
		Data:       data,
		EndSeq:     seq + uint32(len(data)),
		ReceivedAt: now,
	}
}

func (s Segment) expired(now time.Time, timeout time.Duration) bool {
	if s.RetransmitCount > 3 {
		return true
	}
	if !s.LastRetransmit.IsZero() && now.Sub(s.LastRetransmit) > 30*time.Second {
		return true
	}
	return now.Sub(s.ReceivedAt) > timeout
}
