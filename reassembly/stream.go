package reassembly

import (
	"time"

	"github.com/netreassemble/netreassemble/decode"
	"github.com/netreassemble/netreassemble/ids"
	"github.com/netreassemble/netreassemble/mempool"
	"github.com/netreassemble/netreassemble/sets"
)

// DeliverFunc is invoked with the next contiguous, in-order span of stream
// payload as soon as it becomes available.
type DeliverFunc func(flow FlowKey, data []byte, timestamp uint64)

// Stream holds one direction's reassembly state: the set of segments seen
// so far, the sequence number of the next byte the stream is waiting to
// deliver, and enough bookkeeping to resolve overlaps and detect gaps.
type Stream struct {
	ID        ids.StreamID
	Flow      FlowKey
	State     State
	policy    Policy
	maxGap    uint32
	maxSegs   int
	pool      mempool.SegmentPool

	segments    map[uint32]Segment
	nextSeq     uint32
	initialized bool
	sackBlocks  [4]SackBlock

	Stats          StreamStats
	CreatedAt      time.Time
	StateEnteredAt time.Time
}

// finWait2Timeout is how long a stream may sit idle in FinWait2 before it
// times out to Closed, independent of the general stream_timeout knob.
const finWait2Timeout = 60 * time.Second

// timeWaitTimeout is 2*MSL: how long a stream lingers in TimeWait, absorbing
// a retransmitted final ACK, before it is destroyed.
const timeWaitTimeout = 2 * time.Minute

// NewStream starts a fresh, empty Stream for flow with no pool attached.
// Until WithPool attaches one (or when the pool copy fails), buffered
// out-of-order segments are copied with a plain make+copy instead of routed
// through a pooled scratch buffer.
func NewStream(flow FlowKey, policy Policy, maxGap uint32, maxSegments int, now time.Time) *Stream {
	return &Stream{
		ID:             ids.GenerateStreamID(),
		Flow:           flow,
		State:          Closed,
		policy:         policy,
		maxGap:         maxGap,
		maxSegs:        maxSegments,
		segments:       make(map[uint32]Segment),
		CreatedAt:      now,
		StateEnteredAt: now,
	}
}

// WithPool attaches a SegmentPool that subsequent buffered segments will be
// copied through, returning s for chaining.
func (s *Stream) WithPool(pool mempool.SegmentPool) *Stream {
	s.pool = pool
	return s
}

// Accept folds one observed TCP segment into the stream, delivering any
// contiguous in-order payload (including this one, if it extends the
// stream directly) through deliver.
func (s *Stream) Accept(tcp decode.TCPTransport, now time.Time, timestamp uint64, deliver DeliverFunc) {
	if next, changed := nextState(s.State, tcp.Flags); changed {
		s.State = next
		s.StateEnteredAt = now
	}
	s.Stats.recordPacket(len(tcp.Payload), now)

	if len(tcp.Payload) == 0 {
		return
	}

	seq := tcp.Seq
	end := seq + uint32(len(tcp.Payload))

	if !s.initialized {
		s.initialized = true
		s.nextSeq = seq
	}

	// Fully-delivered range: a retransmission of bytes already handed to the
	// caller. Bump the matching buffered segment's retry count if one still
	// happens to be sitting in the map (rare, since in-order delivery frees
	// it), otherwise just count it.
	if IsBefore(seq, s.nextSeq) && !IsAfter(end, s.nextSeq) {
		s.Stats.Retransmissions++
		if existing, ok := s.segments[seq]; ok {
			existing.RetransmitCount++
			existing.LastRetransmit = now
			s.segments[seq] = existing
		}
		return
	}

	if existing, overlapped := s.findOverlap(seq, end); overlapped {
		if !keepExisting(s.policy, existing.Seq, existing.EndSeq, seq, end) {
			delete(s.segments, existing.Seq)
			s.insertSegment(seq, tcp.Payload, now)
		}
		s.Stats.Retransmissions++
		return
	}

	if seq == s.nextSeq {
		s.deliverInOrder(seq, tcp.Payload, now, timestamp, deliver)
		return
	}

	// Out-of-order: seq is after nextSeq, so this segment opens (or widens) a
	// gap, unless it's a retransmitted retry of a span already buffered from
	// an earlier out-of-order arrival.
	if isSacked(s.sackBlocks, seq) {
		s.Stats.Retransmissions++
		return
	}
	gap := Distance(seq, s.nextSeq)
	s.Stats.OutOfOrder++
	if gap > s.maxGap {
		// Too far past nextSeq: counted as a gap and not buffered.
		s.Stats.GapsDetected++
		return
	}
	s.insertSegment(seq, tcp.Payload, now)
	s.sackBlocks = updateSackBlocks(s.sackBlocks, s.nextSeq, SackBlock{StartSeq: seq, EndSeq: end})
	s.evictIfOverCapacity()
}

// findOverlap returns a buffered segment whose range intersects [seq, end),
// if any.
func (s *Stream) findOverlap(seq, end uint32) (Segment, bool) {
	for _, seg := range s.segments {
		if IsBefore(seq, seg.EndSeq) && IsBefore(seg.Seq, end) {
			return seg, true
		}
	}
	return Segment{}, false
}

func (s *Stream) insertSegment(seq uint32, data []byte, now time.Time) {
	var owned []byte
	if s.pool != nil {
		if copied, err := mempool.CopyThroughSegmentPool(s.pool, data); err == nil {
			owned = copied
		}
	}
	if owned == nil {
		owned = make([]byte, len(data))
		copy(owned, data)
	}
	s.segments[seq] = newSegment(seq, owned, now)
}

// deliverInOrder hands payload (already known to start exactly at nextSeq)
// to the caller, then walks the buffered segment map to flush any further
// spans that are now contiguous.
func (s *Stream) deliverInOrder(seq uint32, payload []byte, now time.Time, timestamp uint64, deliver DeliverFunc) {
	deliver(s.Flow, payload, timestamp)
	s.Stats.ReassembledBytes += uint64(len(payload))
	s.nextSeq = seq + uint32(len(payload))

	for {
		seg, ok := s.segments[s.nextSeq]
		if !ok {
			break
		}
		delete(s.segments, seg.Seq)
		deliver(s.Flow, seg.Data, timestamp)
		s.Stats.ReassembledBytes += uint64(len(seg.Data))
		s.nextSeq = seg.EndSeq
	}

	s.sackBlocks = pruneSackBlocks(s.sackBlocks, s.nextSeq)
}

// evictIfOverCapacity drops the oldest buffered out-of-order segment once
// the stream holds more than maxSegs of them, so a stalled gap can't grow
// the map without bound.
func (s *Stream) evictIfOverCapacity() {
	if s.maxSegs <= 0 || len(s.segments) <= s.maxSegs {
		return
	}
	var oldestSeq uint32
	var oldestTime time.Time
	first := true
	for seq, seg := range s.segments {
		if first || seg.ReceivedAt.Before(oldestTime) {
			oldestSeq = seq
			oldestTime = seg.ReceivedAt
			first = false
		}
	}
	delete(s.segments, oldestSeq)
	s.Stats.ReassemblyErrors++
}

// Expired reports whether the stream is due for destruction. TimeWait and
// FinWait2 carry their own fixed timeouts off StateEnteredAt, per the
// documented state table, regardless of the caller-supplied idle timeout;
// every other state — including Closed, which a stream starts in until its
// first SYN is seen and which a genuinely terminated stream never reaches
// here at all, since Process deletes it eagerly — falls back to the generic
// idle check against timeout.
func (s *Stream) Expired(now time.Time, timeout time.Duration) bool {
	switch s.State {
	case TimeWait:
		return now.Sub(s.StateEnteredAt) > timeWaitTimeout
	case FinWait2:
		if now.Sub(s.StateEnteredAt) > finWait2Timeout {
			return true
		}
	}
	if s.Stats.LastSeen.IsZero() {
		return now.Sub(s.CreatedAt) > timeout
	}
	return now.Sub(s.Stats.LastSeen) > timeout
}

// SackBoundaries returns the sorted set of start sequence numbers for SACK
// blocks still outstanding on this stream — gaps that were advertised but
// never filled.
func (s *Stream) SackBoundaries() sets.OrderedSet[uint32] {
	return sackBlockStarts(s.sackBlocks)
}

// PendingBytes returns how many bytes are currently buffered waiting for a
// gap to close. It is a diagnostic only; no health check reads it.
func (s *Stream) PendingBytes() int {
	total := 0
	for _, seg := range s.segments {
		total += len(seg.Data)
	}
	return total
}
