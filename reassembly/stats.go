package reassembly

import "time"

// StreamStats is the per-flow counter set, also aggregated globally by
// ShardedTcpReassembler.
type StreamStats struct {
	PacketCount uint64
	ByteCount   uint64

	// ReassembledBytes counts bytes handed to deliver as a contiguous,
	// in-order span — distinct from ByteCount, which counts every observed
	// payload byte including ones still sitting in the out-of-order buffer
	// waiting for a gap to close. Diagnostic only; it never affects
	// delivery semantics.
	ReassembledBytes uint64

	Retransmissions  uint64
	GapsDetected     uint64
	OutOfOrder       uint64
	ReassemblyErrors uint64
	LastSeen         time.Time
}

func (s *StreamStats) recordPacket(byteCount int, now time.Time) {
	s.PacketCount++
	s.ByteCount += uint64(byteCount)
	s.LastSeen = now
}
