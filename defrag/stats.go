package defrag

import "sync/atomic"

// stats holds the running counters behind atomic primitives. The counters
// themselves are read without the group-table lock; Defragmenter.Stats still
// takes that lock to read the current group count.
type stats struct {
	totalFragments      int64
	totalLength         int64
	expiredGroups       int64
	reassembledPackets  int64
	overlappingFragments int64
}

// Stats is a point-in-time snapshot of a defragmenter's counters, mirroring
// the original implementation's DefragStatsSnapshot field names.
type Stats struct {
	TotalFragments       int64
	TotalLength          int64
	ExpiredGroups        int64
	CurrentGroups        int64
	ReassembledPackets   int64
	OverlappingFragments int64
}

func (s *stats) addFragment(length int) {
	atomic.AddInt64(&s.totalFragments, 1)
	atomic.AddInt64(&s.totalLength, int64(length))
}

func (s *stats) addExpired(n int64) {
	if n > 0 {
		atomic.AddInt64(&s.expiredGroups, n)
	}
}

func (s *stats) addReassembled() {
	atomic.AddInt64(&s.reassembledPackets, 1)
}

func (s *stats) addOverlap() {
	atomic.AddInt64(&s.overlappingFragments, 1)
}

func (s *stats) snapshot(currentGroups int) Stats {
	return Stats{
		TotalFragments:       atomic.LoadInt64(&s.totalFragments),
		TotalLength:          atomic.LoadInt64(&s.totalLength),
		ExpiredGroups:        atomic.LoadInt64(&s.expiredGroups),
		CurrentGroups:        int64(currentGroups),
		ReassembledPackets:   atomic.LoadInt64(&s.reassembledPackets),
		OverlappingFragments: atomic.LoadInt64(&s.overlappingFragments),
	}
}
