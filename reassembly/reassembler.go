package reassembly

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/netreassemble/netreassemble/config"
	"github.com/netreassemble/netreassemble/decode"
	"github.com/netreassemble/netreassemble/ids"
	"github.com/netreassemble/netreassemble/mempool"
)

// TcpReassembler owns one shard's worth of TCP streams: a flow table plus
// the aging and capacity eviction that keeps it bounded.
type TcpReassembler struct {
	id ids.ShardID

	mu      sync.Mutex
	streams map[FlowKey]*Stream

	policy      Policy
	maxGap      uint32
	maxStreams  int
	maxSegments int
	timeout     time.Duration
	clock       config.Clock
	pool        mempool.SegmentPool
	log         *logrus.Entry

	deliver DeliverFunc
}

// New returns an empty TcpReassembler configured from opts. deliver is
// called, synchronously and under the reassembler's lock, for every
// contiguous span of stream payload as it becomes deliverable.
func New(opts config.Options, deliver DeliverFunc) *TcpReassembler {
	pool, err := mempool.NewSegmentPool(opts.SegmentPoolChunkSize, opts.SegmentPoolMaxBytes)
	if err != nil {
		pool = nil
	}
	return &TcpReassembler{
		id:          ids.GenerateShardID(),
		streams:     make(map[FlowKey]*Stream),
		policy:      opts.ReassemblyPolicy,
		maxGap:      opts.MaxGap,
		maxStreams:  opts.MaxStreamsPerShard,
		maxSegments: opts.MaxSegmentsPerFlow,
		timeout:     opts.StreamTimeout,
		clock:       opts.Clock,
		pool:        pool,
		log:         opts.Log,
		deliver:     deliver,
	}
}

// ID returns this shard's diagnostic identifier, stable for the shard's
// lifetime and suitable for correlating log lines and metrics across shards.
func (r *TcpReassembler) ID() ids.ShardID {
	return r.id
}

// Process folds one decoded TCP packet into its stream, creating the stream
// on first sight. flow identifies the direction this packet travels.
func (r *TcpReassembler) Process(flow FlowKey, tcp decode.TCPTransport, timestamp uint64) {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	stream, ok := r.streams[flow]
	if !ok {
		if len(r.streams) >= r.maxStreams {
			r.evictOldestLocked()
		}
		stream = NewStream(flow, r.policy, r.maxGap, r.maxSegments, now).WithPool(r.pool)
		r.streams[flow] = stream
		if r.log != nil {
			r.log.WithFields(logrus.Fields{
				"stream": stream.ID.String(),
				"flow":   flow.String(),
			}).Debug("stream created")
		}
	}

	wasClosed := stream.State == Closed
	stream.Accept(tcp, now, timestamp, r.deliver)

	if stream.State == Closed && !wasClosed {
		// A transition into Closed (RST from any state, or the final ACK of
		// the LastAck leg) is terminal: the stream won't see further data.
		// A stream that merely started in the default Closed state (no SYN
		// seen yet, e.g. a mid-capture join) and hasn't moved must not be
		// swept up here. TimeWait, unlike Closed, is left in place to linger
		// and absorb a retransmitted final ACK; it is reaped by
		// CleanupExpired once timeWaitTimeout elapses.
		delete(r.streams, flow)
		if r.log != nil {
			fields := logrus.Fields{"stream": stream.ID.String()}
			if gaps := stream.SackBoundaries(); !gaps.IsEmpty() {
				fields["unresolved_sack_starts"] = gaps
				r.log.WithFields(fields).Warn("stream closed with unresolved SACK gaps")
			} else {
				r.log.WithFields(fields).Debug("stream closed")
			}
		}
	}
}

func (r *TcpReassembler) evictOldestLocked() {
	var oldestFlow FlowKey
	var oldestTime time.Time
	first := true
	for flow, s := range r.streams {
		last := s.Stats.LastSeen
		if last.IsZero() {
			last = s.CreatedAt
		}
		if first || last.Before(oldestTime) {
			oldestFlow = flow
			oldestTime = last
			first = false
		}
	}
	if !first {
		delete(r.streams, oldestFlow)
	}
}

// CleanupExpired drops every stream that has been idle past its timeout,
// returning how many were removed.
func (r *TcpReassembler) CleanupExpired() int {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for flow, s := range r.streams {
		if s.Expired(now, r.timeout) {
			delete(r.streams, flow)
			removed++
		}
	}
	return removed
}

// StreamCount reports how many live streams this shard currently holds.
func (r *TcpReassembler) StreamCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

// Stats aggregates StreamStats across every live stream in the shard.
func (r *TcpReassembler) Stats() StreamStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	var total StreamStats
	for _, s := range r.streams {
		total.PacketCount += s.Stats.PacketCount
		total.ByteCount += s.Stats.ByteCount
		total.ReassembledBytes += s.Stats.ReassembledBytes
		total.Retransmissions += s.Stats.Retransmissions
		total.GapsDetected += s.Stats.GapsDetected
		total.OutOfOrder += s.Stats.OutOfOrder
		total.ReassemblyErrors += s.Stats.ReassemblyErrors
		if s.Stats.LastSeen.After(total.LastSeen) {
			total.LastSeen = s.Stats.LastSeen
		}
	}
	return total
}
