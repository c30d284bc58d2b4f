// Package pipeline wires the Decoder, IpDefragmenter, WorkerPool and
// ShardedTcpReassembler into the single call a packet capture source drives:
// one frame and a capture timestamp in, zero or more ordered byte spans out
// through the caller's callback.
package pipeline

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/netreassemble/netreassemble/config"
	"github.com/netreassemble/netreassemble/decode"
	"github.com/netreassemble/netreassemble/defrag"
	"github.com/netreassemble/netreassemble/reassembly"
	"github.com/netreassemble/netreassemble/workerpool"
)

// OnReassembled is invoked for every contiguous span of TCP payload as soon
// as it becomes available, and once per UDP datagram. The contract is
// at-most-once per contiguous byte range; callers must not assume any
// particular chunking and must not retain data past the call.
type OnReassembled func(flow reassembly.FlowKey, data []byte, timestamp uint64)

// Pipeline is the entry point a packet capture source drives. It owns a
// Defragmenter, a WorkerPool and a ShardedTcpReassembler, and is safe for
// concurrent use by multiple capture goroutines.
type Pipeline struct {
	defragmenter  *defrag.Defragmenter
	workers       *workerpool.Pool
	reassembler   *reassembly.ShardedTcpReassembler
	onReassembled OnReassembled

	// decodeMu guards decodeCtx, which accumulates decode statistics across
	// every call to ProcessPacket regardless of which capture goroutine made
	// it; decode.Context itself is documented non-thread-safe.
	decodeMu  sync.Mutex
	decodeCtx *decode.Context

	log *logrus.Entry
}

// New builds a Pipeline from opts. onReassembled is shared across shards and
// workers; it must be safe for concurrent use. opts.Log may be nil, in which
// case a logger whose output is discarded is used.
func New(opts config.Options, onReassembled OnReassembled) *Pipeline {
	log := opts.Log
	if log == nil {
		log = discardLogger()
	}

	reassembler := reassembly.NewSharded(opts, reassembly.DeliverFunc(onReassembled))

	p := &Pipeline{
		defragmenter:  defrag.New(opts),
		reassembler:   reassembler,
		onReassembled: onReassembled,
		decodeCtx:     decode.NewContext(),
		log:           log,
	}

	p.workers = workerpool.New(opts.WorkerCount, opts.WorkerMailboxSize, p.dispatch, log)
	return p
}

// Run starts the pipeline's background loops: fragment-group aging, shard
// cleanup and the shard load-balance monitor. Call Shutdown to stop them.
func (p *Pipeline) Run() {
	p.defragmenter.RunAging()
	p.reassembler.Run()
}

// Shutdown stops every background loop and blocks until the worker pool has
// drained. Safe to call once; a second call is a no-op beyond its
// component's own idempotence.
func (p *Pipeline) Shutdown() {
	p.workers.Shutdown()
	p.defragmenter.Shutdown()
	p.reassembler.Shutdown()
}

// ProcessPacket decodes one captured frame and feeds it through
// defragmentation, worker dispatch and TCP reassembly. It returns an error
// only for a malformed frame or a resource-exhaustion condition (too many
// concurrent fragment groups, a saturated worker mailbox); an incomplete
// fragment group or a fragment that fails validation is not an error, it is
// simply not yet ready to deliver.
func (p *Pipeline) ProcessPacket(frame []byte, timestamp uint64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.WithField("panic", r).Error("recovered from panic while processing packet")
			err = fmt.Errorf("pipeline: panic processing packet: %v", r)
		}
	}()

	p.decodeMu.Lock()
	pkt, decodeErr := decode.Decode(p.decodeCtx, frame, timestamp)
	p.decodeMu.Unlock()
	if decodeErr != nil {
		return decodeErr
	}

	wasFragment := pkt.IPHeader.IsFragment()

	complete, fragErr := p.defragmenter.Process(pkt)
	if fragErr != nil {
		return fragErr
	}
	if complete == nil {
		// Fragment buffered into its group; nothing further to do until the
		// group completes or ages out.
		return nil
	}

	if wasFragment {
		transport, transportErr := decode.DecodeTransport(complete.IPHeader.Protocol, complete.Payload)
		if transportErr != nil {
			return transportErr
		}
		complete.Transport = transport
	}

	if submitErr := p.workers.Submit(*complete, timestamp); submitErr != nil {
		return submitErr
	}
	return nil
}

// dispatch is the WorkerPool's Handler: it routes a fully decoded packet to
// the sharded TCP reassembler, or delivers a UDP datagram directly, since
// UDP has no ordering or reassembly state of its own.
func (p *Pipeline) dispatch(_ *decode.Context, pkt decode.Packet, timestamp uint64) {
	switch pkt.Transport.Kind {
	case decode.TransportTCP:
		p.reassembler.Process(pkt, timestamp)
	case decode.TransportUDP:
		flow := reassembly.FlowKey{
			SrcIP:   pkt.IPHeader.SourceIP,
			DstIP:   pkt.IPHeader.DestIP,
			SrcPort: pkt.Transport.UDP.SrcPort,
			DstPort: pkt.Transport.UDP.DstPort,
		}
		p.onReassembled(flow, pkt.Transport.UDP.Payload, timestamp)
	}
}

// Stats aggregates TCP reassembly counters across every shard.
func (p *Pipeline) Stats() reassembly.StreamStats {
	return p.reassembler.Stats()
}

// DefragStats returns a point-in-time snapshot of the defragmenter's
// counters.
func (p *Pipeline) DefragStats() defrag.Stats {
	return p.defragmenter.Stats()
}

// DecodeStats returns a point-in-time snapshot of the decode counters
// accumulated across every call to ProcessPacket.
func (p *Pipeline) DecodeStats() decode.Stats {
	p.decodeMu.Lock()
	defer p.decodeMu.Unlock()
	return p.decodeCtx.Stats()
}

// Healthy reports whether every TCP reassembly shard is within its
// MaxStreamsPerShard capacity, suitable for a liveness/readiness probe.
func (p *Pipeline) Healthy() bool {
	return p.reassembler.Healthy()
}

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(nullWriter{})
	return logrus.NewEntry(l)
}

type nullWriter struct{}

func (nullWriter) Write(b []byte) (int, error) { return len(b), nil }
