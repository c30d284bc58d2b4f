// Package config holds the runtime knobs shared by the decode, defrag,
// reassembly, workerpool and pipeline packages, following the functional
// options pattern: every tunable is expressed as an Option applied over
// Default().
package config

import (
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/netreassemble/netreassemble/defrag"
	"github.com/netreassemble/netreassemble/reassembly"
)

const (
	DefaultStreamTimeout        = 30 * time.Second
	DefaultMaxStreamsPerShard   = 1000
	DefaultMaxSegmentsPerFlow   = 100
	DefaultMaxGap               = 1024
	DefaultFragmentTimeout      = 30 * time.Second
	DefaultMaxFragmentGroups    = 10000
	DefaultCleanupInterval      = 60 * time.Second
	DefaultLoadBalanceInterval  = 1 * time.Second
	DefaultStreamMemoryCap      = 10 * 1024 * 1024
	DefaultWorkerMailboxSize    = 100
	DefaultSegmentPoolChunkSize = 4096
	DefaultSegmentPoolMaxBytes  = 64 * 1024 * 1024
)

// Options collects every runtime knob named in the external interface
// table. A zero Options is not valid; always start from Default().
type Options struct {
	// ShardCount is the number of TcpReassembler shards. Defaults to the
	// host's CPU count.
	ShardCount int

	// StreamTimeout is the idle duration after which a TCP flow is evicted.
	StreamTimeout time.Duration

	// MaxStreamsPerShard caps resident flows in one shard; the oldest is
	// evicted on overflow.
	MaxStreamsPerShard int

	// MaxSegmentsPerFlow caps buffered out-of-order segments per flow; the
	// oldest is evicted on overflow.
	MaxSegmentsPerFlow int

	// MaxGap is the largest acceptable distance, in bytes, between next_seq
	// and an out-of-order segment's seq. A segment further ahead is not
	// buffered and is counted in the stream's GapsDetected.
	MaxGap uint32

	// StreamMemoryCap is carried in Options, but no component reads it:
	// buffered bytes per stream are not capped, and per-stream buffering is
	// bounded only by MaxSegmentsPerFlow.
	StreamMemoryCap int

	// FragmentTimeout is the IP fragment group TTL.
	FragmentTimeout time.Duration

	// MaxFragmentGroups caps concurrently tracked fragment groups.
	MaxFragmentGroups int

	// ReassemblyPolicy resolves TCP segment overlap.
	ReassemblyPolicy reassembly.Policy

	// FragmentPolicy resolves IP fragment overlap.
	FragmentPolicy defrag.FragmentPolicy

	// CleanupInterval is the period of the shard cleanup background loop.
	CleanupInterval time.Duration

	// LoadBalanceInterval is the period of the shard load-balance monitor.
	LoadBalanceInterval time.Duration

	// WorkerCount sizes the WorkerPool. Defaults to the host's CPU count.
	WorkerCount int

	// WorkerMailboxSize bounds each worker's MPSC mailbox.
	WorkerMailboxSize int

	// SegmentPoolChunkSize is the chunk size, in bytes, used by the pooled
	// segment/fragment buffer allocator.
	SegmentPoolChunkSize int64

	// SegmentPoolMaxBytes caps the pool's total backing storage.
	SegmentPoolMaxBytes int64

	// Clock is the time source used for aging and eviction. Defaults to the
	// system clock; tests substitute a FixedClock.
	Clock Clock

	// Log receives the pipeline's diagnostic logging (dropped packets,
	// shutdown, load imbalance). Nil means a discard logger.
	Log *logrus.Entry
}

// Default returns the baseline Options; every field matches the runtime
// knobs table's documented default.
func Default() Options {
	cpus := runtime.NumCPU()
	if cpus < 1 {
		cpus = 1
	}
	return Options{
		ShardCount:           cpus,
		StreamTimeout:        DefaultStreamTimeout,
		MaxStreamsPerShard:   DefaultMaxStreamsPerShard,
		MaxSegmentsPerFlow:   DefaultMaxSegmentsPerFlow,
		MaxGap:               DefaultMaxGap,
		StreamMemoryCap:      DefaultStreamMemoryCap,
		FragmentTimeout:      DefaultFragmentTimeout,
		MaxFragmentGroups:    DefaultMaxFragmentGroups,
		ReassemblyPolicy:     reassembly.PolicyWindows,
		FragmentPolicy:       defrag.PolicyFirst,
		CleanupInterval:      DefaultCleanupInterval,
		LoadBalanceInterval:  DefaultLoadBalanceInterval,
		WorkerCount:          cpus,
		WorkerMailboxSize:    DefaultWorkerMailboxSize,
		SegmentPoolChunkSize: DefaultSegmentPoolChunkSize,
		SegmentPoolMaxBytes:  DefaultSegmentPoolMaxBytes,
		Clock:                RealClock(),
	}
}

// Option mutates an Options in place.
type Option func(*Options)

// New builds Options by applying opts over Default().
func New(opts ...Option) Options {
	o := Default()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func WithShardCount(n int) Option {
	return func(o *Options) { o.ShardCount = n }
}

func WithStreamTimeout(d time.Duration) Option {
	return func(o *Options) { o.StreamTimeout = d }
}

func WithMaxStreamsPerShard(n int) Option {
	return func(o *Options) { o.MaxStreamsPerShard = n }
}

func WithMaxSegmentsPerFlow(n int) Option {
	return func(o *Options) { o.MaxSegmentsPerFlow = n }
}

func WithMaxGap(n uint32) Option {
	return func(o *Options) { o.MaxGap = n }
}

func WithStreamMemoryCap(n int) Option {
	return func(o *Options) { o.StreamMemoryCap = n }
}

func WithFragmentTimeout(d time.Duration) Option {
	return func(o *Options) { o.FragmentTimeout = d }
}

func WithMaxFragmentGroups(n int) Option {
	return func(o *Options) { o.MaxFragmentGroups = n }
}

func WithReassemblyPolicy(p reassembly.Policy) Option {
	return func(o *Options) { o.ReassemblyPolicy = p }
}

func WithFragmentPolicy(p defrag.FragmentPolicy) Option {
	return func(o *Options) { o.FragmentPolicy = p }
}

func WithCleanupInterval(d time.Duration) Option {
	return func(o *Options) { o.CleanupInterval = d }
}

func WithLoadBalanceInterval(d time.Duration) Option {
	return func(o *Options) { o.LoadBalanceInterval = d }
}

func WithWorkerCount(n int) Option {
	return func(o *Options) { o.WorkerCount = n }
}

func WithWorkerMailboxSize(n int) Option {
	return func(o *Options) { o.WorkerMailboxSize = n }
}

func WithSegmentPool(chunkSizeBytes, maxPoolSizeBytes int64) Option {
	return func(o *Options) {
		o.SegmentPoolChunkSize = chunkSizeBytes
		o.SegmentPoolMaxBytes = maxPoolSizeBytes
	}
}

func WithClock(c Clock) Option {
	return func(o *Options) { o.Clock = c }
}

func WithLog(log *logrus.Entry) Option {
	return func(o *Options) { o.Log = log }
}
