// Package defrag reassembles fragmented IPv4 datagrams. Fragment groups are
// keyed by (source_ip, dest_ip, identification); protocol is deliberately
// excluded from the key, since fragment groups are per-datagram-identity.
package defrag

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/netreassemble/netreassemble/config"
	"github.com/netreassemble/netreassemble/decode"
	"github.com/netreassemble/netreassemble/mempool"
	"github.com/netreassemble/netreassemble/sets"
)

// MaxFragmentGroups is the default cap on concurrently tracked groups.
const MaxFragmentGroups = 10000

// fragmentableProtocols holds the IP protocol numbers the defragmenter will
// track fragment groups for; anything else is rejected by validFragment.
var fragmentableProtocols = sets.NewSet(uint8(6), uint8(17)) // TCP, UDP

// FragmentTimeout is the default group TTL.
const FragmentTimeout = 30 * time.Second

// Defragmenter collects IP fragments into whole decoded packets.
type Defragmenter struct {
	mu        sync.Mutex
	groups    map[Key]*Group
	policy    FragmentPolicy
	maxGroups int
	timeout   time.Duration
	clock     config.Clock

	stats stats
	pool  mempool.SegmentPool
	log   *logrus.Entry

	stop chan struct{}
	once sync.Once
}

// New builds a Defragmenter from opts.
func New(opts config.Options) *Defragmenter {
	clock := opts.Clock
	if clock == nil {
		clock = config.RealClock()
	}
	pool, err := mempool.NewSegmentPool(opts.SegmentPoolChunkSize, opts.SegmentPoolMaxBytes)
	if err != nil {
		// Falls back to a single-chunk pool sized to the configured cap; the
		// only ways MakeBufferPool errors are a non-positive chunk size or a
		// cap smaller than the chunk size, which Default() never produces.
		pool, _ = mempool.NewSegmentPool(opts.SegmentPoolMaxBytes, opts.SegmentPoolMaxBytes)
	}
	return &Defragmenter{
		groups:    make(map[Key]*Group),
		policy:    opts.FragmentPolicy,
		maxGroups: opts.MaxFragmentGroups,
		timeout:   opts.FragmentTimeout,
		clock:     clock,
		pool:      pool,
		log:       opts.Log,
		stop:      make(chan struct{}),
	}
}

// Process folds one decoded packet into the defragmenter. Non-fragment
// packets pass through unchanged. A nil packet and nil error means no
// datagram was completed: either the fragment was added to a group that is
// still incomplete, or it was dropped (it failed validation, or lost an
// overlap under the group's policy).
func (d *Defragmenter) Process(packet decode.Packet) (*decode.Packet, error) {
	if !packet.IPHeader.IsFragment() {
		return &packet, nil
	}

	if !d.validFragment(packet) {
		return nil, nil
	}

	now := d.clock.Now()
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cleanupExpiredLocked(now)

	key := Key{
		SourceIP:       packet.IPHeader.SourceIP,
		DestIP:         packet.IPHeader.DestIP,
		Identification: packet.IPHeader.Identification,
	}

	group, exists := d.groups[key]
	if !exists {
		if len(d.groups) >= d.maxGroups {
			return nil, ErrTooManyFragments
		}
		group = newGroup(key, packet.IPHeader.Protocol, d.policy, now)
		d.groups[key] = group
	}

	payload, err := mempool.CopyThroughSegmentPool(d.pool, packet.Transport.Payload())
	if err != nil {
		return nil, errors.Wrap(ErrReassemblyFailed, err.Error())
	}

	frag := Fragment{
		Offset8:       packet.IPHeader.FragmentOffset,
		Data:          payload,
		MoreFragments: packet.IPHeader.MoreFragments,
		ReceivedAt:    now,
	}

	d.stats.addFragment(len(frag.Data))

	inserted, overlapped := group.addFragment(frag)
	if overlapped {
		d.stats.addOverlap()
	}
	if !inserted {
		return nil, nil
	}

	group.touch(now)

	if !group.complete() {
		return nil, nil
	}

	data, err := group.reassemble()
	if err != nil {
		return nil, err
	}
	delete(d.groups, key)

	d.stats.addReassembled()
	if d.log != nil {
		d.log.WithFields(logrus.Fields{
			"group": group.ID.String(),
			"bytes": len(data),
		}).Debug("fragment group reassembled")
	}

	reassembled := reassembledPacket(packet, data)
	return &reassembled, nil
}

func (d *Defragmenter) validFragment(packet decode.Packet) bool {
	if uint32(packet.IPHeader.FragmentOffset)*8 > MaxFragmentSize {
		return false
	}
	if len(packet.Payload) > MaxFragmentSize {
		return false
	}
	return fragmentableProtocols.Contains(packet.IPHeader.Protocol)
}

// cleanupExpiredLocked drops fragment groups idle longer than d.timeout.
// Callers must hold d.mu.
func (d *Defragmenter) cleanupExpiredLocked(now time.Time) {
	var expired int64
	for key, group := range d.groups {
		if group.expired(now, d.timeout) {
			delete(d.groups, key)
			expired++
		}
	}
	d.stats.addExpired(expired)
}

// RunAging starts the background 1-second aging loop described in the
// external interface; it returns immediately and stops when Shutdown is
// called. Safe to call at most once.
func (d *Defragmenter) RunAging() {
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.mu.Lock()
				d.cleanupExpiredLocked(d.clock.Now())
				d.mu.Unlock()
			case <-d.stop:
				return
			}
		}
	}()
}

// Shutdown stops the background aging loop, if running.
func (d *Defragmenter) Shutdown() {
	d.once.Do(func() { close(d.stop) })
}

// Stats returns a point-in-time snapshot of the defragmenter's counters.
func (d *Defragmenter) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats.snapshot(len(d.groups))
}

// Clear drops every in-flight fragment group.
func (d *Defragmenter) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.groups = make(map[Key]*Group)
}

func reassembledPacket(original decode.Packet, data []byte) decode.Packet {
	out := original
	out.IPHeader.FragmentOffset = 0
	out.IPHeader.MoreFragments = false
	out.IPHeader.TotalLength = uint16(20 + len(data))
	out.Payload = data

	switch original.IPHeader.Protocol {
	case 6:
		out.Transport = decode.Transport{Kind: decode.TransportTCP, TCP: decode.TCPTransport{Payload: data}}
	case 17:
		out.Transport = decode.Transport{Kind: decode.TransportUDP, UDP: decode.UDPTransport{Payload: data}}
	}
	return out
}
