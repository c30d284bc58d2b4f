package defrag

import (
	"time"

	"golang.org/x/exp/slices"

	"github.com/netreassemble/netreassemble/ids"
)

// Key identifies a fragment group. Protocol is deliberately not part of the
// key: fragment groups are per-IP-datagram-identity, not per-protocol.
type Key struct {
	SourceIP       uint32
	DestIP         uint32
	Identification uint16
}

// Group collects the fragments of one in-flight IP datagram.
type Group struct {
	ID       ids.FragmentGroupID
	Key      Key
	Protocol uint8
	Policy   FragmentPolicy

	fragments map[uint16]Fragment // keyed by Offset8
	lastSeen  time.Time
}

func newGroup(key Key, protocol uint8, policy FragmentPolicy, now time.Time) *Group {
	return &Group{
		ID:        ids.GenerateFragmentGroupID(),
		Key:       key,
		Protocol:  protocol,
		Policy:    policy,
		fragments: make(map[uint16]Fragment),
		lastSeen:  now,
	}
}

func (g *Group) touch(now time.Time) { g.lastSeen = now }

func (g *Group) expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(g.lastSeen) > timeout
}

// sortedOffsets returns the fragment offsets in ascending order.
func (g *Group) sortedOffsets() []uint16 {
	offsets := make([]uint16, 0, len(g.fragments))
	for off := range g.fragments {
		offsets = append(offsets, off)
	}
	slices.Sort(offsets)
	return offsets
}

// addFragment inserts frag into the group, resolving any overlap per the
// group's policy. Returns whether the fragment was kept (inserted or
// replaced an existing one) and whether it overlapped an existing fragment.
func (g *Group) addFragment(frag Fragment) (inserted, overlapped bool) {
	if existing, ok := g.fragments[frag.Offset8]; ok {
		// Exact same offset: policy decides which of the two survives.
		switch g.Policy {
		case PolicyFirst:
			return false, true
		case PolicyLast:
			g.fragments[frag.Offset8] = frag
			return true, true
		case PolicyLongest:
			if len(frag.Data) > len(existing.Data) {
				g.fragments[frag.Offset8] = frag
				return true, true
			}
			return false, true
		default:
			return false, true
		}
	}

	var overlapping []uint16
	for off, existing := range g.fragments {
		if frag.overlapsWith(existing) {
			overlapping = append(overlapping, off)
		}
	}

	if len(overlapping) == 0 {
		g.fragments[frag.Offset8] = frag
		return true, false
	}

	switch g.Policy {
	case PolicyFirst:
		return false, true
	case PolicyLast:
		for _, off := range overlapping {
			delete(g.fragments, off)
		}
		g.fragments[frag.Offset8] = frag
		return true, true
	case PolicyLongest:
		for _, off := range overlapping {
			if len(frag.Data) <= len(g.fragments[off].Data) {
				return false, true
			}
		}
		for _, off := range overlapping {
			delete(g.fragments, off)
		}
		g.fragments[frag.Offset8] = frag
		return true, true
	default:
		return false, true
	}
}

// complete reports whether the group's fragments form one contiguous
// datagram with exactly one terminal (MoreFragments == false) fragment.
func (g *Group) complete() bool {
	if len(g.fragments) == 0 {
		return false
	}

	offsets := g.sortedOffsets()
	if offsets[0] != 0 {
		return false
	}

	terminals := 0
	expected := uint16(0)
	for _, off := range offsets {
		if off != expected {
			return false
		}
		frag := g.fragments[off]
		if !frag.MoreFragments {
			terminals++
		}
		expected = off + uint16((len(frag.Data)+7)/8)
	}
	last := g.fragments[offsets[len(offsets)-1]]
	return terminals == 1 && !last.MoreFragments
}

// reassemble copies every fragment's bytes into a single contiguous buffer.
// The caller must have already confirmed complete().
func (g *Group) reassemble() ([]byte, error) {
	if !g.complete() {
		return nil, ErrInvalidFragment
	}

	offsets := g.sortedOffsets()

	var totalLength uint32
	for _, off := range offsets {
		frag := g.fragments[off]
		if end := frag.byteEnd(); end > totalLength {
			totalLength = end
		}
	}

	out := make([]byte, totalLength)
	for _, off := range offsets {
		frag := g.fragments[off]
		start := frag.byteStart()
		end := start + uint32(len(frag.Data))
		if end > uint32(len(out)) {
			return nil, ErrInvalidFragment
		}
		copy(out[start:end], frag.Data)
	}
	return out, nil
}
