package reassembly

import "github.com/netreassemble/netreassemble/sets"

// SackBlock is one advertised non-contiguous received range on a TCP flow.
type SackBlock struct {
	StartSeq uint32
	EndSeq   uint32
}

func (b SackBlock) empty() bool { return b.StartSeq == b.EndSeq }

// contains reports whether seq falls inside the block.
func (b SackBlock) contains(seq uint32) bool {
	if b.empty() {
		return false
	}
	return !IsBefore(seq, b.StartSeq) && IsBefore(seq, b.EndSeq)
}

// pruneSackBlocks drops every block fully below lastAck without adding a new
// one, so an in-order flush that closes a previously-buffered gap removes
// its stale block immediately rather than waiting on the next out-of-order
// arrival to prune it.
func pruneSackBlocks(blocks [4]SackBlock, lastAck uint32) [4]SackBlock {
	var out [4]SackBlock
	i := 0
	for _, b := range blocks {
		if b.empty() || !IsAfter(b.EndSeq, lastAck) {
			continue
		}
		out[i] = b
		i++
	}
	return out
}

// updateSackBlocks clears blocks fully below lastAck and merges the new
// block into any adjacent existing block, following the original's "up to
// four blocks, merge adjacent, drop fully-acked" policy.
func updateSackBlocks(blocks [4]SackBlock, lastAck uint32, newBlock SackBlock) [4]SackBlock {
	pruned := pruneSackBlocks(blocks, lastAck)

	var kept []SackBlock
	merged := false
	for _, b := range pruned {
		if b.empty() {
			continue
		}
		if !merged && b.EndSeq == newBlock.StartSeq {
			b.EndSeq = newBlock.EndSeq
			merged = true
		} else if !merged && newBlock.EndSeq == b.StartSeq {
			b.StartSeq = newBlock.StartSeq
			merged = true
		}
		kept = append(kept, b)
	}
	if !merged {
		kept = append(kept, newBlock)
	}

	var out [4]SackBlock
	start := 0
	if len(kept) > 4 {
		start = len(kept) - 4
	}
	copy(out[:], kept[start:])
	return out
}

// isSacked reports whether seq is covered by any of the stream's SACK
// blocks; a segment falling in a SACK block is treated as delivery-equivalent
// to in-order for the purposes of walking the segment map.
func isSacked(blocks [4]SackBlock, seq uint32) bool {
	for _, b := range blocks {
		if b.contains(seq) {
			return true
		}
	}
	return false
}

// sackBlockStarts returns the sorted set of start sequence numbers for every
// non-empty SACK block still held. A stream that closes with this non-empty
// never got a retransmission that filled one of its advertised gaps, which
// is worth surfacing on shutdown rather than silently dropping the buffered
// segments. sets.OrderedSet's sorted-slice JSON marshaling keeps the set
// legible in a structured log field without a manual sort at the call site.
func sackBlockStarts(blocks [4]SackBlock) sets.OrderedSet[uint32] {
	starts := sets.NewOrderedSet[uint32]()
	for _, b := range blocks {
		if !b.empty() {
			starts.Insert(b.StartSeq)
		}
	}
	return starts
}
