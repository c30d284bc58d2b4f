package reassembly_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/netreassemble/netreassemble/decode"
	"github.com/netreassemble/netreassemble/reassembly"
)

func tcpWith(seq uint32, flags uint8, payload string) decode.TCPTransport {
	return decode.TCPTransport{
		SrcPort: 1234,
		DstPort: 80,
		Seq:     seq,
		Flags:   flags,
		Payload: []byte(payload),
	}
}

var testFlow = reassembly.FlowKey{SrcIP: 1, DstIP: 2, SrcPort: 1234, DstPort: 80}

// S3: an out-of-order segment is buffered and flushed once the gap closes.
func TestStreamS3OutOfOrderDelivery(t *testing.T) {
	now := time.Unix(0, 0)
	var delivered []string
	deliver := func(flow reassembly.FlowKey, data []byte, timestamp uint64) {
		delivered = append(delivered, string(data))
	}

	s := reassembly.NewStream(testFlow, reassembly.PolicyWindows, 4096, 64, now)
	s.Accept(tcpWith(1, decode.TCPFlagACK, "world"), now, 0, deliver) // arrives first, seq 1 out of order relative to nothing buffered yet
	assert.Equal(t, []string{"world"}, delivered)                    // seq==nextSeq on a fresh stream: delivered immediately

	delivered = nil
	s2 := reassembly.NewStream(testFlow, reassembly.PolicyWindows, 4096, 64, now)
	s2.Accept(tcpWith(10, decode.TCPFlagACK, "world"), now, 0, deliver) // establishes nextSeq baseline at 10, delivered
	s2.Accept(tcpWith(20, decode.TCPFlagACK, "later"), now, 0, deliver) // gap: seq 20 while nextSeq is 15
	assert.Equal(t, []string{"world"}, delivered)
	assert.Equal(t, uint64(1), s2.Stats.OutOfOrder)

	delivered = nil
	s2.Accept(tcpWith(15, decode.TCPFlagACK, "mid12"), now, 0, deliver) // fills the gap, should flush both
	assert.Equal(t, []string{"mid12", "later"}, delivered)
}

// S4: a retransmission of already-delivered bytes is counted, not redelivered.
func TestStreamS4Retransmission(t *testing.T) {
	now := time.Unix(0, 0)
	var delivered []string
	deliver := func(flow reassembly.FlowKey, data []byte, timestamp uint64) {
		delivered = append(delivered, string(data))
	}

	s := reassembly.NewStream(testFlow, reassembly.PolicyWindows, 4096, 64, now)
	s.Accept(tcpWith(1, decode.TCPFlagACK, "hello"), now, 0, deliver)
	s.Accept(tcpWith(1, decode.TCPFlagACK, "hello"), now, 0, deliver)

	assert.Equal(t, []string{"hello"}, delivered)
	assert.Equal(t, uint64(1), s.Stats.Retransmissions)
	assert.Equal(t, uint64(2), s.Stats.PacketCount)
}

// S5: a gap wider than MaxGap is flagged via GapsDetected.
func TestStreamS5GapExceedsMaxGap(t *testing.T) {
	now := time.Unix(0, 0)
	deliver := func(reassembly.FlowKey, []byte, uint64) {}

	s := reassembly.NewStream(testFlow, reassembly.PolicyWindows, 4, 64, now)
	s.Accept(tcpWith(1, decode.TCPFlagACK, "ab"), now, 0, deliver)    // nextSeq becomes 3
	s.Accept(tcpWith(100, decode.TCPFlagACK, "xy"), now, 0, deliver) // gap of 97, over maxGap of 4

	assert.Equal(t, uint64(1), s.Stats.GapsDetected)
	assert.Equal(t, uint64(1), s.Stats.OutOfOrder)
}

// S6: two independent flows on the same reassembler never cross-deliver.
func TestReassemblerS6MultiFlowIndependence(t *testing.T) {
	now := time.Unix(0, 0)
	type delivery struct {
		flow reassembly.FlowKey
		data string
	}
	var delivered []delivery
	deliver := func(flow reassembly.FlowKey, data []byte, timestamp uint64) {
		delivered = append(delivered, delivery{flow, string(data)})
	}

	flowA := reassembly.FlowKey{SrcIP: 1, DstIP: 2, SrcPort: 1111, DstPort: 80}
	flowB := reassembly.FlowKey{SrcIP: 3, DstIP: 4, SrcPort: 2222, DstPort: 443}

	r := reassembly.New(testOptions(now), deliver)
	r.Process(flowA, tcpWith(1, decode.TCPFlagACK, "fromA"), 0)
	r.Process(flowB, tcpWith(1, decode.TCPFlagACK, "fromB"), 0)

	assert.Len(t, delivered, 2)
	seen := map[reassembly.FlowKey]string{}
	for _, d := range delivered {
		seen[d.flow] = d.data
	}
	assert.Equal(t, "fromA", seen[flowA])
	assert.Equal(t, "fromB", seen[flowB])
}

// ReassembledBytes counts only bytes actually flushed in order, not bytes
// still parked in the out-of-order buffer waiting for a gap to close.
func TestStreamReassembledBytesExcludesBufferedGap(t *testing.T) {
	now := time.Unix(0, 0)
	deliver := func(reassembly.FlowKey, []byte, uint64) {}

	s := reassembly.NewStream(testFlow, reassembly.PolicyWindows, 4096, 64, now)
	s.Accept(tcpWith(1, decode.TCPFlagACK, "hello"), now, 0, deliver)    // delivered immediately: 5 bytes
	s.Accept(tcpWith(20, decode.TCPFlagACK, "later"), now, 0, deliver)   // gap: buffered, not yet reassembled

	assert.Equal(t, uint64(5), s.Stats.ReassembledBytes)
	assert.Equal(t, uint64(10), s.Stats.ByteCount)

	s.Accept(tcpWith(6, decode.TCPFlagACK, "xxxxxxxxxxxxxx"), now, 0, deliver) // fills the gap, flushes the buffered span
	assert.Equal(t, uint64(5+14+5), s.Stats.ReassembledBytes)
}

// Invariant: wrap-aware sequence comparison treats 0 as after 0xFFFFFFFF.
func TestSeqCompareWraps(t *testing.T) {
	assert.Greater(t, reassembly.Compare(0, 0xFFFFFFFF), 0)
	assert.Less(t, reassembly.Compare(0xFFFFFFFF, 0), 0)
}

// Invariant: overlapping buffered segments are resolved by the stream's
// configured Policy rather than always favoring whichever arrived second.
func TestStreamOverlapPolicyFirstKeepsExisting(t *testing.T) {
	now := time.Unix(0, 0)
	deliver := func(reassembly.FlowKey, []byte, uint64) {}

	s := reassembly.NewStream(testFlow, reassembly.PolicyFirst, 4096, 64, now)
	s.Accept(tcpWith(1, decode.TCPFlagACK, "xxxxx"), now, 0, deliver)  // delivered, nextSeq becomes 6
	s.Accept(tcpWith(20, decode.TCPFlagACK, "zzzzz"), now, 0, deliver) // gap, buffered at [20,25)
	s.Accept(tcpWith(18, decode.TCPFlagACK, "yyyyy"), now, 0, deliver) // overlaps [20,25): PolicyFirst keeps it

	assert.Equal(t, uint64(1), s.Stats.Retransmissions)
	assert.Equal(t, uint64(1), s.Stats.OutOfOrder)
}
