package reassembly_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/netreassemble/netreassemble/decode"
	"github.com/netreassemble/netreassemble/reassembly"
)

// A stream with a filled gap has no outstanding SACK boundaries left.
func TestStreamSackBoundariesEmptyOnceGapFilled(t *testing.T) {
	now := time.Unix(0, 0)
	deliver := func(reassembly.FlowKey, []byte, uint64) {}

	s := reassembly.NewStream(testFlow, reassembly.PolicyWindows, 4096, 64, now)
	s.Accept(tcpWith(1, decode.TCPFlagACK, "hello"), now, 0, deliver)  // nextSeq -> 6
	s.Accept(tcpWith(20, decode.TCPFlagACK, "later"), now, 0, deliver) // gap: buffers [20,25)

	assert.Equal(t, []uint32{20}, s.SackBoundaries().AsSlice())

	s.Accept(tcpWith(6, decode.TCPFlagACK, "xxxxxxxxxxxxxx"), now, 0, deliver) // fills [6,20)
	assert.True(t, s.SackBoundaries().IsEmpty())
}

// A stream that closes while a gap is still open carries the gap's start
// sequence number in its SackBoundaries for the reassembler's shutdown log.
func TestStreamSackBoundariesSurvivesUnfilledGap(t *testing.T) {
	now := time.Unix(0, 0)
	deliver := func(reassembly.FlowKey, []byte, uint64) {}

	s := reassembly.NewStream(testFlow, reassembly.PolicyWindows, 4096, 64, now)
	s.Accept(tcpWith(1, decode.TCPFlagACK, "hello"), now, 0, deliver)
	s.Accept(tcpWith(20, decode.TCPFlagACK, "later"), now, 0, deliver)
	s.Accept(tcpWith(40, decode.TCPFlagACK, "evenlater"), now, 0, deliver)

	assert.Equal(t, []uint32{20, 40}, s.SackBoundaries().AsSlice())
}
