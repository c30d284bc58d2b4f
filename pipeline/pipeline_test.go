package pipeline_test

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netreassemble/netreassemble/config"
	"github.com/netreassemble/netreassemble/pipeline"
	"github.com/netreassemble/netreassemble/reassembly"
)

func ipv4Header(totalLength, id, flagsOffset uint16, protocol uint8) []byte {
	b := make([]byte, 20)
	b[0] = 0x45
	binary.BigEndian.PutUint16(b[2:4], totalLength)
	binary.BigEndian.PutUint16(b[4:6], id)
	binary.BigEndian.PutUint16(b[6:8], flagsOffset)
	b[8] = 64
	b[9] = protocol
	binary.BigEndian.PutUint32(b[12:16], 0xC0A80001)
	binary.BigEndian.PutUint32(b[16:20], 0xC0A80002)
	return b
}

func ethernetFrame(ipPacket []byte) []byte {
	eth := make([]byte, 14)
	binary.BigEndian.PutUint16(eth[12:14], 0x0800)
	return append(eth, ipPacket...)
}

func tcpSegment(srcPort, dstPort uint16, seq uint32, flags uint8, payload []byte) []byte {
	b := make([]byte, 20+len(payload))
	binary.BigEndian.PutUint16(b[0:2], srcPort)
	binary.BigEndian.PutUint16(b[2:4], dstPort)
	binary.BigEndian.PutUint32(b[4:8], seq)
	b[12] = 5 << 4
	b[13] = flags
	copy(b[20:], payload)
	return b
}

func udpSegment(srcPort, dstPort uint16, payload []byte) []byte {
	b := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint16(b[0:2], srcPort)
	binary.BigEndian.PutUint16(b[2:4], dstPort)
	binary.BigEndian.PutUint16(b[4:6], uint16(8+len(payload)))
	copy(b[8:], payload)
	return b
}

func testOpts() config.Options {
	return config.New(
		config.WithShardCount(2),
		config.WithWorkerCount(2),
		config.WithWorkerMailboxSize(16),
	)
}

// TestPipelineDeliversSimpleTCPSegment exercises the non-fragment fast path:
// one TCP segment, decoded once, dispatched through the worker pool, and
// delivered by the sharded reassembler.
func TestPipelineDeliversSimpleTCPSegment(t *testing.T) {
	var mu sync.Mutex
	var delivered []byte

	onReassembled := func(flow reassembly.FlowKey, data []byte, timestamp uint64) {
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, data...)
	}

	p := pipeline.New(testOpts(), onReassembled)
	p.Run()
	defer p.Shutdown()

	payload := []byte("hello")
	tcp := tcpSegment(1234, 80, 1, 0x18, payload)
	ip := ipv4Header(uint16(20+len(tcp)), 0, 0, 6)
	frame := ethernetFrame(append(ip, tcp...))

	require.NoError(t, p.ProcessPacket(frame, 0))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delivered) == len(payload)
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, payload, delivered)
	mu.Unlock()
}

// TestPipelineReassemblesFragmentedTCPSegment exercises the full leaves-first
// path: two IP fragments carrying one TCP segment between them must be
// defragmented and re-decoded (the "Decoder second pass") before the TCP
// payload is delivered.
func TestPipelineReassemblesFragmentedTCPSegment(t *testing.T) {
	var mu sync.Mutex
	var delivered []byte

	onReassembled := func(flow reassembly.FlowKey, data []byte, timestamp uint64) {
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, data...)
	}

	p := pipeline.New(testOpts(), onReassembled)
	p.Run()
	defer p.Shutdown()

	payload := []byte("fragmented-tcp-payload")
	tcp := tcpSegment(1111, 2222, 1, 0x18, payload)

	// Split after 16 bytes (a multiple of 8, as required of every fragment
	// but the last) so the second fragment's offset is a whole 8-byte unit.
	const splitAt = 16
	first := tcp[:splitAt]
	second := tcp[splitAt:]

	ipFirst := ipv4Header(uint16(20+len(first)), 77, 0x2000, 6) // MF=1, offset 0
	frameFirst := ethernetFrame(append(ipFirst, first...))

	ipSecond := ipv4Header(uint16(20+len(second)), 77, uint16(splitAt/8), 6) // MF=0
	frameSecond := ethernetFrame(append(ipSecond, second...))

	require.NoError(t, p.ProcessPacket(frameFirst, 0))
	require.NoError(t, p.ProcessPacket(frameSecond, 0))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delivered) == len(payload)
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, payload, delivered)
	mu.Unlock()
}

func TestPipelineDeliversUDPDatagram(t *testing.T) {
	var mu sync.Mutex
	var gotFlow reassembly.FlowKey
	var gotData []byte

	onReassembled := func(flow reassembly.FlowKey, data []byte, timestamp uint64) {
		mu.Lock()
		defer mu.Unlock()
		gotFlow = flow
		gotData = append([]byte(nil), data...)
	}

	p := pipeline.New(testOpts(), onReassembled)
	p.Run()
	defer p.Shutdown()

	payload := []byte("dgram")
	udp := udpSegment(5353, 53, payload)
	ip := ipv4Header(uint16(20+len(udp)), 0, 0, 17)
	frame := ethernetFrame(append(ip, udp...))

	require.NoError(t, p.ProcessPacket(frame, 0))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(gotData) == len(payload)
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, payload, gotData)
	assert.Equal(t, uint16(5353), gotFlow.SrcPort)
	assert.Equal(t, uint16(53), gotFlow.DstPort)
	mu.Unlock()
}

func TestPipelineRejectsEmptyFrame(t *testing.T) {
	p := pipeline.New(testOpts(), func(reassembly.FlowKey, []byte, uint64) {})
	p.Run()
	defer p.Shutdown()

	err := p.ProcessPacket(nil, 0)
	assert.Error(t, err)
}
