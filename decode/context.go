package decode

// Stats holds per-kind packet counters accumulated over the lifetime of a
// Context. Field names follow the original decode_context counters:
// ethernet/ipv4/tcp/udp packet counts plus a running error count.
type Stats struct {
	EthernetPackets int
	IPv4Packets     int
	TCPPackets      int
	UDPPackets      int
	Errors          int
}

// Context is a caller-owned, non-thread-safe accumulator passed into Decode.
// Each decoding goroutine should own its own Context (or use a thread-local
// one); Context itself does no locking.
type Context struct {
	stats  Stats
	errors []string
}

// NewContext returns an empty Context.
func NewContext() *Context {
	return &Context{}
}

// Stats returns a snapshot of the counters accumulated so far.
func (c *Context) Stats() Stats {
	return c.stats
}

// Errors returns the human-readable error strings recorded so far, in the
// order they were recorded. Purely diagnostic; does not affect control flow.
func (c *Context) Errors() []string {
	out := make([]string, len(c.errors))
	copy(out, c.errors)
	return out
}

func (c *Context) recordError(err error) {
	c.stats.Errors++
	if err != nil {
		c.errors = append(c.errors, err.Error())
	}
}
