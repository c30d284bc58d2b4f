// Package workerpool dispatches decoded packets to a fixed set of worker
// goroutines, each owning a small bounded mailbox, so that CPU-bound decode
// and reassembly work can run across every core without the hot packet path
// taking a shared lock on every submission.
package workerpool

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/netreassemble/netreassemble/decode"
	"github.com/netreassemble/netreassemble/ids"
)

// ErrShuttingDown is returned by Submit once Shutdown has been called.
type ErrShuttingDown struct{}

func (ErrShuttingDown) Error() string { return "workerpool: pool is shutting down" }

// ErrMailboxFull is returned by Submit when the chosen worker's mailbox is
// saturated; the caller may drop the packet or retry.
type ErrMailboxFull struct{ Worker int }

func (e ErrMailboxFull) Error() string { return "workerpool: worker mailbox full" }

type task struct {
	packet    decode.Packet
	timestamp uint64
	shutdown  bool
}

// Handler processes one decoded packet, using a decoder Context private to
// its own worker goroutine.
type Handler func(ctx *decode.Context, packet decode.Packet, timestamp uint64)

// Pool is a fixed-size set of workers, each with its own bounded mailbox,
// fed round-robin by Submit.
type Pool struct {
	mailboxes []chan task
	workerIDs []ids.WorkerID
	handler   Handler

	next     uint64 // atomically incremented, mod len(mailboxes)
	shutdown int32  // atomic bool

	wg  sync.WaitGroup
	log *logrus.Entry
}

// New starts workerCount worker goroutines, each with a mailbox of size
// mailboxSize, that call handler for every submitted packet. log may be nil.
func New(workerCount, mailboxSize int, handler Handler, log *logrus.Entry) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	p := &Pool{
		mailboxes: make([]chan task, workerCount),
		workerIDs: make([]ids.WorkerID, workerCount),
		handler:   handler,
		log:       log,
	}
	for i := range p.mailboxes {
		p.mailboxes[i] = make(chan task, mailboxSize)
		p.workerIDs[i] = ids.GenerateWorkerID()
		p.wg.Add(1)
		go p.run(i)
	}
	return p
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	ctx := decode.NewContext()
	mailbox := p.mailboxes[id]
	for t := range mailbox {
		if t.shutdown {
			return
		}
		p.handler(ctx, t.packet, t.timestamp)
	}
}

// WorkerID returns the diagnostic identifier of the worker at index i,
// stable for the pool's lifetime.
func (p *Pool) WorkerID(i int) ids.WorkerID {
	return p.workerIDs[i]
}

// Submit assigns packet to the next worker in round-robin order and enqueues
// it. It returns ErrShuttingDown once Shutdown has started, or
// ErrMailboxFull if the chosen worker's mailbox is saturated; it never
// blocks indefinitely.
func (p *Pool) Submit(packet decode.Packet, timestamp uint64) error {
	if atomic.LoadInt32(&p.shutdown) != 0 {
		return ErrShuttingDown{}
	}
	id := int(atomic.AddUint64(&p.next, 1)-1) % len(p.mailboxes)

	select {
	case p.mailboxes[id] <- task{packet: packet, timestamp: timestamp}:
		return nil
	default:
		if p.log != nil {
			p.log.WithField("worker", p.workerIDs[id].String()).Warn("mailbox full, dropping packet")
		}
		return ErrMailboxFull{Worker: id}
	}
}

// Shutdown signals every worker via a Shutdown mailbox message and blocks
// until all workers have drained their mailboxes and exited. Safe to call
// more than once; subsequent calls are no-ops.
func (p *Pool) Shutdown() {
	if !atomic.CompareAndSwapInt32(&p.shutdown, 0, 1) {
		return
	}
	for _, mailbox := range p.mailboxes {
		mailbox <- task{shutdown: true}
	}
	p.wg.Wait()
}

// WorkerCount reports how many workers the pool was started with.
func (p *Pool) WorkerCount() int { return len(p.mailboxes) }
