// Package bitpipe provides a one-shot, zero-copy rendezvous pipe: a
// writer publishes a buffer, a single reader copies out of it, and the
// writer is released once the copy completes. Unlike databuf/packetbuf,
// Pipe has no steady-state storage of its own — it exists for adapter
// layers that hand a single producer's buffer to a single consumer
// without paying for a ring.
package bitpipe

import (
	"sync"

	"github.com/coreio/bithread/token"
)

// Pipe is safe for one writer and one reader to transact through at a
// time; a second concurrent Write or Read is a caller bug (the design
// mirrors the ring's single-producer/single-consumer contract, not a
// general-purpose multi-writer channel).
type Pipe struct {
	mu          sync.Mutex
	writerReady sync.Cond
	readerDone  sync.Cond

	busy    bool
	pending []byte
	copied  int
}

// New creates an empty Pipe ready for a Write/Read transaction.
func New() *Pipe {
	p := &Pipe{}
	p.writerReady = *sync.NewCond(&p.mu)
	p.readerDone = *sync.NewCond(&p.mu)
	return p
}

// Write publishes data and blocks until a reader has copied
// min(len(data), requested-by-reader) bytes out of it, or tok fires.
// Returns the number of bytes the reader copied.
func (p *Pipe) Write(data []byte, tok token.Token) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.busy {
		if cancelled := token.CondWait(&p.writerReady, tok); cancelled {
			return 0, nil
		}
	}

	p.busy = true
	p.pending = data
	p.copied = 0
	p.writerReady.Broadcast()

	for p.pending != nil {
		if cancelled := token.CondWait(&p.readerDone, tok); cancelled {
			p.pending = nil
			p.busy = false
			return 0, nil
		}
	}

	n := p.copied
	p.busy = false
	p.writerReady.Broadcast()
	return n, nil
}

// Read blocks until a writer has published a buffer, copies
// min(len(out), published length) bytes into out, and releases the
// writer. Returns the number of bytes copied.
func (p *Pipe) Read(out []byte, tok token.Token) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.pending == nil {
		if cancelled := token.CondWait(&p.writerReady, tok); cancelled {
			return 0, nil
		}
	}

	n := copy(out, p.pending)
	p.copied = n
	p.pending = nil
	p.readerDone.Broadcast()
	return n, nil
}
