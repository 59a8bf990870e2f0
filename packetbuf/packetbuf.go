// Package packetbuf provides a cancellable, bounded buffer that preserves
// message boundaries for typed packets, built on bithread.Ring. Unlike
// databuf, each Process call submits exactly one whole packet and each
// Read delivers exactly one whole packet.
package packetbuf

import (
	"sync"

	"go.uber.org/zap"

	"github.com/coreio/bithread/bithread"
	"github.com/coreio/bithread/streamio"
	"github.com/coreio/bithread/token"
)

type descriptor[M any] struct {
	size     int
	metadata M
}

// Buffer is a cancellable, bounded, packet-preserving byte stream. Many
// producer goroutines may call Process concurrently (serialized
// internally); Read is expected to be called by a single consumer
// goroutine, per the ring's SPSC contract.
type Buffer[M any] struct {
	discardOnOverflow bool
	log               *zap.Logger

	ring *bithread.Ring

	bufferMu sync.Mutex
	notEmpty sync.Cond
	notFull  sync.Cond
	writeMu  sync.Mutex

	queue       []descriptor[M]
	paddingSize int
	eod         bool
}

// New creates a Buffer over a fresh ring of the given storage size.
func New[M any](discardOnOverflow bool, size int) (*Buffer[M], error) {
	if size <= 0 {
		return nil, streamio.ErrArgument
	}

	b := &Buffer[M]{
		discardOnOverflow: discardOnOverflow,
		log:               zap.NewNop(),
		ring:              bithread.New(size),
	}
	b.notEmpty = *sync.NewCond(&b.bufferMu)
	b.notFull = *sync.NewCond(&b.bufferMu)
	return b, nil
}

// SetLogger installs a structured logger for overflow/discard warnings.
func (b *Buffer[M]) SetLogger(log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	b.log = log
}

// Process submits one whole packet. packet.Data's size must be at most
// the ring's storage size.
//
// A packet that would wrap around the end of storage is never split: a
// padding region is recorded at the physical end of storage instead, so
// every packet is delivered to the reader as a single contiguous window.
func (b *Buffer[M]) Process(packet streamio.Packet[M], tok token.Token) (bool, error) {
	if len(packet.Data) > b.ring.Size() {
		return false, streamio.ErrArgument
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	b.bufferMu.Lock()
	defer b.bufferMu.Unlock()

	for {
		w := b.ring.WriteWindow()

		padding := 0
		if w.Len() < len(packet.Data) && w.AtBufferEnd() {
			padding = w.Len()
		}

		if b.ring.Size()-b.ring.DataSize() < padding+len(packet.Data) {
			_ = b.ring.CommitWrite(0)

			if b.discardOnOverflow {
				b.log.Warn("Process: overflow, dropping packet", zap.Int("size", len(packet.Data)))
				return true, nil
			}

			token.CondWait(&b.notFull, tok)
			return false, nil
		}

		if padding > 0 {
			b.paddingSize = padding
			if err := b.ring.CommitWrite(padding); err != nil {
				return false, err
			}
			continue
		}

		dst := w.Bytes()[:len(packet.Data)]
		b.bufferMu.Unlock()
		copy(dst, packet.Data)
		b.bufferMu.Lock()

		b.queue = append(b.queue, descriptor[M]{size: len(packet.Data), metadata: packet.Metadata})
		if err := b.ring.CommitWrite(len(packet.Data)); err != nil {
			return false, err
		}
		b.notEmpty.Broadcast()
		return true, nil
	}
}

// Read delivers exactly one whole packet to consumer, or end-of-data once
// the queue has drained and no more packets will arrive.
func (b *Buffer[M]) Read(consumer streamio.PacketConsumer[M], tok token.Token) error {
	b.bufferMu.Lock()
	defer b.bufferMu.Unlock()

	if len(b.queue) == 0 {
		if b.eod {
			b.bufferMu.Unlock()
			consumer.EndOfData()
			b.bufferMu.Lock()
			return nil
		}
		token.CondWait(&b.notEmpty, tok)
		return nil
	}

	r := b.ring.ReadWindow()
	committed := false
	defer func() {
		if !committed {
			_ = b.ring.CommitRead(0)
		}
	}()

	if r.Len() == b.paddingSize && b.paddingSize > 0 && r.AtBufferEnd() {
		if err := b.ring.CommitRead(b.paddingSize); err != nil {
			return err
		}
		b.paddingSize = 0
		r = b.ring.ReadWindow()
	}

	head := b.queue[0]
	if head.size > r.Len() {
		return streamio.ErrOutOfRange
	}

	window := r.Bytes()[:head.size]
	b.bufferMu.Unlock()
	processed, err := consumer.Process(streamio.Packet[M]{Data: window, Metadata: head.metadata}, tok)
	b.bufferMu.Lock()
	if err != nil {
		return err
	}
	if !processed {
		return nil
	}

	if err := b.ring.CommitRead(head.size); err != nil {
		return err
	}
	committed = true
	b.queue = b.queue[1:]
	b.notFull.Broadcast()
	return nil
}

// EndOfData latches end-of-data: no further packets will arrive.
func (b *Buffer[M]) EndOfData() {
	b.bufferMu.Lock()
	defer b.bufferMu.Unlock()
	b.eod = true
	b.notEmpty.Broadcast()
}

// Clear resets the buffer to empty, dropping any queued packets.
func (b *Buffer[M]) Clear() {
	b.bufferMu.Lock()
	defer b.bufferMu.Unlock()
	b.queue = nil
	b.paddingSize = 0
	b.ring.Clear()
	b.notFull.Broadcast()
}

// DataSize returns the number of committed, unread bytes (including any
// unread padding).
func (b *Buffer[M]) DataSize() int {
	b.bufferMu.Lock()
	defer b.bufferMu.Unlock()
	return b.ring.DataSize()
}

// FreeSize returns the ring's FreeSize, Size()-DataSize()-1: one less than
// the unwritten space Process may use, so a full buffer reports -1.
func (b *Buffer[M]) FreeSize() int {
	b.bufferMu.Lock()
	defer b.bufferMu.Unlock()
	return b.ring.FreeSize()
}

// StorageSize returns the total ring capacity.
func (b *Buffer[M]) StorageSize() int {
	return b.ring.Size()
}
