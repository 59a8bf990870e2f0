// Package databuf provides a cancellable, bounded, packetized byte
// pipeline: a single producer side (serialized across any number of
// caller goroutines) feeding a single consumer side, built on top of
// bithread.Ring.
package databuf

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/coreio/bithread/bithread"
	"github.com/coreio/bithread/streamio"
	"github.com/coreio/bithread/token"
)

// Parameters configures the packetization rules and backpressure
// threshold of a Buffer. The zero value packetizes at 1 byte (no
// packetization) and has no required free space.
type Parameters struct {
	InputPacketSize   int `yaml:"input_packet_size"`
	OutputPacketSize  int `yaml:"output_packet_size"`
	RequiredFreeSpace int `yaml:"required_free_space"`
}

// DefaultParameters returns Parameters with both packet sizes set to 1.
func DefaultParameters() Parameters {
	return Parameters{InputPacketSize: 1, OutputPacketSize: 1}
}

func (p Parameters) withDefaults() Parameters {
	if p.InputPacketSize == 0 {
		p.InputPacketSize = 1
	}
	if p.OutputPacketSize == 0 {
		p.OutputPacketSize = 1
	}
	return p
}

// String implements fmt.Stringer for log lines.
func (p Parameters) String() string {
	return fmt.Sprintf("Parameters{input=%d output=%d required_free=%d}",
		p.InputPacketSize, p.OutputPacketSize, p.RequiredFreeSpace)
}

// LoadParameters unmarshals Parameters from YAML, filling in defaults for
// any zero-valued packet size field.
func LoadParameters(data []byte) (Parameters, error) {
	p := DefaultParameters()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Parameters{}, err
	}
	return p.withDefaults(), nil
}

// Buffer is a cancellable, bounded, packetized byte stream. Many producer
// goroutines may call Process concurrently (they are serialized
// internally); Read is expected to be called by a single consumer
// goroutine at a time, per the SPSC contract of the ring underneath.
type Buffer struct {
	discardOnOverflow bool
	params            Parameters
	log               *zap.Logger

	ring *bithread.Ring

	bufferMu  sync.Mutex
	notEmpty  sync.Cond
	notFull   sync.Cond
	writeMu   sync.Mutex

	eod       bool
	exception error

	overflow []streamio.OverflowFunc
}

// New creates a Buffer over a fresh ring of the given storage size, which
// must be a multiple of both packet sizes.
func New(discardOnOverflow bool, size int, params Parameters) (*Buffer, error) {
	params = params.withDefaults()
	if params.InputPacketSize <= 0 || params.OutputPacketSize <= 0 {
		return nil, streamio.ErrArgument
	}
	if size%params.InputPacketSize != 0 || size%params.OutputPacketSize != 0 {
		return nil, streamio.ErrArgument
	}
	if params.RequiredFreeSpace >= size {
		return nil, streamio.ErrArgument
	}

	b := &Buffer{
		discardOnOverflow: discardOnOverflow,
		params:            params,
		log:               zap.NewNop(),
		ring:              bithread.New(size),
	}
	b.notEmpty = *sync.NewCond(&b.bufferMu)
	b.notFull = *sync.NewCond(&b.bufferMu)
	return b, nil
}

// SetLogger installs a structured logger used for overflow/clamp
// warnings. Passing nil restores the no-op logger.
func (b *Buffer) SetLogger(log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	b.log = log
}

// OnOverflow registers fn to be called whenever a Process call drops data
// under discard-on-overflow. Subscribers must not block.
func (b *Buffer) OnOverflow(fn streamio.OverflowFunc) {
	b.bufferMu.Lock()
	defer b.bufferMu.Unlock()
	b.overflow = append(b.overflow, fn)
}

func (b *Buffer) emitOverflow(dropped int) {
	for _, fn := range b.overflow {
		fn(dropped)
	}
}

// Process submits data to the buffer. len(data) must be a multiple of
// InputPacketSize; a caller that violates this has made a format error
// that cannot be retried, so the whole of data is reported consumed
// rather than stalling the pipeline.
//
// Safe for concurrent callers: they are serialized on an internal write
// mutex so the ring beneath still sees a single logical producer.
func (b *Buffer) Process(data []byte, tok token.Token) (int, error) {
	if len(data)%b.params.InputPacketSize != 0 {
		b.log.Error("Process: data size is not a multiple of input packet size",
			zap.Int("size", len(data)), zap.Int("input_packet_size", b.params.InputPacketSize))
		return len(data), nil
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	b.bufferMu.Lock()
	defer b.bufferMu.Unlock()

	w := b.ring.WriteWindow()
	committed := false
	defer func() {
		if !committed {
			_ = b.ring.CommitWrite(0)
		}
	}()

	packetized := w.Len() / b.params.InputPacketSize * b.params.InputPacketSize
	if b.params.RequiredFreeSpace > 0 && b.ring.FreeSize() < b.params.RequiredFreeSpace {
		packetized = 0
	}

	if packetized == 0 {
		if b.discardOnOverflow {
			b.emitOverflow(len(data))
			return len(data), nil
		}

		committed = true
		_ = b.ring.CommitWrite(0)
		token.CondWait(&b.notFull, tok)
		return 0, nil
	}

	writeSize := min(len(data), packetized)

	dst := w.Bytes()[:writeSize]
	b.bufferMu.Unlock()
	copy(dst, data[:writeSize])
	b.bufferMu.Lock()

	if err := b.ring.CommitWrite(writeSize); err != nil {
		return 0, err
	}
	committed = true
	b.notEmpty.Broadcast()

	return writeSize, nil
}

// Read delivers one packetized window to consumer. If no full output
// packet is available yet, Read blocks on not-empty unless end-of-data or
// a latched exception makes that unnecessary.
func (b *Buffer) Read(consumer streamio.DataConsumer, tok token.Token) error {
	b.bufferMu.Lock()
	defer b.bufferMu.Unlock()

	r := b.ring.ReadWindow()
	committed := false
	defer func() {
		if !committed {
			_ = b.ring.CommitRead(0)
		}
	}()

	packetized := r.Len() / b.params.OutputPacketSize * b.params.OutputPacketSize
	if packetized == 0 {
		committed = true
		_ = b.ring.CommitRead(0)

		if b.exception != nil {
			err := b.exception
			b.exception = nil
			b.eod = true
			return err
		}
		if b.eod {
			if r.Len() != 0 {
				b.log.Warn("Read: dropping bytes at end of data", zap.Int("bytes", r.Len()))
			}
			b.bufferMu.Unlock()
			consumer.EndOfData(tok)
			b.bufferMu.Lock()
			return nil
		}

		token.CondWait(&b.notEmpty, tok)
		return nil
	}

	window := r.Bytes()[:packetized]
	b.bufferMu.Unlock()
	processed, err := consumer.Process(window, tok)
	b.bufferMu.Lock()
	if err != nil {
		return err
	}

	if processed == 0 {
		return nil
	}
	if processed%b.params.OutputPacketSize != 0 {
		b.log.Error("Read: processed size is not a multiple of output packet size",
			zap.Int("processed", processed), zap.Int("output_packet_size", b.params.OutputPacketSize))
		processed = packetized
	}

	if err := b.ring.CommitRead(processed); err != nil {
		return err
	}
	committed = true
	b.notFull.Broadcast()
	return nil
}

// WaitForData blocks until DataSize() >= threshold, end-of-data is
// latched, or an exception is latched. threshold must be a positive
// multiple of OutputPacketSize strictly less than the storage size.
func (b *Buffer) WaitForData(threshold int, tok token.Token) error {
	if threshold <= 0 || threshold%b.params.OutputPacketSize != 0 || threshold >= b.ring.Size() {
		return streamio.ErrArgument
	}

	b.bufferMu.Lock()
	defer b.bufferMu.Unlock()

	for b.ring.DataSize() < threshold && !b.eod && b.exception == nil {
		if cancelled := token.CondWait(&b.notEmpty, tok); cancelled {
			return nil
		}
	}
	return nil
}

// SetException latches err as the buffer's producer error. The next Read
// observes it exactly once and thereafter behaves as end-of-data.
func (b *Buffer) SetException(err error) {
	b.bufferMu.Lock()
	defer b.bufferMu.Unlock()
	b.exception = err
	b.notEmpty.Broadcast()
	b.notFull.Broadcast()
}

// EndOfData latches end-of-data: no further bytes will ever arrive.
func (b *Buffer) EndOfData() {
	b.bufferMu.Lock()
	defer b.bufferMu.Unlock()
	b.eod = true
	b.notEmpty.Broadcast()
}

// Clear resets the buffer to empty and clears end-of-data. Must not be
// called concurrently with an in-flight Read or Process.
func (b *Buffer) Clear() {
	b.bufferMu.Lock()
	defer b.bufferMu.Unlock()
	b.ring.Clear()
	b.eod = false
	b.notFull.Broadcast()
}

// DataSize returns the number of committed, unread bytes.
func (b *Buffer) DataSize() int {
	b.bufferMu.Lock()
	defer b.bufferMu.Unlock()
	return b.ring.DataSize()
}

// FreeSize returns the ring's FreeSize, Size()-DataSize()-1. Process can
// fill one byte more than this, so a full buffer reports -1.
func (b *Buffer) FreeSize() int {
	b.bufferMu.Lock()
	defer b.bufferMu.Unlock()
	return b.ring.FreeSize()
}

// StorageSize returns the total ring capacity.
func (b *Buffer) StorageSize() int {
	return b.ring.Size()
}
