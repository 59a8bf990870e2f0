// Package streamio declares the external-collaborator interfaces consumed
// and exposed by the buffer packages (bithread, bitpipe, databuf,
// packetbuf, pagedbuf, asyncstream): byte streams, byte-data and packet
// consumers, and pages. None of these interfaces define a wire format —
// everything here is in-process.
package streamio

import (
	"io"

	"github.com/coreio/bithread/token"
)

// SeekMode mirrors io.Seeker's whence values by name, for call sites that
// want to stay independent of the io package's integer constants.
type SeekMode int

const (
	SeekBegin   SeekMode = iota // offset from the start
	SeekCurrent                 // offset from the current position
	SeekEnd                     // offset from the end
)

func (m SeekMode) toWhence() int {
	switch m {
	case SeekCurrent:
		return io.SeekCurrent
	case SeekEnd:
		return io.SeekEnd
	default:
		return io.SeekStart
	}
}

// Whence converts m to the standard io.Seeker whence constant.
func (m SeekMode) Whence() int { return m.toWhence() }

// ByteStream is the backing stream an asyncstream.Stream drains its
// coalesced writes into. Short writes are legal; the caller (the
// asyncstream worker) retries the remainder.
type ByteStream interface {
	Write(data []byte, tok token.Token) (int, error)
	Seek(offset int64, mode SeekMode) (int64, error)
	Tell() (int64, error)
}

// Syncer is optionally implemented by a ByteStream to support a durability
// barrier. Streams that don't implement it are treated as always-synced.
type Syncer interface {
	Sync() error
}

// DataConsumer receives packetized byte windows from a databuf.Buffer's
// Read, or from a pagedbuf.Buffer's Read.
type DataConsumer interface {
	// Process consumes as much of window as it can and returns the number
	// of bytes actually consumed. window is only valid for the duration
	// of the call.
	Process(window []byte, tok token.Token) (int, error)
	// EndOfData is called once, in place of Process, when no further
	// bytes will ever arrive.
	EndOfData(tok token.Token)
}

// DataConsumerFunc adapts a plain function to DataConsumer for callers
// that have no end-of-data action to take.
type DataConsumerFunc func(window []byte, tok token.Token) (int, error)

func (f DataConsumerFunc) Process(window []byte, tok token.Token) (int, error) {
	return f(window, tok)
}

func (f DataConsumerFunc) EndOfData(token.Token) {}

// Packet is a single message submitted to or delivered from a
// packetbuf.Buffer, paired with caller-defined metadata.
type Packet[M any] struct {
	Data     []byte
	Metadata M
}

// PacketConsumer receives whole packets from a packetbuf.Buffer's Read.
type PacketConsumer[M any] interface {
	// Process consumes packet in full and reports whether it did so. A
	// false return leaves the packet at the head of the queue for the
	// next Read call.
	Process(packet Packet[M], tok token.Token) (bool, error)
	EndOfData()
}

// OverflowFunc is a subscriber to a buffer's overflow signal: it is
// invoked with the number of bytes dropped by a discard-on-overflow
// Process call. Subscribers must not block.
type OverflowFunc func(bytesDropped int)

// Page is a single fixed-size storage unit consumed by pagedbuf.Buffer.
// Implementations are external collaborators (e.g. a page cache, a
// memory-mapped file segment); pagedbuf only ever addresses a page by a
// within-page offset.
type Page interface {
	Read(offset int64, consumer DataConsumer, tok token.Token) (int, error)
	Write(offset int64, data []byte, tok token.Token) (int, error)
}

// PageFactory creates a new, empty Page of the paged buffer's configured
// page size.
type PageFactory func() (Page, error)
