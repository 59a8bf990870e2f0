// Package bithread provides a single-producer/single-consumer zero-copy
// ring buffer with contiguous read/write windows.
//
// # Thread Safety
//
// Ring does no locking of its own and is not safe for unsynchronized
// concurrent use: WriteWindow/CommitWrite read the read offset, and both
// CommitWrite and CommitRead flip the shared contiguous flag. Every call
// must therefore be made under a mutex held by the caller; databuf and
// packetbuf are exactly that wrapper.
//
// # The contiguous flag
//
// A ring with read offset equal to write offset is ambiguous: it could be
// empty or completely full. Rather than reserve a byte of capacity to
// break the tie, Ring tracks an explicit contiguous flag that flips every
// time an offset wraps past the end of storage. This is also what lets
// WriteWindow/ReadWindow hand back a single contiguous slice instead of
// making every caller special-case the wrap.
package bithread

import "github.com/coreio/bithread/streamio"

// Ring is a fixed-capacity byte ring. The zero value is not usable; use
// New.
type Ring struct {
	storage []byte

	writeOff int
	readOff  int

	// contiguous is true when data occupies storage[readOff:writeOff]
	// (readOff <= writeOff). It is false when data wraps: storage[readOff:]
	// followed by storage[:writeOff].
	contiguous bool

	// writerOut/readerOut catch a caller that takes a second window
	// before committing the first — a bug, not a race, since Ring has a
	// single producer and a single consumer by contract.
	writerOut bool
	readerOut bool
}

// New creates a Ring with the given storage capacity in bytes. All size
// bytes can be written: a full ring and an empty ring both have
// readOff == writeOff and are told apart by contiguous.
func New(size int) *Ring {
	return &Ring{
		storage:    make([]byte, size),
		contiguous: true,
	}
}

// NewFromStorage builds a Ring over caller-supplied storage instead of
// allocating its own. The ring takes ownership of storage for its
// lifetime: the caller must not touch it afterwards.
func NewFromStorage(storage []byte) *Ring {
	return &Ring{storage: storage, contiguous: true}
}

// Size returns the total storage capacity.
func (r *Ring) Size() int { return len(r.storage) }

// DataSize returns the number of committed, unread bytes.
func (r *Ring) DataSize() int {
	if r.contiguous {
		return r.writeOff - r.readOff
	}
	return len(r.storage) - r.readOff + r.writeOff
}

// FreeSize returns Size()-DataSize()-1: the unwritten space less one byte
// of headroom for layered callers. The ring itself lets the writer fill
// that last byte too, so a full ring reports -1.
func (r *Ring) FreeSize() int {
	return len(r.storage) - r.DataSize() - 1
}

// Window is a non-owning view into a Ring's storage, valid until the
// matching Commit call. A Window must not be retained past its commit.
type Window struct {
	ring *Ring
	data []byte
	end  int // offset into ring.storage immediately past data
}

// Bytes returns the window's backing slice. For a write window this is
// mutable; for a read window callers must treat it as read-only even
// though Go cannot enforce that at the type level.
func (w Window) Bytes() []byte { return w.data }

// Len returns the number of bytes in the window.
func (w Window) Len() int { return len(w.data) }

// AtBufferEnd reports whether this window sits at the physical end of the
// ring's storage — the case packetbuf must special-case to keep a packet
// contiguous (it cannot let a single packet wrap).
func (w Window) AtBufferEnd() bool {
	return w.end == len(w.ring.storage)
}

// WriteWindow returns the largest contiguous unwritten region starting at
// the current write offset. Panics if a write window is already
// outstanding (single-producer contract violation — a caller bug).
func (r *Ring) WriteWindow() Window {
	if r.writerOut {
		panic("bithread: WriteWindow called with a write window already outstanding")
	}

	var size int
	if r.contiguous {
		size = len(r.storage) - r.writeOff
	} else {
		size = r.readOff - r.writeOff
	}

	r.writerOut = true
	end := r.writeOff + size
	return Window{ring: r, data: r.storage[r.writeOff:end], end: end}
}

// CommitWrite advances the write offset by n, which must be at most the
// size of the most recently issued write window. When the advance lands
// exactly on the storage boundary, the offset wraps to zero and the
// contiguous flag flips.
func (r *Ring) CommitWrite(n int) error {
	if !r.writerOut {
		panic("bithread: CommitWrite called without an outstanding write window")
	}
	r.writerOut = false

	maxSize := len(r.storage) - r.writeOff
	if r.contiguous {
		// full window size already computed above
	} else {
		maxSize = r.readOff - r.writeOff
	}
	if n < 0 || n > maxSize {
		return streamio.ErrOutOfRange
	}

	r.writeOff += n
	if r.writeOff == len(r.storage) {
		r.writeOff = 0
		r.contiguous = !r.contiguous
	}
	return nil
}

// ReadWindow returns the largest contiguous unread region starting at the
// current read offset. Panics if a read window is already outstanding.
func (r *Ring) ReadWindow() Window {
	if r.readerOut {
		panic("bithread: ReadWindow called with a read window already outstanding")
	}

	var size int
	if r.contiguous {
		size = r.writeOff - r.readOff
	} else {
		size = len(r.storage) - r.readOff
	}

	r.readerOut = true
	end := r.readOff + size
	return Window{ring: r, data: r.storage[r.readOff:end], end: end}
}

// CommitRead advances the read offset by n, symmetric to CommitWrite.
func (r *Ring) CommitRead(n int) error {
	if !r.readerOut {
		panic("bithread: CommitRead called without an outstanding read window")
	}
	r.readerOut = false

	var maxSize int
	if r.contiguous {
		maxSize = r.writeOff - r.readOff
	} else {
		maxSize = len(r.storage) - r.readOff
	}
	if n < 0 || n > maxSize {
		return streamio.ErrOutOfRange
	}

	r.readOff += n
	if r.readOff == len(r.storage) {
		r.readOff = 0
		r.contiguous = !r.contiguous
	}
	return nil
}

// Clear resets the ring to empty. The caller must guarantee no
// outstanding window and no concurrent access.
func (r *Ring) Clear() {
	r.writeOff = 0
	r.readOff = 0
	r.contiguous = true
	r.writerOut = false
	r.readerOut = false
}
