// Package pagedbuf provides an unbounded, seekable byte buffer backed by a
// sequence of fixed-size pages handed out by a caller-supplied factory
// (e.g. a page cache or memory-mapped segment). Unlike the ring-backed
// buffers, pagedbuf never blocks a writer: Push always grows the buffer.
package pagedbuf

import (
	"sync"

	"go.uber.org/zap"

	"github.com/coreio/bithread/streamio"
	"github.com/coreio/bithread/token"
)

// Buffer is a growable, seekable byte stream made of fixed-size pages.
// Push appends; Read drains sequentially from an internal read cursor
// that Seek can reposition; Pop discards a prefix, freeing pages that
// fall entirely before it.
//
// One Read call may be in flight at a time; Push and Read run under
// independent locks and may proceed concurrently.
type Buffer struct {
	pageSize int64
	factory  streamio.PageFactory
	log      *zap.Logger

	writeMu sync.Mutex

	mu            sync.Mutex
	pages         []streamio.Page
	startOffset   int64 // offset of the oldest retained byte within pages[0]
	currentOffset int64 // absolute read cursor, measured from pages[0]'s start
	tailSize      int64 // unused bytes at the end of the last page
	activeRead    bool
}

// New creates a Buffer whose pages are produced by factory, each of the
// given size.
func New(pageSize int64, factory streamio.PageFactory) (*Buffer, error) {
	if pageSize <= 0 || factory == nil {
		return nil, streamio.ErrArgument
	}
	return &Buffer{
		pageSize: pageSize,
		factory:  factory,
		log:      zap.NewNop(),
	}, nil
}

// SetLogger installs a structured logger. Passing nil restores the no-op
// logger.
func (b *Buffer) SetLogger(log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	b.log = log
}

// Push appends data to the buffer, allocating new pages as needed. It
// never blocks on space; the buffer grows to fit.
func (b *Buffer) Push(data []byte, tok token.Token) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	b.mu.Lock()
	if len(b.pages) == 0 && b.tailSize != 0 {
		b.mu.Unlock()
		return streamio.ErrArgument
	}

	offset := 0

	if b.tailSize > 0 {
		tailPage := b.pages[len(b.pages)-1]
		toWrite := min(int(b.tailSize), len(data))
		b.mu.Unlock()

		written, err := tailPage.Write(b.pageSize-b.tailSize, data[offset:offset+toWrite], tok)
		if err != nil {
			return err
		}
		if written != toWrite {
			return streamio.ErrShortPageWrite
		}

		b.mu.Lock()
		b.tailSize -= int64(toWrite)
		offset += toWrite
	}

	var newPages []streamio.Page
	newTailSize := b.tailSize
	b.mu.Unlock()

	for offset < len(data) {
		page, err := b.factory()
		if err != nil {
			return err
		}

		toWrite := min(int(b.pageSize), len(data)-offset)
		written, err := page.Write(0, data[offset:offset+toWrite], tok)
		if err != nil {
			return err
		}
		if written != toWrite {
			return streamio.ErrShortPageWrite
		}

		newPages = append(newPages, page)
		newTailSize = b.pageSize - int64(toWrite)
		offset += toWrite
	}

	b.mu.Lock()
	b.pages = append(b.pages, newPages...)
	b.tailSize = newTailSize
	b.mu.Unlock()
	return nil
}

// Read delivers one page's worth of data, starting at the read cursor, to
// consumer. It is a no-op (not end-of-data) when the cursor has caught up
// with the write frontier; callers poll or layer their own wait.
func (b *Buffer) Read(consumer streamio.DataConsumer, tok token.Token) error {
	b.mu.Lock()
	if b.activeRead {
		b.mu.Unlock()
		return streamio.ErrArgument
	}
	b.activeRead = true
	defer func() {
		b.mu.Lock()
		b.activeRead = false
		b.mu.Unlock()
	}()

	storageEnd := b.pageSize*int64(len(b.pages)) - b.tailSize
	if b.currentOffset >= storageEnd {
		b.log.Warn("Read: no-op, cursor has caught up with the write frontier",
			zap.Int64("current_offset", b.currentOffset))
		b.mu.Unlock()
		return nil
	}

	pageIdx := b.currentOffset / b.pageSize
	pageOffset := b.currentOffset % b.pageSize
	page := b.pages[pageIdx]
	before := b.currentOffset
	b.mu.Unlock()

	processed, err := page.Read(pageOffset, consumer, tok)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.currentOffset == before {
		b.currentOffset += int64(processed)
	}
	b.mu.Unlock()
	return nil
}

// Seek repositions the read cursor to offset bytes past the oldest
// retained (un-popped) byte.
func (b *Buffer) Seek(offset int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	storageSize := b.pageSize*int64(len(b.pages)) - b.startOffset - b.tailSize
	if offset < 0 || offset > storageSize {
		return streamio.ErrOutOfRange
	}
	b.currentOffset = b.startOffset + offset
	return nil
}

// Pop discards the first size bytes of retained data, freeing any pages
// that fall entirely before the new start.
func (b *Buffer) Pop(size int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	storageSize := b.pageSize*int64(len(b.pages)) - b.startOffset - b.tailSize
	if size < 0 || size > storageSize {
		return streamio.ErrOutOfRange
	}

	newStart := b.startOffset + size
	newCurrent := max(newStart, b.currentOffset)

	popped := 0
	for newStart >= b.pageSize {
		popped++
		newStart -= b.pageSize
		newCurrent -= b.pageSize
	}
	if popped > 0 {
		b.pages = b.pages[popped:]
	}
	b.startOffset = newStart
	b.currentOffset = newCurrent
	return nil
}

// StorageSize returns the number of retained bytes from the oldest
// un-popped byte to the write frontier.
func (b *Buffer) StorageSize() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pageSize*int64(len(b.pages)) - b.startOffset - b.tailSize
}

// UnreadSize returns the number of retained bytes from the read cursor to
// the write frontier.
func (b *Buffer) UnreadSize() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pageSize*int64(len(b.pages)) - b.currentOffset - b.tailSize
}
