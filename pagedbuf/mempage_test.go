package pagedbuf

import (
	"github.com/coreio/bithread/streamio"
	"github.com/coreio/bithread/token"
)

// memPage is a fixed-size in-memory streamio.Page used by the tests in
// this package to stand in for a real page cache or mmap segment.
type memPage struct {
	data    []byte
	written int64 // high-water mark: bytes at [written:] were never Written
}

func newMemPageFactory(pageSize int) streamio.PageFactory {
	return func() (streamio.Page, error) {
		return &memPage{data: make([]byte, pageSize)}, nil
	}
}

func (p *memPage) Write(offset int64, data []byte, _ token.Token) (int, error) {
	n := copy(p.data[offset:], data)
	if end := offset + int64(n); end > p.written {
		p.written = end
	}
	return n, nil
}

func (p *memPage) Read(offset int64, consumer streamio.DataConsumer, tok token.Token) (int, error) {
	return consumer.Process(p.data[offset:p.written], tok)
}
