package asyncstream

import (
	"sync"

	"github.com/coreio/bithread/streamio"
	"github.com/coreio/bithread/token"
)

// memStream is an in-memory streamio.ByteStream used as a backing store
// in this package's tests.
type memStream struct {
	mu     sync.Mutex
	data   []byte
	pos    int64
	synced int
}

func newMemStream() *memStream { return &memStream{} }

func (m *memStream) Write(data []byte, _ token.Token) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	end := m.pos + int64(len(data))
	if end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	n := copy(m.data[m.pos:], data)
	m.pos += int64(n)
	return n, nil
}

func (m *memStream) Seek(offset int64, mode streamio.SeekMode) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch mode {
	case streamio.SeekCurrent:
		m.pos += offset
	case streamio.SeekEnd:
		m.pos = int64(len(m.data)) + offset
	default:
		m.pos = offset
	}
	return m.pos, nil
}

func (m *memStream) Tell() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos, nil
}

func (m *memStream) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.synced++
	return nil
}

func (m *memStream) contents() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}
