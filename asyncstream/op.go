package asyncstream

type opKind int

const (
	opWrite opKind = iota
	opSync
	opStop
)

// writeOp is a single pending write against the backing stream: the bytes
// in data (whose capacity is one page) belong at offset in the
// backing stream. A later Write call may extend data in place if its
// range starts exactly at this op's end and the page still has room —
// that's the whole of the coalescing scheme.
type writeOp struct {
	offset int64
	data   []byte
}

func (w *writeOp) end() int64 { return w.offset + int64(len(w.data)) }

func (w *writeOp) freeSpace() int { return cap(w.data) - len(w.data) }

// queueEntry is one op-queue slot. kind selects which other field is
// meaningful: write for opWrite, seq for opSync, neither for opStop.
type queueEntry struct {
	kind  opKind
	write *writeOp
	seq   int
}
