// Package asyncstream provides a write-through coalescing facade over a
// seekable backing stream. Writes return as soon as they are queued; a
// single worker goroutine applies them to the backing stream in
// submission order, merging adjacent small writes into shared pages
// bounded by a configured memory budget.
package asyncstream

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coreio/bithread/streamio"
	"github.com/coreio/bithread/token"
)

// Stream is a byte_stream facade: it accepts bursty writes, returns
// quickly, and commits them durably to the backing stream on a single
// worker. Reads are not supported.
type Stream struct {
	id   uuid.UUID
	sink streamio.ByteStream
	log  *zap.Logger

	mu       sync.Mutex
	notFull  sync.Cond
	notEmpty sync.Cond
	syncCond sync.Cond

	cfg Config

	position int64
	length   int64

	queue     []queueEntry
	allocated int

	exception error

	syncNext int
	syncDone int

	stats Stats

	done chan struct{}
}

// New creates a Stream writing through to sink, starts its worker
// goroutine, and returns immediately.
func New(sink streamio.ByteStream, cfg Config) (*Stream, error) {
	if sink == nil {
		return nil, streamio.ErrArgument
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	s := &Stream{
		id:   uuid.New(),
		sink: sink,
		log:  zap.NewNop(),
		cfg:  cfg,
		done: make(chan struct{}),
	}
	s.notFull = *sync.NewCond(&s.mu)
	s.notEmpty = *sync.NewCond(&s.mu)
	s.syncCond = *sync.NewCond(&s.mu)

	go s.run()
	return s, nil
}

// ID returns this stream's correlation id, stable for its lifetime. It is
// included in the stream's own log lines and is useful for tying a
// caller's logging to the worker's when multiple streams share a sink
// (see Config.SubStreamsHint).
func (s *Stream) ID() uuid.UUID { return s.id }

// SetLogger installs a structured logger. Passing nil restores the no-op
// logger.
func (s *Stream) SetLogger(log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	s.mu.Lock()
	s.log = log
	s.mu.Unlock()
}

// Write queues data for delivery to the backing stream at the stream's
// current position and advances the position by the number of bytes
// accepted. A short return means only a prefix of data was queued; the
// caller resubmits the remainder.
func (s *Stream) Write(data []byte, tok token.Token) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exception != nil {
		return 0, s.exception
	}

	position := s.position

	if n := s.tryMerge(position, data); n > 0 {
		s.advance(position, n)
		return n, nil
	}

	for s.allocated >= s.cfg.maxPages() {
		if s.exception != nil {
			return 0, s.exception
		}
		if cancelled := token.CondWait(&s.notFull, tok); cancelled {
			return 0, nil
		}
	}
	if s.exception != nil {
		return 0, s.exception
	}

	pageSize := int(s.cfg.PageSize)
	copyLen := min(len(data), pageSize)
	buf := make([]byte, copyLen, pageSize)
	copy(buf, data[:copyLen])

	s.queue = append(s.queue, queueEntry{kind: opWrite, write: &writeOp{offset: position, data: buf}})
	s.allocated++
	s.stats.Appended++
	s.notEmpty.Broadcast()

	s.advance(position, copyLen)
	return copyLen, nil
}

// tryMerge scans the trailing run of write ops, bounded by
// MergeablePagesHint, for one ending exactly at position with free page
// space, and appends as much of data as fits. Returns the number of bytes
// merged, 0 if no op qualified.
func (s *Stream) tryMerge(position int64, data []byte) int {
	hint := s.cfg.MergeablePagesHint
	if hint <= 0 {
		hint = len(s.queue)
	}

	scanned := 0
	for i := len(s.queue) - 1; i >= 0 && scanned < hint; i-- {
		entry := s.queue[i]
		if entry.kind != opWrite {
			break
		}
		scanned++

		w := entry.write
		if w.end() != position {
			if w.offset < position+int64(len(data)) && position < w.end() {
				// Merging into an older op would let this later,
				// overlapping op overwrite the new bytes.
				s.stats.FoundButIntersects++
				break
			}
			continue
		}

		free := w.freeSpace()
		if free == 0 {
			s.stats.FoundButFull++
			continue
		}

		n := min(free, len(data))
		w.data = append(w.data, data[:n]...)
		s.stats.FoundForMerge++
		return n
	}

	s.stats.NotAppended++
	return 0
}

func (s *Stream) advance(position int64, n int) {
	s.position = position + int64(n)
	if end := position + int64(n); end > s.length {
		s.length = end
	}
}

// Seek repositions the write cursor. It never drains the op queue;
// subsequent writes post ops at the new offset.
func (s *Stream) Seek(offset int64, mode streamio.SeekMode) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next int64
	switch mode {
	case streamio.SeekCurrent:
		next = s.position + offset
	case streamio.SeekEnd:
		next = s.length + offset
	default:
		next = offset
	}
	if next < 0 {
		return s.position, streamio.ErrOutOfRange
	}
	s.position = next
	return s.position, nil
}

// Tell returns the current write cursor.
func (s *Stream) Tell() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position, nil
}

// Sync enqueues a barrier and blocks until every write submitted before
// it has completed on the backing stream (or until cancellation or a
// latched exception).
func (s *Stream) Sync(tok token.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exception != nil {
		return s.exception
	}

	s.syncNext++
	seq := s.syncNext
	s.queue = append(s.queue, queueEntry{kind: opSync, seq: seq})
	s.notEmpty.Broadcast()

	for s.syncDone < seq && s.exception == nil {
		if cancelled := token.CondWait(&s.syncCond, tok); cancelled {
			return nil
		}
	}
	return s.exception
}

// Reconfigure replaces the stream's configuration. Pages already queued
// keep their original size; only future allocations observe the change.
func (s *Stream) Reconfigure(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.notFull.Broadcast()
	return nil
}

// Stats returns a snapshot of the stream's coalescing and worker counters.
func (s *Stream) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close stops the worker after draining any ops already queued and waits
// for it to exit. Ops queued concurrently with Close may be abandoned.
func (s *Stream) Close() {
	s.mu.Lock()
	s.queue = append(s.queue, queueEntry{kind: opStop})
	s.notEmpty.Broadcast()
	s.mu.Unlock()
	<-s.done
}

func (s *Stream) run() {
	defer close(s.done)

	for {
		s.mu.Lock()
		for len(s.queue) == 0 {
			s.notEmpty.Wait()
		}
		entry := s.queue[0]
		s.queue = s.queue[1:]
		s.stats.OpQueueLengthSum += uint64(len(s.queue))
		s.stats.OpsDequeued++
		failed := s.exception != nil
		s.mu.Unlock()

		switch entry.kind {
		case opStop:
			return
		case opWrite:
			if !failed {
				s.executeWrite(entry.write)
			}
		case opSync:
			s.executeSync(entry.seq)
		}
	}
}

func (s *Stream) executeWrite(w *writeOp) {
	if _, err := s.sink.Seek(w.offset, streamio.SeekBegin); err != nil {
		s.fail(err)
		return
	}

	written := 0
	for written < len(w.data) {
		n, err := s.sink.Write(w.data[written:], token.Background())
		s.mu.Lock()
		s.stats.Syscalls++
		s.mu.Unlock()
		if err != nil {
			s.fail(err)
			return
		}
		if n == 0 {
			s.fail(streamio.ErrShortPageWrite)
			return
		}
		written += n
	}

	s.mu.Lock()
	s.stats.TotalWritten += uint64(written)
	s.allocated--
	s.mu.Unlock()
	s.notFullBroadcast()
}

func (s *Stream) executeSync(seq int) {
	if !s.cfg.NonBlockingSync {
		if syncer, ok := s.sink.(streamio.Syncer); ok {
			if err := syncer.Sync(); err != nil {
				s.fail(err)
				return
			}
		}
	}

	s.mu.Lock()
	s.syncDone = seq
	s.syncCond.Broadcast()
	s.mu.Unlock()
}

func (s *Stream) fail(err error) {
	s.mu.Lock()
	if s.exception == nil {
		s.log.Error("async stream worker failed, latching exception",
			zap.Stringer("stream_id", s.id), zap.Error(err))
		s.exception = err
		s.notFull.Broadcast()
		s.syncCond.Broadcast()
	}
	s.mu.Unlock()
}

func (s *Stream) notFullBroadcast() {
	s.mu.Lock()
	s.notFull.Broadcast()
	s.mu.Unlock()
}
