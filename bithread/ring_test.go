package bithread

import (
	"bytes"
	"testing"

	"github.com/coreio/bithread/streamio"
)

func writeAll(t *testing.T, r *Ring, data []byte) {
	t.Helper()
	w := r.WriteWindow()
	if w.Len() < len(data) {
		t.Fatalf("write window too small: have %d, need %d", w.Len(), len(data))
	}
	copy(w.Bytes(), data)
	if err := r.CommitWrite(len(data)); err != nil {
		t.Fatalf("CommitWrite: %v", err)
	}
}

func readAll(t *testing.T, r *Ring) []byte {
	t.Helper()
	rw := r.ReadWindow()
	out := append([]byte(nil), rw.Bytes()...)
	if err := r.CommitRead(rw.Len()); err != nil {
		t.Fatalf("CommitRead: %v", err)
	}
	return out
}

func TestNewFreeSizeIsSizeMinusOne(t *testing.T) {
	r := New(8)
	if r.Size() != 8 {
		t.Fatalf("Size: expected 8, got %d", r.Size())
	}
	if r.FreeSize() != 7 {
		t.Fatalf("FreeSize: expected 7, got %d", r.FreeSize())
	}
}

func TestWriteRead(t *testing.T) {
	r := New(16)
	writeAll(t, r, []byte("hello"))

	if r.DataSize() != 5 {
		t.Fatalf("DataSize: expected 5, got %d", r.DataSize())
	}

	got := readAll(t, r)
	if !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("Read: expected %q, got %q", "hello", got)
	}
	if r.DataSize() != 0 {
		t.Fatalf("DataSize after drain: expected 0, got %d", r.DataSize())
	}
}

func TestWrapAround(t *testing.T) {
	r := New(8)

	writeAll(t, r, []byte("abc"))
	readAll(t, r)

	writeAll(t, r, []byte("defgh"))
	got := readAll(t, r)
	if !bytes.Equal(got, []byte("defgh")) {
		t.Fatalf("Read after wrap: expected %q, got %q", "defgh", got)
	}
}

func TestConservationInvariant(t *testing.T) {
	r := New(32)

	for i := 0; i < 100; i++ {
		if r.DataSize()+r.FreeSize()+1 != r.Size() {
			t.Fatalf("conservation violated at step %d: data=%d free=%d size=%d",
				i, r.DataSize(), r.FreeSize(), r.Size())
		}

		w := r.WriteWindow()
		n := min(w.Len(), 5)
		if err := r.CommitWrite(n); err != nil {
			t.Fatalf("CommitWrite: %v", err)
		}

		rw := r.ReadWindow()
		n = min(rw.Len(), 3)
		if err := r.CommitRead(n); err != nil {
			t.Fatalf("CommitRead: %v", err)
		}
	}
}

func TestCommitWriteOutOfRange(t *testing.T) {
	r := New(8)
	w := r.WriteWindow()
	if err := r.CommitWrite(w.Len() + 1); err != streamio.ErrOutOfRange {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}

func TestCommitReadOutOfRange(t *testing.T) {
	r := New(8)
	writeAll(t, r, []byte("ab"))

	rw := r.ReadWindow()
	if err := r.CommitRead(rw.Len() + 1); err != streamio.ErrOutOfRange {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}

func TestSecondWriteWindowPanics(t *testing.T) {
	r := New(8)
	r.WriteWindow()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on second outstanding write window")
		}
	}()
	r.WriteWindow()
}

func TestAtBufferEnd(t *testing.T) {
	r := New(4)
	w := r.WriteWindow()
	if !w.AtBufferEnd() {
		t.Fatal("expected fresh ring's write window to reach the end of storage")
	}
	if err := r.CommitWrite(2); err != nil {
		t.Fatalf("CommitWrite: %v", err)
	}

	w = r.WriteWindow()
	if !w.AtBufferEnd() {
		t.Fatal("expected write window to still reach the end of storage")
	}
}

func TestClear(t *testing.T) {
	r := New(8)
	writeAll(t, r, []byte("abcd"))
	r.Clear()

	if r.DataSize() != 0 {
		t.Fatalf("DataSize after Clear: expected 0, got %d", r.DataSize())
	}
	if r.FreeSize() != r.Size()-1 {
		t.Fatalf("FreeSize after Clear: expected %d, got %d", r.Size()-1, r.FreeSize())
	}
}
