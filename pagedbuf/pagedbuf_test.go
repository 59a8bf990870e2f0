package pagedbuf

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coreio/bithread/streamio"
	"github.com/coreio/bithread/token"
)

func drain(t *testing.T, b *Buffer) []byte {
	t.Helper()
	var out []byte
	tok := token.Background()
	for b.UnreadSize() > 0 {
		before := b.UnreadSize()
		consumer := streamio.DataConsumerFunc(func(window []byte, _ token.Token) (int, error) {
			out = append(out, window...)
			return len(window), nil
		})
		require.NoError(t, b.Read(consumer, tok))
		if b.UnreadSize() == before {
			t.Fatalf("Read made no progress, %d bytes remaining", before)
		}
	}
	return out
}

// TestPushReadRoundTrip is a linearizability check (testable property 8):
// a script of Push/Read calls against an uneven page size must reproduce
// the pushed bytes exactly, regardless of how the pushes straddle page
// boundaries.
func TestPushReadRoundTrip(t *testing.T) {
	buf, err := New(4, newMemPageFactory(4))
	require.NoError(t, err)

	tok := token.Background()
	require.NoError(t, buf.Push([]byte("hello"), tok))
	require.NoError(t, buf.Push([]byte(" world"), tok))

	got := drain(t, buf)
	require.Equal(t, []byte("hello world"), got)
}

func TestSeekRereadsFromCursor(t *testing.T) {
	buf, err := New(4, newMemPageFactory(4))
	require.NoError(t, err)

	tok := token.Background()
	require.NoError(t, buf.Push([]byte("0123456789"), tok))

	first := drain(t, buf)
	require.Equal(t, []byte("0123456789"), first)

	require.NoError(t, buf.Seek(3))
	require.Equal(t, int64(7), buf.UnreadSize())

	second := drain(t, buf)
	require.Equal(t, []byte("3456789"), second)
}

func TestPopFreesPagesAndShiftsBounds(t *testing.T) {
	buf, err := New(4, newMemPageFactory(4))
	require.NoError(t, err)

	tok := token.Background()
	require.NoError(t, buf.Push([]byte("0123456789"), tok))
	require.Equal(t, int64(10), buf.StorageSize())

	require.NoError(t, buf.Pop(5))
	require.Equal(t, int64(5), buf.StorageSize())

	require.Error(t, buf.Seek(6))
	require.NoError(t, buf.Seek(0))

	got := drain(t, buf)
	require.True(t, bytes.HasSuffix([]byte("0123456789"), got))
	require.Equal(t, []byte("56789"), got)
}

func TestSeekAndPopOutOfRangeRejected(t *testing.T) {
	buf, err := New(4, newMemPageFactory(4))
	require.NoError(t, err)

	tok := token.Background()
	require.NoError(t, buf.Push([]byte("0123"), tok))

	require.ErrorIs(t, buf.Seek(5), streamio.ErrOutOfRange)
	require.ErrorIs(t, buf.Pop(5), streamio.ErrOutOfRange)
}

func TestConcurrentReadRejected(t *testing.T) {
	buf, err := New(4, newMemPageFactory(4))
	require.NoError(t, err)

	tok := token.Background()
	require.NoError(t, buf.Push([]byte("0123"), tok))

	inRead := make(chan struct{})
	release := make(chan struct{})
	consumer := streamio.DataConsumerFunc(func(window []byte, _ token.Token) (int, error) {
		close(inRead)
		<-release
		return len(window), nil
	})

	done := make(chan struct{})
	go func() {
		require.NoError(t, buf.Read(consumer, tok))
		close(done)
	}()

	<-inRead
	err = buf.Read(streamio.DataConsumerFunc(func(window []byte, _ token.Token) (int, error) {
		return len(window), nil
	}), tok)
	require.ErrorIs(t, err, streamio.ErrArgument)

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("first Read never completed")
	}
}
