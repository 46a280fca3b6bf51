package transport

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, e *PipeEnd) Frame {
	t.Helper()
	select {
	case f := <-e.Incoming():
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return Frame{}
	}
}

func TestPipePreservesOrderAndKind(t *testing.T) {
	a, b := Pipe()
	defer a.Close()

	require.NoError(t, a.Send(Text([]byte("one"))))
	require.NoError(t, a.Send(Binary([]byte{1, 2, 3})))
	require.NoError(t, a.Send(Text([]byte("three"))))

	f := recv(t, b)
	require.False(t, f.Binary)
	require.Equal(t, "one", string(f.Data))

	f = recv(t, b)
	require.True(t, f.Binary)
	require.Equal(t, []byte{1, 2, 3}, f.Data)

	f = recv(t, b)
	require.Equal(t, "three", string(f.Data))
}

func TestPipeBufferedAmountTracksUnreadBytes(t *testing.T) {
	a, b := Pipe(WithLowThreshold(4))
	defer a.Close()

	require.NoError(t, a.Send(Binary(make([]byte, 10))))
	require.NoError(t, a.Send(Binary(make([]byte, 10))))

	// The first frame may already sit in the pump waiting for a reader,
	// but it is still counted until handed over.
	require.Equal(t, uint64(20), a.BufferedAmount())
	require.Equal(t, uint64(20), a.PeakBufferedAmount())

	recv(t, b)
	recv(t, b)

	select {
	case <-a.BufferedAmountLow():
	case <-time.After(time.Second):
		t.Fatal("expected buffered amount low notification")
	}
	require.Zero(t, a.BufferedAmount())
}

func TestPipeFailClosesBothEnds(t *testing.T) {
	a, b := Pipe()
	boom := errors.New("ice failed")

	b.Fail(boom)

	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("done not closed")
	}
	require.ErrorIs(t, a.Err(), boom)
	require.ErrorIs(t, a.Send(Text([]byte("x"))), boom)
}

func TestPipeCloseReportsErrClosed(t *testing.T) {
	a, b := Pipe()
	require.NoError(t, a.Close())

	<-b.Done()
	require.ErrorIs(t, b.Err(), ErrClosed)
}
