package transfer

import (
	"bytes"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/secureera/secureera/internal/transport"
)

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func memSource(name string, data []byte) Source {
	return Source{
		Name:     name,
		Size:     int64(len(data)),
		MimeType: "application/octet-stream",
		Reader:   bytes.NewReader(data),
	}
}

func nextFrame(t *testing.T, e transport.Transport) transport.Frame {
	t.Helper()
	select {
	case f := <-e.Incoming():
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for frame")
		return transport.Frame{}
	}
}

// tryFrame returns the next frame unless the line stays quiet for idle.
func tryFrame(e transport.Transport, idle time.Duration) (transport.Frame, bool) {
	select {
	case f := <-e.Incoming():
		return f, true
	case <-time.After(idle):
		return transport.Frame{}, false
	}
}

func messageFrame(t *testing.T, msgType MessageType, payload any) transport.Frame {
	t.Helper()
	msg, err := NewMessage(msgType, payload)
	require.NoError(t, err)
	data, err := msgpack.Marshal(msg)
	require.NoError(t, err)
	return transport.Text(data)
}

func decodeFrame(t *testing.T, f transport.Frame) Message {
	t.Helper()
	require.False(t, f.Binary, "expected a control frame")
	msg, err := ParseMessage(f.Data)
	require.NoError(t, err)
	return msg
}

func newFlow(t *testing.T, tr transport.Transport, highWaterMark uint64) *FlowController {
	t.Helper()
	f, err := NewFlowController(tr, highWaterMark)
	require.NoError(t, err)
	return f
}

func newSender(t *testing.T, tr transport.Transport, flow *FlowController, src Source, opts Options, onProgress func(Progress)) *SenderSession {
	t.Helper()
	s, err := NewSenderSession(tr, flow, src, opts, onProgress)
	require.NoError(t, err)
	return s
}

func newBatchSender(t *testing.T, tr transport.Transport, opts Options, onProgress func(BatchProgress)) *BatchSender {
	t.Helper()
	b, err := NewBatchSender(tr, opts, onProgress)
	require.NoError(t, err)
	return b
}
