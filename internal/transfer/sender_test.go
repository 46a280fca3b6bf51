package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/secureera/secureera/internal/seal"
	"github.com/secureera/secureera/internal/transport"
)

func TestSenderRequiresMetadataFirst(t *testing.T) {
	a, _ := transport.Pipe()
	defer a.Close()

	s := newSender(t, a, nil, memSource("x.bin", []byte("x")), Options{}, nil)
	require.Equal(t, StateIdle, s.State())

	err := s.SendFile(context.Background())
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestSenderRejectsSecondMetadata(t *testing.T) {
	a, b := transport.Pipe()
	defer a.Close()

	key, err := seal.GenerateKey()
	require.NoError(t, err)

	s := newSender(t, a, nil, memSource("x.bin", []byte("x")), Options{}, nil)
	require.NoError(t, s.SendMetadata(key, 0, 1))
	require.Equal(t, StateSendingMetadata, s.State())

	msg := decodeFrame(t, nextFrame(t, b))
	require.Equal(t, MessageTypeMetadata, msg.Type)
	var meta Metadata
	require.NoError(t, msg.DecodePayload(&meta))
	require.Equal(t, "x.bin", meta.Name)
	require.Equal(t, key.Export(), meta.EncryptionKey)

	require.ErrorIs(t, s.SendMetadata(key, 0, 1), ErrInvalidState)
}

func TestSenderWaitsForMatchingReady(t *testing.T) {
	a, b := transport.Pipe()
	defer a.Close()

	key, err := seal.GenerateKey()
	require.NoError(t, err)

	s := newSender(t, a, nil, memSource("x.bin", []byte("payload")), Options{}, nil)
	require.NoError(t, s.SendMetadata(key, 1, 2))
	nextFrame(t, b)

	sent := make(chan error, 1)
	go func() { sent <- s.SendFile(context.Background()) }()

	_, ok := tryFrame(b, 50*time.Millisecond)
	require.False(t, ok, "chunks sent before the ready ack")

	wrong, err := NewMessage(MessageTypeReady, ReadyPayload{FileIndex: 0})
	require.NoError(t, err)
	require.ErrorIs(t, s.HandleControl(wrong), ErrProtocol)

	ready, err := NewMessage(MessageTypeReady, ReadyPayload{FileIndex: 1})
	require.NoError(t, err)
	require.NoError(t, s.HandleControl(ready))

	chunk := nextFrame(t, b)
	require.True(t, chunk.Binary)
	plain, err := key.Decrypt(chunk.Data)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), plain)

	require.Equal(t, MessageTypeComplete, decodeFrame(t, nextFrame(t, b)).Type)
	require.NoError(t, <-sent)
	require.Equal(t, StateCompleted, s.State())
	require.Equal(t, int64(7), s.Offset())
}

func TestSenderPauseAndResumeNotifyPeer(t *testing.T) {
	a, b := transport.Pipe()
	defer a.Close()

	s := newSender(t, a, nil, memSource("x.bin", []byte("x")), Options{}, nil)

	require.NoError(t, s.Pause())
	require.NoError(t, s.Pause())
	msg := decodeFrame(t, nextFrame(t, b))
	var ctl ControlPayload
	require.NoError(t, msg.DecodePayload(&ctl))
	require.Equal(t, ActionPause, ctl.Action)

	_, ok := tryFrame(b, 50*time.Millisecond)
	require.False(t, ok, "repeated pause was sent twice")

	require.NoError(t, s.Resume())
	msg = decodeFrame(t, nextFrame(t, b))
	require.NoError(t, msg.DecodePayload(&ctl))
	require.Equal(t, ActionResume, ctl.Action)
}

func TestSenderHonorsPeerControlWithoutEcho(t *testing.T) {
	a, b := transport.Pipe()
	defer a.Close()

	s := newSender(t, a, nil, memSource("x.bin", []byte("x")), Options{}, nil)
	pause, err := NewMessage(MessageTypeControl, ControlPayload{Action: ActionPause})
	require.NoError(t, err)
	require.NoError(t, s.HandleControl(pause))
	require.True(t, s.flow.Paused())

	_, ok := tryFrame(b, 50*time.Millisecond)
	require.False(t, ok)

	bad, err := NewMessage(MessageTypeControl, ControlPayload{Action: "rewind"})
	require.NoError(t, err)
	require.ErrorIs(t, s.HandleControl(bad), ErrProtocol)

	meta, err := NewMessage(MessageTypeMetadata, nil)
	require.NoError(t, err)
	require.ErrorIs(t, s.HandleControl(meta), ErrProtocol)
}

type shortReader struct{}

func (shortReader) ReadAt(p []byte, off int64) (int, error) {
	return 0, io.EOF
}

func TestSenderFailsOnShortRead(t *testing.T) {
	a, b := transport.Pipe()
	defer a.Close()

	key, err := seal.GenerateKey()
	require.NoError(t, err)

	src := Source{Name: "gone.bin", Size: 100, Reader: shortReader{}}
	s := newSender(t, a, nil, src, Options{}, nil)
	require.NoError(t, s.SendMetadata(key, 0, 1))
	nextFrame(t, b)

	ready, err := NewMessage(MessageTypeReady, ReadyPayload{})
	require.NoError(t, err)
	require.NoError(t, s.HandleControl(ready))

	err = s.SendFile(context.Background())
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.Equal(t, StateFailed, s.State())
}

// gatedReader blocks the first read at gateAt until release is closed.
type gatedReader struct {
	data    []byte
	gateAt  int64
	once    sync.Once
	reached chan struct{}
	release chan struct{}
}

func (r *gatedReader) ReadAt(p []byte, off int64) (int, error) {
	if off == r.gateAt {
		r.once.Do(func() {
			close(r.reached)
			<-r.release
		})
	}
	return bytes.NewReader(r.data).ReadAt(p, off)
}

func TestSenderPauseHoldsChunkAlreadyPastAcquire(t *testing.T) {
	a, b := transport.Pipe()
	defer a.Close()

	key, err := seal.GenerateKey()
	require.NoError(t, err)

	data := randomBytes(t, 2*StandardChunkSize)
	reader := &gatedReader{
		data:    data,
		gateAt:  StandardChunkSize,
		reached: make(chan struct{}),
		release: make(chan struct{}),
	}
	src := Source{Name: "gated.bin", Size: int64(len(data)), Reader: reader}
	s := newSender(t, a, nil, src, Options{}, nil)
	require.NoError(t, s.SendMetadata(key, 0, 1))
	nextFrame(t, b)

	ready, err := NewMessage(MessageTypeReady, ReadyPayload{})
	require.NoError(t, err)
	require.NoError(t, s.HandleControl(ready))

	sent := make(chan error, 1)
	go func() { sent <- s.SendFile(context.Background()) }()

	require.True(t, nextFrame(t, b).Binary)
	select {
	case <-reader.reached:
	case <-time.After(5 * time.Second):
		t.Fatal("sender never read the second chunk")
	}

	// The second chunk has passed Acquire and is being read.
	require.NoError(t, s.Pause())
	require.Equal(t, MessageTypeControl, decodeFrame(t, nextFrame(t, b)).Type)
	close(reader.release)

	_, ok := tryFrame(b, 150*time.Millisecond)
	require.False(t, ok, "chunk sent after pause returned")
	require.Equal(t, int64(StandardChunkSize), s.Offset())

	require.NoError(t, s.Resume())
	require.Equal(t, MessageTypeControl, decodeFrame(t, nextFrame(t, b)).Type)

	chunk := nextFrame(t, b)
	require.True(t, chunk.Binary)
	plain, err := key.Decrypt(chunk.Data)
	require.NoError(t, err)
	require.Equal(t, data[StandardChunkSize:], plain)

	require.Equal(t, MessageTypeComplete, decodeFrame(t, nextFrame(t, b)).Type)
	require.NoError(t, <-sent)
}

func TestSenderFailKeepsFirstCause(t *testing.T) {
	a, _ := transport.Pipe()
	defer a.Close()

	s := newSender(t, a, nil, memSource("x.bin", []byte("x")), Options{}, nil)
	first := errors.New("first")
	require.Equal(t, first, s.Fail(first))
	require.Equal(t, first, s.Fail(errors.New("second")))
	require.Equal(t, first, s.Err())
}

func TestMetadataValidate(t *testing.T) {
	key, err := seal.GenerateKey()
	require.NoError(t, err)

	valid := Metadata{Name: "a", Size: 1, EncryptionKey: key.Export(), FileIndex: 0, TotalFiles: 1}
	require.NoError(t, valid.Validate())

	cases := map[string]func(*Metadata){
		"empty name":     func(m *Metadata) { m.Name = "" },
		"negative size":  func(m *Metadata) { m.Size = -1 },
		"short key":      func(m *Metadata) { m.EncryptionKey = m.EncryptionKey[:8] },
		"no files":       func(m *Metadata) { m.TotalFiles = 0 },
		"index too high": func(m *Metadata) { m.FileIndex = 1 },
		"negative index": func(m *Metadata) { m.FileIndex = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			m := valid
			m.EncryptionKey = append([]byte(nil), valid.EncryptionKey...)
			mutate(&m)
			require.ErrorIs(t, m.Validate(), ErrProtocol)
		})
	}
}

func TestSendMessageOnClosedTransport(t *testing.T) {
	a, _ := transport.Pipe()
	require.NoError(t, a.Close())

	err := SendTypedMessage(a, MessageTypeComplete, nil)
	require.ErrorIs(t, err, ErrTransportFailed)
}
