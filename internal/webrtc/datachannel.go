package webrtc

import (
	"context"
	"sync"

	pion "github.com/pion/webrtc/v4"

	"github.com/secureera/secureera/internal/transfer"
	"github.com/secureera/secureera/internal/transport"
)

// incomingBuffer bounds frames decoded but not yet consumed. When it is
// full OnMessage blocks, which pushes back on the SCTP stream.
const incomingBuffer = 256

// DataChannelTransport adapts an ordered, reliable pion data channel to
// transport.Transport.
type DataChannelTransport struct {
	dc *pion.DataChannel

	incoming chan transport.Frame
	low      chan struct{}

	opened   chan struct{}
	openOnce sync.Once

	done     chan struct{}
	doneOnce sync.Once
	mu       sync.Mutex
	err      error
}

// NewDataChannelTransport wires the callbacks of dc. lowThreshold is the
// buffered amount at which BufferedAmountLow fires.
func NewDataChannelTransport(dc *pion.DataChannel, lowThreshold uint64) *DataChannelTransport {
	t := &DataChannelTransport{
		dc:       dc,
		incoming: make(chan transport.Frame, incomingBuffer),
		low:      make(chan struct{}, 1),
		opened:   make(chan struct{}),
		done:     make(chan struct{}),
	}

	dc.SetBufferedAmountLowThreshold(lowThreshold)
	dc.OnBufferedAmountLow(func() {
		select {
		case t.low <- struct{}{}:
		default:
		}
	})

	dc.OnOpen(t.markOpen)
	if dc.ReadyState() == pion.DataChannelStateOpen {
		t.markOpen()
	}

	dc.OnMessage(func(msg pion.DataChannelMessage) {
		f := transport.Frame{Binary: !msg.IsString, Data: msg.Data}
		select {
		case t.incoming <- f:
		case <-t.done:
		}
	})
	dc.OnClose(func() {
		t.Fail(transport.ErrClosed)
	})
	dc.OnError(func(err error) {
		t.Fail(err)
	})

	return t
}

func (t *DataChannelTransport) markOpen() {
	t.openOnce.Do(func() { close(t.opened) })
}

// Opened is closed once the channel is open.
func (t *DataChannelTransport) Opened() <-chan struct{} {
	return t.opened
}

// WaitOpen blocks until the channel opens, fails, or ctx ends.
func (t *DataChannelTransport) WaitOpen(ctx context.Context) error {
	select {
	case <-t.opened:
		return nil
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Label is the data channel label.
func (t *DataChannelTransport) Label() string {
	return t.dc.Label()
}

func (t *DataChannelTransport) Send(f transport.Frame) error {
	select {
	case <-t.done:
		return t.Err()
	default:
	}
	select {
	case <-t.opened:
	default:
		return transfer.ErrTransportNotReady
	}
	if f.Binary {
		return t.dc.Send(f.Data)
	}
	return t.dc.SendText(string(f.Data))
}

func (t *DataChannelTransport) Incoming() <-chan transport.Frame {
	return t.incoming
}

func (t *DataChannelTransport) BufferedAmount() uint64 {
	return t.dc.BufferedAmount()
}

func (t *DataChannelTransport) BufferedAmountLow() <-chan struct{} {
	return t.low
}

func (t *DataChannelTransport) LowThreshold() uint64 {
	return t.dc.BufferedAmountLowThreshold()
}

func (t *DataChannelTransport) Done() <-chan struct{} {
	return t.done
}

func (t *DataChannelTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Fail marks the transport dead with err. The first cause wins.
func (t *DataChannelTransport) Fail(err error) {
	t.doneOnce.Do(func() {
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
		close(t.done)
	})
}

func (t *DataChannelTransport) Close() error {
	t.Fail(transport.ErrClosed)
	return t.dc.Close()
}

var _ transport.Transport = (*DataChannelTransport)(nil)
