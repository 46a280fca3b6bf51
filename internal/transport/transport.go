package transport

import "errors"

// ErrClosed is reported once a transport has been closed locally or by the peer.
var ErrClosed = errors.New("transport closed")

// Frame is one message on an ordered, reliable channel. Control messages
// travel as text frames and encrypted chunks as binary frames.
type Frame struct {
	Binary bool
	Data   []byte
}

// Text wraps data in a text frame.
func Text(data []byte) Frame {
	return Frame{Data: data}
}

// Binary wraps data in a binary frame.
func Binary(data []byte) Frame {
	return Frame{Binary: true, Data: data}
}

// Transport is an ordered, reliable, message-oriented duplex channel with an
// observable outbound buffer.
type Transport interface {
	// Send enqueues a frame. It never blocks on the peer.
	Send(Frame) error

	// Incoming delivers frames from the peer in send order. The channel is
	// not closed on failure; select on Done alongside it.
	Incoming() <-chan Frame

	// BufferedAmount is the number of bytes queued but not yet handed to the peer.
	BufferedAmount() uint64

	// BufferedAmountLow receives a value whenever the buffered amount falls
	// to or below the low threshold.
	BufferedAmountLow() <-chan struct{}

	// LowThreshold is the buffered amount at which BufferedAmountLow fires.
	LowThreshold() uint64

	// Done is closed when the transport fails or is closed.
	Done() <-chan struct{}

	// Err reports why Done was closed.
	Err() error

	Close() error
}
