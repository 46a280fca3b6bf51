package transport

import (
	"sync"
)

// DefaultLowThreshold matches the low-water threshold used for data channels.
const DefaultLowThreshold = 512 * 1024

// link is the state shared by both ends of a pipe.
type link struct {
	once sync.Once
	done chan struct{}
	mu   sync.Mutex
	err  error
}

func (l *link) fail(err error) {
	l.once.Do(func() {
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		close(l.done)
	})
}

// PipeEnd is one side of an in-memory Transport. Frames queued by Send stay
// counted in BufferedAmount until the peer reads them from Incoming, which
// gives tests a realistic backpressure signal.
type PipeEnd struct {
	link *link
	peer *PipeEnd

	mu           sync.Mutex
	queue        []Frame
	buffered     uint64
	peak         uint64
	lowThreshold uint64

	notify   chan struct{}
	incoming chan Frame
	low      chan struct{}
}

// PipeOption configures both ends of a pipe.
type PipeOption func(*PipeEnd)

// WithLowThreshold sets the buffered amount at which BufferedAmountLow fires.
func WithLowThreshold(n uint64) PipeOption {
	return func(e *PipeEnd) {
		e.lowThreshold = n
	}
}

// Pipe returns two connected transports.
func Pipe(opts ...PipeOption) (*PipeEnd, *PipeEnd) {
	l := &link{done: make(chan struct{})}
	a := newPipeEnd(l, opts)
	b := newPipeEnd(l, opts)
	a.peer, b.peer = b, a

	go a.pump()
	go b.pump()
	return a, b
}

func newPipeEnd(l *link, opts []PipeOption) *PipeEnd {
	e := &PipeEnd{
		link:         l,
		lowThreshold: DefaultLowThreshold,
		notify:       make(chan struct{}, 1),
		incoming:     make(chan Frame),
		low:          make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *PipeEnd) Send(f Frame) error {
	select {
	case <-e.link.done:
		return e.Err()
	default:
	}

	data := make([]byte, len(f.Data))
	copy(data, f.Data)

	e.mu.Lock()
	e.queue = append(e.queue, Frame{Binary: f.Binary, Data: data})
	e.buffered += uint64(len(data))
	if e.buffered > e.peak {
		e.peak = e.buffered
	}
	e.mu.Unlock()

	select {
	case e.notify <- struct{}{}:
	default:
	}
	return nil
}

// pump hands queued frames to the peer one at a time.
func (e *PipeEnd) pump() {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.mu.Unlock()
			select {
			case <-e.notify:
				continue
			case <-e.link.done:
				return
			}
		}
		f := e.queue[0]
		e.mu.Unlock()

		select {
		case e.peer.incoming <- f:
		case <-e.link.done:
			return
		}

		e.mu.Lock()
		e.queue[0] = Frame{}
		e.queue = e.queue[1:]
		before := e.buffered
		e.buffered -= uint64(len(f.Data))
		after := e.buffered
		e.mu.Unlock()

		if before > e.lowThreshold && after <= e.lowThreshold {
			select {
			case e.low <- struct{}{}:
			default:
			}
		}
	}
}

func (e *PipeEnd) Incoming() <-chan Frame {
	return e.incoming
}

func (e *PipeEnd) BufferedAmount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buffered
}

// PeakBufferedAmount is the largest buffered amount observed right after a Send.
func (e *PipeEnd) PeakBufferedAmount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peak
}

func (e *PipeEnd) BufferedAmountLow() <-chan struct{} {
	return e.low
}

func (e *PipeEnd) LowThreshold() uint64 {
	return e.lowThreshold
}

func (e *PipeEnd) Done() <-chan struct{} {
	return e.link.done
}

func (e *PipeEnd) Err() error {
	e.link.mu.Lock()
	defer e.link.mu.Unlock()
	return e.link.err
}

func (e *PipeEnd) Close() error {
	e.link.fail(ErrClosed)
	return nil
}

// Fail tears down both ends with err, the way a dropped peer connection would.
func (e *PipeEnd) Fail(err error) {
	e.link.fail(err)
}

var _ Transport = (*PipeEnd)(nil)
