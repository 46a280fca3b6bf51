package transfer

import (
	"context"
	"fmt"
	"sync"

	"github.com/secureera/secureera/internal/transport"
)

// FlowController gates every chunk a sender enqueues. A chunk may go out
// only while the transfer is not paused and the transport's outbound buffer
// is at or below the high-water mark.
type FlowController struct {
	transport     transport.Transport
	highWaterMark uint64

	// sendMu serializes Pause against an in-progress chunk send, so once
	// Pause returns no chunk leaves until Resume.
	sendMu sync.Mutex

	mu sync.Mutex
	// resumed is non-nil while paused and is closed by Resume.
	resumed chan struct{}
}

// NewFlowController returns an unpaused controller. A zero highWaterMark
// selects DefaultHighWaterMark. The mark must sit above the transport's
// low threshold, otherwise a drain notification could never release Acquire.
func NewFlowController(t transport.Transport, highWaterMark uint64) (*FlowController, error) {
	if highWaterMark == 0 {
		highWaterMark = DefaultHighWaterMark
	}
	if low := t.LowThreshold(); highWaterMark <= low {
		return nil, NewError("flow control", fmt.Errorf("%w: high-water mark %d must exceed low threshold %d", ErrInvalidOptions, highWaterMark, low))
	}
	return &FlowController{
		transport:     t,
		highWaterMark: highWaterMark,
	}, nil
}

// HighWaterMark returns the configured buffer limit.
func (f *FlowController) HighWaterMark() uint64 {
	return f.highWaterMark
}

// Paused reports whether the pause layer is engaged.
func (f *FlowController) Paused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resumed != nil
}

// Pause engages the pause layer. It reports whether the state changed.
// It waits for a chunk send already past the gate, so after Pause returns
// no chunk goes out until Resume.
func (f *FlowController) Pause() bool {
	f.sendMu.Lock()
	defer f.sendMu.Unlock()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resumed != nil {
		return false
	}
	f.resumed = make(chan struct{})
	return true
}

// Resume releases the pause layer and wakes every waiter. It reports
// whether the state changed.
func (f *FlowController) Resume() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resumed == nil {
		return false
	}
	close(f.resumed)
	f.resumed = nil
	return true
}

// Acquire blocks until one chunk may be enqueued. Pause is checked before
// buffer state, and again after every drain notification.
func (f *FlowController) Acquire(ctx context.Context) error {
	for {
		if err := f.check(ctx); err != nil {
			return err
		}

		f.mu.Lock()
		resumed := f.resumed
		f.mu.Unlock()

		if resumed != nil {
			select {
			case <-resumed:
				continue
			case <-ctx.Done():
				return ctx.Err()
			case <-f.transport.Done():
				return f.transportErr()
			}
		}

		if f.transport.BufferedAmount() <= f.highWaterMark {
			return nil
		}

		select {
		case <-f.transport.BufferedAmountLow():
		case <-ctx.Done():
			return ctx.Err()
		case <-f.transport.Done():
			return f.transportErr()
		}
	}
}

// SendChunk sends frame unless the pause layer is engaged, in which case it
// reports false and the caller must Acquire again.
func (f *FlowController) SendChunk(frame transport.Frame) (bool, error) {
	f.sendMu.Lock()
	defer f.sendMu.Unlock()
	if f.Paused() {
		return false, nil
	}
	return true, f.transport.Send(frame)
}

func (f *FlowController) check(ctx context.Context) error {
	select {
	case <-f.transport.Done():
		return f.transportErr()
	default:
	}
	return ctx.Err()
}

func (f *FlowController) transportErr() error {
	if err := f.transport.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportFailed, err)
	}
	return ErrTransportFailed
}
