package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/secureera/secureera/internal/seal"
	"github.com/secureera/secureera/internal/transport"
)

// BatchSender sends files strictly one after another over one transport.
type BatchSender struct {
	transport  transport.Transport
	flow       *FlowController
	opts       Options
	logger     *slog.Logger
	onProgress func(BatchProgress)

	mu      sync.Mutex
	current *SenderSession
}

// NewBatchSender creates a sender. The flow controller it owns is shared by
// every file so a pause persists across file boundaries.
func NewBatchSender(t transport.Transport, opts Options, onProgress func(BatchProgress)) (*BatchSender, error) {
	flow, err := NewFlowController(t, opts.highWaterMark())
	if err != nil {
		return nil, err
	}
	return &BatchSender{
		transport:  t,
		flow:       flow,
		opts:       opts,
		logger:     opts.logger(),
		onProgress: onProgress,
	}, nil
}

// Flow exposes the shared flow controller.
func (b *BatchSender) Flow() *FlowController {
	return b.flow
}

// Pause pauses the batch and notifies the receiver.
func (b *BatchSender) Pause() error {
	if !b.flow.Pause() {
		return nil
	}
	return sendControl(b.transport, ActionPause)
}

// Resume resumes the batch and notifies the receiver.
func (b *BatchSender) Resume() error {
	if !b.flow.Resume() {
		return nil
	}
	return sendControl(b.transport, ActionResume)
}

// TogglePause flips between Pause and Resume.
func (b *BatchSender) TogglePause() error {
	if b.flow.Paused() {
		return b.Resume()
	}
	return b.Pause()
}

// Send transfers sources in order and returns once the last one completed
// or the first one failed.
func (b *BatchSender) Send(ctx context.Context, sources []Source) error {
	if len(sources) == 0 {
		return NewError("send batch", fmt.Errorf("%w: no files", ErrInvalidState))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go b.dispatch(ctx)

	total := len(sources)
	for i, src := range sources {
		key, err := seal.GenerateKey()
		if err != nil {
			return NewFileError("generate key", src.Name, err)
		}

		session, err := NewSenderSession(b.transport, b.flow, src, b.opts, func(p Progress) {
			if b.onProgress != nil {
				b.onProgress(overall(p, total))
			}
		})
		if err != nil {
			return err
		}
		b.setCurrent(session)

		if err := session.SendMetadata(key, i, total); err != nil {
			return err
		}
		if err := session.SendFile(ctx); err != nil {
			return err
		}
	}

	b.logger.Debug("batch sent", "files", total)
	return nil
}

func (b *BatchSender) setCurrent(s *SenderSession) {
	b.mu.Lock()
	b.current = s
	b.mu.Unlock()
}

func (b *BatchSender) currentSession() *SenderSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// dispatch routes inbound control frames to the session in flight.
func (b *BatchSender) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case <-b.transport.Done():
			if s := b.currentSession(); s != nil {
				s.Fail(b.flow.transportErr())
			}
			return

		case f := <-b.transport.Incoming():
			if err := b.handleFrame(f); err != nil {
				if s := b.currentSession(); s != nil {
					s.Fail(err)
				}
				return
			}
		}
	}
}

func (b *BatchSender) handleFrame(f transport.Frame) error {
	if f.Binary {
		return protocolError("dispatch", "", "binary frame from receiver")
	}
	msg, err := ParseMessage(f.Data)
	if err != nil {
		return err
	}

	s := b.currentSession()
	if s == nil {
		if msg.Type == MessageTypeControl {
			return applyControl(b.flow, msg)
		}
		return protocolError("dispatch", "", fmt.Sprintf("unexpected %s before first file", msg.Type))
	}
	return s.HandleControl(msg)
}

// BatchReceiver receives a batch announced by a BatchSender.
type BatchReceiver struct {
	transport  transport.Transport
	sinks      SinkFactory
	opts       Options
	logger     *slog.Logger
	onProgress func(BatchProgress)
	onResult   func(Result)

	paused atomic.Bool
}

// NewBatchReceiver creates a receiver. onResult is called as each file
// completes; either callback may be nil.
func NewBatchReceiver(t transport.Transport, sinks SinkFactory, opts Options, onProgress func(BatchProgress), onResult func(Result)) *BatchReceiver {
	return &BatchReceiver{
		transport:  t,
		sinks:      sinks,
		opts:       opts,
		logger:     opts.logger(),
		onProgress: onProgress,
		onResult:   onResult,
	}
}

// TogglePause asks the sender to pause or resume.
func (b *BatchReceiver) TogglePause() error {
	return togglePause(b.transport, &b.paused)
}

// IsPaused reports the pause flag.
func (b *BatchReceiver) IsPaused() bool {
	return b.paused.Load()
}

// Receive consumes frames until the last file of the batch completes.
func (b *BatchReceiver) Receive(ctx context.Context) ([]Result, error) {
	r := &batchRun{receiver: b}
	r.session = b.newSession(0, 0)

	for {
		select {
		case <-ctx.Done():
			return r.results, r.session.Fail(ctx.Err())

		case <-b.transport.Done():
			// Frames that arrived before the failure still count.
		drain:
			for {
				select {
				case f := <-b.transport.Incoming():
					if done, err := r.handle(f); done || err != nil {
						return r.results, err
					}
				default:
					break drain
				}
			}
			err := ErrTransportFailed
			if cause := b.transport.Err(); cause != nil {
				err = fmt.Errorf("%w: %v", ErrTransportFailed, cause)
			}
			return r.results, r.session.Fail(err)

		case f := <-b.transport.Incoming():
			if done, err := r.handle(f); done || err != nil {
				return r.results, err
			}
		}
	}
}

// batchRun is the state of one Receive call.
type batchRun struct {
	receiver *BatchReceiver
	session  *ReceiverSession
	results  []Result
}

// handle feeds f to the current session and reports whether the batch is
// complete.
func (r *batchRun) handle(f transport.Frame) (bool, error) {
	if err := r.session.HandleFrame(f); err != nil {
		return false, err
	}

	res, done := r.session.Result()
	if !done {
		return false, nil
	}

	r.results = append(r.results, res)
	if r.receiver.onResult != nil {
		r.receiver.onResult(res)
	}

	total := res.Metadata.TotalFiles
	next := res.Metadata.FileIndex + 1
	if next >= total {
		r.receiver.logger.Debug("batch received", "files", total)
		return true, nil
	}
	r.session = r.receiver.newSession(next, total)
	return false, nil
}

func (b *BatchReceiver) newSession(index, total int) *ReceiverSession {
	var s *ReceiverSession
	s = newReceiverSession(b.transport, b.sinks, b.opts, func(p Progress) {
		if b.onProgress != nil {
			b.onProgress(overall(p, s.Metadata().TotalFiles))
		}
	}, index, total, &b.paused)
	return s
}
