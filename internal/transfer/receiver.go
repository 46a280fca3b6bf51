package transfer

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/secureera/secureera/internal/seal"
	"github.com/secureera/secureera/internal/transport"
)

// ReceiverSession consumes the frames of one file: metadata, chunks, and
// the complete marker. Chunks are decrypted into the sink as they arrive.
type ReceiverSession struct {
	transport  transport.Transport
	sinks      SinkFactory
	onProgress func(Progress)
	logger     *slog.Logger

	// expectedIndex and expectedTotal constrain the metadata; a negative
	// index or zero total accepts anything.
	expectedIndex int
	expectedTotal int

	// paused mirrors the peer's pause state; shared across a batch.
	paused *atomic.Bool

	mu       sync.Mutex
	state    State
	err      error
	meta     Metadata
	cipher   *seal.Cipher
	sink     Sink
	received int64
	meter    *meter
	result   Result
}

// NewReceiverSession creates a session that accepts any single file.
func NewReceiverSession(t transport.Transport, sinks SinkFactory, opts Options, onProgress func(Progress)) *ReceiverSession {
	return newReceiverSession(t, sinks, opts, onProgress, -1, 0, &atomic.Bool{})
}

func newReceiverSession(t transport.Transport, sinks SinkFactory, opts Options, onProgress func(Progress), index, total int, paused *atomic.Bool) *ReceiverSession {
	if sinks == nil {
		sinks = MemorySinks()
	}
	return &ReceiverSession{
		transport:     t,
		sinks:         sinks,
		onProgress:    onProgress,
		logger:        opts.logger(),
		expectedIndex: index,
		expectedTotal: total,
		paused:        paused,
		state:         StateAwaitingMetadata,
	}
}

// State returns the current state. Streaming reads as Paused while a pause
// is in effect.
func (r *ReceiverSession) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateStreaming && r.paused.Load() {
		return StatePaused
	}
	return r.state
}

// Err returns the failure cause once the session is Failed.
func (r *ReceiverSession) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Metadata returns the metadata once it has been received.
func (r *ReceiverSession) Metadata() Metadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.meta
}

// Result returns the completed file.
func (r *ReceiverSession) Result() (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.state == StateCompleted
}

// IsPaused reports the pause flag.
func (r *ReceiverSession) IsPaused() bool {
	return r.paused.Load()
}

// HandleFrame is the single inbound entry point. Any error leaves the
// session Failed.
func (r *ReceiverSession) HandleFrame(f transport.Frame) error {
	r.mu.Lock()
	if r.state.Terminal() {
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("%w: frame after %s", ErrInvalidState, state)
	}
	r.mu.Unlock()

	if f.Binary {
		return r.handleChunk(f.Data)
	}

	msg, err := ParseMessage(f.Data)
	if err != nil {
		return r.Fail(err)
	}

	switch msg.Type {
	case MessageTypeMetadata:
		return r.handleMetadata(msg)
	case MessageTypeControl:
		return r.handleControl(msg)
	case MessageTypeComplete:
		return r.handleComplete()
	case MessageTypeReady:
		return r.Fail(protocolError("handle frame", r.name(), "unexpected ready from sender"))
	default:
		return r.Fail(protocolError("handle frame", r.name(), fmt.Sprintf("unknown message type %q", msg.Type)))
	}
}

func (r *ReceiverSession) handleMetadata(msg Message) error {
	var meta Metadata
	if err := msg.DecodePayload(&meta); err != nil {
		return r.Fail(err)
	}

	r.mu.Lock()
	state := r.state
	r.mu.Unlock()
	if state != StateAwaitingMetadata {
		return r.Fail(protocolError("metadata", meta.Name, "metadata while "+state.String()))
	}

	if err := meta.Validate(); err != nil {
		return r.Fail(err)
	}
	if r.expectedIndex >= 0 && meta.FileIndex != r.expectedIndex {
		return r.Fail(protocolError("metadata", meta.Name, fmt.Sprintf("file index %d, expected %d", meta.FileIndex, r.expectedIndex)))
	}
	if r.expectedTotal > 0 && meta.TotalFiles != r.expectedTotal {
		return r.Fail(protocolError("metadata", meta.Name, fmt.Sprintf("total files %d, expected %d", meta.TotalFiles, r.expectedTotal)))
	}

	cipher, err := seal.ImportKey(meta.EncryptionKey)
	if err != nil {
		return r.Fail(WrapError("import key", ErrProtocol, err.Error()))
	}

	sink, err := r.sinks(meta)
	if err != nil {
		return r.Fail(err)
	}

	r.mu.Lock()
	r.meta = meta
	r.cipher = cipher
	r.sink = sink
	r.received = 0
	r.meter = newMeter()
	r.state = StateStreaming
	r.mu.Unlock()

	r.logger.Debug("metadata received", "file", meta.Name, "index", meta.FileIndex, "total", meta.TotalFiles, "size", meta.Size)

	if err := SendTypedMessage(r.transport, MessageTypeReady, ReadyPayload{FileIndex: meta.FileIndex}); err != nil {
		return r.Fail(err)
	}
	return nil
}

func (r *ReceiverSession) handleChunk(data []byte) error {
	r.mu.Lock()
	if r.state != StateStreaming {
		state := r.state
		r.mu.Unlock()
		return r.Fail(protocolError("chunk", "", "chunk while "+state.String()))
	}
	cipher, sink, meta := r.cipher, r.sink, r.meta
	r.mu.Unlock()

	plaintext, err := cipher.Decrypt(data)
	if err != nil {
		return r.Fail(NewFileError("decrypt", meta.Name, err))
	}

	r.mu.Lock()
	received := r.received + int64(len(plaintext))
	r.mu.Unlock()
	if received > meta.Size {
		return r.Fail(protocolError("chunk", meta.Name, fmt.Sprintf("received %d bytes of %d", received, meta.Size)))
	}

	if _, err := sink.Write(plaintext); err != nil {
		return r.Fail(err)
	}

	r.mu.Lock()
	r.received = received
	m := r.meter
	r.mu.Unlock()

	r.report(m.snapshot(meta.FileIndex, meta.Name, received, meta.Size, r.paused.Load()))
	return nil
}

func (r *ReceiverSession) handleComplete() error {
	r.mu.Lock()
	state, meta, received, sink, m := r.state, r.meta, r.received, r.sink, r.meter
	r.mu.Unlock()

	if state != StateStreaming {
		return r.Fail(protocolError("complete", "", "complete while "+state.String()))
	}
	if received != meta.Size {
		return r.Fail(protocolError("complete", meta.Name, fmt.Sprintf("received %d bytes of %d", received, meta.Size)))
	}

	res := Result{Metadata: meta}
	if err := sink.Commit(&res); err != nil {
		return r.Fail(err)
	}

	r.mu.Lock()
	r.result = res
	r.state = StateCompleted
	r.sink = nil
	r.mu.Unlock()

	r.report(m.complete(meta.FileIndex, meta.Name, meta.Size))
	r.logger.Debug("file received", "file", meta.Name, "index", meta.FileIndex, "bytes", received)
	return nil
}

func (r *ReceiverSession) handleControl(msg Message) error {
	var ctl ControlPayload
	if err := msg.DecodePayload(&ctl); err != nil {
		return r.Fail(err)
	}

	switch ctl.Action {
	case ActionPause:
		r.paused.Store(true)
	case ActionResume:
		r.paused.Store(false)
	default:
		return r.Fail(protocolError("control", r.name(), fmt.Sprintf("unknown action %q", ctl.Action)))
	}

	r.mu.Lock()
	state, meta, received, m := r.state, r.meta, r.received, r.meter
	r.mu.Unlock()
	if state == StateStreaming {
		r.report(m.snapshot(meta.FileIndex, meta.Name, received, meta.Size, r.paused.Load()))
	}
	return nil
}

// TogglePause asks the sender to pause or resume and flips the local flag
// right away. Control frames share the ordered channel with chunks, so the
// sender sees the request before anything sent after it.
func (r *ReceiverSession) TogglePause() error {
	return togglePause(r.transport, r.paused)
}

func togglePause(t transport.Transport, paused *atomic.Bool) error {
	action := ActionPause
	if paused.Load() {
		action = ActionResume
	}
	if err := sendControl(t, action); err != nil {
		return err
	}
	paused.Store(action == ActionPause)
	return nil
}

// Fail forces the session into Failed, aborts the sink and returns err.
// Later calls keep the first cause.
func (r *ReceiverSession) Fail(err error) error {
	r.mu.Lock()
	if r.state.Terminal() {
		if r.state == StateFailed {
			err = r.err
		}
		r.mu.Unlock()
		return err
	}
	r.state = StateFailed
	r.err = err
	sink := r.sink
	r.sink = nil
	r.mu.Unlock()

	if sink != nil {
		if abortErr := sink.Abort(); abortErr != nil {
			r.logger.Warn("failed to discard partial file", "error", abortErr)
		}
	}
	r.logger.Debug("receive failed", "error", err)
	return err
}

func (r *ReceiverSession) name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.meta.Name
}

func (r *ReceiverSession) report(p Progress) {
	if r.onProgress != nil {
		r.onProgress(p)
	}
}
