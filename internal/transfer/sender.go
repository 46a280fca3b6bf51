package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/secureera/secureera/internal/seal"
	"github.com/secureera/secureera/internal/transport"
)

// Source is one file to send.
type Source struct {
	Name     string
	Size     int64
	MimeType string
	Reader   io.ReaderAt
}

// SenderSession streams one file over a transport.
type SenderSession struct {
	transport  transport.Transport
	flow       *FlowController
	source     Source
	chunkSize  int
	onProgress func(Progress)
	logger     *slog.Logger

	mu         sync.Mutex
	state      State
	err        error
	cipher     *seal.Cipher
	fileIndex  int
	totalFiles int
	offset     int64

	ready     chan struct{}
	readyOnce sync.Once

	// failed is closed by Fail so SendFile unblocks from any wait.
	failed     chan struct{}
	failedOnce sync.Once
}

// NewSenderSession prepares a session for src. flow may be shared between
// sessions so that a pause outlives a file boundary; nil builds one from opts.
func NewSenderSession(t transport.Transport, flow *FlowController, src Source, opts Options, onProgress func(Progress)) (*SenderSession, error) {
	if flow == nil {
		var err error
		if flow, err = NewFlowController(t, opts.highWaterMark()); err != nil {
			return nil, err
		}
	}
	return &SenderSession{
		transport:  t,
		flow:       flow,
		source:     src,
		chunkSize:  opts.chunkSize(),
		onProgress: onProgress,
		logger:     opts.logger().With("file", src.Name),
		state:      StateIdle,
		ready:      make(chan struct{}),
		failed:     make(chan struct{}),
	}, nil
}

// State returns the current state. Streaming reads as Paused while the
// pause layer is engaged.
func (s *SenderSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStreaming && s.flow.Paused() {
		return StatePaused
	}
	return s.state
}

// Err returns the failure cause once the session is Failed.
func (s *SenderSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Offset is the number of plaintext bytes sent so far.
func (s *SenderSession) Offset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

// SendMetadata announces the file and its key to the receiver.
func (s *SenderSession) SendMetadata(key *seal.Cipher, fileIndex, totalFiles int) error {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return NewFileError("send metadata", s.source.Name, fmt.Errorf("%w: %s", ErrInvalidState, state))
	}
	s.state = StateSendingMetadata
	s.cipher = key
	s.fileIndex = fileIndex
	s.totalFiles = totalFiles
	s.mu.Unlock()

	err := SendTypedMessage(s.transport, MessageTypeMetadata, Metadata{
		Name:          s.source.Name,
		Size:          s.source.Size,
		MimeType:      s.source.MimeType,
		EncryptionKey: key.Export(),
		FileIndex:     fileIndex,
		TotalFiles:    totalFiles,
	})
	if err != nil {
		return s.Fail(err)
	}

	s.logger.Debug("metadata sent", "index", fileIndex, "total", totalFiles, "size", s.source.Size)
	return nil
}

// SendFile waits for the receiver's ready ack and then streams every chunk
// followed by a complete marker.
func (s *SenderSession) SendFile(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateSendingMetadata {
		state := s.state
		s.mu.Unlock()
		return NewFileError("send file", s.source.Name, fmt.Errorf("%w: %s", ErrInvalidState, state))
	}
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.failed:
			cancel()
		case <-ctx.Done():
		}
	}()

	select {
	case <-s.ready:
	case <-ctx.Done():
		return s.abort(ctx.Err())
	case <-s.transport.Done():
		return s.abort(s.flow.transportErr())
	}

	s.mu.Lock()
	s.state = StateStreaming
	s.mu.Unlock()

	m := newMeter()
	buf := make([]byte, s.chunkSize)
	var offset int64

	for offset < s.source.Size {
		if err := s.flow.Acquire(ctx); err != nil {
			return s.abort(err)
		}

		want := int64(s.chunkSize)
		if remaining := s.source.Size - offset; remaining < want {
			want = remaining
		}

		n, err := s.source.Reader.ReadAt(buf[:want], offset)
		if int64(n) < want {
			if err == nil || errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return s.abort(NewFileError("read", s.source.Name, err))
		}

		sealed, err := s.cipher.Encrypt(buf[:n])
		if err != nil {
			return s.abort(NewFileError("encrypt", s.source.Name, err))
		}

		sent, err := s.flow.SendChunk(transport.Binary(sealed))
		if err != nil {
			return s.abort(NewFileError("send chunk", s.source.Name, sendFailure(err)))
		}
		if !sent {
			// Paused while this chunk was prepared; retry it after resume.
			continue
		}

		offset += int64(n)
		s.mu.Lock()
		s.offset = offset
		s.mu.Unlock()

		s.report(m.snapshot(s.fileIndex, s.source.Name, offset, s.source.Size, s.flow.Paused()))
	}

	if err := SendTypedMessage(s.transport, MessageTypeComplete, nil); err != nil {
		return s.abort(err)
	}

	s.mu.Lock()
	if s.state.Terminal() {
		err := s.err
		s.mu.Unlock()
		return err
	}
	s.state = StateCompleted
	s.mu.Unlock()

	s.report(m.complete(s.fileIndex, s.source.Name, s.source.Size))
	s.logger.Debug("file sent", "index", s.fileIndex, "bytes", offset)
	return nil
}

// abort fails the session unless it already failed, in which case the
// original cause wins over the resulting context cancellation.
func (s *SenderSession) abort(err error) error {
	s.mu.Lock()
	if s.state == StateFailed {
		cause := s.err
		s.mu.Unlock()
		return cause
	}
	s.mu.Unlock()
	return s.Fail(err)
}

// Pause stops chunk scheduling and tells the receiver.
func (s *SenderSession) Pause() error {
	if !s.flow.Pause() {
		return nil
	}
	s.logger.Debug("transfer paused")
	return sendControl(s.transport, ActionPause)
}

// Resume restarts chunk scheduling and tells the receiver.
func (s *SenderSession) Resume() error {
	if !s.flow.Resume() {
		return nil
	}
	s.logger.Debug("transfer resumed")
	return sendControl(s.transport, ActionResume)
}

// HandleControl applies an inbound control-plane message. Pause and resume
// from the peer are honored without being echoed back.
func (s *SenderSession) HandleControl(msg Message) error {
	switch msg.Type {
	case MessageTypeReady:
		var ready ReadyPayload
		if err := msg.DecodePayload(&ready); err != nil {
			return err
		}
		s.mu.Lock()
		index := s.fileIndex
		s.mu.Unlock()
		if ready.FileIndex != index {
			return protocolError("ready", s.source.Name, fmt.Sprintf("ack for file %d, sending %d", ready.FileIndex, index))
		}
		s.readyOnce.Do(func() { close(s.ready) })
		return nil

	case MessageTypeControl:
		return applyControl(s.flow, msg)

	case MessageTypeMetadata, MessageTypeComplete:
		return protocolError("handle control", s.source.Name, fmt.Sprintf("unexpected %s from receiver", msg.Type))

	default:
		return protocolError("handle control", s.source.Name, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

func applyControl(flow *FlowController, msg Message) error {
	var ctl ControlPayload
	if err := msg.DecodePayload(&ctl); err != nil {
		return err
	}
	switch ctl.Action {
	case ActionPause:
		flow.Pause()
	case ActionResume:
		flow.Resume()
	default:
		return protocolError("control", "", fmt.Sprintf("unknown action %q", ctl.Action))
	}
	return nil
}

// Fail forces the session into Failed and returns err for convenience.
// Later calls keep the first cause.
func (s *SenderSession) Fail(err error) error {
	s.mu.Lock()
	if s.state.Terminal() {
		if s.state == StateFailed {
			err = s.err
		}
		s.mu.Unlock()
		return err
	}
	s.state = StateFailed
	s.err = err
	s.mu.Unlock()

	s.failedOnce.Do(func() { close(s.failed) })
	s.logger.Debug("send failed", "error", err)
	return err
}

func (s *SenderSession) report(p Progress) {
	if s.onProgress != nil {
		s.onProgress(p)
	}
}
