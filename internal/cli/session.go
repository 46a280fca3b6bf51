package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/secureera/secureera/internal/config"
	"github.com/secureera/secureera/internal/files"
	"github.com/secureera/secureera/internal/signaling"
	"github.com/secureera/secureera/internal/transfer"
	"github.com/secureera/secureera/internal/ui"
	"github.com/secureera/secureera/internal/webrtc"
)

// completionTimeout bounds how long a sender waits for the receiver to
// confirm the batch before tearing the connection down.
const completionTimeout = 10 * time.Second

var (
	ErrSignaling      = errors.New("signaling error")
	ErrDisconnected   = errors.New("disconnected from signaling server")
	ErrPeerFailed     = errors.New("receiver reported a failed transfer")
	ErrNoConfirmation = errors.New("receiver did not confirm the transfer")
)

// session is one signaling connection plus the knobs that differ between
// an interactive terminal and tests.
type session struct {
	cfg      *config.Config
	client   *signaling.Client
	handler  *signaling.Handler
	peerOpts []webrtc.Option
	logger   *slog.Logger

	// interactive enables spinners and the live progress view.
	interactive bool

	// onRoom is told the room ID once the relay created it.
	onRoom func(roomID string)
}

func connect(ctx context.Context, s *session) error {
	var sp *ui.Spinner
	if s.interactive {
		sp = ui.NewSpinner("Connecting to server...")
		sp.Start()
		defer sp.Stop()
	}

	s.client = signaling.NewClient(s.cfg.SignalURL)
	if err := s.client.Connect(ctx); err != nil {
		return transfer.NewError("connect to server", err)
	}
	s.handler = signaling.NewHandler(s.client)
	go s.handler.Start()
	if sp != nil {
		sp.SetMessage("Waiting for server handshake...")
	}

	select {
	case id := <-s.handler.Connected:
		s.logger.Debug("connected to relay", "socket", id)
		return nil
	case <-s.handler.Disconnected:
		return transfer.NewError("connect to server", ErrDisconnected)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *session) Close() {
	if s.handler != nil {
		s.handler.Close()
	}
	if s.client != nil {
		s.client.Close()
	}
}

// await waits for one value on ch while watching for relay errors.
func await[T any](ctx context.Context, s *session, op string, ch <-chan T) (T, error) {
	var zero T
	select {
	case v := <-ch:
		return v, nil
	case text := <-s.handler.Error:
		return zero, transfer.WrapError(op, ErrSignaling, text)
	case <-s.handler.Disconnected:
		return zero, transfer.NewError(op, ErrDisconnected)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (s *session) waitWithSpinner(message string) func() {
	if !s.interactive {
		return func() {}
	}
	sp := ui.NewWaitingSpinner(message)
	sp.Start()
	return sp.Stop
}

// sendResult is what a sender reports once the receiver confirmed.
type sendResult struct {
	RoomID   string
	Files    int
	Bytes    int64
	Duration time.Duration
}

// runSend creates a room, waits for a receiver and streams fileInfos to it.
func runSend(ctx context.Context, s *session, fileInfos []files.FileInfo, opts transfer.Options) (*sendResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := connect(ctx, s); err != nil {
		return nil, err
	}
	defer s.Close()

	if err := s.client.Send(&signaling.Message{Type: signaling.TypeCreateRoom}); err != nil {
		return nil, transfer.NewError("create room", err)
	}
	roomID, err := await(ctx, s, "create room", s.handler.RoomCreated)
	if err != nil {
		return nil, err
	}
	if s.onRoom != nil {
		s.onRoom(roomID)
	}

	stop := s.waitWithSpinner("Waiting for receiver to join...")
	joined, err := await(ctx, s, "wait for receiver", s.handler.UserJoined)
	stop()
	if err != nil {
		return nil, err
	}
	s.logger.Debug("receiver joined", "room", roomID, "peer", joined.SocketID)

	peer, err := webrtc.NewPeer(s.cfg, s.client, roomID, append(s.peerOpts, webrtc.WithLogger(s.logger))...)
	if err != nil {
		return nil, err
	}
	defer peer.Close()

	stop = s.waitWithSpinner("Establishing peer connection...")
	t, err := peer.Offer(ctx, s.handler.Signal)
	stop()
	if err != nil {
		return nil, transfer.NewError("connect to receiver", err)
	}

	sources, closeAll, err := openSources(fileInfos)
	if err != nil {
		return nil, err
	}
	defer closeAll()

	var progress func(transfer.BatchProgress)
	var view *ui.TransferUI
	sender, err := transfer.NewBatchSender(t, opts, func(bp transfer.BatchProgress) {
		if progress != nil {
			progress(bp)
		}
	})
	if err != nil {
		notifyFailed(s, roomID, err)
		return nil, err
	}
	if s.interactive {
		rows := make([]ui.FileRow, len(fileInfos))
		for i, f := range fileInfos {
			rows[i] = ui.FileRow{Name: f.Name, Size: f.Size, Type: f.Type}
		}
		view = ui.NewTransferUI(ui.ModeSend, rows, ui.Controls{
			TogglePause: sender.TogglePause,
			Cancel:      cancel,
		})
		progress = view.Progress
		view.Start()
	}

	start := time.Now()
	err = sender.Send(ctx, sources)
	if view != nil {
		view.Stop()
	}
	if err != nil {
		notifyFailed(s, roomID, err)
		return nil, transfer.NewError("send files", err)
	}

	if err := waitForConfirmation(ctx, s); err != nil {
		return nil, err
	}

	return &sendResult{
		RoomID:   roomID,
		Files:    len(fileInfos),
		Bytes:    files.GetTotalSize(fileInfos),
		Duration: time.Since(start),
	}, nil
}

func openSources(fileInfos []files.FileInfo) ([]transfer.Source, func(), error) {
	var opened []*os.File
	closeAll := func() {
		for _, f := range opened {
			f.Close()
		}
	}

	sources := make([]transfer.Source, 0, len(fileInfos))
	for _, info := range fileInfos {
		f, err := os.Open(info.Path)
		if err != nil {
			closeAll()
			return nil, nil, transfer.NewFileError("open", info.Name, err)
		}
		opened = append(opened, f)
		sources = append(sources, transfer.Source{
			Name:     info.Name,
			Size:     info.Size,
			MimeType: info.Type,
			Reader:   f,
		})
	}
	return sources, closeAll, nil
}

// waitForConfirmation blocks until the receiver reports the batch outcome.
func waitForConfirmation(ctx context.Context, s *session) error {
	timer := time.NewTimer(completionTimeout)
	defer timer.Stop()

	for {
		select {
		case msg := <-s.handler.Transfer:
			switch msg.Type {
			case signaling.TypeTransferComplete:
				return nil
			case signaling.TypeTransferFailed:
				return transfer.WrapError("send files", ErrPeerFailed, failureText(msg))
			}
		case <-s.handler.Disconnected:
			return transfer.NewError("confirm transfer", ErrDisconnected)
		case <-timer.C:
			return transfer.NewError("confirm transfer", ErrNoConfirmation)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type failurePayload struct {
	Error string `json:"error"`
}

func failureText(msg *signaling.Message) string {
	var p failurePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil || p.Error == "" {
		return "no reason given"
	}
	return p.Error
}

func notifyFailed(s *session, roomID string, cause error) {
	raw, err := json.Marshal(failurePayload{Error: cause.Error()})
	if err != nil {
		return
	}
	if err := s.client.Send(&signaling.Message{Type: signaling.TypeTransferFailed, RoomID: roomID, Payload: raw}); err != nil {
		s.logger.Debug("failed to report transfer failure", "error", err)
	}
}

// runReceive joins roomID and writes every file of the batch into dir.
func runReceive(ctx context.Context, s *session, roomID, dir string) ([]transfer.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := connect(ctx, s); err != nil {
		return nil, err
	}
	defer s.Close()

	if err := s.client.Send(&signaling.Message{Type: signaling.TypeJoinRoom, RoomID: roomID}); err != nil {
		return nil, transfer.NewError("join room", err)
	}
	joined, err := await(ctx, s, "join room", s.handler.RoomJoined)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("joined room", "room", joined.RoomID, "members", joined.UserCount)

	peer, err := webrtc.NewPeer(s.cfg, s.client, roomID, append(s.peerOpts, webrtc.WithLogger(s.logger))...)
	if err != nil {
		return nil, err
	}
	defer peer.Close()

	stop := s.waitWithSpinner("Waiting for sender...")
	t, err := peer.Answer(ctx, s.handler.Signal)
	stop()
	if err != nil {
		return nil, transfer.NewError("connect to sender", err)
	}

	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, transfer.NewError("create output dir", err)
		}
	}

	var progress func(transfer.BatchProgress)
	var view *ui.TransferUI
	receiver := transfer.NewBatchReceiver(t, transfer.FileSinks(dir), transfer.Options{}, func(bp transfer.BatchProgress) {
		if progress != nil {
			progress(bp)
		}
	}, nil)
	if s.interactive {
		view = ui.NewTransferUI(ui.ModeReceive, nil, ui.Controls{
			TogglePause: receiver.TogglePause,
			Cancel:      cancel,
		})
		progress = view.Progress
		view.Start()
	}

	results, err := receiver.Receive(ctx)
	if view != nil {
		if err != nil {
			view.MarkFailed(len(results), err)
		}
		view.Stop()
	}
	if err != nil {
		notifyFailed(s, roomID, err)
		return results, transfer.NewError("receive files", err)
	}

	if err := s.client.Send(&signaling.Message{Type: signaling.TypeTransferComplete, RoomID: roomID}); err != nil {
		s.logger.Warn("failed to confirm transfer", "error", err)
	}
	return results, nil
}

func summarize(status string, n int, bytes int64, d time.Duration) string {
	return ui.SummaryTable(ui.Summary{Status: status, Files: n, Bytes: bytes, Duration: d})
}

func resultBytes(results []transfer.Result) int64 {
	var n int64
	for _, r := range results {
		n += r.Metadata.Size
	}
	return n
}

func describeResults(results []transfer.Result) string {
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "  %s %s\n", ui.IconFile, r.Path)
	}
	return b.String()
}
