package transfer

import (
	"log/slog"
)

const (
	StandardChunkSize = 16 * 1024 // 16 KB
	TurboChunkSize    = 64 * 1024 // 64 KB

	// DefaultHighWaterMark is the outbound buffer level above which the
	// sender stops enqueueing chunks.
	DefaultHighWaterMark = 16 * 1024 * 1024 // 16 MB

	// LowWaterMark is the buffered-amount-low threshold transports are
	// configured with. It must stay below the high-water mark.
	LowWaterMark = 512 * 1024 // 512 KB
)

// Options tunes a transfer. The zero value is valid.
type Options struct {
	// Turbo selects 64 KB chunks instead of 16 KB. Fixed for a whole file.
	Turbo bool

	// HighWaterMark overrides DefaultHighWaterMark.
	HighWaterMark uint64

	Logger *slog.Logger
}

func (o Options) chunkSize() int {
	if o.Turbo {
		return TurboChunkSize
	}
	return StandardChunkSize
}

func (o Options) highWaterMark() uint64 {
	if o.HighWaterMark > 0 {
		return o.HighWaterMark
	}
	return DefaultHighWaterMark
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// State is the lifecycle position of one file on one side of a transfer.
type State int

const (
	StateIdle State = iota
	StateAwaitingMetadata
	StateSendingMetadata
	StateStreaming
	StatePaused
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingMetadata:
		return "awaiting-metadata"
	case StateSendingMetadata:
		return "sending-metadata"
	case StateStreaming:
		return "streaming"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}
