package signaling

import "sync"

// Source is anything that yields relay messages, usually a *Client.
type Source interface {
	Incoming() <-chan *Message
}

// Handler routes incoming signaling messages to typed channels.
type Handler struct {
	source Source

	Connected   chan string
	RoomCreated chan string
	RoomJoined  chan *Message
	UserJoined  chan *Message
	Signal      chan *Message
	Transfer    chan *Message
	Error       chan string

	// Disconnected is closed once the source ends.
	Disconnected chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// NewHandler creates a new message handler.
func NewHandler(source Source) *Handler {
	return &Handler{
		source:       source,
		Connected:    make(chan string, 1),
		RoomCreated:  make(chan string, 1),
		RoomJoined:   make(chan *Message, 1),
		UserJoined:   make(chan *Message, 4),
		Signal:       make(chan *Message, 64),
		Transfer:     make(chan *Message, 8),
		Error:        make(chan string, 4),
		Disconnected: make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start begins listening to incoming messages and routing them. It returns
// when the source ends or Close is called.
func (h *Handler) Start() {
	defer close(h.Disconnected)

	for {
		var msg *Message
		var ok bool
		select {
		case msg, ok = <-h.source.Incoming():
			if !ok {
				return
			}
		case <-h.done:
			return
		}

		switch msg.Type {
		case TypeConnected:
			deliver(h, h.Connected, msg.SocketID)
		case TypeRoomCreated:
			deliver(h, h.RoomCreated, msg.RoomID)
		case TypeRoomJoined:
			deliver(h, h.RoomJoined, msg)
		case TypeUserJoined:
			deliver(h, h.UserJoined, msg)
		case TypeOffer, TypeAnswer, TypeICECandidate:
			deliver(h, h.Signal, msg)
		case TypeFileReady, TypeAcceptTransfer, TypeTransferComplete, TypeTransferFailed:
			deliver(h, h.Transfer, msg)
		case TypeError:
			text := msg.Error
			if text == "" {
				text = "Unknown error from server"
			}
			deliver(h, h.Error, text)
		default:
			// Client-to-relay types never arrive here.
		}
	}
}

func deliver[T any](h *Handler, ch chan T, v T) {
	select {
	case ch <- v:
	case <-h.done:
	}
}

// Close stops Start.
func (h *Handler) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
	})
}
