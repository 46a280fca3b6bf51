package relay

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/secureera/secureera/internal/rooms"
	"github.com/secureera/secureera/internal/signaling"
)

// Error texts sent back to the offending connection.
const (
	errRoomIDRequired = "Room ID is required"
	errInvalidFormat  = "Invalid message format"
	errRoomNotFound   = "Room does not exist"
	errRoomFull       = "Room is full"
)

// Hub routes signaling messages between the members of a room. Room state
// lives in the registry and connections in the table; the hub itself holds
// no mutable state.
type Hub struct {
	rooms  *rooms.Registry
	conns  ConnectionTable
	logger *slog.Logger
}

// NewHub creates a hub over registry and conns. A nil conns gets a fresh
// Connections table.
func NewHub(registry *rooms.Registry, conns ConnectionTable, logger *slog.Logger) *Hub {
	if conns == nil {
		conns = NewConnections()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{rooms: registry, conns: conns, logger: logger}
}

// Rooms exposes the registry, used by the health endpoint.
func (h *Hub) Rooms() *rooms.Registry {
	return h.rooms
}

// Connections exposes the connection table.
func (h *Hub) Connections() ConnectionTable {
	return h.conns
}

// Attach registers a freshly upgraded websocket and starts its pumps.
func (h *Hub) Attach(conn *websocket.Conn) *Client {
	c := newClient(uuid.NewString(), h, conn)
	h.Register(c)

	go c.WritePump()
	go c.ReadPump()
	return c
}

// Register adds c to the connection table and greets it with its id.
func (h *Hub) Register(c *Client) {
	h.conns.Add(c)
	h.logger.Info("client connected", "conn", c.id)
	h.sendTo(c, &signaling.Message{Type: signaling.TypeConnected, SocketID: c.id})
}

// Unregister drops c from its room and the connection table. The other
// members are not notified.
func (h *Hub) Unregister(c *Client) {
	h.rooms.HandleDisconnect(c.id)
	h.conns.Remove(c.id)
	c.close()
	h.logger.Info("client disconnected", "conn", c.id)
}

// HandleMessage processes one text frame from c.
func (h *Hub) HandleMessage(c *Client, data []byte) {
	msg, err := signaling.Parse(data)
	switch {
	case errors.Is(err, signaling.ErrUnknownMessageType):
		h.unknownType(c, msg.Type)
		return
	case err != nil:
		h.logger.Debug("malformed message", "conn", c.id, "error", err)
		h.sendError(c, errInvalidFormat)
		return
	}

	h.logger.Debug("message received", "conn", c.id, "type", msg.Type, "room", msg.RoomID)

	switch msg.Type {
	case signaling.TypeCreateRoom:
		h.createRoom(c)

	case signaling.TypeJoinRoom:
		h.joinRoom(c, msg.RoomID)

	case signaling.TypeOffer, signaling.TypeAnswer, signaling.TypeICECandidate,
		signaling.TypeFileReady, signaling.TypeAcceptTransfer,
		signaling.TypeTransferComplete, signaling.TypeTransferFailed:
		h.forward(c, msg, data)

	case signaling.TypeConnected, signaling.TypeRoomCreated, signaling.TypeRoomJoined,
		signaling.TypeUserJoined, signaling.TypeError:
		h.unknownType(c, msg.Type)

	default:
		h.unknownType(c, msg.Type)
	}
}

func (h *Hub) createRoom(c *Client) {
	roomID, err := h.rooms.Create()
	if err != nil {
		h.logger.Error("failed to create room", "conn", c.id, "error", err)
		h.sendError(c, err.Error())
		return
	}

	if _, err := h.rooms.Join(roomID, c.id); err != nil {
		h.sendError(c, joinErrorText(err))
		return
	}

	h.logger.Info("room created", "room", roomID, "conn", c.id)
	h.sendTo(c, &signaling.Message{
		Type:     signaling.TypeRoomCreated,
		RoomID:   roomID,
		SocketID: c.id,
	})
}

func (h *Hub) joinRoom(c *Client, roomID string) {
	if roomID == "" {
		h.sendError(c, errRoomIDRequired)
		return
	}

	info, err := h.rooms.Join(roomID, c.id)
	if err != nil {
		h.logger.Info("room join failed", "room", roomID, "conn", c.id, "error", err)
		h.sendError(c, joinErrorText(err))
		return
	}

	h.logger.Info("room joined", "room", roomID, "conn", c.id, "members", info.MemberCount)

	h.sendTo(c, &signaling.Message{
		Type:      signaling.TypeRoomJoined,
		RoomID:    roomID,
		SocketID:  c.id,
		UserCount: info.MemberCount,
	})
	h.broadcast(roomID, c.id, &signaling.Message{
		Type:      signaling.TypeUserJoined,
		SocketID:  c.id,
		UserCount: info.MemberCount,
	})
}

// forward relays data, byte for byte, to every other member of the room.
func (h *Hub) forward(c *Client, msg *signaling.Message, data []byte) {
	if msg.RoomID == "" {
		h.sendError(c, errRoomIDRequired)
		return
	}

	h.rooms.Touch(msg.RoomID)
	for _, id := range h.rooms.Members(msg.RoomID, c.id) {
		h.deliver(id, data)
	}
}

func (h *Hub) broadcast(roomID, exclude string, msg *signaling.Message) {
	data, err := signaling.Encode(msg)
	if err != nil {
		h.logger.Error("failed to encode message", "type", msg.Type, "error", err)
		return
	}
	for _, id := range h.rooms.Members(roomID, exclude) {
		h.deliver(id, data)
	}
}

func (h *Hub) deliver(connID string, data []byte) {
	target, ok := h.conns.Get(connID)
	if !ok {
		return
	}
	if !target.Deliver(data) {
		h.logger.Debug("dropped message", "conn", connID)
	}
}

func (h *Hub) sendTo(c *Client, msg *signaling.Message) {
	data, err := signaling.Encode(msg)
	if err != nil {
		h.logger.Error("failed to encode message", "type", msg.Type, "error", err)
		return
	}
	if !c.Deliver(data) {
		h.logger.Debug("dropped message", "conn", c.id, "type", msg.Type)
	}
}

func (h *Hub) sendError(c *Client, text string) {
	h.sendTo(c, signaling.NewError(text))
}

func (h *Hub) unknownType(c *Client, t signaling.Type) {
	h.logger.Warn("unknown message type", "conn", c.id, "type", t)
	h.sendError(c, fmt.Sprintf("Unknown message type: %s", t))
}

func joinErrorText(err error) string {
	switch {
	case errors.Is(err, rooms.ErrRoomNotFound):
		return errRoomNotFound
	case errors.Is(err, rooms.ErrRoomFull):
		return errRoomFull
	default:
		return err.Error()
	}
}
