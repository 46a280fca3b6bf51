package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMalformedMessage   = errors.New("malformed signaling message")
	ErrUnknownMessageType = errors.New("unknown message type")
)

// Type is the closed set of signaling message types.
type Type string

// Connection and room management.
const (
	TypeConnected   Type = "connected"
	TypeCreateRoom  Type = "create-room"
	TypeRoomCreated Type = "room-created"
	TypeJoinRoom    Type = "join-room"
	TypeRoomJoined  Type = "room-joined"
	TypeUserJoined  Type = "user-joined"
	TypeError       Type = "error"
)

// Peer connection handshake, relayed verbatim.
const (
	TypeOffer        Type = "offer"
	TypeAnswer       Type = "answer"
	TypeICECandidate Type = "ice-candidate"
)

// Transfer coordination, relayed verbatim.
const (
	TypeFileReady        Type = "file-ready"
	TypeAcceptTransfer   Type = "accept-transfer"
	TypeTransferComplete Type = "transfer-complete"
	TypeTransferFailed   Type = "transfer-failed"
)

// Known reports whether t belongs to the message set.
func (t Type) Known() bool {
	switch t {
	case TypeConnected, TypeCreateRoom, TypeRoomCreated, TypeJoinRoom,
		TypeRoomJoined, TypeUserJoined, TypeError,
		TypeOffer, TypeAnswer, TypeICECandidate,
		TypeFileReady, TypeAcceptTransfer, TypeTransferComplete, TypeTransferFailed:
		return true
	default:
		return false
	}
}

// Relayed reports whether the relay forwards t to the other room members.
func (t Type) Relayed() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeICECandidate,
		TypeFileReady, TypeAcceptTransfer, TypeTransferComplete, TypeTransferFailed:
		return true
	default:
		return false
	}
}

// Message is the JSON envelope exchanged with the relay. Session descriptions
// and candidates stay raw so the relay never has to understand them.
type Message struct {
	Type      Type            `json:"type"`
	RoomID    string          `json:"roomId,omitempty"`
	SocketID  string          `json:"socketId,omitempty"`
	UserCount int             `json:"userCount,omitempty"`
	Error     string          `json:"error,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Parse decodes one text frame. For a well-formed frame of an unknown type
// the decoded message is returned along with ErrUnknownMessageType.
func Parse(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	if !msg.Type.Known() {
		return &msg, fmt.Errorf("%w: %s", ErrUnknownMessageType, msg.Type)
	}
	return &msg, nil
}

// Encode marshals msg for the wire.
func Encode(msg *Message) ([]byte, error) {
	return json.Marshal(msg)
}

// NewError builds an error reply.
func NewError(text string) *Message {
	return &Message{Type: TypeError, Error: text}
}
