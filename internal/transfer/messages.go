package transfer

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/secureera/secureera/internal/seal"
	"github.com/secureera/secureera/internal/transport"
)

// MessageType names a control-plane message. Chunks are not messages; they
// travel as raw binary frames.
type MessageType string

const (
	MessageTypeMetadata MessageType = "metadata"
	MessageTypeReady    MessageType = "ready"
	MessageTypeControl  MessageType = "control"
	MessageTypeComplete MessageType = "complete"
)

// Message is the envelope of every control-plane frame.
type Message struct {
	Type    MessageType        `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload,omitempty"`
}

// Metadata describes one file. It is immutable once sent.
type Metadata struct {
	Name          string `msgpack:"name"`
	Size          int64  `msgpack:"size"`
	MimeType      string `msgpack:"mimeType"`
	EncryptionKey []byte `msgpack:"encryptionKey"`
	FileIndex     int    `msgpack:"fileIndex"`
	TotalFiles    int    `msgpack:"totalFiles"`
}

// Validate checks the fields a receiver relies on.
func (m Metadata) Validate() error {
	switch {
	case m.Name == "":
		return protocolError("validate metadata", "", "empty file name")
	case m.Size < 0:
		return protocolError("validate metadata", m.Name, fmt.Sprintf("negative size %d", m.Size))
	case len(m.EncryptionKey) != seal.KeySize:
		return protocolError("validate metadata", m.Name, fmt.Sprintf("key is %d bytes", len(m.EncryptionKey)))
	case m.TotalFiles <= 0:
		return protocolError("validate metadata", m.Name, fmt.Sprintf("total files %d", m.TotalFiles))
	case m.FileIndex < 0 || m.FileIndex >= m.TotalFiles:
		return protocolError("validate metadata", m.Name, fmt.Sprintf("file index %d of %d", m.FileIndex, m.TotalFiles))
	}
	return nil
}

// ReadyPayload acknowledges that the receiver applied a file's metadata.
type ReadyPayload struct {
	FileIndex int `msgpack:"fileIndex"`
}

type Action string

const (
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
)

type ControlPayload struct {
	Action Action `msgpack:"action"`
}

// DecodePayload decodes the message payload into v.
func (m Message) DecodePayload(v any) error {
	if err := msgpack.Unmarshal(m.Payload, v); err != nil {
		return WrapError("decode payload", ErrProtocol, fmt.Sprintf("%s: %v", m.Type, err))
	}
	return nil
}

// NewMessage creates a Message with the given type and payload. A nil
// payload is omitted.
func NewMessage(t MessageType, payload any) (Message, error) {
	if payload == nil {
		return Message{Type: t}, nil
	}
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return Message{}, NewError("marshal payload", err)
	}
	return Message{Type: t, Payload: b}, nil
}

// ParseMessage decodes a control frame.
func ParseMessage(data []byte) (Message, error) {
	var msg Message
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return Message{}, WrapError("parse message", ErrProtocol, err.Error())
	}
	return msg, nil
}

// SendMessage encodes msg and sends it as a text frame.
func SendMessage(t transport.Transport, msg Message) error {
	if t == nil {
		return ErrTransportNotReady
	}
	data, err := msgpack.Marshal(msg)
	if err != nil {
		return NewError("marshal message", err)
	}
	if err := t.Send(transport.Text(data)); err != nil {
		return NewError("send "+string(msg.Type), sendFailure(err))
	}
	return nil
}

// sendFailure classifies a transport send error. A channel that has not
// opened yet keeps ErrTransportNotReady; anything else is a failure.
func sendFailure(err error) error {
	if errors.Is(err, ErrTransportNotReady) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransportFailed, err)
}

// SendTypedMessage builds and sends a message in one step.
func SendTypedMessage(t transport.Transport, msgType MessageType, payload any) error {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	return SendMessage(t, msg)
}

func sendControl(t transport.Transport, action Action) error {
	return SendTypedMessage(t, MessageTypeControl, ControlPayload{Action: action})
}
