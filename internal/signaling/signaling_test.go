package signaling

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
		want    Type
	}{
		{name: "create room", input: `{"type":"create-room"}`, want: TypeCreateRoom},
		{name: "join room", input: `{"type":"join-room","roomId":"ABC123"}`, want: TypeJoinRoom},
		{name: "offer", input: `{"type":"offer","roomId":"ABC123","offer":{"type":"offer","sdp":"v=0"}}`, want: TypeOffer},
		{name: "not json", input: `{"type":`, wantErr: ErrMalformedMessage},
		{name: "array", input: `[1,2]`, wantErr: ErrMalformedMessage},
		{name: "missing type", input: `{"roomId":"ABC123"}`, wantErr: ErrMalformedMessage},
		{name: "unknown type", input: `{"type":"shout"}`, wantErr: ErrUnknownMessageType, want: "shout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Parse([]byte(tt.input))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			if tt.want != "" {
				require.NotNil(t, msg)
				require.Equal(t, tt.want, msg.Type)
			}
		})
	}
}

func TestMessageKeepsRawFields(t *testing.T) {
	in := `{"type":"ice-candidate","roomId":"R00M42","candidate":{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host","sdpMid":"0"}}`
	msg, err := Parse([]byte(in))
	require.NoError(t, err)
	require.Equal(t, "R00M42", msg.RoomID)

	var cand map[string]any
	require.NoError(t, json.Unmarshal(msg.Candidate, &cand))
	require.Equal(t, "0", cand["sdpMid"])

	out, err := Encode(msg)
	require.NoError(t, err)
	require.JSONEq(t, in, string(out))
}

func TestTypeSets(t *testing.T) {
	relayed := []Type{TypeOffer, TypeAnswer, TypeICECandidate, TypeFileReady, TypeAcceptTransfer, TypeTransferComplete, TypeTransferFailed}
	for _, typ := range relayed {
		require.True(t, typ.Known(), typ)
		require.True(t, typ.Relayed(), typ)
	}

	local := []Type{TypeConnected, TypeCreateRoom, TypeRoomCreated, TypeJoinRoom, TypeRoomJoined, TypeUserJoined, TypeError}
	for _, typ := range local {
		require.True(t, typ.Known(), typ)
		require.False(t, typ.Relayed(), typ)
	}

	require.False(t, Type("peer_left").Known())
}

type chanSource chan *Message

func (c chanSource) Incoming() <-chan *Message { return c }

func TestHandlerRoutesByType(t *testing.T) {
	src := make(chanSource, 8)
	h := NewHandler(src)
	go h.Start()
	defer h.Close()

	src <- &Message{Type: TypeConnected, SocketID: "sock-1"}
	src <- &Message{Type: TypeRoomCreated, RoomID: "ABC123"}
	src <- &Message{Type: TypeUserJoined, SocketID: "sock-2", UserCount: 2}
	src <- &Message{Type: TypeAnswer, Answer: json.RawMessage(`{"type":"answer","sdp":"v=0"}`)}
	src <- &Message{Type: TypeTransferComplete}
	src <- &Message{Type: TypeError, Error: "Room is full"}
	src <- &Message{Type: TypeError}

	require.Equal(t, "sock-1", recv(t, h.Connected))
	require.Equal(t, "ABC123", recv(t, h.RoomCreated))
	require.Equal(t, 2, recv(t, h.UserJoined).UserCount)
	require.Equal(t, TypeAnswer, recv(t, h.Signal).Type)
	require.Equal(t, TypeTransferComplete, recv(t, h.Transfer).Type)
	require.Equal(t, "Room is full", recv(t, h.Error))
	require.Equal(t, "Unknown error from server", recv(t, h.Error))

	close(src)
	select {
	case <-h.Disconnected:
	case <-time.After(time.Second):
		t.Fatal("handler did not report disconnect")
	}
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		var zero T
		return zero
	}
}

// echoServer replies to create-room with room-created and echoes everything
// else back unchanged.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteJSON(Message{Type: TypeConnected, SocketID: "sock-1"})
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := Parse(data)
			if err != nil {
				conn.WriteJSON(NewError("Invalid message format"))
				continue
			}
			if msg.Type == TypeCreateRoom {
				conn.WriteJSON(Message{Type: TypeRoomCreated, RoomID: "ABC123", SocketID: "sock-1"})
				continue
			}
			conn.WriteMessage(websocket.TextMessage, data)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientRoundTrip(t *testing.T) {
	srv := echoServer(t)

	c := NewClient("http" + strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	connected := recv(t, c.Incoming())
	require.Equal(t, TypeConnected, connected.Type)
	require.Equal(t, "sock-1", connected.SocketID)

	require.NoError(t, c.Send(&Message{Type: TypeCreateRoom}))
	created := recv(t, c.Incoming())
	require.Equal(t, TypeRoomCreated, created.Type)
	require.Equal(t, "ABC123", created.RoomID)

	offer := &Message{Type: TypeOffer, RoomID: "ABC123", Offer: json.RawMessage(`{"type":"offer","sdp":"v=0"}`)}
	require.NoError(t, c.Send(offer))
	echoed := recv(t, c.Incoming())
	require.Equal(t, TypeOffer, echoed.Type)
	require.JSONEq(t, string(offer.Offer), string(echoed.Offer))
}

func TestClientCloseEndsIncoming(t *testing.T) {
	srv := echoServer(t)

	c := NewClient("ws" + strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, c.Connect(context.Background()))
	recv(t, c.Incoming())

	c.Close()
	c.Close()
	require.ErrorIs(t, c.Send(&Message{Type: TypeCreateRoom}), ErrClientClosed)

	select {
	case _, ok := <-c.Incoming():
		for ok {
			_, ok = <-c.Incoming()
		}
	case <-time.After(2 * time.Second):
		t.Fatal("incoming was not closed")
	}
}

// recordingServer reports the type of every message it reads.
func recordingServer(t *testing.T, seen chan<- Type) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteJSON(Message{Type: TypeConnected, SocketID: "sock-1"})
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msg, err := Parse(data); err == nil {
				seen <- msg.Type
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientCloseFlushesQueuedMessages(t *testing.T) {
	const rounds = 50
	seen := make(chan Type, rounds)
	srv := recordingServer(t, seen)

	for i := 0; i < rounds; i++ {
		c := NewClient(srv.URL)
		require.NoError(t, c.Connect(context.Background()))
		require.NoError(t, c.Send(&Message{Type: TypeTransferComplete, RoomID: "ABC123"}))
		c.Close()

		require.Equal(t, TypeTransferComplete, recv(t, (<-chan Type)(seen)), "round %d", i)
	}
}

func TestClientRejectsBadScheme(t *testing.T) {
	c := NewClient("ftp://example.com/ws")
	require.Error(t, c.Connect(context.Background()))
}
