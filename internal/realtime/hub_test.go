package realtime

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, hub *Hub, principal *Principal) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(principal, w, r)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func waitForRoomSize(t *testing.T, hub *Hub, room string, want int) {
	t.Helper()

	require.Eventually(t, func() bool {
		return hub.RoomSize(room) == want
	}, 2*time.Second, 10*time.Millisecond, "room %q never reached %d members", room, want)
}

func TestHub_AnonymousJoinsBroadcastOnly(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub, nil)

	waitForRoomSize(t, hub, RoomBroadcast, 1)
	require.Zero(t, hub.RoomSize(RoomAdmins))
	require.Zero(t, hub.RoomSize(UserRoom("u-1")))

	// A user-targeted emit must not reach the anonymous connection; the
	// broadcast sent right after it has to be the first frame received.
	hub.EmitToUser("u-1", EventDeviceRevoked, nil)
	hub.EmitToAll(EventSessionStarted, map[string]any{"id": "sess-1"})

	msg := readEvent(t, conn)
	require.Equal(t, EventSessionStarted, msg.Event)
}

func TestHub_AuthenticatedAutoJoinsIdentityRooms(t *testing.T) {
	hub := NewHub()
	principal := &Principal{UserID: "u-1", ParticipantID: "c160f8cc69a4f0bf", Admin: true}
	conn := dialHub(t, hub, principal)

	waitForRoomSize(t, hub, RoomBroadcast, 1)
	waitForRoomSize(t, hub, UserRoom("u-1"), 1)
	waitForRoomSize(t, hub, UserRoom("c160f8cc69a4f0bf"), 1)
	waitForRoomSize(t, hub, RoomAdmins, 1)

	hub.EmitToUser("c160f8cc69a4f0bf", EventActiveSessionChanged, nil)
	require.Equal(t, EventActiveSessionChanged, readEvent(t, conn).Event)

	hub.EmitToAdmins(EventAllDevicesRevoked, nil)
	require.Equal(t, EventAllDevicesRevoked, readEvent(t, conn).Event)
}

func TestHub_SubscribeAndUnsubscribeSessionRoom(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub, nil)
	waitForRoomSize(t, hub, RoomBroadcast, 1)

	require.NoError(t, conn.WriteJSON(map[string]string{
		"action":     "subscribe",
		"session_id": "sess-1",
	}))
	waitForRoomSize(t, hub, SessionRoom("sess-1"), 1)

	hub.EmitToSession("sess-1", EventParticipantJoined, nil)
	require.Equal(t, EventParticipantJoined, readEvent(t, conn).Event)

	require.NoError(t, conn.WriteJSON(map[string]string{
		"action":     "unsubscribe",
		"session_id": "sess-1",
	}))
	waitForRoomSize(t, hub, SessionRoom("sess-1"), 0)

	// Session emits no longer arrive; the next frame is the broadcast.
	hub.EmitToSession("sess-1", EventParticipantLeft, nil)
	hub.EmitToAll(EventSessionEnded, nil)
	require.Equal(t, EventSessionEnded, readEvent(t, conn).Event)
}

func TestHub_PingControlAnswersPong(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub, nil)
	waitForRoomSize(t, hub, RoomBroadcast, 1)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "ping"}))
	require.Equal(t, "pong", readEvent(t, conn).Event)
}

func TestHub_DisconnectLeavesRooms(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub, &Principal{UserID: "u-9"})

	waitForRoomSize(t, hub, UserRoom("u-9"), 1)
	require.NoError(t, conn.Close())
	waitForRoomSize(t, hub, RoomBroadcast, 0)
	waitForRoomSize(t, hub, UserRoom("u-9"), 0)
}

func TestHub_BackpressuredClientIsDropped(t *testing.T) {
	hub := NewHub()

	conns := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err == nil {
			conns <- conn
		}
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	// Register without a write loop so nothing drains the send queue. Once
	// the buffer is full the next emit must drop the client instead of
	// blocking the hub.
	stuck := newConnection(hub, <-conns, nil)
	hub.register(stuck)
	require.Equal(t, 1, hub.RoomSize(RoomBroadcast))

	for i := 0; i <= defaultBufferSize; i++ {
		hub.EmitToAll(EventSessionUpdated, fmt.Sprintf("frame-%d", i))
	}

	waitForRoomSize(t, hub, RoomBroadcast, 0)
}
