package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	iauth "github.com/skillup-labs/skillup-live/internal/auth"
	"github.com/skillup-labs/skillup-live/internal/identity"
	"github.com/skillup-labs/skillup-live/internal/models"
	"github.com/skillup-labs/skillup-live/internal/realtime"
)

func newRealtimeServer(t *testing.T) (*httptest.Server, *iauth.JWTService, *realtime.Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "handshake-secret", Issuer: "skillup-live"})
	require.NoError(t, err)

	hub := realtime.NewHub()
	router := gin.New()
	router.GET("/ws", NewRealtimeHandler(hub, jwtSvc).Stream)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, jwtSvc, hub
}

func wsURL(srv *httptest.Server, query string) string {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if query != "" {
		url += "?" + query
	}
	return url
}

func waitRoom(t *testing.T, hub *realtime.Hub, room string, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return hub.RoomSize(room) == want
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStream_RejectsInvalidCredential(t *testing.T) {
	srv, _, hub := newRealtimeServer(t)

	// A present but unverifiable token must fail the handshake instead of
	// degrading to an anonymous connection.
	resp, err := http.Get(srv.URL + "/ws?token=not-a-jwt")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Zero(t, hub.RoomSize(realtime.RoomBroadcast))
}

func TestStream_AnonymousWithoutCredential(t *testing.T) {
	srv, _, hub := newRealtimeServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	waitRoom(t, hub, realtime.RoomBroadcast, 1)
	require.Zero(t, hub.RoomSize(realtime.RoomAdmins))
}

func TestStream_AuthenticatedJoinsIdentityRooms(t *testing.T) {
	srv, jwtSvc, hub := newRealtimeServer(t)

	token, err := jwtSvc.GenerateAccessToken(iauth.AccessTokenInput{
		UserID: "user-1",
		Email:  "alice@example.com",
		Role:   models.RoleAdmin,
	})
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "token="+token), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	waitRoom(t, hub, realtime.UserRoom("user-1"), 1)
	waitRoom(t, hub, realtime.UserRoom(identity.Participant("alice@example.com", "user-1")), 1)
	waitRoom(t, hub, realtime.RoomAdmins, 1)
}

func TestStream_BearerHeaderCredential(t *testing.T) {
	srv, jwtSvc, hub := newRealtimeServer(t)

	token, err := jwtSvc.GenerateAccessToken(iauth.AccessTokenInput{
		UserID: "user-2",
		Email:  "bob@example.com",
		Role:   "student",
	})
	require.NoError(t, err)

	header := http.Header{"Authorization": []string{"Bearer " + token}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	waitRoom(t, hub, realtime.UserRoom("user-2"), 1)
	require.Zero(t, hub.RoomSize(realtime.RoomAdmins))
}
