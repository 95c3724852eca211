package realtime

// Well-known rooms. Every connection joins the broadcast room; authenticated
// connections additionally join their user rooms, admins the admin room.
const (
	// RoomBroadcast receives public, all-audience events.
	RoomBroadcast = "live-sessions"
	// RoomAdmins receives events addressed to privileged users only.
	RoomAdmins = "admins"
)

// UserRoom returns the room scoped to one user identity. Connections join it
// twice: once under the raw account id and once under the derived participant
// id, so presence events keyed by either reach the same devices.
func UserRoom(userID string) string {
	return "user:" + userID
}

// SessionRoom returns the room carrying updates for one live session.
func SessionRoom(sessionID string) string {
	return "session:" + sessionID
}

// Event names form the stable contract toward connected clients.
const (
	EventSessionStarted       = "session:started"
	EventSessionEnded         = "session:ended"
	EventSessionCancelled     = "session:cancelled"
	EventSessionUpdated       = "session:updated"
	EventParticipantJoined    = "session:participantJoined"
	EventParticipantLeft      = "session:participantLeft"
	EventActiveSessionChanged = "session:active-changed"
	EventDeviceRevoked        = "device:revoked"
	EventAllDevicesRevoked    = "devices:allRevoked"
	EventNotification         = "notification:new"
)

// Bus is the emission surface business logic depends on. All methods are
// fire-and-forget against currently connected sockets; none return delivery
// state. Room membership is owned entirely by the transport.
type Bus interface {
	EmitToAll(event string, data any)
	EmitToAdmins(event string, data any)
	EmitToSession(sessionID, event string, data any)
	EmitToUser(userID, event string, data any)
}
