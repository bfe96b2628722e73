package sfu

import "encoding/json"

// SessionDescription is the WebRTC offer/answer pair as the SFU API carries
// it. The SDP itself is opaque to this server.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Track locations as the SFU API names them.
const (
	TrackLocal  = "local"
	TrackRemote = "remote"
)

// Track describes one media stream at the SFU. Local tracks originate at the
// session's side; remote tracks subscribe to another session's local track,
// identified by that session's id.
type Track struct {
	Location  string `json:"location"`
	Mid       string `json:"mid,omitempty"`
	TrackName string `json:"trackName"`
	SessionID string `json:"sessionId,omitempty"`
}

// SessionResponse is the SFU's reply to session creation.
type SessionResponse struct {
	SessionID          string             `json:"sessionId"`
	SessionDescription SessionDescription `json:"sessionDescription"`
}

// TracksResponse is the SFU's reply to a track operation.
type TracksResponse struct {
	SessionDescription             *SessionDescription `json:"sessionDescription,omitempty"`
	Tracks                         []Track             `json:"tracks"`
	RequiresImmediateRenegotiation bool                `json:"requiresImmediateRenegotiation,omitempty"`
}

// ConnectionInfo is handed back to clients inside room acks.
type ConnectionInfo struct {
	RoomID    string          `json:"room_id"`
	Role      string          `json:"role"`
	AppID     string          `json:"app_id"`
	SessionID string          `json:"session_id,omitempty"`
	AnswerSDP string          `json:"answer_sdp,omitempty"`
	Tracks    []Track         `json:"tracks,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}
