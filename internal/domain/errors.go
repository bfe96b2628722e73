package domain

import "errors"

// Domain errors - use these for consistent error handling
var (
	// Session errors
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrAlreadyConnected     = errors.New("client already has a live session")
	ErrClientNotFound       = errors.New("client not found")

	// Room errors
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomNotActive     = errors.New("room is not active")
	ErrRoomTerminated    = errors.New("room is terminated")
	ErrAlreadyInRoom     = errors.New("client already in room")
	ErrNoActiveSession   = errors.New("no active session in room")
	ErrSenderTaken       = errors.New("room already has a sender")
	ErrNotInRoom         = errors.New("client is not a participant of this room")
)
