package protocol

import (
	"encoding/json"

	"github.com/google/uuid"
)

// StartByte opens every frame on the wire.
const StartByte = 0xAA

// CurrentVersion is the protocol version the server speaks. Payload version
// strings are compared lexicographically against it.
const CurrentVersion = "1.0.0"

// MessageType identifies the control message carried by a frame.
type MessageType byte

const (
	MsgConnect       MessageType = 0x01
	MsgConnectAck    MessageType = 0x02
	MsgDisconnect    MessageType = 0x03
	MsgHeartbeat     MessageType = 0x04
	MsgHeartbeatAck  MessageType = 0x05
	MsgSignalOffer   MessageType = 0x10
	MsgSignalAnswer  MessageType = 0x11
	MsgSignalICE     MessageType = 0x12
	MsgRegister      MessageType = 0x20
	MsgRegisterAck   MessageType = 0x21
	MsgUnregister    MessageType = 0x22
	MsgUnregisterAck MessageType = 0x23
	MsgRoomCreate    MessageType = 0x30
	MsgRoomCreateAck MessageType = 0x31
	MsgRoomJoin      MessageType = 0x32
	MsgRoomJoinAck   MessageType = 0x33
	MsgRoomLeave     MessageType = 0x34
	MsgRoomLeaveAck  MessageType = 0x35
	MsgError         MessageType = 0xFF
)

func (t MessageType) valid() bool {
	switch t {
	case MsgConnect, MsgConnectAck, MsgDisconnect, MsgHeartbeat, MsgHeartbeatAck,
		MsgSignalOffer, MsgSignalAnswer, MsgSignalICE,
		MsgRegister, MsgRegisterAck, MsgUnregister, MsgUnregisterAck,
		MsgRoomCreate, MsgRoomCreateAck, MsgRoomJoin, MsgRoomJoinAck,
		MsgRoomLeave, MsgRoomLeaveAck, MsgError:
		return true
	}
	return false
}

func (t MessageType) String() string {
	switch t {
	case MsgConnect:
		return "CONNECT"
	case MsgConnectAck:
		return "CONNECT_ACK"
	case MsgDisconnect:
		return "DISCONNECT"
	case MsgHeartbeat:
		return "HEARTBEAT"
	case MsgHeartbeatAck:
		return "HEARTBEAT_ACK"
	case MsgSignalOffer:
		return "SIGNAL_OFFER"
	case MsgSignalAnswer:
		return "SIGNAL_ANSWER"
	case MsgSignalICE:
		return "SIGNAL_ICE"
	case MsgRegister:
		return "REGISTER"
	case MsgRegisterAck:
		return "REGISTER_ACK"
	case MsgUnregister:
		return "UNREGISTER"
	case MsgUnregisterAck:
		return "UNREGISTER_ACK"
	case MsgRoomCreate:
		return "ROOM_CREATE"
	case MsgRoomCreateAck:
		return "ROOM_CREATE_ACK"
	case MsgRoomJoin:
		return "ROOM_JOIN"
	case MsgRoomJoinAck:
		return "ROOM_JOIN_ACK"
	case MsgRoomLeave:
		return "ROOM_LEAVE"
	case MsgRoomLeaveAck:
		return "ROOM_LEAVE_ACK"
	case MsgError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// PayloadType identifies the payload encoding of a frame.
type PayloadType byte

const (
	PayloadBinary   PayloadType = 0x01
	PayloadJSON     PayloadType = 0x02
	PayloadText     PayloadType = 0x03 // reserved
	PayloadProtobuf PayloadType = 0x04 // reserved
	PayloadCBOR     PayloadType = 0x05 // reserved
)

func (t PayloadType) valid() bool {
	return t >= PayloadBinary && t <= PayloadCBOR
}

// Message is one decoded frame. Payload holds the typed payload struct for
// the message type (e.g. *ConnectPayload for MsgConnect).
type Message struct {
	Type        MessageType
	UUID        uuid.UUID
	PayloadType PayloadType
	Payload     any
}

// NewMessage builds a JSON-payload message with a fresh frame UUID.
func NewMessage(t MessageType, payload any) *Message {
	return &Message{
		Type:        t,
		UUID:        uuid.New(),
		PayloadType: PayloadJSON,
		Payload:     payload,
	}
}

// ============================================================================
// Payload schemas (field names fixed by the wire protocol)
// ============================================================================

// ConnectPayload opens an authenticated session.
type ConnectPayload struct {
	ClientID  string `json:"client_id"`
	AuthToken string `json:"auth_token"`
}

// ConnectAckPayload acknowledges CONNECT. Status is "success" or "failed".
type ConnectAckPayload struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
}

// DisconnectPayload announces an orderly disconnect.
type DisconnectPayload struct {
	ClientID string `json:"client_id"`
	Reason   string `json:"reason"`
}

// HeartbeatPayload carries the client's unix-seconds timestamp.
type HeartbeatPayload struct {
	Timestamp uint64 `json:"timestamp"`
}

// HeartbeatAckPayload echoes the server's unix-seconds timestamp.
type HeartbeatAckPayload struct {
	Timestamp uint64 `json:"timestamp"`
}

// SignalPayload is shared by SIGNAL_OFFER, SIGNAL_ANSWER and SIGNAL_ICE.
// SignalData is opaque to the server.
type SignalPayload struct {
	TargetClientID string `json:"target_client_id"`
	SignalData     string `json:"signal_data"`
}

// RegisterPayload creates a durable client registration.
type RegisterPayload struct {
	Version      string          `json:"version"`
	ClientID     string          `json:"client_id"`
	AuthToken    string          `json:"auth_token"`
	Capabilities []string        `json:"capabilities,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

// RegisterAckPayload acknowledges REGISTER with an HTTP-style status.
type RegisterAckPayload struct {
	Version   string `json:"version"`
	Status    uint16 `json:"status"`
	Message   string `json:"message,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// UnregisterPayload removes a durable client registration.
type UnregisterPayload struct {
	Version   string `json:"version"`
	ClientID  string `json:"client_id"`
	AuthToken string `json:"auth_token"`
}

// UnregisterAckPayload acknowledges UNREGISTER.
type UnregisterAckPayload struct {
	Version  string `json:"version"`
	Status   uint16 `json:"status"`
	Message  string `json:"message,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

// RoomCreatePayload requests a new room. OfferSDP is required when role is
// "sender".
type RoomCreatePayload struct {
	Version   string          `json:"version"`
	ClientID  string          `json:"client_id"`
	AuthToken string          `json:"auth_token"`
	Role      string          `json:"role"`
	OfferSDP  string          `json:"offer_sdp,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// RoomAckPayload is the shared shape of ROOM_CREATE_ACK and ROOM_JOIN_ACK.
type RoomAckPayload struct {
	Version        string          `json:"version"`
	Status         uint16          `json:"status"`
	Message        string          `json:"message,omitempty"`
	RoomID         string          `json:"room_id,omitempty"`
	SessionID      string          `json:"session_id,omitempty"`
	AppID          string          `json:"app_id,omitempty"`
	StunURL        string          `json:"stun_url,omitempty"`
	ConnectionInfo json.RawMessage `json:"connection_info,omitempty"`
}

// RoomJoinPayload requests membership in an existing room.
type RoomJoinPayload struct {
	Version   string          `json:"version"`
	ClientID  string          `json:"client_id"`
	AuthToken string          `json:"auth_token"`
	RoomID    string          `json:"room_id"`
	Role      string          `json:"role"`
	OfferSDP  string          `json:"offer_sdp,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// RoomLeavePayload removes the client from a room.
type RoomLeavePayload struct {
	Version   string `json:"version"`
	ClientID  string `json:"client_id"`
	AuthToken string `json:"auth_token"`
	RoomID    string `json:"room_id"`
	Reason    string `json:"reason,omitempty"`
}

// RoomLeaveAckPayload acknowledges ROOM_LEAVE.
type RoomLeaveAckPayload struct {
	Version  string `json:"version"`
	Status   uint16 `json:"status"`
	Message  string `json:"message,omitempty"`
	RoomID   string `json:"room_id,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

// ErrorPayload is the generic error frame.
type ErrorPayload struct {
	ErrorCode    uint8  `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// newPayload returns the zero payload struct for a message type.
func newPayload(t MessageType) any {
	switch t {
	case MsgConnect:
		return &ConnectPayload{}
	case MsgConnectAck:
		return &ConnectAckPayload{}
	case MsgDisconnect:
		return &DisconnectPayload{}
	case MsgHeartbeat:
		return &HeartbeatPayload{}
	case MsgHeartbeatAck:
		return &HeartbeatAckPayload{}
	case MsgSignalOffer, MsgSignalAnswer, MsgSignalICE:
		return &SignalPayload{}
	case MsgRegister:
		return &RegisterPayload{}
	case MsgRegisterAck:
		return &RegisterAckPayload{}
	case MsgUnregister:
		return &UnregisterPayload{}
	case MsgUnregisterAck:
		return &UnregisterAckPayload{}
	case MsgRoomCreate:
		return &RoomCreatePayload{}
	case MsgRoomCreateAck, MsgRoomJoinAck:
		return &RoomAckPayload{}
	case MsgRoomJoin:
		return &RoomJoinPayload{}
	case MsgRoomLeave:
		return &RoomLeavePayload{}
	case MsgRoomLeaveAck:
		return &RoomLeaveAckPayload{}
	case MsgError:
		return &ErrorPayload{}
	}
	return nil
}
