// Package room drives the room lifecycle: creation, joins, leaves and
// archival, coordinating the external SFU with the durable repositories.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openagentlabs/signal-manager/internal/database"
	"github.com/openagentlabs/signal-manager/internal/domain"
	"github.com/openagentlabs/signal-manager/internal/events"
	"github.com/openagentlabs/signal-manager/internal/protocol"
	"github.com/openagentlabs/signal-manager/internal/sfu"
)

// Archiver receives terminated-room snapshots for export outside the durable
// registry. Failures are logged, never surfaced.
type Archiver interface {
	ArchiveTerminatedRoom(ctx context.Context, rec *domain.TerminatedRoom) error
}

// Orchestrator composes the SFU client and repositories. It owns no state of
// its own: live sessions belong to the session registry, durable state to the
// repositories.
type Orchestrator struct {
	sfu      sfu.Client
	repos    *database.Repositories
	bus      events.Bus
	archiver Archiver
	appID    string
	stunURL  string
	logger   *slog.Logger
}

// New creates an orchestrator. bus and archiver may be nil.
func New(client sfu.Client, repos *database.Repositories, bus events.Bus, archiver Archiver, appID, stunURL string, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		sfu:      client,
		repos:    repos,
		bus:      bus,
		archiver: archiver,
		appID:    appID,
		stunURL:  stunURL,
		logger:   logger.With("component", "room"),
	}
}

// Create handles ROOM_CREATE and returns the ack to send.
func (o *Orchestrator) Create(ctx context.Context, p *protocol.RoomCreatePayload) *protocol.RoomAckPayload {
	if msg, ok := validateCommon(p.Version, p.ClientID, p.AuthToken); !ok {
		return roomErr(400, msg)
	}
	role, ok := domain.ParseRole(p.Role)
	if !ok {
		return roomErr(400, "Invalid role: must be 'sender' or 'receiver'")
	}
	if role == domain.RoleSender && p.OfferSDP == "" {
		return roomErr(400, "Offer SDP is required for sender role")
	}

	roomID := uuid.New().String()
	o.logger.Info("creating room", "room_id", roomID, "client_id", p.ClientID, "role", role)

	var sessionID *string
	var connInfo *sfu.ConnectionInfo
	if role == domain.RoleSender {
		resp, err := o.sfu.CreateSession(ctx, p.OfferSDP)
		if err != nil {
			o.logger.Error("failed to create SFU session", "room_id", roomID, "error", err)
			return roomErr(500, "Failed to create SFU session")
		}
		sessionID = &resp.SessionID
		connInfo = &sfu.ConnectionInfo{
			RoomID:    roomID,
			Role:      string(role),
			AppID:     o.appID,
			SessionID: resp.SessionID,
			AnswerSDP: resp.SessionDescription.SDP,
		}
	} else {
		connInfo = &sfu.ConnectionInfo{
			RoomID: roomID,
			Role:   string(role),
			AppID:  o.appID,
		}
	}

	room := &domain.Room{
		RoomID:    roomID,
		AppID:     o.appID,
		SessionID: sessionID,
		Status:    domain.RoomStatusPending,
		CreatedAt: time.Now(),
		Metadata:  p.Metadata,
	}
	if role == domain.RoleSender {
		room.SenderClientID = &p.ClientID
	} else {
		room.ReceiverClientID = &p.ClientID
	}

	if err := o.repos.Rooms.Create(ctx, room); err != nil {
		o.logger.Error("failed to create room", "room_id", roomID, "error", err)
		o.rollbackSession(ctx, sessionID)
		return roomErr(database.StatusFor(err), "Failed to create room")
	}

	participant := newParticipant(p.ClientID, roomID, role, sessionID, p.Metadata)
	if err := o.repos.Participants.Add(ctx, participant); err != nil {
		o.logger.Error("failed to add participant", "room_id", roomID, "client_id", p.ClientID, "error", err)
		o.rollback(ctx, p.ClientID, roomID, sessionID)
		return roomErr(database.StatusFor(err), "Failed to register participant")
	}

	o.pointClientAtRoom(ctx, p.ClientID, roomID)
	o.emit(events.TypeRoomCreated, p.ClientID, roomID, deref(sessionID))

	return o.roomAck(roomID, sessionID, connInfo, "Room created successfully")
}

// Join handles ROOM_JOIN and returns the ack to send.
func (o *Orchestrator) Join(ctx context.Context, p *protocol.RoomJoinPayload) *protocol.RoomAckPayload {
	if msg, ok := validateCommon(p.Version, p.ClientID, p.AuthToken); !ok {
		return roomErr(400, msg)
	}
	if p.RoomID == "" {
		return roomErr(400, "Missing or invalid 'room_id' field")
	}
	role, ok := domain.ParseRole(p.Role)
	if !ok {
		return roomErr(400, "Invalid role: must be 'sender' or 'receiver'")
	}
	if role == domain.RoleSender && p.OfferSDP == "" {
		return roomErr(400, "Offer SDP is required for sender role")
	}

	room, err := o.repos.Rooms.Get(ctx, p.RoomID)
	if errors.Is(err, database.ErrNotFound) {
		return roomErr(404, "Room not found")
	}
	if err != nil {
		o.logger.Error("failed to load room", "room_id", p.RoomID, "error", err)
		return roomErr(database.StatusFor(err), "Failed to load room")
	}
	if !room.Joinable() {
		return roomErr(400, "Room is not active")
	}

	if _, err := o.repos.Participants.Get(ctx, p.ClientID, p.RoomID); err == nil {
		return roomErr(409, "Client already in room")
	} else if !errors.Is(err, database.ErrNotFound) {
		o.logger.Error("failed to check participant", "room_id", p.RoomID, "client_id", p.ClientID, "error", err)
		return roomErr(database.StatusFor(err), "Failed to check room membership")
	}

	var sessionID *string
	var connInfo *sfu.ConnectionInfo
	switch role {
	case domain.RoleSender:
		resp, err := o.sfu.CreateSession(ctx, p.OfferSDP)
		if err != nil {
			o.logger.Error("failed to create SFU session", "room_id", p.RoomID, "error", err)
			return roomErr(500, "Failed to create SFU session")
		}
		sessionID = &resp.SessionID
		connInfo = &sfu.ConnectionInfo{
			RoomID:    p.RoomID,
			Role:      string(role),
			AppID:     o.appID,
			SessionID: resp.SessionID,
			AnswerSDP: resp.SessionDescription.SDP,
		}

		if err := o.repos.Rooms.SetSenderClientID(ctx, p.RoomID, p.ClientID); err != nil {
			o.logger.Error("failed to set sender", "room_id", p.RoomID, "error", err)
			o.rollbackSession(ctx, sessionID)
			return roomErr(database.StatusFor(err), "Failed to update room")
		}
		if err := o.repos.Rooms.SetSessionID(ctx, p.RoomID, resp.SessionID); err != nil {
			o.logger.Error("failed to set room session", "room_id", p.RoomID, "error", err)
			o.rollbackSession(ctx, sessionID)
			return roomErr(database.StatusFor(err), "Failed to update room")
		}
		// The sender's arrival is what makes a pending room active.
		if err := o.repos.Rooms.SetStatus(ctx, p.RoomID, domain.RoomStatusActive); err != nil {
			o.logger.Error("failed to activate room", "room_id", p.RoomID, "error", err)
			o.rollbackSession(ctx, sessionID)
			return roomErr(database.StatusFor(err), "Failed to update room")
		}

	case domain.RoleReceiver:
		if room.SessionID == nil || *room.SessionID == "" {
			return roomErr(400, "No active session in room")
		}
		senderSession := *room.SessionID
		tracks := []sfu.Track{
			{Location: sfu.TrackRemote, TrackName: "video", SessionID: senderSession},
			{Location: sfu.TrackRemote, TrackName: "audio", SessionID: senderSession},
		}
		resp, err := o.sfu.AddTracks(ctx, senderSession, tracks, "")
		if err != nil {
			o.logger.Error("failed to subscribe tracks", "room_id", p.RoomID, "session_id", senderSession, "error", err)
			return roomErr(500, "Failed to join SFU session")
		}
		o.maybeRenegotiate(ctx, senderSession, resp)

		sessionID = &senderSession
		connInfo = &sfu.ConnectionInfo{
			RoomID:    p.RoomID,
			Role:      string(role),
			AppID:     o.appID,
			SessionID: senderSession,
			Tracks:    resp.Tracks,
		}
		if resp.SessionDescription != nil {
			connInfo.AnswerSDP = resp.SessionDescription.SDP
		}

		if err := o.repos.Rooms.SetReceiverClientID(ctx, p.RoomID, p.ClientID); err != nil {
			o.logger.Error("failed to set receiver", "room_id", p.RoomID, "error", err)
			return roomErr(database.StatusFor(err), "Failed to update room")
		}
	}

	participant := newParticipant(p.ClientID, p.RoomID, role, sessionID, p.Metadata)
	if err := o.repos.Participants.Add(ctx, participant); err != nil {
		o.logger.Error("failed to add participant", "room_id", p.RoomID, "client_id", p.ClientID, "error", err)
		if role == domain.RoleSender {
			o.rollbackSession(ctx, sessionID)
		}
		return roomErr(database.StatusFor(err), "Failed to register participant")
	}

	o.pointClientAtRoom(ctx, p.ClientID, p.RoomID)
	o.emit(events.TypeRoomJoined, p.ClientID, p.RoomID, deref(sessionID))

	return o.roomAck(p.RoomID, sessionID, connInfo, "Joined room successfully")
}

// Leave handles ROOM_LEAVE and returns the ack to send.
func (o *Orchestrator) Leave(ctx context.Context, p *protocol.RoomLeavePayload) *protocol.RoomLeaveAckPayload {
	if msg, ok := validateCommon(p.Version, p.ClientID, p.AuthToken); !ok {
		return leaveErr(400, msg)
	}
	if p.RoomID == "" {
		return leaveErr(400, "Missing or invalid 'room_id' field")
	}

	room, err := o.repos.Rooms.Get(ctx, p.RoomID)
	if errors.Is(err, database.ErrNotFound) {
		return leaveErr(404, "Room not found")
	}
	if err != nil {
		o.logger.Error("failed to load room", "room_id", p.RoomID, "error", err)
		return leaveErr(database.StatusFor(err), "Failed to load room")
	}

	memberships, err := o.repos.Participants.ListByClient(ctx, p.ClientID)
	if err != nil {
		o.logger.Error("failed to list memberships", "client_id", p.ClientID, "error", err)
		return leaveErr(database.StatusFor(err), "Failed to load participant")
	}
	if len(memberships) == 0 {
		return leaveErr(404, "Client not found in any room")
	}
	var participant *domain.RoomParticipant
	for i := range memberships {
		if memberships[i].RoomID == p.RoomID {
			participant = &memberships[i]
			break
		}
	}
	if participant == nil {
		return leaveErr(400, "Client is not in the specified room")
	}

	// Best-effort: the SFU session may already be gone.
	if participant.SessionID != nil && participant.Role == domain.RoleSender {
		if err := o.sfu.TerminateSession(ctx, *participant.SessionID); err != nil {
			o.logger.Warn("SFU termination failed on leave", "session_id", *participant.SessionID, "error", err)
		}
	}

	if err := o.repos.Participants.Remove(ctx, p.ClientID, p.RoomID); err != nil {
		o.logger.Error("failed to remove participant", "room_id", p.RoomID, "client_id", p.ClientID, "error", err)
		return leaveErr(database.StatusFor(err), "Failed to remove participant")
	}

	reason := p.Reason
	if reason == "" {
		reason = "Client left"
	}
	o.archiveParticipant(ctx, participant, reason, p.ClientID)
	o.clearClientRoom(ctx, p.ClientID)
	o.emit(events.TypeRoomLeft, p.ClientID, p.RoomID, deref(participant.SessionID))

	remaining, err := o.repos.Participants.CountByRoom(ctx, p.RoomID)
	if err != nil {
		o.logger.Error("failed to count participants", "room_id", p.RoomID, "error", err)
	} else if remaining == 0 && !room.Terminated() {
		o.terminateRoom(ctx, room, "Room empty", p.ClientID)
	}

	return &protocol.RoomLeaveAckPayload{
		Version:  protocol.CurrentVersion,
		Status:   200,
		Message:  "Left room successfully",
		RoomID:   p.RoomID,
		ClientID: p.ClientID,
	}
}

// terminateRoom moves the room to its terminal state and archives the
// snapshot exactly once. The repository's terminated guard makes a racing
// second call a no-op.
func (o *Orchestrator) terminateRoom(ctx context.Context, room *domain.Room, reason, by string) {
	if err := o.repos.Rooms.SetStatus(ctx, room.RoomID, domain.RoomStatusTerminated); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return // already terminated or deleted by a racing leave
		}
		o.logger.Error("failed to terminate room", "room_id", room.RoomID, "error", err)
		return
	}

	snapshot := *room
	snapshot.Status = domain.RoomStatusTerminated
	rec := &domain.TerminatedRoom{
		RoomID:            room.RoomID,
		TerminatedAt:      time.Now(),
		TerminationReason: reason,
		TerminatedBy:      by,
		FinalStatus:       domain.RoomStatusTerminated,
		Room:              snapshot,
	}
	if err := o.repos.TerminatedRooms.Append(ctx, rec); err != nil {
		o.logger.Error("failed to archive terminated room", "room_id", room.RoomID, "error", err)
	}
	if o.archiver != nil {
		if err := o.archiver.ArchiveTerminatedRoom(ctx, rec); err != nil {
			o.logger.Warn("archive export failed", "room_id", room.RoomID, "error", err)
		}
	}

	o.logger.Info("room terminated", "room_id", room.RoomID, "reason", reason)
	o.emit(events.TypeRoomTerminated, by, room.RoomID, deref(room.SessionID))
}

func (o *Orchestrator) archiveParticipant(ctx context.Context, p *domain.RoomParticipant, reason, by string) {
	final := *p
	final.Status = domain.ParticipantStatusInactive
	rec := &domain.ParticipantHistory{
		RoomID:            p.RoomID,
		ClientID:          p.ClientID,
		TerminatedAt:      time.Now(),
		TerminationReason: reason,
		TerminatedBy:      by,
		FinalStatus:       domain.ParticipantStatusInactive,
		Participant:       final,
	}
	if err := o.repos.ParticipantHistory.Append(ctx, rec); err != nil {
		o.logger.Error("failed to archive participant", "room_id", p.RoomID, "client_id", p.ClientID, "error", err)
	}
}

// rollback undoes a partially created room: the SFU session first, then the
// participant and room rows just written. Best-effort throughout.
func (o *Orchestrator) rollback(ctx context.Context, clientID, roomID string, sessionID *string) {
	o.rollbackSession(ctx, sessionID)
	if err := o.repos.Participants.Remove(ctx, clientID, roomID); err != nil && !errors.Is(err, database.ErrNotFound) {
		o.logger.Warn("rollback: failed to remove participant", "room_id", roomID, "error", err)
	}
	if err := o.repos.Rooms.Delete(ctx, roomID); err != nil && !errors.Is(err, database.ErrNotFound) {
		o.logger.Warn("rollback: failed to delete room", "room_id", roomID, "error", err)
	}
}

func (o *Orchestrator) rollbackSession(ctx context.Context, sessionID *string) {
	if sessionID == nil {
		return
	}
	if err := o.sfu.TerminateSession(ctx, *sessionID); err != nil {
		o.logger.Warn("rollback: failed to terminate SFU session", "session_id", *sessionID, "error", err)
	}
}

// maybeRenegotiate completes the SFU's immediate renegotiation when the
// track response asks for it and already carries an answer.
func (o *Orchestrator) maybeRenegotiate(ctx context.Context, sessionID string, resp *sfu.TracksResponse) {
	if !resp.RequiresImmediateRenegotiation || resp.SessionDescription == nil {
		return
	}
	if resp.SessionDescription.Type != "answer" {
		return
	}
	if err := o.sfu.SendAnswerSDP(ctx, sessionID, resp.SessionDescription.SDP); err != nil {
		o.logger.Warn("renegotiation failed", "session_id", sessionID, "error", err)
	}
}

// pointClientAtRoom updates the registered client's convenience room pointer.
// The participant table stays authoritative; an unregistered client is fine.
func (o *Orchestrator) pointClientAtRoom(ctx context.Context, clientID, roomID string) {
	if err := o.repos.Clients.SetRoomID(ctx, clientID, &roomID); err != nil && !errors.Is(err, database.ErrNotFound) {
		o.logger.Warn("failed to update client room pointer", "client_id", clientID, "error", err)
	}
}

func (o *Orchestrator) clearClientRoom(ctx context.Context, clientID string) {
	if err := o.repos.Clients.SetRoomID(ctx, clientID, nil); err != nil && !errors.Is(err, database.ErrNotFound) {
		o.logger.Warn("failed to clear client room pointer", "client_id", clientID, "error", err)
	}
}

func (o *Orchestrator) roomAck(roomID string, sessionID *string, connInfo *sfu.ConnectionInfo, msg string) *protocol.RoomAckPayload {
	ack := &protocol.RoomAckPayload{
		Version: protocol.CurrentVersion,
		Status:  200,
		Message: msg,
		RoomID:  roomID,
		AppID:   o.appID,
		StunURL: o.stunURL,
	}
	if sessionID != nil {
		ack.SessionID = *sessionID
	}
	if connInfo != nil {
		data, err := json.Marshal(connInfo)
		if err != nil {
			o.logger.Error("failed to marshal connection info", "room_id", roomID, "error", err)
		} else {
			ack.ConnectionInfo = data
		}
	}
	return ack
}

func newParticipant(clientID, roomID string, role domain.Role, sessionID *string, metadata json.RawMessage) *domain.RoomParticipant {
	return &domain.RoomParticipant{
		ID:        uuid.New(),
		ClientID:  clientID,
		RoomID:    roomID,
		Role:      role,
		SessionID: sessionID,
		JoinedAt:  time.Now(),
		Status:    domain.ParticipantStatusActive,
		Metadata:  metadata,
	}
}

func validateCommon(version, clientID, authToken string) (string, bool) {
	if version == "" {
		return "Missing or invalid 'version' field", false
	}
	if clientID == "" {
		return "Missing or invalid 'client_id' field", false
	}
	if authToken == "" {
		return "Missing or invalid 'auth_token' field", false
	}
	if version > protocol.CurrentVersion {
		return "Unsupported version: newer than server", false
	}
	return "", true
}

func roomErr(status uint16, msg string) *protocol.RoomAckPayload {
	return &protocol.RoomAckPayload{
		Version: protocol.CurrentVersion,
		Status:  status,
		Message: msg,
	}
}

func leaveErr(status uint16, msg string) *protocol.RoomLeaveAckPayload {
	return &protocol.RoomLeaveAckPayload{
		Version: protocol.CurrentVersion,
		Status:  status,
		Message: msg,
	}
}

func (o *Orchestrator) emit(eventType, clientID, roomID, sessionID string) {
	if o.bus == nil {
		return
	}
	ev := events.New(eventType)
	ev.ClientID = clientID
	ev.RoomID = roomID
	ev.SessionID = sessionID
	if err := o.bus.Publish(context.Background(), events.TopicLifecycle, ev); err != nil {
		o.logger.Warn("failed to publish event", "type", eventType, "error", err)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
