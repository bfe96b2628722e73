// Package registrar implements the durable REGISTER / UNREGISTER workflow.
package registrar

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openagentlabs/signal-manager/internal/database"
	"github.com/openagentlabs/signal-manager/internal/domain"
	"github.com/openagentlabs/signal-manager/internal/events"
	"github.com/openagentlabs/signal-manager/internal/protocol"
)

// Registrar validates registration requests and drives the client repository.
type Registrar struct {
	clients database.ClientRepository
	bus     events.Bus
	logger  *slog.Logger
}

// New creates a registrar. bus may be nil.
func New(clients database.ClientRepository, bus events.Bus, logger *slog.Logger) *Registrar {
	return &Registrar{
		clients: clients,
		bus:     bus,
		logger:  logger.With("component", "registrar"),
	}
}

// Register handles a REGISTER payload and returns the ack to send. All
// failures are expressed as non-200 ack statuses; nothing here terminates
// the connection.
func (r *Registrar) Register(ctx context.Context, p *protocol.RegisterPayload) *protocol.RegisterAckPayload {
	if msg, ok := validateCommon(p.Version, p.ClientID, p.AuthToken); !ok {
		return registerErr(400, msg)
	}

	now := time.Now()
	client := &domain.RegisteredClient{
		ID:           uuid.New(),
		ClientID:     p.ClientID,
		AuthToken:    p.AuthToken,
		Capabilities: p.Capabilities,
		Metadata:     p.Metadata,
		RegisteredAt: now,
		LastSeen:     now,
		Status:       domain.ClientStatusActive,
	}

	if err := r.clients.Register(ctx, client); err != nil {
		status := database.StatusFor(err)
		r.logger.Warn("registration failed", "client_id", p.ClientID, "status", status, "error", err)
		return registerErr(status, fmt.Sprintf("Registration failed: %v", err))
	}

	r.logger.Info("client registered", "client_id", p.ClientID)
	r.emit(events.TypeClientRegistered, p.ClientID)

	return &protocol.RegisterAckPayload{
		Version:   protocol.CurrentVersion,
		Status:    200,
		Message:   "Registration successful",
		ClientID:  p.ClientID,
		SessionID: uuid.New().String(),
	}
}

// Unregister handles an UNREGISTER payload. The repository validates
// (client_id, auth_token) before the delete: 401 on mismatch, 404 for an
// unknown client.
func (r *Registrar) Unregister(ctx context.Context, p *protocol.UnregisterPayload) *protocol.UnregisterAckPayload {
	if msg, ok := validateCommon(p.Version, p.ClientID, p.AuthToken); !ok {
		return unregisterErr(400, msg)
	}

	if err := r.clients.ValidateCredentials(ctx, p.ClientID, p.AuthToken); err != nil {
		status := database.StatusFor(err)
		r.logger.Warn("unregistration rejected", "client_id", p.ClientID, "status", status)
		return unregisterErr(status, fmt.Sprintf("Unregistration failed: %v", err))
	}

	if err := r.clients.Delete(ctx, p.ClientID); err != nil {
		status := database.StatusFor(err)
		r.logger.Warn("unregistration failed", "client_id", p.ClientID, "status", status, "error", err)
		return unregisterErr(status, fmt.Sprintf("Unregistration failed: %v", err))
	}

	r.logger.Info("client unregistered", "client_id", p.ClientID)
	r.emit(events.TypeClientUnregistered, p.ClientID)

	return &protocol.UnregisterAckPayload{
		Version:  protocol.CurrentVersion,
		Status:   200,
		Message:  "Unregistration successful",
		ClientID: p.ClientID,
	}
}

// validateCommon applies the shared field and version checks in order:
// presence of version, client_id and auth_token, then the lexicographic
// version ceiling.
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

func registerErr(status uint16, msg string) *protocol.RegisterAckPayload {
	return &protocol.RegisterAckPayload{
		Version: protocol.CurrentVersion,
		Status:  status,
		Message: msg,
	}
}

func unregisterErr(status uint16, msg string) *protocol.UnregisterAckPayload {
	return &protocol.UnregisterAckPayload{
		Version: protocol.CurrentVersion,
		Status:  status,
		Message: msg,
	}
}

func (r *Registrar) emit(eventType, clientID string) {
	if r.bus == nil {
		return
	}
	ev := events.New(eventType)
	ev.ClientID = clientID
	if err := r.bus.Publish(context.Background(), events.TopicLifecycle, ev); err != nil {
		r.logger.Warn("failed to publish event", "type", eventType, "error", err)
	}
}
