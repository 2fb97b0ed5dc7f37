package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Actor roles recorded on escrow events.
const (
	RoleBuyer   = "buyer"
	RoleSeller  = "seller"
	RoleSystem  = "system"
	RoleGateway = "gateway"
)

// ActorRef names who caused the change. Gateway and system actors carry no
// user id.
type ActorRef struct {
	UserID *uuid.UUID `json:"user_id,omitempty"`
	Role   string     `json:"role"`
}

// PayloadEnvelope is the JSON stored in outbox_events.payload and published
// as the Pub/Sub message body. Data holds the event-specific payload.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"event_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}
