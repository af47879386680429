package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/dispatch-backend/pkg/enums"
)

// ActorRef identifies who triggered the event. System jobs leave it nil.
type ActorRef struct {
	UserID uuid.UUID  `json:"userId"`
	Role   enums.Role `json:"role,omitempty"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version        int             `json:"version"`
	EventID        string          `json:"eventId"`
	OrganizationID uuid.UUID       `json:"organizationId"`
	OccurredAt     time.Time       `json:"occurredAt"`
	Actor          *ActorRef       `json:"actor,omitempty"`
	Data           json.RawMessage `json:"data"`
}
