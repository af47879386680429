package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditLog is an append-only record of a state change performed by an actor.
type AuditLog struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	OrganizationID *uuid.UUID      `gorm:"column:organization_id;type:uuid"`
	ActorID        *uuid.UUID      `gorm:"column:actor_id;type:uuid"`
	Action         string          `gorm:"column:action;not null"`
	EntityType     string          `gorm:"column:entity_type;not null"`
	EntityID       uuid.UUID       `gorm:"column:entity_id;type:uuid;not null"`
	Metadata       json.RawMessage `gorm:"column:metadata;type:jsonb"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
}
