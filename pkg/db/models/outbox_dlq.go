package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/dispatch-backend/pkg/enums"
)

// OutboxDLQ is a dead-lettered outbox row kept for remediation.
type OutboxDLQ struct {
	ID             uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	EventID        uuid.UUID                  `gorm:"column:event_id;type:uuid;not null"`
	OrganizationID uuid.UUID                  `gorm:"column:organization_id;type:uuid;not null"`
	EventType      enums.OutboxEventType      `gorm:"column:event_type;type:event_type_enum;not null"`
	AggregateType  enums.OutboxAggregateType  `gorm:"column:aggregate_type;type:aggregate_type_enum;not null"`
	AggregateID    uuid.UUID                  `gorm:"column:aggregate_id;type:uuid;not null"`
	Payload        json.RawMessage            `gorm:"column:payload;type:jsonb;not null"`
	ErrorReason    enums.OutboxDLQErrorReason `gorm:"column:error_reason;type:outbox_dlq_error_reason_enum;not null"`
	ErrorMessage   *string                    `gorm:"column:error_message"`
	AttemptCount   int                        `gorm:"column:attempt_count;not null;default:0"`
	FailedAt       time.Time                  `gorm:"column:failed_at"`
	CreatedAt      time.Time                  `gorm:"column:created_at;autoCreateTime"`
}

func (OutboxDLQ) TableName() string { return "outbox_dlq" }
