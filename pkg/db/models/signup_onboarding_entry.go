package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/dispatch-backend/pkg/enums"
)

// SignupOnboardingEntry is a one-time authorization slot for creating an account.
type SignupOnboardingEntry struct {
	ID               uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	OrganizationID   *uuid.UUID              `gorm:"column:organization_id;type:uuid"`
	Email            string                  `gorm:"column:email;not null"`
	Kind             enums.SignupEntryKind   `gorm:"column:kind;type:signup_entry_kind;not null"`
	TargetRole       enums.Role              `gorm:"column:target_role;type:user_role;not null"`
	TokenHash        *string                 `gorm:"column:token_hash"`
	Status           enums.SignupEntryStatus `gorm:"column:status;type:signup_entry_status;not null"`
	ReservationID    *uuid.UUID              `gorm:"column:reservation_id;type:uuid"`
	CreatedBy        *uuid.UUID              `gorm:"column:created_by;type:uuid"`
	ExpiresAt        *time.Time              `gorm:"column:expires_at"`
	ConsumedAt       *time.Time              `gorm:"column:consumed_at"`
	ConsumedByUserID *uuid.UUID              `gorm:"column:consumed_by_user_id;type:uuid"`
	RevokedAt        *time.Time              `gorm:"column:revoked_at"`
	RevokedByUserID  *uuid.UUID              `gorm:"column:revoked_by_user_id;type:uuid"`
	CreatedAt        time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time               `gorm:"column:updated_at"`
}

// Expired reports whether the entry carries an expiry that has passed.
func (e SignupOnboardingEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}
