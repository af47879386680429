package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/dispatch-backend/pkg/enums"
)

// User represents a driver or manager account.
type User struct {
	ID             uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	OrganizationID *uuid.UUID `gorm:"column:organization_id;type:uuid"`
	Email          string     `gorm:"column:email;not null"`
	PasswordHash   string     `gorm:"column:password_hash;not null"`
	Name           string     `gorm:"column:name;not null"`
	Role           enums.Role `gorm:"column:role;type:user_role;not null"`
	IsActive       bool       `gorm:"column:is_active;not null;default:true"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
