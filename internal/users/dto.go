package users

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/dispatch-backend/pkg/db/models"
	"github.com/angelmondragon/dispatch-backend/pkg/enums"
)

// UserDTO is the transport shape that omits credentials.
type UserDTO struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID *uuid.UUID `json:"organization_id,omitempty"`
	Email          string     `json:"email"`
	Name           string     `json:"name"`
	Role           enums.Role `json:"role"`
	IsActive       bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
}

// CreateUserDTO holds what the repository needs to insert an account.
type CreateUserDTO struct {
	OrganizationID *uuid.UUID
	Email          string
	PasswordHash   string
	Name           string
	Role           enums.Role
}

func FromModel(u *models.User) *UserDTO {
	if u == nil {
		return nil
	}
	return &UserDTO{
		ID:             u.ID,
		OrganizationID: u.OrganizationID,
		Email:          u.Email,
		Name:           u.Name,
		Role:           u.Role,
		IsActive:       u.IsActive,
		CreatedAt:      u.CreatedAt,
	}
}

func (c CreateUserDTO) ToModel() *models.User {
	return &models.User{
		ID:             uuid.New(),
		OrganizationID: c.OrganizationID,
		Email:          c.Email,
		PasswordHash:   c.PasswordHash,
		Name:           c.Name,
		Role:           c.Role,
		IsActive:       true,
	}
}
