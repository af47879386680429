package auth

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/dispatch-backend/internal/users"
)

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse carries the token pair and the signed-in account.
type LoginResponse struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token"`
	User         *users.UserDTO `json:"user"`
}

// RegisterRequest creates an account. Exactly one of InviteCode,
// OrganizationCode or OrganizationName selects how the account is
// authorized: an invite, an approval to join by code, or a platform approval
// to found a new organization.
type RegisterRequest struct {
	Email            string `json:"email" validate:"required,email"`
	Password         string `json:"password" validate:"required,min=8"`
	Name             string `json:"name" validate:"required"`
	InviteCode       string `json:"invite_code,omitempty"`
	OrganizationCode string `json:"organization_code,omitempty"`
	OrganizationName string `json:"organization_name,omitempty"`
	Timezone         string `json:"timezone,omitempty"`
}

type RegisterResponse struct {
	User           *users.UserDTO `json:"user"`
	OrganizationID uuid.UUID      `json:"organization_id"`
}
