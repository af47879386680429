package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/dispatch-backend/pkg/enums"
)

// AccessTokenPayload is what a caller supplies to mint an access token.
type AccessTokenPayload struct {
	UserID         uuid.UUID
	OrganizationID *uuid.UUID
	Role           enums.Role
	JTI            string
}

// AccessTokenClaims is the JWT body issued to clients. The registered ID
// doubles as the refresh session key.
type AccessTokenClaims struct {
	UserID         uuid.UUID  `json:"user_id"`
	OrganizationID *uuid.UUID `json:"organization_id,omitempty"`
	Role           enums.Role `json:"role"`
	jwt.RegisteredClaims
}

// Payload converts claims back into a payload, for re-minting on refresh.
func (c *AccessTokenClaims) Payload(jti string) AccessTokenPayload {
	return AccessTokenPayload{
		UserID:         c.UserID,
		OrganizationID: c.OrganizationID,
		Role:           c.Role,
		JTI:            jti,
	}
}
