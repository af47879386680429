package controllers

import (
	"net/http"

	"github.com/angelmondragon/dispatch-backend/api/responses"
	"github.com/angelmondragon/dispatch-backend/api/validators"
	"github.com/angelmondragon/dispatch-backend/internal/auth"
	pkgerrors "github.com/angelmondragon/dispatch-backend/pkg/errors"
	"github.com/angelmondragon/dispatch-backend/pkg/logger"
)

const maxNameLength = 120

type createOrganizationRequest struct {
	Name      string `json:"name" validate:"required,max=120"`
	Timezone  string `json:"timezone,omitempty"`
	OwnerName string `json:"owner_name" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
}

// CreateOrganization founds an organization for an approved owner email and
// signs the owner in. The organization and the owner account are created in
// one transaction.
func CreateOrganization(reg auth.RegisterService, svc auth.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reg == nil || svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "auth service unavailable"))
			return
		}

		var body createOrganizationRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		registerAndLogin(w, r, reg, svc, auth.RegisterRequest{
			Email:            body.Email,
			Password:         body.Password,
			Name:             validators.CleanText(body.OwnerName, maxNameLength),
			OrganizationName: validators.CleanText(body.Name, maxNameLength),
			Timezone:         body.Timezone,
		}, logg)
	}
}
