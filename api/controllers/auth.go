package controllers

import (
	"net/http"

	"github.com/angelmondragon/dispatch-backend/api/responses"
	"github.com/angelmondragon/dispatch-backend/api/validators"
	"github.com/angelmondragon/dispatch-backend/internal/auth"
	pkgerrors "github.com/angelmondragon/dispatch-backend/pkg/errors"
	"github.com/angelmondragon/dispatch-backend/pkg/logger"
)

// AuthLogin exchanges credentials for an access and refresh token pair.
func AuthLogin(svc auth.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			err := pkgerrors.New(pkgerrors.CodeInternal, "auth service unavailable")
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body auth.LoginRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Login(r.Context(), body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		w.Header().Set(tokenHeader, result.AccessToken)
		responses.WriteSuccess(w, result)
	}
}

// AuthRegister creates an account against an invite or an organization code
// and signs it in.
func AuthRegister(reg auth.RegisterService, svc auth.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reg == nil || svc == nil {
			err := pkgerrors.New(pkgerrors.CodeInternal, "auth service unavailable")
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body auth.RegisterRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if body.OrganizationName != "" {
			err := pkgerrors.New(pkgerrors.CodeValidation, "use POST /api/v1/organizations to found an organization")
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		registerAndLogin(w, r, reg, svc, body, logg)
	}
}

func registerAndLogin(w http.ResponseWriter, r *http.Request, reg auth.RegisterService, svc auth.Service, body auth.RegisterRequest, logg *logger.Logger) {
	registered, err := reg.Register(r.Context(), body)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}

	result, err := svc.Login(r.Context(), auth.LoginRequest{Email: body.Email, Password: body.Password})
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}

	w.Header().Set(tokenHeader, result.AccessToken)
	responses.WriteSuccessStatus(w, http.StatusCreated, map[string]any{
		"user":            registered.User,
		"organization_id": registered.OrganizationID,
		"access_token":    result.AccessToken,
		"refresh_token":   result.RefreshToken,
	})
}
