package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/dispatch-backend/pkg/auth"
	"github.com/angelmondragon/dispatch-backend/pkg/auth/session"
	"github.com/angelmondragon/dispatch-backend/pkg/config"
	"github.com/angelmondragon/dispatch-backend/pkg/enums"
)

var sessionJWT = config.JWTConfig{Secret: "secret", Issuer: "dispatch", ExpirationMinutes: 15}

type fakeSessions struct {
	revoked   string
	rotatedID string
	presented string
	nextID    string
	nextToken string
	rotateErr error
}

func (f *fakeSessions) Rotate(_ context.Context, oldAccessID, provided string) (string, string, error) {
	f.rotatedID = oldAccessID
	f.presented = provided
	return f.nextID, f.nextToken, f.rotateErr
}

func (f *fakeSessions) Revoke(_ context.Context, accessID string) error {
	f.revoked = accessID
	return nil
}

// driverToken mints a driver session issued at issuedAt and returns the token
// and its session id.
func driverToken(t *testing.T, orgID uuid.UUID, issuedAt time.Time) (string, string) {
	t.Helper()
	accessID := session.NewAccessID()
	token, err := auth.MintAccessToken(sessionJWT, issuedAt, auth.AccessTokenPayload{
		UserID:         uuid.New(),
		OrganizationID: &orgID,
		Role:           enums.RoleDriver,
		JTI:            accessID,
	})
	require.NoError(t, err)
	return token, accessID
}

func refreshRequestWith(token, refresh string) *http.Request {
	req := jsonRequest(http.MethodPost, "/api/v1/auth/refresh", `{"refresh_token":"`+refresh+`"}`)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestAuthLogoutRevokesPresentedSession(t *testing.T) {
	sessions := &fakeSessions{}
	token, accessID := driverToken(t, uuid.New(), time.Now())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	AuthLogout(sessions, sessionJWT, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, accessID, sessions.revoked)
	assert.Contains(t, rec.Body.String(), "logged_out")
}

func TestAuthLogoutRequiresBearer(t *testing.T) {
	rec := httptest.NewRecorder()
	AuthLogout(&fakeSessions{}, sessionJWT, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRefreshKeepsDriverScopeAfterExpiry(t *testing.T) {
	orgID := uuid.New()
	sessions := &fakeSessions{nextID: "rotated-jti", nextToken: "next-refresh"}
	expired, accessID := driverToken(t, orgID, time.Now().Add(-time.Hour))

	rec := httptest.NewRecorder()
	AuthRefresh(sessions, sessionJWT, nil).ServeHTTP(rec, refreshRequestWith(expired, "old-refresh"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, accessID, sessions.rotatedID)
	assert.Equal(t, "old-refresh", sessions.presented)

	var envelope struct {
		Data refreshResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	assert.Equal(t, "next-refresh", envelope.Data.RefreshToken)
	assert.Equal(t, 15*60, envelope.Data.ExpiresIn)
	assert.Equal(t, envelope.Data.AccessToken, rec.Header().Get(tokenHeader))

	claims, err := auth.ParseAccessToken(sessionJWT, envelope.Data.AccessToken)
	require.NoError(t, err)
	require.NotNil(t, claims.OrganizationID)
	assert.Equal(t, orgID, *claims.OrganizationID)
	assert.Equal(t, enums.RoleDriver, claims.Role)
	assert.Equal(t, "rotated-jti", claims.ID)
}

func TestAuthRefreshRejections(t *testing.T) {
	valid, _ := driverToken(t, uuid.New(), time.Now())
	orgID := uuid.New()
	forged, err := auth.MintAccessToken(config.JWTConfig{Secret: "other", Issuer: "dispatch", ExpirationMinutes: 15}, time.Now(), auth.AccessTokenPayload{
		UserID:         uuid.New(),
		OrganizationID: &orgID,
		Role:           enums.RoleDriver,
	})
	require.NoError(t, err)

	cases := []struct {
		name      string
		token     string
		rotateErr error
		want      int
	}{
		{name: "no bearer", want: http.StatusUnauthorized},
		{name: "bad signature", token: forged, want: http.StatusUnauthorized},
		{name: "stale refresh token", token: valid, rotateErr: session.ErrInvalidRefreshToken, want: http.StatusUnauthorized},
		{name: "store outage", token: valid, rotateErr: errors.New("redis down"), want: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			AuthRefresh(&fakeSessions{rotateErr: tc.rotateErr}, sessionJWT, nil).ServeHTTP(rec, refreshRequestWith(tc.token, "old"))
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestAuthRefreshWithoutManager(t *testing.T) {
	token, _ := driverToken(t, uuid.New(), time.Now())
	rec := httptest.NewRecorder()
	AuthRefresh(nil, sessionJWT, nil).ServeHTTP(rec, refreshRequestWith(token, "old"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
