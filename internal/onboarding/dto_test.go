package onboarding

import (
	"testing"

	"github.com/stretchr/testify/assert"

	pkgerrors "github.com/angelmondragon/dispatch-backend/pkg/errors"
)

func TestReasonErr(t *testing.T) {
	assert.NoError(t, Reason("").Err())

	cases := map[Reason]pkgerrors.Code{
		ReasonExpiredInvite:       pkgerrors.CodeGone,
		ReasonEntryExists:         pkgerrors.CodeConflict,
		ReasonApprovalNotFound:    pkgerrors.CodeForbidden,
		ReasonInvalidOrgCode:      pkgerrors.CodeForbidden,
		ReasonRevoked:             pkgerrors.CodeForbidden,
		ReasonReservationConflict: pkgerrors.CodeForbidden,
	}
	for reason, code := range cases {
		typed := pkgerrors.As(reason.Err())
		if assert.NotNil(t, typed, reason) {
			assert.Equal(t, code, typed.Code(), reason)
			assert.Equal(t, string(reason), typed.Message(), reason)
		}
	}
}
