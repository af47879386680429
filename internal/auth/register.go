package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/dispatch-backend/internal/onboarding"
	"github.com/angelmondragon/dispatch-backend/internal/organizations"
	"github.com/angelmondragon/dispatch-backend/internal/users"
	"github.com/angelmondragon/dispatch-backend/pkg/config"
	"github.com/angelmondragon/dispatch-backend/pkg/db"
	"github.com/angelmondragon/dispatch-backend/pkg/db/models"
	"github.com/angelmondragon/dispatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dispatch-backend/pkg/errors"
	"github.com/angelmondragon/dispatch-backend/pkg/logger"
	"github.com/angelmondragon/dispatch-backend/pkg/security"
)

const minPasswordLength = 8

// RegisterService creates accounts against a reserved signup entry.
type RegisterService interface {
	Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error)
}

type reservations interface {
	Reserve(ctx context.Context, params onboarding.ReserveParams) (onboarding.ReserveResult, error)
	Finalize(ctx context.Context, params onboarding.FinalizeParams) (*onboarding.FinalizeResult, error)
	Release(ctx context.Context, reservationID string) (onboarding.ReleaseResult, error)
}

type provisioner interface {
	Provision(ctx context.Context, params organizations.ProvisionParams) (*models.Organization, error)
}

type RegisterServiceParams struct {
	DB             *db.Client
	Reservations   reservations
	Organizations  provisioner
	PasswordConfig config.PasswordConfig
	Logger         *logger.Logger
}

type registerService struct {
	db           *db.Client
	reservations reservations
	orgs         provisioner
	passwordCfg  config.PasswordConfig
	logg         *logger.Logger
}

func NewRegisterService(params RegisterServiceParams) (RegisterService, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "database client required")
	}
	if params.Reservations == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reservation service required")
	}
	if params.Organizations == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "organization service required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &registerService{
		db:           params.DB,
		reservations: params.Reservations,
		orgs:         params.Organizations,
		passwordCfg:  params.PasswordConfig,
		logg:         params.Logger,
	}, nil
}

// Register reserves the entry, creates the account, then finalizes the
// reservation. A failed account insert releases the reservation; a failed
// finalize removes the account again.
func (s *registerService) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	name := strings.TrimSpace(req.Name)
	if email == "" || name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email and name are required")
	}
	if len(req.Password) < minPasswordLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "password must be at least 8 characters")
	}
	founding := strings.TrimSpace(req.OrganizationName) != ""
	selectors := 0
	for _, v := range []string{req.InviteCode, req.OrganizationCode, req.OrganizationName} {
		if strings.TrimSpace(v) != "" {
			selectors++
		}
	}
	if selectors != 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provide exactly one of invite_code, organization_code or organization_name")
	}

	if _, err := users.NewRepository(s.db.DB()).FindByEmail(ctx, email); err == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "email already registered")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check user email")
	}

	passwordHash, err := security.HashPassword(req.Password, s.passwordCfg)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash password")
	}

	reservation, err := s.reservations.Reserve(ctx, onboarding.ReserveParams{
		Email:            email,
		InviteCode:       req.InviteCode,
		OrganizationCode: req.OrganizationCode,
	})
	if err != nil {
		return nil, err
	}
	if !reservation.Allowed {
		return nil, reservation.Reason.Err()
	}
	ctx = s.logg.WithField(ctx, "reservation_id", reservation.ReservationID.String())

	dto := users.CreateUserDTO{
		OrganizationID: reservation.OrganizationID,
		Email:          email,
		PasswordHash:   passwordHash,
		Name:           name,
		Role:           reservation.TargetRole,
	}
	var user *models.User
	switch {
	case founding && reservation.OrganizationID == nil:
		_, err = s.orgs.Provision(ctx, organizations.ProvisionParams{
			Name:     req.OrganizationName,
			Timezone: req.Timezone,
			Within: func(ctx context.Context, tx *gorm.DB, org *models.Organization) error {
				dto.OrganizationID = &org.ID
				dto.Role = enums.RoleOwner
				var err error
				user, err = users.NewRepository(tx).Create(ctx, dto)
				return err
			},
		})
	case !founding && reservation.OrganizationID != nil:
		err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			user, err = users.NewRepository(tx).Create(ctx, dto)
			return err
		})
	default:
		err = pkgerrors.New(pkgerrors.CodeForbidden, string(onboarding.ReasonApprovalNotFound))
	}
	if err != nil {
		s.release(ctx, reservation.ReservationID)
		if db.IsUniqueViolation(err) && pkgerrors.As(err) == nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "email already registered")
		}
		return nil, err
	}

	finalized, err := s.reservations.Finalize(ctx, onboarding.FinalizeParams{
		ReservationID: reservation.ReservationID.String(),
		UserID:        user.ID,
	})
	if err == nil && finalized == nil {
		err = pkgerrors.New(pkgerrors.CodeStateConflict, "reservation disappeared before finalize")
	}
	if err != nil {
		if delErr := users.NewRepository(s.db.DB()).Delete(ctx, user.ID); delErr != nil {
			s.logg.Error(s.logg.WithField(ctx, "user_id", user.ID.String()), "remove account after failed finalize", delErr)
		}
		s.release(ctx, reservation.ReservationID)
		return nil, err
	}

	return &RegisterResponse{User: users.FromModel(user), OrganizationID: *user.OrganizationID}, nil
}

func (s *registerService) release(ctx context.Context, reservationID uuid.UUID) {
	if _, err := s.reservations.Release(ctx, reservationID.String()); err != nil {
		s.logg.Error(ctx, "release signup reservation", err)
	}
}
