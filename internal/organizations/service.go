// Package organizations provisions tenants and exposes their dispatch settings.
package organizations

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/dispatch-backend/internal/contention"
	"github.com/angelmondragon/dispatch-backend/pkg/config"
	"github.com/angelmondragon/dispatch-backend/pkg/db"
	"github.com/angelmondragon/dispatch-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/dispatch-backend/pkg/errors"
	"github.com/angelmondragon/dispatch-backend/pkg/logger"
	"github.com/angelmondragon/dispatch-backend/pkg/security"
)

const (
	joinCodeLength = 8
	maxSlugBase    = 48
)

// ErrCreateConflict is returned once every provisioning attempt collided on a
// generated slug or join code.
var ErrCreateConflict = pkgerrors.New(pkgerrors.CodeConflict, "organization_create_conflict")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ProvisionParams describes a new tenant. Within, when set, runs inside the
// same transaction as the organization insert, for example to create the
// owner account.
type ProvisionParams struct {
	Name     string
	Timezone string
	Within   func(ctx context.Context, tx *gorm.DB, org *models.Organization) error
}

type Service interface {
	Provision(ctx context.Context, params ProvisionParams) (*models.Organization, error)
	EmergencyBonusPercent(ctx context.Context, organizationID uuid.UUID) (int, error)
	FindByJoinCode(ctx context.Context, code string) (*models.Organization, error)
}

type ServiceParams struct {
	DB       txRunner
	Repo     Repository
	Dispatch config.DispatchConfig
	Signup   config.SignupConfig
	Logger   *logger.Logger
	// Suffix and JoinCode override random generation in tests.
	Suffix   func() (string, error)
	JoinCode func() (string, error)
}

type service struct {
	tx       txRunner
	repo     Repository
	dispatch config.DispatchConfig
	attempts int
	logg     *logger.Logger
	suffix   func() (string, error)
	joinCode func() (string, error)
}

func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("organization repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	attempts := params.Signup.OrganizationCreateTries
	if attempts <= 0 {
		attempts = 6
	}
	suffix := params.Suffix
	if suffix == nil {
		suffix = randomSuffix
	}
	joinCode := params.JoinCode
	if joinCode == nil {
		joinCode = func() (string, error) { return security.RandomCode(joinCodeLength, security.JoinCodeAlphabet) }
	}
	return &service{
		tx:       params.DB,
		repo:     params.Repo,
		dispatch: params.Dispatch,
		attempts: attempts,
		logg:     params.Logger,
		suffix:   suffix,
		joinCode: joinCode,
	}, nil
}

// Provision inserts the organization with a fresh slug and join code. A
// collision on either regenerates both and retries in a new transaction, up
// to the configured ceiling.
func (s *service) Provision(ctx context.Context, params ProvisionParams) (*models.Organization, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "organization name is required")
	}
	timezone := strings.TrimSpace(params.Timezone)
	if timezone == "" {
		timezone = "UTC"
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid timezone %q", timezone))
	}
	base := Slugify(name)

	var created *models.Organization
	err := contention.RetryOnConflict(ctx, s.tx, s.attempts,
		[]db.Constraint{db.ConstraintOrganizationSlug, db.ConstraintOrganizationJoinCode},
		func(ctx context.Context, tx *gorm.DB, attempt int) error {
			suffix, err := s.suffix()
			if err != nil {
				return err
			}
			code, err := s.joinCode()
			if err != nil {
				return err
			}
			org := &models.Organization{
				ID:       uuid.New(),
				Name:     name,
				Slug:     base + "-" + suffix,
				JoinCode: code,
				Timezone: timezone,
			}
			repo := s.repo.WithTx(tx)
			if err := repo.Create(ctx, org); err != nil {
				if db.IsUniqueViolation(err) {
					logCtx := s.logg.WithFields(ctx, map[string]any{"slug": org.Slug, "attempt": attempt})
					s.logg.Debug(logCtx, "organization insert collided")
				}
				return err
			}
			if err := repo.CreateSettings(ctx, &models.OrganizationDispatchSettings{
				OrganizationID:        org.ID,
				EmergencyBonusPercent: s.dispatch.DefaultEmergencyBonus,
			}); err != nil {
				return err
			}
			if params.Within != nil {
				if err := params.Within(ctx, tx, org); err != nil {
					return err
				}
			}
			created = org
			return nil
		})
	if errors.Is(err, contention.ErrAttemptsExhausted) {
		s.logg.Error(ctx, "organization provisioning exhausted attempts", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, ErrCreateConflict.Message())
	}
	if err != nil {
		return nil, err
	}
	return created, nil
}

// EmergencyBonusPercent falls back to the configured default when the
// organization has no settings row.
func (s *service) EmergencyBonusPercent(ctx context.Context, organizationID uuid.UUID) (int, error) {
	settings, err := s.repo.FindSettings(ctx, organizationID)
	if err != nil {
		return 0, err
	}
	if settings == nil {
		return s.dispatch.DefaultEmergencyBonus, nil
	}
	return settings.EmergencyBonusPercent, nil
}

func (s *service) FindByJoinCode(ctx context.Context, code string) (*models.Organization, error) {
	return s.repo.FindByJoinCode(ctx, code)
}

// Slugify lowercases name and joins its alphanumeric runs with dashes.
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxSlugBase {
		slug = strings.TrimRight(slug[:maxSlugBase], "-")
	}
	if slug == "" {
		return "org"
	}
	return slug
}

func randomSuffix() (string, error) {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
