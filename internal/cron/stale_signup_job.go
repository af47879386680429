package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/dispatch-backend/internal/onboarding"
	"github.com/angelmondragon/dispatch-backend/pkg/logger"
)

type staleReservationReleaser interface {
	ReleaseStaleReservations(ctx context.Context) (onboarding.StaleReport, error)
}

type StaleSignupJobParams struct {
	Logger   *logger.Logger
	Signups  staleReservationReleaser
	Interval time.Duration
}

// NewStaleSignupJob reclaims signup reservations abandoned mid-signup.
func NewStaleSignupJob(params StaleSignupJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Signups == nil {
		return nil, fmt.Errorf("signup reservation service required")
	}
	return &staleSignupJob{logg: params.Logger, signups: params.Signups, interval: params.Interval}, nil
}

type staleSignupJob struct {
	logg     *logger.Logger
	signups  staleReservationReleaser
	interval time.Duration
}

func (j *staleSignupJob) Name() string { return "stale-signup-reservations" }

func (j *staleSignupJob) Every() time.Duration { return j.interval }

func (j *staleSignupJob) Run(ctx context.Context) error {
	report, err := j.signups.ReleaseStaleReservations(ctx)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"stale_count":         report.StaleCount,
		"released_to_pending": report.ReleasedToPending,
		"revoked":             report.Revoked,
	})
	if err != nil {
		j.logg.Warn(logCtx, "stale signup sweep finished with errors")
		return err
	}
	j.logg.Info(logCtx, "stale signup sweep complete")
	return nil
}
