package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/angelmondragon/dispatch-backend/pkg/config"
	"github.com/angelmondragon/dispatch-backend/pkg/db"
	"github.com/angelmondragon/dispatch-backend/pkg/logger"
)

// upFunc applies every pending migration in dir.
type upFunc func(ctx context.Context, conn *sql.DB, dir string) error

func gooseUp(ctx context.Context, conn *sql.DB, dir string) error {
	return Run(ctx, conn, dir, "up")
}

// MaybeRunDev applies pending migrations at boot when running in dev with
// DISPATCH_AUTO_MIGRATE set. Every process calls it, so the api, cron worker
// and outbox publisher all refuse to start on a schema missing a dispatch
// race guard.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	conn, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "dir": DefaultDir})
	return autoRun(ctx, logg, conn, DefaultDir, gooseUp)
}

func autoRun(ctx context.Context, logg *logger.Logger, conn *sql.DB, dir string, up upFunc) error {
	if err := ValidateDir(dir); err != nil {
		return err
	}
	missing, err := MissingGuards(dir)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return fmt.Errorf("migrations in %s lack guards: %s", dir, strings.Join(missing, ", "))
	}

	logg.Info(ctx, "migrate.auto_run.start")
	if err := up(ctx, conn, dir); err != nil {
		return fmt.Errorf("running goose up: %w", err)
	}
	logg.Info(ctx, "migrate.auto_run.done")
	return nil
}
