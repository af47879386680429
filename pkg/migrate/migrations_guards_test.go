package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/dispatch-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no %s migration file found", suffix)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestBidWindowMigrationContainsGuards(t *testing.T) {
	content := readMigration(t, "create_bid_windows")
	checks := []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS uq_bid_windows_open_assignment",
		"WHERE status = 'open'",
		"CONSTRAINT uq_bids_window_user UNIQUE (bid_window_id, user_id)",
		"DROP TABLE IF EXISTS bid_windows",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestAssignmentMigrationContainsDriverDateGuard(t *testing.T) {
	content := readMigration(t, "create_assignments")
	checks := []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS uq_assignments_driver_date",
		"WHERE user_id IS NOT NULL AND status IN ('scheduled', 'active')",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestSignupMigrationTreatsNullOrganizationAsEqual(t *testing.T) {
	content := readMigration(t, "create_signup_onboarding_entries")
	checks := []string{
		"uq_signup_entries_pending",
		"(organization_id, email, kind, target_role)",
		"NULLS NOT DISTINCT",
		"WHERE status = 'pending'",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestOrganizationMigrationContainsProvisioningGuards(t *testing.T) {
	content := readMigration(t, "create_organizations")
	for _, sub := range []string{"CONSTRAINT uq_organizations_slug UNIQUE (slug)", "CONSTRAINT uq_organizations_join_code UNIQUE (join_code)"} {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestValidateDirAcceptsMigrations(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
}

func TestMigrationsDeclareEveryGuard(t *testing.T) {
	missing, err := migrate.MissingGuards("migrations")
	if err != nil {
		t.Fatalf("scan migrations: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("guards missing from migrations: %v", missing)
	}
}
