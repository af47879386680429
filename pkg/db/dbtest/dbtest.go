// Package dbtest opens throwaway SQLite databases that carry the same unique
// guards as the Postgres migrations.
package dbtest

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/dispatch-backend/pkg/db"
)

const schema = `
CREATE TABLE organizations (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  slug TEXT NOT NULL,
  join_code TEXT NOT NULL,
  timezone TEXT NOT NULL DEFAULT 'UTC',
  created_at DATETIME,
  updated_at DATETIME
);
CREATE UNIQUE INDEX uq_organizations_slug ON organizations (slug);
CREATE UNIQUE INDEX uq_organizations_join_code ON organizations (join_code);
CREATE TABLE organization_dispatch_settings (
  organization_id TEXT PRIMARY KEY,
  emergency_bonus_percent INTEGER NOT NULL,
  updated_at DATETIME
);
CREATE TABLE users (
  id TEXT PRIMARY KEY,
  organization_id TEXT,
  email TEXT NOT NULL,
  password_hash TEXT NOT NULL DEFAULT '',
  name TEXT NOT NULL DEFAULT '',
  role TEXT NOT NULL,
  is_active BOOLEAN NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE UNIQUE INDEX uq_users_email ON users (email);
CREATE TABLE warehouses (
  id TEXT PRIMARY KEY,
  organization_id TEXT NOT NULL,
  name TEXT NOT NULL,
  created_at DATETIME
);
CREATE TABLE routes (
  id TEXT PRIMARY KEY,
  organization_id TEXT NOT NULL,
  warehouse_id TEXT NOT NULL,
  name TEXT NOT NULL,
  start_time TEXT NOT NULL,
  created_at DATETIME
);
CREATE TABLE assignments (
  id TEXT PRIMARY KEY,
  organization_id TEXT NOT NULL,
  warehouse_id TEXT NOT NULL,
  route_id TEXT NOT NULL,
  user_id TEXT,
  date DATE NOT NULL,
  route_start_time TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'unfilled',
  confirmed_at DATETIME,
  shift_arrived_at DATETIME,
  parcels_start DATETIME,
  shift_completed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE UNIQUE INDEX uq_assignments_driver_date ON assignments (user_id, date)
  WHERE user_id IS NOT NULL AND status IN ('scheduled', 'active');
CREATE TABLE bid_windows (
  id TEXT PRIMARY KEY,
  organization_id TEXT NOT NULL,
  assignment_id TEXT NOT NULL,
  warehouse_id TEXT NOT NULL,
  mode TEXT NOT NULL,
  status TEXT NOT NULL,
  trigger_reason TEXT NOT NULL,
  opens_at DATETIME NOT NULL,
  closes_at DATETIME NOT NULL,
  pay_bonus_percent INTEGER NOT NULL DEFAULT 0,
  winner_id TEXT,
  superseded BOOLEAN NOT NULL DEFAULT 0,
  closed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE UNIQUE INDEX uq_bid_windows_open_assignment ON bid_windows (assignment_id) WHERE status = 'open';
CREATE TABLE bids (
  id TEXT PRIMARY KEY,
  bid_window_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  bid_at DATETIME NOT NULL,
  status TEXT NOT NULL,
  updated_at DATETIME
);
CREATE UNIQUE INDEX uq_bids_window_user ON bids (bid_window_id, user_id);
CREATE TABLE signup_onboarding_entries (
  id TEXT PRIMARY KEY,
  organization_id TEXT,
  email TEXT NOT NULL,
  kind TEXT NOT NULL,
  target_role TEXT NOT NULL,
  token_hash TEXT,
  status TEXT NOT NULL,
  reservation_id TEXT,
  created_by TEXT,
  expires_at DATETIME,
  consumed_at DATETIME,
  consumed_by_user_id TEXT,
  revoked_at DATETIME,
  revoked_by_user_id TEXT,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE UNIQUE INDEX uq_signup_entries_pending
  ON signup_onboarding_entries (COALESCE(organization_id, ''), email, kind, target_role)
  WHERE status = 'pending';
CREATE UNIQUE INDEX uq_signup_entries_token_hash ON signup_onboarding_entries (token_hash)
  WHERE token_hash IS NOT NULL;
CREATE UNIQUE INDEX uq_signup_entries_reservation ON signup_onboarding_entries (reservation_id)
  WHERE reservation_id IS NOT NULL;
CREATE TABLE notifications (
  id TEXT PRIMARY KEY,
  organization_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  type TEXT NOT NULL,
  title TEXT NOT NULL,
  message TEXT NOT NULL,
  payload BLOB,
  read_at DATETIME,
  created_at DATETIME
);
CREATE TABLE audit_logs (
  id TEXT PRIMARY KEY,
  organization_id TEXT,
  actor_id TEXT,
  action TEXT NOT NULL,
  entity_type TEXT NOT NULL,
  entity_id TEXT NOT NULL,
  metadata BLOB,
  created_at DATETIME
);
CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  organization_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload BLOB NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);

CREATE TABLE outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  organization_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload BLOB NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
);
`

// Open returns a client over a private in-memory database with the dispatch
// schema applied. A single pooled connection keeps transactions serialized.
func Open(t testing.TB) *db.Client {
	t.Helper()
	dsn := "file:dispatch_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v\n%s", err, stmt)
		}
	}
	return db.Wrap(conn)
}
