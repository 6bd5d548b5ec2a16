// Package dbtest opens throwaway sqlite databases carrying the billing schema.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/billing-engine/pkg/db"
)

// schema mirrors the goose migrations with sqlite types. Enums become TEXT and
// arrays are stored in their Postgres literal form by lib/pq.
var schema = []string{
	`CREATE TABLE billing_plans (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  stripe_price_id TEXT UNIQUE,
  price_amount TEXT NOT NULL DEFAULT '0',
  currency_code TEXT NOT NULL DEFAULT 'USD',
  limits TEXT NOT NULL DEFAULT '{}',
  created_at DATETIME,
  updated_at DATETIME
)`,
	`CREATE TABLE tenant_members (
  tenant_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'active',
  created_at DATETIME,
  PRIMARY KEY (tenant_id, user_id)
)`,
	`CREATE TABLE subscriptions (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL UNIQUE,
  plan_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'none',
  billing_cycle TEXT NOT NULL DEFAULT 'monthly',
  external_subscription_ref TEXT UNIQUE,
  external_customer_ref TEXT,
  period_start DATETIME,
  period_end DATETIME,
  canceled_at DATETIME,
  last_event_id TEXT,
  created_at DATETIME,
  updated_at DATETIME
)`,
	`CREATE TABLE app_licenses (
  tenant_id TEXT NOT NULL,
  app_slug TEXT NOT NULL,
  is_active BOOLEAN NOT NULL DEFAULT 0,
  source TEXT NOT NULL,
  granted_by TEXT,
  updated_at DATETIME,
  UNIQUE (tenant_id, app_slug)
)`,
	`CREATE TABLE credit_ledger_entries (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  tenant_id TEXT,
  amount INTEGER NOT NULL,
  reason TEXT NOT NULL,
  source_type TEXT NOT NULL,
  event_id TEXT NOT NULL,
  dedupe_key TEXT NOT NULL UNIQUE,
  created_at DATETIME
)`,
	`CREATE TABLE invoices (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  external_invoice_ref TEXT NOT NULL UNIQUE,
  external_subscription_ref TEXT,
  amount TEXT NOT NULL,
  currency TEXT NOT NULL,
  status TEXT NOT NULL,
  issued_at DATETIME NOT NULL,
  paid_at DATETIME,
  document_url TEXT,
  hosted_url TEXT,
  created_at DATETIME
)`,
	`CREATE TABLE purchases (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  user_id TEXT,
  kind TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  external_ref TEXT UNIQUE,
  items_applied BOOLEAN NOT NULL DEFAULT 0,
  item_refs TEXT,
  credits INTEGER NOT NULL DEFAULT 0,
  failure_reason TEXT,
  last_error TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  completed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
)`,
	`CREATE TABLE processed_events (
  event_id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  outcome TEXT NOT NULL,
  processed_at DATETIME NOT NULL
)`,
	`CREATE TABLE billing_sync_logs (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  entity_type TEXT NOT NULL,
  entity_id TEXT,
  action TEXT NOT NULL,
  outcome TEXT NOT NULL,
  details TEXT,
  created_at DATETIME
)`,
	`CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload BLOB NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
)`,
	`CREATE TABLE outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json BLOB NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
)`,
}

// Open returns a gorm handle on a fresh in-memory database with the billing schema.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	for _, stmt := range schema {
		require.NoError(t, conn.Exec(stmt).Error)
	}
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

// NewClient wraps Open in the db.Client used by services.
func NewClient(t testing.TB) *db.Client {
	t.Helper()
	return db.NewFromGorm(Open(t))
}
