// Package dbtest opens throwaway sqlite databases carrying the same tables as
// the Postgres migrations, for repository and service tests.
package dbtest

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var schema = []string{
	`CREATE TABLE order_counters (
  scope TEXT PRIMARY KEY,
  last_value INTEGER NOT NULL
);`,
	`CREATE TABLE orders (
  id TEXT PRIMARY KEY,
  order_number TEXT NOT NULL,
  request_id TEXT NOT NULL,
  customer_name TEXT NOT NULL,
  customer_email TEXT NOT NULL,
  customer_phone TEXT,
  language TEXT NOT NULL,
  delivery_address TEXT NOT NULL,
  billing_address TEXT,
  notes TEXT,
  product_code TEXT NOT NULL,
  liters NUMERIC NOT NULL,
  price_per_liter NUMERIC NOT NULL,
  base_price NUMERIC NOT NULL,
  delivery_fee NUMERIC NOT NULL,
  discount NUMERIC NOT NULL DEFAULT 0,
  discount_code TEXT,
  total_amount NUMERIC NOT NULL,
  currency TEXT NOT NULL DEFAULT 'EUR',
  status TEXT NOT NULL DEFAULT 'pending',
  is_hidden BOOLEAN NOT NULL DEFAULT 0,
  payment_method TEXT NOT NULL,
  bank_account_id TEXT,
  nexi_payment_id TEXT,
  nexi_redirect_url TEXT,
  nexi_transaction_status TEXT,
  nexi_webhook_data TEXT,
  invoice_number TEXT,
  invoice_file_url TEXT,
  invoice_error TEXT,
  origin_domain TEXT,
  shop_id TEXT NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE UNIQUE INDEX ux_orders_request_id ON orders (request_id);`,
	`CREATE UNIQUE INDEX ux_orders_order_number ON orders (order_number);`,
	`CREATE UNIQUE INDEX ux_orders_invoice_number ON orders (invoice_number) WHERE invoice_number IS NOT NULL;`,
	`CREATE TABLE order_audit_events (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  action TEXT NOT NULL,
  from_status TEXT,
  to_status TEXT,
  actor TEXT NOT NULL,
  note TEXT,
  created_at DATETIME
);`,
	`CREATE TABLE payment_logs (
  id TEXT PRIMARY KEY,
  payment_id TEXT,
  order_id TEXT,
  order_number TEXT,
  transaction_type TEXT NOT NULL,
  source TEXT NOT NULL,
  result_code TEXT,
  outcome TEXT,
  payload TEXT,
  created_at DATETIME
);`,
	`CREATE TABLE email_dispatches (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  template TEXT NOT NULL,
  status TEXT NOT NULL,
  locale TEXT NOT NULL,
  recipient TEXT NOT NULL,
  provider_message_id TEXT,
  last_error TEXT,
  attempts INTEGER NOT NULL DEFAULT 0,
  sent_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE UNIQUE INDEX ux_email_dispatches_order_template ON email_dispatches (order_id, template);`,
	`CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
	`CREATE TABLE outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json TEXT NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
);`,
}

// Open returns an isolated in-memory database with the full schema applied.
// A single connection is kept so concurrent callers serialize like row locks
// would on Postgres.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
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

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v\n%s", err, stmt)
		}
	}
	return conn
}
