package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/heatflow/oilshop-backend/pkg/db/dbtest"
)

func TestIsUniqueViolation(t *testing.T) {
	pgxDup := &pgconn.PgError{Code: "23505", ConstraintName: "ux_orders_request_id"}
	pgxFK := &pgconn.PgError{Code: "23503", ConstraintName: "fk_orders"}
	pqDup := &pq.Error{Code: "23505", Constraint: "ux_orders_order_number"}

	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", pgxDup), ""))
	assert.True(t, IsUniqueViolation(pgxDup, "ux_orders_request_id"))
	assert.False(t, IsUniqueViolation(pgxDup, "ux_orders_order_number"))
	assert.False(t, IsUniqueViolation(pgxFK, ""))
	assert.True(t, IsUniqueViolation(pqDup, "ux_orders_order_number"))
	assert.True(t, IsUniqueViolation(fmt.Errorf("create: %w", gorm.ErrDuplicatedKey), ""))
	assert.False(t, IsUniqueViolation(nil, ""))
}

func TestIsUniqueViolationIgnoresMessageText(t *testing.T) {
	err := errors.New(`ERROR: duplicate key value violates unique constraint "ux_orders_request_id"`)
	assert.False(t, IsUniqueViolation(err, ""))
	assert.False(t, IsUniqueViolation(err, "ux_orders_request_id"))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(fmt.Errorf("find: %w", gorm.ErrRecordNotFound)))
	assert.False(t, IsNotFound(errors.New("other")))
}

func TestIsUniqueViolationWithTranslatedSQLiteError(t *testing.T) {
	conn := dbtest.Open(t)

	require.NoError(t, conn.Exec(`INSERT INTO order_counters (scope, last_value) VALUES ('H', 1)`).Error)
	err := conn.Exec(`INSERT INTO order_counters (scope, last_value) VALUES ('H', 2)`).Error
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err, ""))
}
