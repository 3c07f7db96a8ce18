package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	obscontext "github.com/smallbiznis/milkrun/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestOperationAndTableFromSQL(t *testing.T) {
	cases := []struct {
		sql       string
		operation string
		table     string
	}{
		{`SELECT * FROM "wallets" WHERE customer_id = $1`, "SELECT", "wallets"},
		{"INSERT INTO `deliveries` (id) VALUES (?)", "INSERT", "deliveries"},
		{`UPDATE monthly_payments SET status = 'OVERDUE'`, "UPDATE", "monthly_payments"},
		{`WITH x AS (SELECT 1) DELETE FROM pauses`, "SELECT", "pauses"},
		{``, "UNKNOWN", ""},
	}
	for _, tc := range cases {
		if got := operationFromSQL(tc.sql); got != tc.operation {
			t.Fatalf("operationFromSQL(%q) = %q, want %q", tc.sql, got, tc.operation)
		}
		if got := tableFromSQL(tc.sql); got != tc.table {
			t.Fatalf("tableFromSQL(%q) = %q, want %q", tc.sql, got, tc.table)
		}
	}
}

func TestGormTraceUsesLedgerSlowThreshold(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	l := NewGormLogger(DefaultGormLoggerConfig())
	ctx := obscontext.WithCustomerID(context.Background(), "42")
	begin := time.Now().Add(-150 * time.Millisecond)
	query := func(sql string) func() (string, int64) {
		return func() (string, int64) { return sql, 1 }
	}

	l.Trace(ctx, begin, query(`UPDATE "wallets" SET balance = $1 WHERE id = $2`), nil)
	l.Trace(ctx, begin, query(`SELECT * FROM "customers" WHERE id = $1`), nil)
	l.Trace(ctx, time.Now(), query(`SELECT * FROM "deliveries" WHERE id = $1`), gormlogger.ErrRecordNotFound)
	l.Trace(ctx, time.Now(), query(`INSERT INTO "wallet_transactions" (id) VALUES ($1)`), errors.New("deadlock detected"))

	entries := logs.FilterMessage("gorm.query").All()
	require.Len(t, entries, 2)

	slow := entries[0]
	assert.Equal(t, zapcore.WarnLevel, slow.Level)
	assert.Equal(t, "wallets", slow.ContextMap()["table"])
	assert.Equal(t, true, slow.ContextMap()["ledger"])
	assert.Equal(t, "42", slow.ContextMap()["customer_id"])

	failed := entries[1]
	assert.Equal(t, zapcore.ErrorLevel, failed.Level)
	assert.Equal(t, "INSERT", failed.ContextMap()["operation"])
	assert.Equal(t, "deadlock detected", failed.ContextMap()["error"])
}

func TestGormLogModeSilences(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	l := NewGormLogger(DefaultGormLoggerConfig()).LogMode(gormlogger.Silent)
	l.Trace(context.Background(), time.Now(), func() (string, int64) { return "SELECT 1", 1 }, errors.New("boom"))
	l.Error(context.Background(), "connection lost")
	assert.Zero(t, logs.Len())
}
