package db

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/credits-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/credits-backend/pkg/errors"
	"github.com/angelmondragon/credits-backend/pkg/logger"
)

type testModel struct {
	ID   int
	Name string `gorm:"uniqueIndex"`
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&testModel{}))
	return conn
}

func TestWithTx_CommitsAndRollbacks(t *testing.T) {
	conn := newTestDB(t)
	client := FromGorm(conn)

	ctx := context.Background()
	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&testModel{Name: "committed"}).Error
	}))

	var count int64
	require.NoError(t, conn.Model(&testModel{}).Count(&count).Error)
	require.EqualValues(t, 1, count)

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&testModel{Name: "rolled"}).Error; err != nil {
			return err
		}
		return errors.New("boom")
	})
	require.Error(t, err)
	require.NoError(t, conn.Model(&testModel{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestWithTx_RollsBackOnPanic(t *testing.T) {
	conn := newTestDB(t)
	client := FromGorm(conn)

	require.Panics(t, func() {
		_ = client.WithTx(context.Background(), func(tx *gorm.DB) error {
			tx.Create(&testModel{Name: "panicked"})
			panic("boom")
		})
	})

	var count int64
	require.NoError(t, conn.Model(&testModel{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestPing(t *testing.T) {
	client := FromGorm(newTestDB(t))
	require.NoError(t, client.Ping(context.Background()))
}

func TestNew_SQLiteAndUnsupportedDriver(t *testing.T) {
	ctx := context.Background()
	client, err := New(ctx, config.DBConfig{Driver: "SQLite", DSN: "file:" + t.Name() + "?mode=memory&cache=shared"}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx))

	_, err = New(ctx, config.DBConfig{Driver: "mysql", DSN: "x"}, nil)
	require.ErrorContains(t, err, "unsupported database driver")

	_, err = New(ctx, config.DBConfig{Driver: DriverSQLite}, nil)
	require.Error(t, err)
}

func TestQueryLogger_ReportsFailuresAndSlowStatements(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Output: &buf})
	ql := NewQueryLogger(logg, 10*time.Millisecond)
	ctx := context.Background()
	stmt := func() (string, int64) { return "SELECT 1", 1 }

	ql.Trace(ctx, time.Now(), stmt, nil)
	require.Zero(t, buf.Len())

	ql.Trace(ctx, time.Now(), stmt, gorm.ErrRecordNotFound)
	require.Zero(t, buf.Len())

	ql.Trace(ctx, time.Now().Add(-time.Second), stmt, nil)
	require.Contains(t, buf.String(), "slow query")

	buf.Reset()
	ql.Trace(ctx, time.Now(), stmt, errors.New("syntax error"))
	require.Contains(t, buf.String(), "query failed")
	require.Contains(t, buf.String(), "syntax error")

	buf.Reset()
	NewQueryLogger(nil, time.Millisecond).Trace(ctx, time.Now().Add(-time.Second), stmt, errors.New("x"))
	ql.LogMode(gormlogger.Silent).Trace(ctx, time.Now(), stmt, errors.New("silent"))
	require.Zero(t, buf.Len())
}

func TestIsUniqueViolation_SQLite(t *testing.T) {
	conn := newTestDB(t)
	require.NoError(t, conn.Create(&testModel{Name: "dup"}).Error)
	err := conn.Create(&testModel{Name: "dup"}).Error
	require.Error(t, err)
	require.True(t, IsUniqueViolation(err, ""))
	require.False(t, IsUniqueViolation(err, "some_other_constraint"))
}

func TestMapError(t *testing.T) {
	require.Nil(t, MapError(nil, "noop"))

	notFound := MapError(gorm.ErrRecordNotFound, "load account")
	require.True(t, pkgerrors.IsCode(notFound, pkgerrors.CodeNotFound))

	serialization := MapError(&pgconn.PgError{Code: "40001"}, "debit")
	require.True(t, pkgerrors.IsCode(serialization, pkgerrors.CodeConcurrency))

	other := MapError(errors.New("connection reset"), "debit")
	require.True(t, pkgerrors.IsCode(other, pkgerrors.CodePersistence))

	typed := pkgerrors.New(pkgerrors.CodeInsufficientBalance, "short")
	require.Same(t, typed, MapError(typed, "debit"))
}

func TestConstraintClassification(t *testing.T) {
	require.True(t, IsCheckViolation(&pgconn.PgError{Code: "23514"}))
	require.True(t, IsCheckViolation(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintCheck}))
	require.False(t, IsCheckViolation(errors.New("check failed")))

	require.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505", ConstraintName: "idx_accounts_email"}, "email"))
	require.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23505", ConstraintName: "idx_accounts_email"}, "username"))

	busy := MapError(sqlite3.Error{Code: sqlite3.ErrBusy}, "transfer")
	require.True(t, pkgerrors.IsCode(busy, pkgerrors.CodeConcurrency))

	dup := MapError(&pgconn.PgError{Code: "23505"}, "insert")
	require.True(t, pkgerrors.IsCode(dup, pkgerrors.CodeConflict))
}
