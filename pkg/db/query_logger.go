package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/credits-backend/pkg/logger"
)

// QueryLogger routes gorm's statement log into the service logger. Only
// failed and slow statements are reported; missing rows are not failures.
type QueryLogger struct {
	logg  *logger.Logger
	slow  time.Duration
	level gormlogger.LogLevel
}

// NewQueryLogger returns a silent logger when logg is nil. A zero slow
// threshold disables slow statement reporting.
func NewQueryLogger(logg *logger.Logger, slow time.Duration) *QueryLogger {
	level := gormlogger.Warn
	if logg == nil {
		level = gormlogger.Silent
	}
	return &QueryLogger{logg: logg, slow: slow, level: level}
}

func (q *QueryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *q
	clone.level = level
	return &clone
}

func (q *QueryLogger) Info(ctx context.Context, msg string, args ...any) {
	if q.enabled(gormlogger.Info) {
		q.logg.Debug(ctx, fmt.Sprintf(msg, args...))
	}
}

func (q *QueryLogger) Warn(ctx context.Context, msg string, args ...any) {
	if q.enabled(gormlogger.Warn) {
		q.logg.Warn(ctx, fmt.Sprintf(msg, args...))
	}
}

func (q *QueryLogger) Error(ctx context.Context, msg string, args ...any) {
	if q.enabled(gormlogger.Error) {
		q.logg.Error(ctx, "gorm", fmt.Errorf(msg, args...))
	}
}

func (q *QueryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if !q.enabled(gormlogger.Error) {
		return
	}
	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound)
	slow := q.slow > 0 && elapsed > q.slow
	if !failed && !(slow && q.enabled(gormlogger.Warn)) {
		return
	}

	sql, rows := fc()
	fields := map[string]any{
		"sql":        sql,
		"rows":       rows,
		"elapsed_ms": elapsed.Milliseconds(),
	}
	if failed {
		q.logg.Warn(q.logg.WithFields(ctx, withError(fields, err)), "query failed")
		return
	}
	q.logg.Warn(q.logg.WithFields(ctx, fields), "slow query")
}

func (q *QueryLogger) enabled(level gormlogger.LogLevel) bool {
	return q.logg != nil && q.level >= level
}

func withError(fields map[string]any, err error) map[string]any {
	fields["error"] = err.Error()
	return fields
}
