package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

// GormLoggerConfig configures the zap-backed GORM logger.
type GormLoggerConfig struct {
	Level                gormlogger.LogLevel
	SlowThreshold        time.Duration
	IgnoreRecordNotFound bool
}

func DefaultGormLoggerConfig() GormLoggerConfig {
	return GormLoggerConfig{
		Level:                gormlogger.Warn,
		SlowThreshold:        200 * time.Millisecond,
		IgnoreRecordNotFound: true,
	}
}

// ledgerTables hold money. Writes to them are logged at info level even when
// the statement itself is fast.
var ledgerTables = map[string]bool{
	"student_fee_records":      true,
	"fee_transactions":         true,
	"student_category_charges": true,
	"demand_bills":             true,
	"demand_bill_lines":        true,
	"bill_sequences":           true,
}

// GormLogger routes GORM output through the request-scoped zap logger.
type GormLogger struct {
	cfg GormLoggerConfig
}

func NewGormLogger(cfg GormLoggerConfig) *GormLogger {
	return &GormLogger{cfg: cfg}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.cfg.Level = level
	return &next
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Info, zapcore.InfoLevel, msg, data)
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Warn, zapcore.WarnLevel, msg, data)
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Error, zapcore.ErrorLevel, msg, data)
}

func (l *GormLogger) message(ctx context.Context, floor gormlogger.LogLevel, level zapcore.Level, msg string, data []interface{}) {
	if l.cfg.Level < floor {
		return
	}
	fields := []zap.Field{zap.String("component", "gorm")}
	if len(data) > 0 {
		fields = append(fields, zap.Any("data", data))
	}
	if ce := FromContext(ctx).Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}

// Trace logs failed, slow and ledger-writing statements.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.cfg.Level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	if err != nil && errors.Is(err, gormlogger.ErrRecordNotFound) && l.cfg.IgnoreRecordNotFound {
		err = nil
	}

	sql, rows := fc()
	stmt := describe(sql)

	level := zapcore.DebugLevel
	switch {
	case err != nil && l.cfg.Level >= gormlogger.Error:
		level = zapcore.ErrorLevel
	case l.cfg.SlowThreshold > 0 && elapsed > l.cfg.SlowThreshold && l.cfg.Level >= gormlogger.Warn:
		level = zapcore.WarnLevel
	case stmt.ledgerWrite() && l.cfg.Level >= gormlogger.Warn:
		level = zapcore.InfoLevel
	case l.cfg.Level >= gormlogger.Info:
	default:
		return
	}

	fields := []zap.Field{
		zap.String("component", "gorm"),
		zap.String("sql", strings.TrimSpace(sql)),
		zap.String("operation", stmt.operation),
		zap.String("table", stmt.table),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	}
	if stmt.rowLock {
		fields = append(fields, zap.Bool("row_lock", true))
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	if ce := FromContext(ctx).Check(level, "gorm.query"); ce != nil {
		ce.Write(fields...)
	}
}

// ParamsFilter drops bound values; student names and amounts stay out of logs.
func (l *GormLogger) ParamsFilter(_ context.Context, sql string, _ ...interface{}) (string, []interface{}) {
	return sql, nil
}

type statement struct {
	operation string
	table     string
	rowLock   bool
}

func (s statement) ledgerWrite() bool {
	switch s.operation {
	case "INSERT", "UPDATE", "DELETE":
		return ledgerTables[s.table]
	}
	return false
}

func describe(sql string) statement {
	tokens := strings.Fields(sql)
	stmt := statement{operation: "UNKNOWN"}
	for _, token := range tokens {
		switch word := strings.ToUpper(strings.Trim(token, "();")); word {
		case "SELECT", "INSERT", "UPDATE", "DELETE":
			stmt.operation = word
		}
		if stmt.operation != "UNKNOWN" {
			break
		}
	}

	marker := "FROM"
	switch stmt.operation {
	case "INSERT":
		marker = "INTO"
	case "UPDATE":
		marker = "UPDATE"
	}
	for i, token := range tokens {
		if stmt.table == "" && strings.EqualFold(token, marker) && i+1 < len(tokens) {
			stmt.table = strings.Trim(tokens[i+1], "\"`();")
		}
		if strings.EqualFold(token, "FOR") && i+1 < len(tokens) && strings.EqualFold(tokens[i+1], "UPDATE") {
			stmt.rowLock = true
		}
	}
	return stmt
}

var _ gormlogger.Interface = (*GormLogger)(nil)
