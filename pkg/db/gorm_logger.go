package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

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

// GormLogger routes gorm output to zap. Statements are logged without their
// bound values.
type GormLogger struct {
	log *zap.Logger
	cfg GormLoggerConfig
}

func NewGormLogger(log *zap.Logger, cfg GormLoggerConfig) *GormLogger {
	if log == nil {
		log = zap.NewNop()
	}
	return &GormLogger{log: log.Named("gorm"), cfg: cfg}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.cfg.Level = level
	return &next
}

func (l *GormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	l.message(gormlogger.Info, zapcore.InfoLevel, msg, data)
}

func (l *GormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	l.message(gormlogger.Warn, zapcore.WarnLevel, msg, data)
}

func (l *GormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	l.message(gormlogger.Error, zapcore.ErrorLevel, msg, data)
}

func (l *GormLogger) message(min gormlogger.LogLevel, level zapcore.Level, msg string, data []interface{}) {
	if l.cfg.Level < min {
		return
	}
	if ce := l.log.Check(level, msg); ce != nil {
		ce.Write(zap.Any("data", data))
	}
}

func (l *GormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	level, ok := l.traceLevel(elapsed, err)
	if !ok {
		return
	}
	if ce := l.log.Check(level, "gorm.query"); ce != nil {
		sql, rows := fc()
		fields := []zap.Field{
			zap.String("operation", operationFromSQL(sql)),
			zap.Int64("duration_ms", elapsed.Milliseconds()),
			zap.String("sql", strings.TrimSpace(sql)),
		}
		if rows >= 0 {
			fields = append(fields, zap.Int64("rows_affected", rows))
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		ce.Write(fields...)
	}
}

// traceLevel picks the zap level for one statement, or false to skip it.
func (l *GormLogger) traceLevel(elapsed time.Duration, err error) (zapcore.Level, bool) {
	notFound := errors.Is(err, gormlogger.ErrRecordNotFound) && l.cfg.IgnoreRecordNotFound
	switch {
	case l.cfg.Level <= gormlogger.Silent:
		return 0, false
	case err != nil && !notFound && l.cfg.Level >= gormlogger.Error:
		return zapcore.ErrorLevel, true
	case l.cfg.SlowThreshold > 0 && elapsed > l.cfg.SlowThreshold && l.cfg.Level >= gormlogger.Warn:
		return zapcore.WarnLevel, true
	case l.cfg.Level >= gormlogger.Info:
		return zapcore.DebugLevel, true
	}
	return 0, false
}

func (l *GormLogger) ParamsFilter(_ context.Context, sql string, _ ...interface{}) (string, []interface{}) {
	return sql, nil
}

// operationFromSQL names the outermost statement, skipping parenthesized
// CTE bodies and subqueries.
func operationFromSQL(sql string) string {
	depth := 0
	word := strings.Builder{}
	flush := func() string {
		defer word.Reset()
		if depth != 0 {
			return ""
		}
		switch w := strings.ToUpper(word.String()); w {
		case "SELECT", "INSERT", "UPDATE", "DELETE":
			return w
		}
		return ""
	}
	for _, r := range sql {
		switch {
		case r == '(':
			if op := flush(); op != "" {
				return op
			}
			depth++
		case r == ')':
			word.Reset()
			if depth > 0 {
				depth--
			}
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == ';' || r == ',':
			if op := flush(); op != "" {
				return op
			}
		default:
			word.WriteRune(r)
		}
	}
	if op := flush(); op != "" {
		return op
	}
	return "UNKNOWN"
}

var _ gormlogger.Interface = (*GormLogger)(nil)
