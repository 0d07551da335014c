package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Logger writes gorm logs through logrus.
type Logger struct {
	Log           logrus.FieldLogger
	SlowThreshold time.Duration
	Level         logger.LogLevel
}

func NewLogger(log logrus.FieldLogger) *Logger {
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Logger{
		Log:           log,
		SlowThreshold: 200 * time.Millisecond,
		Level:         logger.Warn,
	}
}

func (l *Logger) LogMode(level logger.LogLevel) logger.Interface {
	clone := *l
	clone.Level = level
	return &clone
}

func (l *Logger) Info(ctx context.Context, s string, args ...interface{}) {
	if l.Level >= logger.Info {
		l.Log.Infof(s, args...)
	}
}

func (l *Logger) Warn(ctx context.Context, s string, args ...interface{}) {
	if l.Level >= logger.Warn {
		l.Log.Warnf(s, args...)
	}
}

func (l *Logger) Error(ctx context.Context, s string, args ...interface{}) {
	if l.Level >= logger.Error {
		l.Log.Errorf(s, args...)
	}
}

func (l *Logger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.Level <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	log := l.Log.WithFields(logrus.Fields{"elapsed": elapsed, "rows": rows})
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.Level >= logger.Error:
		log.Errorf("%s: %s", sql, err)
	case l.SlowThreshold > 0 && elapsed > l.SlowThreshold && l.Level >= logger.Warn:
		log.Warnf("slow query: %s", sql)
	default:
		log.Debugf("%s", sql)
	}
}
