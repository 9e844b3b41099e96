package ftpserver

import (
	"fmt"

	ftplog "github.com/fclairamb/go-log"
	"go.uber.org/zap"

	"github.com/shutterlink/shutterlink/internal/logging"
)

// logAdapter routes ftpserverlib's keyval-style logging into zap.
type logAdapter struct {
	fields []zap.Field
}

func newLogAdapter() ftplog.Logger {
	return &logAdapter{}
}

func zapFields(base []zap.Field, keyvals []interface{}) []zap.Field {
	fields := append([]zap.Field(nil), base...)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprint(keyvals[i])
		}
		fields = append(fields, zap.Any(key, keyvals[i+1]))
	}
	return fields
}

func (l *logAdapter) Debug(event string, keyvals ...interface{}) {
	logging.Debug(event, zapFields(l.fields, keyvals)...)
}

func (l *logAdapter) Info(event string, keyvals ...interface{}) {
	logging.Debug(event, zapFields(l.fields, keyvals)...)
}

func (l *logAdapter) Warn(event string, keyvals ...interface{}) {
	logging.Warn(event, zapFields(l.fields, keyvals)...)
}

func (l *logAdapter) Error(event string, keyvals ...interface{}) {
	logging.Error(event, zapFields(l.fields, keyvals)...)
}

func (l *logAdapter) Panic(event string, keyvals ...interface{}) {
	logging.Error(event, zapFields(l.fields, keyvals)...)
}

func (l *logAdapter) Fatal(event string, keyvals ...interface{}) {
	logging.Error(event, zapFields(l.fields, keyvals)...)
}

func (l *logAdapter) With(keyvals ...interface{}) ftplog.Logger {
	return &logAdapter{fields: zapFields(l.fields, keyvals)}
}
