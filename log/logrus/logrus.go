// Package logrus adapts a *logrus.Entry to poscache.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"
	"github.com/unkn0wn-root/poscache"
)

var _ poscache.Logger = LogrusLogger{}

type LogrusLogger struct{ E *logrus.Entry }

// New tags every line with component=poscache.
func New(l *logrus.Logger) LogrusLogger {
	return LogrusLogger{E: l.WithField("component", "poscache")}
}

func (l LogrusLogger) Debug(msg string, f poscache.Fields) { l.with(f).Debug(msg) }
func (l LogrusLogger) Info(msg string, f poscache.Fields)  { l.with(f).Info(msg) }
func (l LogrusLogger) Warn(msg string, f poscache.Fields)  { l.with(f).Warn(msg) }
func (l LogrusLogger) Error(msg string, f poscache.Fields) { l.with(f).Error(msg) }

func (l LogrusLogger) with(f poscache.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	if err, ok := f["err"].(error); ok {
		rest := make(logrus.Fields, len(f)-1)
		for k, v := range f {
			if k != "err" {
				rest[k] = v
			}
		}
		return l.E.WithError(err).WithFields(rest)
	}
	return l.E.WithFields(logrus.Fields(f))
}
