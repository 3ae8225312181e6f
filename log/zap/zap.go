// Package zap adapts a *zap.Logger to poscache.Logger.
package zap

import (
	"github.com/unkn0wn-root/poscache"
	"go.uber.org/zap"
)

var _ poscache.Logger = ZapLogger{}

type ZapLogger struct{ L *zap.Logger }

// New names the logger "poscache".
func New(l *zap.Logger) ZapLogger { return ZapLogger{L: l.Named("poscache")} }

func (z ZapLogger) Debug(msg string, f poscache.Fields) { z.L.Debug(msg, zf(f)...) }
func (z ZapLogger) Info(msg string, f poscache.Fields)  { z.L.Info(msg, zf(f)...) }
func (z ZapLogger) Warn(msg string, f poscache.Fields)  { z.L.Warn(msg, zf(f)...) }
func (z ZapLogger) Error(msg string, f poscache.Fields) { z.L.Error(msg, zf(f)...) }

func zf(f poscache.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok && k == "err" {
			out = append(out, zap.Error(err))
			continue
		}
		out = append(out, zap.Any(k, v))
	}
	return out
}
