package zaplog

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var logger atomic.Pointer[zap.Logger]

// Logger returns the process logger, or a no-op logger if none has been set.
func Logger() *zap.Logger {
	l := logger.Load()
	if l == nil {
		return zap.NewNop()
	}
	return l
}

func SetLogger(l *zap.Logger) { logger.Store(l) }

// Or returns l if it is not nil and the process logger otherwise.
func Or(l *zap.Logger) *zap.Logger {
	if l != nil {
		return l
	}
	return Logger()
}
