// Package async runs background goroutines behind a panic guard.
package async

import (
	"runtime/debug"

	"go.uber.org/zap"
)

// Go runs fn in a goroutine. A panic is logged and swallowed.
func Go(log *zap.Logger, name string, fn func()) {
	go func() {
		defer Recover(log, name)
		fn()
	}()
}

// Recover logs a recovered panic. It must be deferred directly.
func Recover(log *zap.Logger, name string) {
	if r := recover(); r != nil {
		if log == nil {
			return
		}
		log.Error("goroutine panic",
			zap.String("goroutine", name),
			zap.Any("panic", r),
			zap.ByteString("stack", debug.Stack()),
		)
	}
}
