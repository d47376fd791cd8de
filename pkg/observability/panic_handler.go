package observability

import (
	"runtime/debug"
)

// RecoverPanic recovers a panic and logs it with the full stack trace.
//
// Intended for defer statements guarding long-lived goroutines:
//
//	go func() {
//	    defer observability.RecoverPanic(logger, "registry watcher")
//	    // ...
//	}()
//
// The panic is not re-raised, so the goroutine dies quietly instead of
// taking the process down with it.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
	}
}
