package logging

import "sync"

var (
	globalMu     sync.RWMutex
	globalLogger Logger
)

// Global returns the process-wide default logger, lazily constructed
// from DefaultConfig the first time it is asked for.
func Global() Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = NewLogger(DefaultConfig())
	}
	return globalLogger
}

// SetGlobal replaces the process-wide default logger. The service
// constructor calls this with its configured logger so that code
// without an injected Logger still logs consistently.
func SetGlobal(logger Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}
