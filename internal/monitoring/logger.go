package monitoring

import (
	"log"
	"sync"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

var (
	onceMu   sync.Mutex
	onceSeen map[string]bool
)

// WarnOnce logs the formatted message the first time key is seen and is
// silent on repeats. Used for per-entity warnings that would otherwise
// repeat every simulation step (unmapped lanes, degraded sinks).
func WarnOnce(key, format string, v ...interface{}) {
	onceMu.Lock()
	defer onceMu.Unlock()
	if onceSeen == nil {
		onceSeen = make(map[string]bool)
	}
	if onceSeen[key] {
		return
	}
	onceSeen[key] = true
	Logf(format, v...)
}

// ResetWarnOnce clears the once-only warning state. Intended for tests.
func ResetWarnOnce() {
	onceMu.Lock()
	defer onceMu.Unlock()
	onceSeen = nil
}
