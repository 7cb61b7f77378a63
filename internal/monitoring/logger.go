// Package monitoring holds the shared diagnostic logger for the tracker core.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf;
// shells embedding the core can redirect it, and tests can mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. A nil argument installs a no-op
// logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
