// Package monitoring holds the diagnostic logger shared by the ingestion and
// storage packages.
package monitoring

import "log"

// LogFunc has the signature of log.Printf.
type LogFunc func(format string, v ...interface{})

// Logf is the package-level diagnostic logger. It defaults to log.Printf but
// may be replaced by SetLogger.
var Logf LogFunc = log.Printf

// SetLogger replaces the package logger and returns the previous one so a
// caller can restore it. Passing nil installs a no-op logger.
func SetLogger(f LogFunc) LogFunc {
	prev := Logf
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return prev
	}
	Logf = f
	return prev
}
