// Package monitoring holds the process-wide diagnostic logger and the
// counters for numeric anomalies that the pipeline recovers from.
package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger so tests can capture or mute output.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

var nonFinite atomic.Int64

// NonFinite records a NaN/Inf that was detected at where. The value is logged
// and counted; callers decide whether to substitute it.
func NonFinite(where string, value interface{}) {
	nonFinite.Add(1)
	Logf("non-finite value in %s: %v", where, value)
}

// NonFiniteCount returns how many NonFinite events were recorded since start
// (or since the last ResetCounters).
func NonFiniteCount() int64 {
	return nonFinite.Load()
}

// ResetCounters zeroes the anomaly counters.
func ResetCounters() {
	nonFinite.Store(0)
}
