package db

import (
	"strings"
	"time"

	"github.com/kschmeckpeper/manipulathor/internal/timeutil"
)

const (
	busyRetries = 5
	busyBackoff = 10 * time.Millisecond
)

// retryOnBusy runs fn, retrying with exponential backoff while SQLite reports
// the database as locked.
func retryOnBusy(clock timeutil.Clock, fn func() error) error {
	var err error
	delay := busyBackoff
	for attempt := 0; attempt < busyRetries; attempt++ {
		if err = fn(); !isSQLiteBusy(err) {
			return err
		}
		if attempt < busyRetries-1 {
			clock.Sleep(delay)
			delay *= 2
		}
	}
	return err
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
