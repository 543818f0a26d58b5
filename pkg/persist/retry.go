package persist

import (
	"errors"
	"os"
	"time"
)

// Retry defaults for transient filesystem failures.
const (
	// DefaultAttempts is one initial attempt plus one retry.
	DefaultAttempts = 2

	// DefaultRetryDelay is the pause between attempts.
	DefaultRetryDelay = 50 * time.Millisecond
)

// Retry runs fn up to attempts times, sleeping delay between tries.
// Errors that cannot heal on retry (missing files, corrupted content)
// are returned immediately.
func Retry(attempts int, delay time.Duration, fn func() error) error {
	attempts = max(attempts, 1)

	var err error

	for attempt := range attempts {
		err = fn()
		if err == nil || !IsTransient(err) {
			return err
		}

		if attempt < attempts-1 && delay > 0 {
			time.Sleep(delay)
		}
	}

	return err
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	return !errors.Is(err, os.ErrNotExist) && !errors.Is(err, ErrCorrupted)
}
