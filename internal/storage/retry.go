package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/gramaudit/internal/models"
)

const (
	maxWriteAttempts = 5
	retryBaseDelay   = 20 * time.Millisecond
)

// withRetry runs fn until it succeeds, fails with a non-conflict error, or exhausts
// maxWriteAttempts. Conflicts are SQLITE_BUSY and SQLITE_LOCKED as reported by the driver.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	delay := retryBaseDelay
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		if err = fn(); err == nil || !isConflict(err) {
			return err
		}
		if attempt == maxWriteAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("%w after %d attempts: %v", models.ErrConflictRetryExhausted, maxWriteAttempts, err)
}
