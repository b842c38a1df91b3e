package writer

import (
	"errors"
	"time"
)

// RollPolicy decides when an open partition file is retired. Thresholds are
// only consulted between records, so a record is never split across files.
type RollPolicy struct {
	// MaxBytes rolls once the file holds at least this many bytes.
	MaxBytes int64
	// MaxAge rolls once the file has been open at least this long.
	MaxAge time.Duration
}

// ShouldRoll reports whether a file of the given size and age must be closed
// before the next write. A non-positive threshold is disabled.
func (p RollPolicy) ShouldRoll(bytes int64, age time.Duration) bool {
	if p.MaxBytes > 0 && bytes >= p.MaxBytes {
		return true
	}
	return p.MaxAge > 0 && age >= p.MaxAge
}

// Validate rejects a policy that would never roll.
func (p RollPolicy) Validate() error {
	if p.MaxBytes <= 0 && p.MaxAge <= 0 {
		return errors.New("roll policy needs a positive size or age limit")
	}
	return nil
}
