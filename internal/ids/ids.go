// Package ids generates ULIDs for all persisted entities. IDs are
// lexicographically time-sorted and monotonic within a millisecond inside a
// single process, which keeps insertion order stable for rows created in the
// same batch.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns a fresh ULID string for the current time.
func New() string {
	return NewAt(time.Now())
}

// NewAt returns a ULID string for the given time. The monotonic entropy
// source is process-local; callers tolerate the (extremely unlikely) carry
// wrap within one millisecond.
func NewAt(t time.Time) string {
	mu.Lock()
	defer mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(t), entropy)
	if err != nil {
		// Entropy exhaustion within a single millisecond. Fall back to a
		// non-monotonic read rather than failing ID generation.
		id = ulid.MustNew(ulid.Timestamp(t), rand.Reader)
	}
	return id.String()
}

// IsULID reports whether s parses as a canonical 26-character ULID.
func IsULID(s string) bool {
	if len(s) != ulid.EncodedSize {
		return false
	}
	_, err := ulid.ParseStrict(s)
	return err == nil
}

// Time extracts the embedded timestamp of a ULID. ok is false when s is not
// a valid ULID.
func Time(s string) (time.Time, bool) {
	id, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(id.Time()), true
}
