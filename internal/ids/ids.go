// Package ids centralizes identity generation: ULIDs for messages (their
// lexicographic order doubles as an insertion-order key) and UUIDs for
// everything else, matching the identity scheme the store layer assumes.
package ids

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewMessageID returns a new ULID string, monotonic within this process
// for same-millisecond calls via ulid.Monotonic.
var entropy = ulid.Monotonic(rand.Reader, 0)

func NewMessageID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewTaskID returns a new random UUID.
func NewTaskID() uuid.UUID {
	return uuid.New()
}

// NewSessionID returns a new random UUID.
func NewSessionID() uuid.UUID {
	return uuid.New()
}
