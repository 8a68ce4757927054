package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a time-ordered UUIDv7 used as the document key for every
// persisted record.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 fails only when the entropy source does; fall back to v4.
		return uuid.NewString()
	}
	return id.String()
}

// NewRequestID returns a lexicographically sortable identifier attached to
// inbound requests for log and audit correlation.
func NewRequestID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
