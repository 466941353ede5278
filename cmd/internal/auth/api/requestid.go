package authapi

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

const requestIDHeader = "X-Request-ID"

// newRequestID returns a ULID used to correlate a request with server logs.
// An empty string means the header is omitted.
func newRequestID(now time.Time) string {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return ""
	}
	return id.String()
}
