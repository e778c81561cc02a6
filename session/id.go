package session

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// IDPrefix mirrors the prefixed-ULID identifier shape cachify uses for
// sessions and Cache instances: a stable prefix plus a lowercase ULID.
const IDPrefix = "cfss-"

// generateID returns a new unique session id.
func generateID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return IDPrefix + strings.ToLower(id.String())
}
