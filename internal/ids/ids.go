package ids

import (
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Prefixes for the record kinds this service stores.
const (
	PrefixAgency = "agc"
	PrefixUser   = "usr"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewWithPrefix returns New() tagged with a lower-case kind prefix, e.g. "agc_01J...".
func NewWithPrefix(prefix string) string {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" {
		return New()
	}
	return prefix + "_" + New()
}

// HasPrefix reports whether id was produced by NewWithPrefix(prefix).
func HasPrefix(id, prefix string) bool {
	return strings.HasPrefix(id, strings.ToLower(prefix)+"_")
}
