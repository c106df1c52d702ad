// Package ledger holds the authoritative, write-through-cached records of
// orders, trades, and positions. Every mutation updates the in-memory entry
// and persists the serialized record to the backing store before returning,
// so cache and store never diverge for an id after a successful call.
package ledger

import (
	"strings"

	"github.com/google/uuid"
)

// newID generates a short random token prefixed by entity type, e.g.
// "ord_1f2e3d4c". Uniqueness is assumed; there is no collision check.
func newID(prefix string) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "_" + hex[:8]
}
