// Package idgen hands out opaque identifiers: assigned Sentinel IDs,
// challenge nonces, and command correlation IDs.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"sync/atomic"

	"github.com/google/uuid"
)

// SentinelID mints an opaque assigned ID for a newly registering Sentinel.
func SentinelID() string {
	return uuid.NewString()
}

// Challenge mints a nonce bound to one handshake attempt.
func Challenge() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the OS entropy source is broken;
		// fall back to a UUID rather than handshake with a zero nonce.
		return uuid.NewString()
	}
	return hex.EncodeToString(buf)
}

// CommandIDs mints a monotonically increasing sequence of command IDs,
// scoped to one mission.
type CommandIDs struct {
	next atomic.Int64
}

func (c *CommandIDs) Next() int64 {
	return c.next.Add(1)
}
