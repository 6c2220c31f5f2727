// Package requestid mints the identifiers stitched through logs, error
// bodies, and the X-Request-Id header.
package requestid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New returns a 32-character hex identifier. If the system entropy source is
// unavailable it degrades to a timestamp-based identifier rather than failing
// the request.
func New() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("ts-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
