// Package xid creates prefixed ids ("tx-...", "mov-...") so an identifier
// names its entity wherever it shows up in logs or movement rows.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New returns "<prefix>-<unixnano>-<hex tail>". The timestamp keeps ids
// roughly insertion-ordered; the random tail breaks same-nanosecond ties.
func New(prefix string) string {
	now := time.Now().UnixNano()
	var tail [8]byte
	if _, err := rand.Read(tail[:]); err != nil {
		return fmt.Sprintf("%s-%d", prefix, now)
	}
	return fmt.Sprintf("%s-%d-%s", prefix, now, hex.EncodeToString(tail[:]))
}
