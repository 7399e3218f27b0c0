// Package localid assigns synthetic identifiers to rows created while the
// remote API is unreachable.
//
// Local ids are negated Unix milliseconds, so they never overlap with server
// ids (always >= 1). Within one process the sequence is strictly decreasing:
// two calls in the same millisecond step down by one instead of colliding.
package localid

import (
	"sync/atomic"
	"time"
)

var last atomic.Int64

// now is replaced in tests.
var now = func() time.Time { return time.Now() }

// New returns a fresh strictly negative identifier.
func New() int64 {
	candidate := -now().UnixMilli()
	for {
		prev := last.Load()
		next := candidate
		if prev != 0 && next >= prev {
			next = prev - 1
		}
		if last.CompareAndSwap(prev, next) {
			return next
		}
	}
}

// IsLocal reports whether id belongs to a row the server has never confirmed.
func IsLocal(id int64) bool {
	return id < 0
}

// IsConfirmed reports whether id was assigned by the server.
func IsConfirmed(id int64) bool {
	return id > 0
}
