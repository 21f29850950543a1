// Package compare provides the user-key and internal-key orderings that the
// merging cursor, compaction iterator, and table writer all sort by.
package compare

import (
	"bytes"

	"basalt/internal/base"
)

// Compare orders two user keys. A negative result means a < b, zero means
// equal, positive means a > b. Implementations must be a total order.
type Compare func(a, b []byte) int

// Default is the bytewise comparator used when a column family does not
// supply a custom one.
func Default(a, b []byte) int { return bytes.Compare(a, b) }

// DefaultName is the comparator name recorded in FileMetaData so a reader
// can refuse to open a table written with an incompatible comparator.
const DefaultName = "basalt.BytewiseComparator"

// Internal orders two internal keys: ascending by user key, then descending
// by sequence number, then descending by kind. This places the most recent
// version of a key first, which is the order the merging cursor and the
// table writer both rely on.
func Internal(cmp Compare, a, b base.InternalKey) int {
	if c := cmp(a.UserKey, b.UserKey); c != 0 {
		return c
	}
	if a.SeqNum() != b.SeqNum() {
		if a.SeqNum() > b.SeqNum() {
			return -1
		}
		return 1
	}
	if a.Kind() != b.Kind() {
		if a.Kind() > b.Kind() {
			return -1
		}
		return 1
	}
	return 0
}

// Equal reports whether two user keys are identical under cmp.
func Equal(cmp Compare, a, b []byte) bool { return cmp(a, b) == 0 }
