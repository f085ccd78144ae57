package background

import (
	"encoding/binary"
	"fmt"
)

// taskPrefix returns the journal prefix for one identity.
// Format: xfer/{identity}/task/
func taskPrefix(identity string) []byte {
	return []byte(fmt.Sprintf("xfer/%s/task/", identity))
}

// taskKey returns the journal key of a task.
// Format: xfer/{identity}/task/{seq}
func taskKey(identity string, seq uint64) []byte {
	prefix := taskPrefix(identity)
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], seq)
	return key
}

// seqKey holds the last task sequence handed out.
// Format: xfer/{identity}/meta/seq
func seqKey(identity string) []byte {
	return []byte(fmt.Sprintf("xfer/%s/meta/seq", identity))
}
