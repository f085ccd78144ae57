package kv

import (
	"encoding/binary"
	"fmt"

	"github.com/zerofinancial/relay/pkg/id"
)

// Key prefixes under a queue.
const (
	prefixRec     = "rec/"     // record data keyed by id
	prefixCreated = "created/" // creation-order index
	prefixTask    = "task/"    // task id -> record id
	keyMetaCount  = "meta/count"
)

// queuePrefix returns the base prefix for a queue.
// Format: relay/{queue}/
func queuePrefix(queue string) string {
	return fmt.Sprintf("relay/%s/", queue)
}

// recKey returns the record key.
// Format: relay/{queue}/rec/{id}
func recKey(queue string, recID id.ID) []byte {
	prefix := queuePrefix(queue) + prefixRec
	key := make([]byte, len(prefix)+16)
	copy(key, prefix)
	copy(key[len(prefix):], recID[:])
	return key
}

// createdKey returns the creation index key. Big-endian millis keep the
// index in age order, the id breaks ties.
// Format: relay/{queue}/created/{created_ms}/{id}
func createdKey(queue string, createdMs int64, recID id.ID) []byte {
	prefix := queuePrefix(queue) + prefixCreated
	key := make([]byte, len(prefix)+8+16)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], uint64(createdMs))
	copy(key[len(prefix)+8:], recID[:])
	return key
}

// taskKey returns the task index key.
// Format: relay/{queue}/task/{task_id}
func taskKey(queue, taskID string) []byte {
	return []byte(queuePrefix(queue) + prefixTask + taskID)
}

func metaCountKey(queue string) []byte {
	return []byte(queuePrefix(queue) + keyMetaCount)
}

func createdPrefix(queue string) []byte { return []byte(queuePrefix(queue) + prefixCreated) }

func taskPrefix(queue string) []byte { return []byte(queuePrefix(queue) + prefixTask) }

// idFromIndexKey extracts the trailing record id from an index key.
func idFromIndexKey(key []byte) (id.ID, error) {
	if len(key) < 16 {
		return id.Nil, fmt.Errorf("kv: short index key %q", key)
	}
	return id.FromBytes(key[len(key)-16:])
}
