// Package id provides the 128-bit, time-sortable identifiers used as log
// record keys.
//
// # Format
//
// An ID is 16 bytes big-endian: [8 bytes ms_timestamp][8 bytes sequence].
// Byte-wise comparison therefore follows creation order, which lets storage
// backends find the oldest record with a forward scan and break timestamp
// ties deterministically.
//
// # Monotonicity
//
// The Generator ensures per-process monotonicity:
//   - If the system clock regresses, it pins to the last seen millisecond and
//     increments the sequence.
//   - If the sequence would overflow within a millisecond, it waits for the
//     next millisecond.
//
// The sequence of a fresh Generator starts at a random offset so two
// processes sharing a store in the same millisecond do not collide.
//
// Usage
//
//	g := id.NewGenerator()
//	newID := g.Next()
//	s := newID.String()    // 32 hex chars
//	back, _ := id.Parse(s) // == newID
package id
