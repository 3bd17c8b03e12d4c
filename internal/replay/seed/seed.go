// Package seed derives stable pseudo-random seeds for generation calls.
//
// A seed is a pure function of (gameSeed, entityID, callKind, frame,
// callIndex). The same tuple yields the same seed on every platform and
// across process restarts, which is what makes a recorded session
// reproducible even though the generation backend itself is a network
// service.
package seed

import (
	"encoding/binary"
	"hash/fnv"
	"io"
)

// Derive maps a generation-call identity to a 32-bit seed.
//
// # Determinism
//
// Derive is total and has no hidden state: identical inputs always produce
// an identical output. Inputs are mixed through FNV-64a over a canonical
// binary encoding (length-prefixed strings, fixed-width big-endian
// integers), so the result does not depend on wall-clock time, map
// iteration order, or platform word size. The 64-bit digest is xor-folded
// to 32 bits to keep entity distribution uniform.
func Derive(gameSeed int64, entityID, callKind string, frame int64, callIndex int) uint32 {
	h := fnv.New64a()
	writeUint64(h, uint64(gameSeed))
	writeString(h, entityID)
	writeString(h, callKind)
	writeUint64(h, uint64(frame))
	writeUint64(h, uint64(int64(callIndex)))
	sum := h.Sum64()
	return uint32(sum>>32) ^ uint32(sum)
}

func writeUint64(w io.Writer, value uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], value)
	_, _ = w.Write(buf[:])
}

func writeString(w io.Writer, value string) {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(value)))
	_, _ = w.Write(length[:])
	_, _ = io.WriteString(w, value)
}
