package idempotency

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

const resolutionDigestPrefixV1 = "resolution"

// ResolutionDigestV1 computes the canonical digest of a cycle resolution
// payload.
//
// Spec:
//
//	digest = keccak256("resolution" || cycleIdBE64 || outcomeLenBE32 || outcomes)
//
// where outcomes is the packed per-entity outcome byte sequence in cycle
// entity order. The digest travels with the on-chain submission so a repeated
// submission for the same settled data is recognizable as a duplicate.
func ResolutionDigestV1(cycleID uint64, outcomes []byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(resolutionDigestPrefixV1))

	var id [8]byte
	binary.BigEndian.PutUint64(id[:], cycleID)
	_, _ = h.Write(id[:])

	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(outcomes)))
	_, _ = h.Write(n[:])
	_, _ = h.Write(outcomes)

	sum := h.Sum(nil)
	var out [32]byte
	copy(out[:], sum)
	return out
}
