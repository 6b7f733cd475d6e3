package idempotency

import (
	"encoding/binary"
	"encoding/hex"
	"time"

	"golang.org/x/crypto/sha3"
)

const executionIDPrefixV1 = "execution"

// ExecutionIDV1 computes the canonical id for one job attempt.
//
// Spec:
//
//	executionId = keccak256("execution" || jobName || 0x00 || holderId || 0x00 || startedAtUnixNanoBE64)
//
// The zero-byte separators keep ("ab","c") and ("a","bc") distinct. Two
// scheduler processes can therefore never mint the same id for different
// attempts, and re-finalizing the same attempt targets the same row.
func ExecutionIDV1(jobName, holderID string, startedAt time.Time) [32]byte {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(executionIDPrefixV1))
	_, _ = h.Write([]byte(jobName))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(holderID))
	_, _ = h.Write([]byte{0})

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(startedAt.UTC().UnixNano()))
	_, _ = h.Write(ts[:])

	sum := h.Sum(nil)
	var out [32]byte
	copy(out[:], sum)
	return out
}

// ExecutionIDHexV1 is ExecutionIDV1 rendered for storage and log lines.
func ExecutionIDHexV1(jobName, holderID string, startedAt time.Time) string {
	id := ExecutionIDV1(jobName, holderID, startedAt)
	return hex.EncodeToString(id[:])
}
