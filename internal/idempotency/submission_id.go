package idempotency

import (
	"golang.org/x/crypto/sha3"
)

const submissionIDPrefixV1 = "submission"

// SubmissionIDV1 computes the canonical id of a recorded transfer.
//
//	submissionId = keccak256("submission" || transferTxHash || recordTxHash)
//
// Both hashes are the raw 32-byte transaction hashes. The id is the Kafka message key of the
// transfer event and names the archived submission object.
func SubmissionIDV1(transferTxHash, recordTxHash [32]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(submissionIDPrefixV1))
	_, _ = h.Write(transferTxHash[:])
	_, _ = h.Write(recordTxHash[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
