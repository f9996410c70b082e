package beacon

import (
	"encoding/binary"

	"github.com/minio/sha256-simd"

	"github.com/zmlAEQ/drand-verify/internal/scheme"
)

// RoundToBytes encodes round as 8 big-endian bytes.
func RoundToBytes(round uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], round)
	return b[:]
}

// BuildMessage returns the digest that the chain signed for round.
//
// Chained schemes sign SHA-256(prev || round) and require prev to be non-nil;
// round 1 passes the genesis seed, which is the empty (non-nil) slice unless
// the chain publishes one. Unchained schemes sign SHA-256(round) and require
// prev to be nil.
func BuildMessage(d scheme.Descriptor, round uint64, prev []byte) ([]byte, error) {
	if !d.ID.Valid() {
		return nil, newError(UnsupportedScheme, round, "", scheme.ErrUnsupported)
	}
	if round == 0 {
		return nil, newError(MalformedInput, round, "round must be >= 1", nil)
	}
	h := sha256.New()
	if d.Chained() {
		if prev == nil {
			return nil, newError(MalformedInput, round, "chained message needs a previous signature", nil)
		}
		h.Write(prev)
	} else if prev != nil {
		return nil, newError(MalformedInput, round, "unchained message takes no previous signature", nil)
	}
	h.Write(RoundToBytes(round))
	return h.Sum(nil), nil
}
