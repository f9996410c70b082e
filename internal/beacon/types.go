// Package beacon verifies drand randomness beacons against a chain's public
// parameters. Verification is pure: it reads its inputs, never mutates them,
// performs no I/O and keeps no state between calls.
package beacon

import (
	"time"

	"github.com/minio/sha256-simd"

	"github.com/zmlAEQ/drand-verify/internal/scheme"
)

// ChainInfo holds the public parameters of one drand chain. It is fetched once
// per session and must not be modified after it is handed to a Verifier.
type ChainInfo struct {
	PublicKey   []byte
	Scheme      scheme.ID
	Period      time.Duration
	GenesisTime time.Time
	Hash        []byte
	// GenesisSeed is the previous_signature carried by round 1 of a chained
	// chain. drand sets it to the group hash; when empty, round 1 links to
	// the empty byte string.
	GenesisSeed []byte
	BeaconID    string
}

// Beacon is one round of published randomness.
type Beacon struct {
	Round             uint64
	Signature         []byte
	Randomness        []byte
	PreviousSignature []byte
}

// Randomness derives the randomness field from a signature: SHA-256(sig).
func Randomness(sig []byte) []byte {
	sum := sha256.Sum256(sig)
	return sum[:]
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append(make([]byte, 0, len(b)), b...)
}
