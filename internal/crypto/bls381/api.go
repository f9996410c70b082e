// Package bls381 wraps the BLS12-381 operations needed to check drand
// beacons: point decoding with subgroup checks, hash-to-curve under a
// caller supplied DST, and a pairing equality check that works for either
// signature group.
//
// The default build uses gnark-crypto (pure Go). Building with -tags blst
// switches to the supranational/blst bindings; both backends expose the same
// functions and are covered by the same tests.
package bls381

import (
	"errors"
	"math/big"

	"github.com/minio/sha256-simd"
	"golang.org/x/crypto/hkdf"
)

var (
	ErrInvalidInput = errors.New("bls381: invalid input")
	ErrInvalidPoint = errors.New("bls381: point not on curve or not in subgroup")
	ErrIdentity     = errors.New("bls381: point at infinity")
)

// Group selects one of the two source groups of the pairing.
type Group uint8

const (
	G1 Group = 1
	G2 Group = 2
)

// Compressed encodings (zcash format, as published by drand).
const (
	G1Size     = 48
	G2Size     = 96
	ScalarSize = 32
)

func (g Group) String() string {
	switch g {
	case G1:
		return "G1"
	case G2:
		return "G2"
	}
	return "G?"
}

// Other returns the opposite source group.
func (g Group) Other() Group {
	if g == G1 {
		return G2
	}
	return G1
}

// CompressedSize is the byte length of a compressed point of g, or 0.
func (g Group) CompressedSize() int {
	switch g {
	case G1:
		return G1Size
	case G2:
		return G2Size
	}
	return 0
}

func (g Group) valid() bool { return g == G1 || g == G2 }

// subgroup order r
var order, _ = new(big.Int).SetString("73eda753299d7d483339d80809a1d80553bda402fffe5bfeffffffff00000001", 16)

// DeriveSecretKey maps input key material to a 32-byte big-endian scalar
// following the IETF BLS KeyGen procedure (HKDF-SHA256, L = 48).
func DeriveSecretKey(ikm []byte) ([]byte, error) {
	if len(ikm) < 32 {
		return nil, ErrInvalidInput
	}
	const l = 48
	salt := []byte("BLS-SIG-KEYGEN-SALT-")
	input := append(append([]byte{}, ikm...), 0)
	info := []byte{0, l}
	sk := new(big.Int)
	for sk.Sign() == 0 {
		sum := sha256.Sum256(salt)
		salt = sum[:]
		prk := hkdf.Extract(sha256.New, input, salt)
		okm := make([]byte, l)
		if _, err := hkdf.Expand(sha256.New, prk, info).Read(okm); err != nil {
			return nil, err
		}
		sk.SetBytes(okm)
		sk.Mod(sk, order)
	}
	out := make([]byte, ScalarSize)
	sk.FillBytes(out)
	return out, nil
}
