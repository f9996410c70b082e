//go:build !blst

package bls381

import (
	"math/big"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
)

// point holds a decoded element of exactly one source group.
type point struct {
	group Group
	g1    bls12381.G1Affine
	g2    bls12381.G2Affine
}

// Backend names the active implementation.
func Backend() string { return "gnark-crypto" }

func decode(g Group, b []byte) (point, error) {
	if !g.valid() || len(b) != g.CompressedSize() {
		return point{}, ErrInvalidInput
	}
	p := point{group: g}
	switch g {
	case G1:
		if _, err := p.g1.SetBytes(b); err != nil {
			return point{}, ErrInvalidPoint
		}
		if p.g1.IsInfinity() {
			return point{}, ErrIdentity
		}
	case G2:
		if _, err := p.g2.SetBytes(b); err != nil {
			return point{}, ErrInvalidPoint
		}
		if p.g2.IsInfinity() {
			return point{}, ErrIdentity
		}
	}
	return p, nil
}

func generator(g Group) point {
	_, _, g1, g2 := bls12381.Generators()
	return point{group: g, g1: g1, g2: g2}
}

func hashTo(g Group, msg, dst []byte) (point, error) {
	p := point{group: g}
	var err error
	switch g {
	case G1:
		p.g1, err = bls12381.HashToG1(msg, dst)
	case G2:
		p.g2, err = bls12381.HashToG2(msg, dst)
	default:
		return point{}, ErrInvalidInput
	}
	if err != nil {
		return point{}, err
	}
	return p, nil
}

func (p point) bytes() []byte {
	if p.group == G1 {
		b := p.g1.Bytes()
		return b[:]
	}
	b := p.g2.Bytes()
	return b[:]
}

func (p point) mul(sk []byte) point {
	s := new(big.Int).SetBytes(sk)
	out := point{group: p.group}
	if p.group == G1 {
		out.g1.ScalarMultiplication(&p.g1, s)
	} else {
		out.g2.ScalarMultiplication(&p.g2, s)
	}
	return out
}

// pair evaluates e(a, b); the operands must come from opposite groups but
// may be given in either order.
func pair(a, b point) (bls12381.GT, error) {
	if a.group == b.group {
		return bls12381.GT{}, ErrInvalidInput
	}
	if a.group == G1 {
		return bls12381.Pair([]bls12381.G1Affine{a.g1}, []bls12381.G2Affine{b.g2})
	}
	return bls12381.Pair([]bls12381.G1Affine{b.g1}, []bls12381.G2Affine{a.g2})
}

// ValidatePoint checks that b is a compressed, non-identity element of the
// prime-order subgroup of g.
func ValidatePoint(g Group, b []byte) error {
	_, err := decode(g, b)
	return err
}

// HashToCurve returns the compressed hash of msg onto g under dst.
func HashToCurve(g Group, msg, dst []byte) ([]byte, error) {
	p, err := hashTo(g, msg, dst)
	if err != nil {
		return nil, err
	}
	return p.bytes(), nil
}

// VerifyPairing reports whether e(sig, gen) == e(H(msg), pk), where sig and
// H(msg) live in sigGroup and pk and gen live in the other group.
func VerifyPairing(sigGroup Group, pk, sig, msg, dst []byte) (bool, error) {
	s, err := decode(sigGroup, sig)
	if err != nil {
		return false, err
	}
	p, err := decode(sigGroup.Other(), pk)
	if err != nil {
		return false, err
	}
	h, err := hashTo(sigGroup, msg, dst)
	if err != nil {
		return false, err
	}
	lhs, err := pair(s, generator(sigGroup.Other()))
	if err != nil {
		return false, err
	}
	rhs, err := pair(h, p)
	if err != nil {
		return false, err
	}
	return lhs.Equal(&rhs), nil
}

// PublicKey returns gen^sk in pkGroup.
func PublicKey(sk []byte, pkGroup Group) ([]byte, error) {
	if len(sk) != ScalarSize || !pkGroup.valid() {
		return nil, ErrInvalidInput
	}
	return generator(pkGroup).mul(sk).bytes(), nil
}

// Sign returns H(msg)^sk in sigGroup.
func Sign(sk []byte, sigGroup Group, msg, dst []byte) ([]byte, error) {
	if len(sk) != ScalarSize {
		return nil, ErrInvalidInput
	}
	h, err := hashTo(sigGroup, msg, dst)
	if err != nil {
		return nil, err
	}
	return h.mul(sk).bytes(), nil
}
