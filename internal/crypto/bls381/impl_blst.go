//go:build blst

package bls381

import (
	"bytes"

	blst "github.com/supranational/blst/bindings/go"
)

// point holds a decoded element of exactly one source group.
type point struct {
	group Group
	g1    *blst.P1Affine
	g2    *blst.P2Affine
}

// Backend names the active implementation.
func Backend() string { return "blst" }

func decode(g Group, b []byte) (point, error) {
	if !g.valid() || len(b) != g.CompressedSize() {
		return point{}, ErrInvalidInput
	}
	p := point{group: g}
	switch g {
	case G1:
		p.g1 = new(blst.P1Affine).Uncompress(b)
		if p.g1 == nil {
			return point{}, ErrInvalidPoint
		}
		if isZero(b) || !p.g1.KeyValidate() {
			return point{}, invalidOrIdentity(b)
		}
	case G2:
		p.g2 = new(blst.P2Affine).Uncompress(b)
		if p.g2 == nil {
			return point{}, ErrInvalidPoint
		}
		if isZero(b) || !p.g2.KeyValidate() {
			return point{}, invalidOrIdentity(b)
		}
	}
	return p, nil
}

// isZero reports the compressed encoding of the point at infinity.
func isZero(b []byte) bool {
	if len(b) == 0 || b[0] != 0xc0 {
		return false
	}
	for _, c := range b[1:] {
		if c != 0 {
			return false
		}
	}
	return true
}

func invalidOrIdentity(b []byte) error {
	if isZero(b) {
		return ErrIdentity
	}
	return ErrInvalidPoint
}

func generator(g Group) point {
	return point{group: g, g1: blst.P1Generator().ToAffine(), g2: blst.P2Generator().ToAffine()}
}

func hashTo(g Group, msg, dst []byte) (point, error) {
	switch g {
	case G1:
		return point{group: g, g1: blst.HashToG1(msg, dst, nil).ToAffine()}, nil
	case G2:
		return point{group: g, g2: blst.HashToG2(msg, dst, nil).ToAffine()}, nil
	}
	return point{}, ErrInvalidInput
}

func (p point) bytes() []byte {
	if p.group == G1 {
		return p.g1.Compress()
	}
	return p.g2.Compress()
}

func (p point) mul(sk []byte) point {
	var s blst.Scalar
	s.FromBEndian(sk)
	out := point{group: p.group}
	if p.group == G1 {
		var j blst.P1
		j.FromAffine(p.g1)
		out.g1 = j.Mult(&s).ToAffine()
	} else {
		var j blst.P2
		j.FromAffine(p.g2)
		out.g2 = j.Mult(&s).ToAffine()
	}
	return out
}

// pair evaluates e(a, b) as big-endian Fp12 bytes; the operands must come
// from opposite groups but may be given in either order.
func pair(a, b point) ([]byte, error) {
	if a.group == b.group {
		return nil, ErrInvalidInput
	}
	var gt *blst.Fp12
	if a.group == G1 {
		gt = blst.Fp12MillerLoop(b.g2, a.g1)
	} else {
		gt = blst.Fp12MillerLoop(a.g2, b.g1)
	}
	gt.FinalExp()
	return gt.ToBendian(), nil
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
	return bytes.Equal(lhs, rhs), nil
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
