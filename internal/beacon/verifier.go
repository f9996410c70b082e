package beacon

import (
	"bytes"
	"fmt"

	"github.com/zmlAEQ/drand-verify/internal/crypto/bls381"
	"github.com/zmlAEQ/drand-verify/internal/scheme"
)

// Verifier checks beacons of one chain. It is immutable after construction
// and safe for concurrent use.
type Verifier struct {
	info ChainInfo
	desc scheme.Descriptor
	dst  []byte
	seed []byte
}

// NewVerifier resolves the chain's scheme and validates its public key once.
func NewVerifier(info ChainInfo) (*Verifier, error) {
	d, err := info.Scheme.Descriptor()
	if err != nil {
		return nil, newError(UnsupportedScheme, 0, "", err)
	}
	if len(info.PublicKey) != d.PublicKeySize() {
		return nil, newError(MalformedInput, 0,
			fmt.Sprintf("public key is %d bytes, %s wants %d", len(info.PublicKey), d.Name, d.PublicKeySize()), nil)
	}
	if err := bls381.ValidatePoint(d.PublicKeyGroup, info.PublicKey); err != nil {
		return nil, newError(InvalidPublicKey, 0, "", err)
	}
	info.PublicKey = clone(info.PublicKey)
	info.Hash = clone(info.Hash)
	info.GenesisSeed = clone(info.GenesisSeed)
	seed := info.GenesisSeed
	if seed == nil {
		seed = []byte{}
	}
	return &Verifier{info: info, desc: d, dst: []byte(d.DST), seed: seed}, nil
}

// Verify is a one-shot helper for callers that verify a single beacon.
func Verify(info ChainInfo, b Beacon, prev *Beacon) error {
	v, err := NewVerifier(info)
	if err != nil {
		return err
	}
	return v.Verify(b, prev)
}

// Info returns the chain parameters the verifier was built from.
func (v *Verifier) Info() ChainInfo { return v.info }

// Descriptor returns the resolved scheme parameters.
func (v *Verifier) Descriptor() scheme.Descriptor { return v.desc }

// Check is Verify reported as a Verdict.
func (v *Verifier) Check(b Beacon, prev *Beacon) Verdict {
	return Verdict{Round: b.Round, Err: v.Verify(b, prev)}
}

// Verify returns nil when b is an authentic beacon of the chain. For chained
// schemes prev must be the beacon of round b.Round-1 unless b.Round is 1;
// it is ignored otherwise.
func (v *Verifier) Verify(b Beacon, prev *Beacon) error {
	if !bytes.Equal(Randomness(b.Signature), b.Randomness) {
		return newError(RandomnessMismatch, b.Round, "", nil)
	}
	if b.Round == 0 {
		return newError(MalformedInput, b.Round, "round must be >= 1", nil)
	}
	if n := v.desc.SignatureSize(); len(b.Signature) != n {
		return newError(MalformedInput, b.Round,
			fmt.Sprintf("signature is %d bytes, %s wants %d", len(b.Signature), v.desc.Name, n), nil)
	}
	link, err := v.link(b, prev)
	if err != nil {
		return err
	}
	msg, err := BuildMessage(v.desc, b.Round, link)
	if err != nil {
		return err
	}
	ok, err := bls381.VerifyPairing(v.desc.SignatureGroup, v.info.PublicKey, b.Signature, msg, v.dst)
	if err != nil {
		return newError(SignatureInvalid, b.Round, "", err)
	}
	if !ok {
		return newError(SignatureInvalid, b.Round, "pairing check failed", nil)
	}
	return nil
}

// link returns the previous signature that b's message commits to.
func (v *Verifier) link(b Beacon, prev *Beacon) ([]byte, error) {
	if !v.desc.Chained() {
		return nil, nil
	}
	if b.Round == 1 {
		if !bytes.Equal(b.PreviousSignature, v.seed) {
			return nil, newError(ChainLinkBroken, b.Round, "round 1 does not link to the genesis seed", nil)
		}
		return v.seed, nil
	}
	if len(b.PreviousSignature) == 0 {
		return nil, newError(MalformedInput, b.Round, "missing previous signature", nil)
	}
	if prev == nil {
		return nil, newError(PredecessorUnavailable, b.Round, "", nil)
	}
	if prev.Round != b.Round-1 {
		return nil, newError(ChainLinkBroken, b.Round, fmt.Sprintf("predecessor has round %d", prev.Round), nil)
	}
	if !bytes.Equal(b.PreviousSignature, prev.Signature) {
		return nil, newError(ChainLinkBroken, b.Round, "previous signature differs from predecessor", nil)
	}
	return b.PreviousSignature, nil
}
