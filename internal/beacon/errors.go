package beacon

import (
	"errors"
	"fmt"
)

// Kind classifies why a beacon was rejected. Kind values are errors so that
// callers can match with errors.Is(err, beacon.SignatureInvalid).
type Kind uint8

const (
	UnsupportedScheme Kind = iota + 1
	MalformedInput
	RandomnessMismatch
	ChainLinkBroken
	PredecessorUnavailable
	SignatureInvalid
	InvalidPublicKey
)

// Sentinels for errors.Is.
var (
	ErrUnsupportedScheme      error = UnsupportedScheme
	ErrMalformedInput         error = MalformedInput
	ErrRandomnessMismatch     error = RandomnessMismatch
	ErrChainLinkBroken        error = ChainLinkBroken
	ErrPredecessorUnavailable error = PredecessorUnavailable
	ErrSignatureInvalid       error = SignatureInvalid
	ErrInvalidPublicKey       error = InvalidPublicKey
)

var kindNames = map[Kind]string{
	UnsupportedScheme:      "unsupported_scheme",
	MalformedInput:         "malformed_input",
	RandomnessMismatch:     "randomness_mismatch",
	ChainLinkBroken:        "chain_link_broken",
	PredecessorUnavailable: "predecessor_unavailable",
	SignatureInvalid:       "signature_invalid",
	InvalidPublicKey:       "invalid_public_key",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) Error() string { return k.String() }

// VerificationError is the only error type returned by this package.
type VerificationError struct {
	Kind   Kind
	Round  uint64
	Reason string
	Err    error
}

func (e *VerificationError) Error() string {
	msg := fmt.Sprintf("beacon round %d: %s", e.Round, e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *VerificationError) Unwrap() error { return e.Err }

// Is matches a bare Kind target.
func (e *VerificationError) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

func newError(k Kind, round uint64, reason string, cause error) *VerificationError {
	return &VerificationError{Kind: k, Round: round, Reason: reason, Err: cause}
}

// KindOf extracts the Kind carried by err, or 0 when err is nil or foreign.
func KindOf(err error) Kind {
	var ve *VerificationError
	if errors.As(err, &ve) {
		return ve.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return 0
}

// Verdict is the outcome of verifying one beacon. Err == nil means valid.
type Verdict struct {
	Round uint64
	Err   error
}

func (v Verdict) Valid() bool { return v.Err == nil }

// Kind returns the rejection kind, 0 for a valid beacon.
func (v Verdict) Kind() Kind { return KindOf(v.Err) }

// FirstError returns the first rejection in verdicts, if any.
func FirstError(verdicts []Verdict) error {
	for _, v := range verdicts {
		if v.Err != nil {
			return v.Err
		}
	}
	return nil
}
