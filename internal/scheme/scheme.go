// Package scheme enumerates the drand signature schemes this module can
// verify. The table in this file is the only place that assigns curve groups,
// chaining and hash-to-curve tags to a scheme.
package scheme

import (
	"errors"
	"fmt"

	"github.com/zmlAEQ/drand-verify/internal/crypto/bls381"
)

// ErrUnsupported is returned for scheme ids outside the table.
var ErrUnsupported = errors.New("unsupported scheme")

// ID identifies a verification scheme. The zero value is invalid.
type ID uint8

const (
	PedersenBLSChained ID = iota + 1
	PedersenBLSUnchained
	UnchainedOnG1
	UnchainedOnG1RFC9380
)

// Chaining says whether a round's message commits to the previous signature.
type Chaining uint8

const (
	Unchained Chaining = iota
	Chained
)

// HashMethod names the hash-to-curve variant applied to round messages.
type HashMethod uint8

const (
	// Classic is the tag drand used before RFC 9380 was adopted for G1: the
	// G2 suite tag is applied regardless of the target group.
	Classic HashMethod = iota
	RFC9380
)

func (h HashMethod) String() string {
	if h == RFC9380 {
		return "rfc9380"
	}
	return "classic"
}

// Domain separation tags.
const (
	dstG2 = "BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_"
	dstG1 = "BLS_SIG_BLS12381G1_XMD:SHA-256_SSWU_RO_NUL_"
)

// Descriptor is the fixed parameter set of one scheme.
type Descriptor struct {
	ID             ID
	Name           string
	SignatureGroup bls381.Group
	PublicKeyGroup bls381.Group
	Chaining       Chaining
	HashMethod     HashMethod
	DST            string
}

// Chained reports whether messages are linked to the previous signature.
func (d Descriptor) Chained() bool { return d.Chaining == Chained }

// SignatureSize is the compressed signature length in bytes.
func (d Descriptor) SignatureSize() int { return d.SignatureGroup.CompressedSize() }

// PublicKeySize is the compressed public key length in bytes.
func (d Descriptor) PublicKeySize() int { return d.PublicKeyGroup.CompressedSize() }

var table = [...]Descriptor{
	PedersenBLSChained: {
		ID: PedersenBLSChained, Name: "pedersen-bls-chained",
		SignatureGroup: bls381.G2, PublicKeyGroup: bls381.G1,
		Chaining: Chained, HashMethod: Classic, DST: dstG2,
	},
	PedersenBLSUnchained: {
		ID: PedersenBLSUnchained, Name: "pedersen-bls-unchained",
		SignatureGroup: bls381.G2, PublicKeyGroup: bls381.G1,
		Chaining: Unchained, HashMethod: Classic, DST: dstG2,
	},
	UnchainedOnG1: {
		ID: UnchainedOnG1, Name: "bls-unchained-on-g1",
		SignatureGroup: bls381.G1, PublicKeyGroup: bls381.G2,
		Chaining: Unchained, HashMethod: Classic, DST: dstG2,
	},
	UnchainedOnG1RFC9380: {
		ID: UnchainedOnG1RFC9380, Name: "bls-unchained-on-g1-rfc9380",
		SignatureGroup: bls381.G1, PublicKeyGroup: bls381.G2,
		Chaining: Unchained, HashMethod: RFC9380, DST: dstG1,
	},
}

// aliases maps the ids published by drand nodes that differ from ours.
var aliases = map[string]ID{
	"bls-unchained-g1-rfc9380": UnchainedOnG1RFC9380,
}

// All returns every supported scheme in table order.
func All() []ID {
	return []ID{PedersenBLSChained, PedersenBLSUnchained, UnchainedOnG1, UnchainedOnG1RFC9380}
}

// Parse resolves a scheme id string.
func Parse(s string) (ID, error) {
	for _, id := range All() {
		if table[id].Name == s {
			return id, nil
		}
	}
	if id, ok := aliases[s]; ok {
		return id, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupported, s)
}

// Valid reports whether id is one of the four table entries.
func (id ID) Valid() bool { return id >= PedersenBLSChained && id <= UnchainedOnG1RFC9380 }

// Descriptor returns the table entry for id.
func (id ID) Descriptor() (Descriptor, error) {
	if !id.Valid() {
		return Descriptor{}, fmt.Errorf("%w: id %d", ErrUnsupported, uint8(id))
	}
	return table[id], nil
}

func (id ID) String() string {
	if !id.Valid() {
		return fmt.Sprintf("scheme(%d)", uint8(id))
	}
	return table[id].Name
}

func (id ID) MarshalText() ([]byte, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("%w: id %d", ErrUnsupported, uint8(id))
	}
	return []byte(table[id].Name), nil
}

func (id *ID) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}
