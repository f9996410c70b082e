package client

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zmlAEQ/drand-verify/internal/beacon"
	"github.com/zmlAEQ/drand-verify/internal/scheme"
)

var (
	ErrInvalidChainInfo = errors.New("invalid chain info")
	ErrInvalidBeacon    = errors.New("invalid beacon")
)

// defaultScheme applies to endpoints that predate the schemeID field.
const defaultScheme = "pedersen-bls-chained"

type hexBytes []byte

func (h hexBytes) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(h)), nil
}

func (h *hexBytes) UnmarshalText(b []byte) error {
	out := make([]byte, hex.DecodedLen(len(b)))
	if _, err := hex.Decode(out, b); err != nil {
		return err
	}
	*h = out
	return nil
}

type chainInfoJSON struct {
	PublicKey   hexBytes `json:"public_key"`
	Period      int64    `json:"period"`
	GenesisTime int64    `json:"genesis_time"`
	Hash        hexBytes `json:"hash"`
	GroupHash   hexBytes `json:"groupHash,omitempty"`
	SchemeID    string   `json:"schemeID"`
	Metadata    struct {
		BeaconID string `json:"beaconID,omitempty"`
	} `json:"metadata"`
}

type beaconJSON struct {
	Round             uint64   `json:"round"`
	Randomness        hexBytes `json:"randomness"`
	Signature         hexBytes `json:"signature"`
	PreviousSignature hexBytes `json:"previous_signature,omitempty"`
}

// DecodeChainInfo parses a drand /info document.
func DecodeChainInfo(b []byte) (beacon.ChainInfo, error) {
	var j chainInfoJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return beacon.ChainInfo{}, fmt.Errorf("%w: %v", ErrInvalidChainInfo, err)
	}
	switch {
	case len(j.PublicKey) == 0:
		return beacon.ChainInfo{}, fmt.Errorf("%w: missing public_key", ErrInvalidChainInfo)
	case j.Period <= 0:
		return beacon.ChainInfo{}, fmt.Errorf("%w: period %d", ErrInvalidChainInfo, j.Period)
	case j.GenesisTime <= 0:
		return beacon.ChainInfo{}, fmt.Errorf("%w: genesis_time %d", ErrInvalidChainInfo, j.GenesisTime)
	}
	name := j.SchemeID
	if name == "" {
		name = defaultScheme
	}
	id, err := scheme.Parse(name)
	if err != nil {
		return beacon.ChainInfo{}, fmt.Errorf("%w: %w", ErrInvalidChainInfo,
			&beacon.VerificationError{Kind: beacon.UnsupportedScheme, Reason: name, Err: err})
	}
	return beacon.ChainInfo{
		PublicKey:   j.PublicKey,
		Scheme:      id,
		Period:      time.Duration(j.Period) * time.Second,
		GenesisTime: time.Unix(j.GenesisTime, 0).UTC(),
		Hash:        j.Hash,
		GenesisSeed: j.GroupHash,
		BeaconID:    j.Metadata.BeaconID,
	}, nil
}

// EncodeChainInfo renders info in the /info wire format.
func EncodeChainInfo(info beacon.ChainInfo) ([]byte, error) {
	j := chainInfoJSON{
		PublicKey:   info.PublicKey,
		Period:      int64(info.Period / time.Second),
		GenesisTime: info.GenesisTime.Unix(),
		Hash:        info.Hash,
		GroupHash:   info.GenesisSeed,
		SchemeID:    info.Scheme.String(),
	}
	j.Metadata.BeaconID = info.BeaconID
	return json.Marshal(j)
}

// DecodeBeacon parses a drand /public/{round} document.
func DecodeBeacon(b []byte) (beacon.Beacon, error) {
	var j beaconJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return beacon.Beacon{}, fmt.Errorf("%w: %v", ErrInvalidBeacon, err)
	}
	if len(j.Signature) == 0 {
		return beacon.Beacon{}, fmt.Errorf("%w: missing signature", ErrInvalidBeacon)
	}
	return beacon.Beacon{
		Round:             j.Round,
		Signature:         j.Signature,
		Randomness:        j.Randomness,
		PreviousSignature: j.PreviousSignature,
	}, nil
}

func EncodeBeacon(b beacon.Beacon) ([]byte, error) {
	return json.Marshal(beaconJSON{
		Round:             b.Round,
		Randomness:        b.Randomness,
		Signature:         b.Signature,
		PreviousSignature: b.PreviousSignature,
	})
}
