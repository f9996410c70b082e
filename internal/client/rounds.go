package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/zmlAEQ/drand-verify/internal/beacon"
)

var ErrRoundBeforeGenesis = errors.New("time is not after genesis")

// RoundAt returns the round being produced at t: floor((t-genesis)/period)+1.
func RoundAt(info beacon.ChainInfo, t time.Time) (uint64, error) {
	if info.Period <= 0 {
		return 0, fmt.Errorf("%w: period %s", ErrInvalidChainInfo, info.Period)
	}
	if !t.After(info.GenesisTime) {
		return 0, ErrRoundBeforeGenesis
	}
	return uint64(t.Sub(info.GenesisTime)/info.Period) + 1, nil
}

// TimeOfRound returns when round is emitted. Round 0 maps to genesis.
func TimeOfRound(info beacon.ChainInfo, round uint64) time.Time {
	if round <= 1 {
		return info.GenesisTime
	}
	return info.GenesisTime.Add(time.Duration(round-1) * info.Period)
}
