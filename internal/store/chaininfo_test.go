package store

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/zmlAEQ/drand-verify/internal/beacon/beacontest"
	"github.com/zmlAEQ/drand-verify/internal/scheme"
)

func TestChainInfoStore_SaveLoad(t *testing.T) {
	s := NewChainInfoStore(filepath.Join(t.TempDir(), "nested", "chain.dat"))
	want := beacontest.New(scheme.UnchainedOnG1RFC9380, "store").Info
	want.GenesisSeed = []byte{9, 9}
	if err := s.Save(context.Background(), want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !bytes.Equal(got.PublicKey, want.PublicKey) || got.Scheme != want.Scheme || got.Period != want.Period ||
		!got.GenesisTime.Equal(want.GenesisTime) || !bytes.Equal(got.Hash, want.Hash) ||
		!bytes.Equal(got.GenesisSeed, want.GenesisSeed) || got.BeaconID != want.BeaconID {
		t.Fatalf("mismatch:\n got=%+v\nwant=%+v", got, want)
	}
}

func TestChainInfoStore_FallbackOnCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.dat")
	s := NewChainInfoStore(path)
	first := beacontest.New(scheme.PedersenBLSChained, "first").Info
	second := beacontest.New(scheme.PedersenBLSChained, "second").Info
	if err := s.Save(context.Background(), first); err != nil {
		t.Fatalf("save1: %v", err)
	}
	if err := s.Save(context.Background(), second); err != nil {
		t.Fatalf("save2: %v", err)
	}
	if err := os.Truncate(path, 8); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	got, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("load after corrupt: %v", err)
	}
	if !bytes.Equal(got.PublicKey, first.PublicKey) {
		t.Fatalf("fallback returned the wrong version")
	}
}

func TestChainInfoStore_CRC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.dat")
	s := NewChainInfoStore(path)
	if err := s.Save(context.Background(), beacontest.New(scheme.PedersenBLSUnchained, "crc").Info); err != nil {
		t.Fatalf("save: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	raw[len(raw)-2] ^= 0x01
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := s.Load(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("flipped payload must not load, got %v", err)
	}
}

func TestChainInfoStore_NotFound(t *testing.T) {
	s := NewChainInfoStore(filepath.Join(t.TempDir(), "missing.dat"))
	if _, err := s.Load(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
