// Package store persists the pinned chain parameters and the beacons that
// have already been verified, so a restarted verifier does not trust the
// endpoint's /info again and can resume chained verification from disk.
package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zmlAEQ/drand-verify/internal/beacon"
	"github.com/zmlAEQ/drand-verify/internal/scheme"
	"github.com/zmlAEQ/drand-verify/pkg/logger"
	"github.com/zmlAEQ/drand-verify/pkg/metrics"
)

var ErrNotFound = errors.New("not found")

const (
	magicInfo uint32 = 0x44524e44 // 'DRND'
	version   uint16 = 1
	hdrSize          = 4 + 2 + 2 + 4 + 4
)

// On-disk layout:
// [magic u32][version u16][flags u16][length u32][crc32 u32][payload ...]
// payload is the JSON encoded infoRecord. flags is reserved and written as 0.

type infoRecord struct {
	PublicKey   []byte    `json:"public_key"`
	Scheme      scheme.ID `json:"scheme"`
	PeriodNS    int64     `json:"period_ns"`
	GenesisUnix int64     `json:"genesis_unix"`
	Hash        []byte    `json:"hash"`
	GenesisSeed []byte    `json:"genesis_seed,omitempty"`
	BeaconID    string    `json:"beacon_id,omitempty"`
}

// ChainInfoStore keeps one ChainInfo on disk using atomic replace
// (tmp+fsync+rename) with a .bak copy of the previous version.
type ChainInfoStore struct {
	mu   sync.Mutex
	path string
}

func NewChainInfoStore(path string) *ChainInfoStore { return &ChainInfoStore{path: path} }

func (s *ChainInfoStore) Path() string { return s.path }

// Save replaces the stored chain info.
func (s *ChainInfoStore) Save(_ context.Context, info beacon.ChainInfo) error {
	begin := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeAtomic(info); err != nil {
		metrics.Inc("store_errors_total", map[string]string{"op": "save_info"})
		logger.ErrorJ("chain_store", map[string]any{"op": "save", "result": "error", "err": err.Error()})
		return err
	}
	ms := float64(time.Since(begin).Milliseconds())
	metrics.ObserveSummary("store_save_ms", nil, ms)
	logger.InfoJ("chain_store", map[string]any{"op": "save", "result": "ok", "latency_ms": ms})
	return nil
}

// Load reads the stored chain info, falling back to .bak when the primary
// file is missing or corrupt.
func (s *ChainInfoStore) Load(_ context.Context) (beacon.ChainInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if info, err := readInfo(s.path); err == nil {
		metrics.Inc("store_recovery_total", map[string]string{"result": "ok"})
		return info, nil
	}
	if info, err := readInfo(s.path + ".bak"); err == nil {
		metrics.Inc("store_recovery_total", map[string]string{"result": "fallback"})
		logger.WarnJ("chain_store", map[string]any{"op": "load", "result": "fallback", "path": s.path})
		return info, nil
	}
	metrics.Inc("store_recovery_total", map[string]string{"result": "miss"})
	return beacon.ChainInfo{}, ErrNotFound
}

func (s *ChainInfoStore) writeAtomic(info beacon.ChainInfo) error {
	body, err := json.Marshal(infoRecord{
		PublicKey:   info.PublicKey,
		Scheme:      info.Scheme,
		PeriodNS:    int64(info.Period),
		GenesisUnix: info.GenesisTime.Unix(),
		Hash:        info.Hash,
		GenesisSeed: info.GenesisSeed,
		BeaconID:    info.BeaconID,
	})
	if err != nil {
		return err
	}
	var hdr [hdrSize]byte
	binary.BigEndian.PutUint32(hdr[0:], magicInfo)
	binary.BigEndian.PutUint16(hdr[4:], version)
	binary.BigEndian.PutUint16(hdr[6:], 0)
	binary.BigEndian.PutUint32(hdr[8:], uint32(len(body)))
	binary.BigEndian.PutUint32(hdr[12:], crc32.ChecksumIEEE(body))

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(hdr[:]); err != nil {
		_ = f.Close()
		return err
	}
	if _, err := f.Write(body); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if _, err := os.Stat(s.path); err == nil {
		_ = os.Rename(s.path, s.path+".bak")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	syncDir(dir)
	return nil
}

func readInfo(path string) (beacon.ChainInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return beacon.ChainInfo{}, err
	}
	defer f.Close()
	var hdr [hdrSize]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return beacon.ChainInfo{}, err
	}
	if binary.BigEndian.Uint32(hdr[0:]) != magicInfo {
		return beacon.ChainInfo{}, errors.New("bad magic")
	}
	if v := binary.BigEndian.Uint16(hdr[4:]); v != version {
		return beacon.ChainInfo{}, fmt.Errorf("unsupported version %d", v)
	}
	length := binary.BigEndian.Uint32(hdr[8:])
	want := binary.BigEndian.Uint32(hdr[12:])
	if length == 0 || length > 1<<20 {
		return beacon.ChainInfo{}, errors.New("bad length")
	}
	body := make([]byte, int(length))
	if _, err := io.ReadFull(f, body); err != nil {
		return beacon.ChainInfo{}, err
	}
	if crc32.ChecksumIEEE(body) != want {
		return beacon.ChainInfo{}, errors.New("crc mismatch")
	}
	var r infoRecord
	if err := json.Unmarshal(body, &r); err != nil {
		return beacon.ChainInfo{}, err
	}
	return beacon.ChainInfo{
		PublicKey:   r.PublicKey,
		Scheme:      r.Scheme,
		Period:      time.Duration(r.PeriodNS),
		GenesisTime: time.Unix(r.GenesisUnix, 0).UTC(),
		Hash:        r.Hash,
		GenesisSeed: r.GenesisSeed,
		BeaconID:    r.BeaconID,
	}, nil
}

func syncDir(dir string) {
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
}
