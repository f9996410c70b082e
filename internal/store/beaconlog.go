package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/zmlAEQ/drand-verify/internal/beacon"
	"github.com/zmlAEQ/drand-verify/pkg/logger"
	"github.com/zmlAEQ/drand-verify/pkg/metrics"
)

// BeaconLog is an append-only log of verified beacons, one JSON object per
// line. Only beacons that passed verification may be appended. Lines that do
// not parse (a torn final write) are skipped on load. When a round appears
// more than once the last line wins.
type BeaconLog struct {
	mu    sync.RWMutex
	path  string
	index map[uint64]beacon.Beacon
	last  uint64
}

type logEntry struct {
	Round             uint64 `json:"round"`
	Signature         []byte `json:"signature"`
	Randomness        []byte `json:"randomness"`
	PreviousSignature []byte `json:"previous_signature,omitempty"`
}

// OpenBeaconLog loads path (if it exists) into memory.
func OpenBeaconLog(path string) (*BeaconLog, error) {
	l := &BeaconLog{path: path, index: map[uint64]beacon.Beacon{}}
	if _, err := l.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return l, nil
}

// Append writes b unless the same beacon is already present. A different
// beacon for a stored round replaces it.
func (l *BeaconLog) Append(b beacon.Beacon) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if old, ok := l.index[b.Round]; ok && same(old, b) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	line, err := json.Marshal(logEntry{
		Round:             b.Round,
		Signature:         b.Signature,
		Randomness:        b.Randomness,
		PreviousSignature: b.PreviousSignature,
	})
	if err != nil {
		_ = f.Close()
		return err
	}
	if torn(f) {
		line = append([]byte{'\n'}, line...)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
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
	l.put(b)
	metrics.Inc("store_append_total", nil)
	logger.InfoJ("beacon_log", map[string]any{"op": "append", "result": "ok", "round": b.Round})
	return nil
}

func (l *BeaconLog) Get(round uint64) (beacon.Beacon, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.index[round]
	return b, ok
}

// Last returns the highest stored round.
func (l *BeaconLog) Last() (beacon.Beacon, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.index[l.last]
	return b, ok
}

func (l *BeaconLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.index)
}

// Load rereads the file and returns its beacons ordered by round.
func (l *BeaconLog) Load() ([]beacon.Beacon, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.Open(l.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	l.index = map[uint64]beacon.Beacon{}
	l.last = 0
	skipped := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		var e logEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil || e.Round == 0 {
			skipped++
			continue
		}
		l.put(beacon.Beacon{Round: e.Round, Signature: e.Signature, Randomness: e.Randomness, PreviousSignature: e.PreviousSignature})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	out := make([]beacon.Beacon, 0, len(l.index))
	for _, b := range l.index {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Round < out[j].Round })
	metrics.Inc("store_recovery_total", map[string]string{"result": "log"})
	logger.InfoJ("beacon_log", map[string]any{"op": "load", "result": "ok", "beacons": len(out), "skipped": skipped})
	return out, nil
}

func (l *BeaconLog) put(b beacon.Beacon) {
	l.index[b.Round] = b
	if b.Round > l.last {
		l.last = b.Round
	}
}

func same(a, b beacon.Beacon) bool {
	return bytes.Equal(a.Signature, b.Signature) &&
		bytes.Equal(a.Randomness, b.Randomness) &&
		bytes.Equal(a.PreviousSignature, b.PreviousSignature)
}

// torn reports whether f ends in a partial line.
func torn(f *os.File) bool {
	st, err := f.Stat()
	if err != nil || st.Size() == 0 {
		return false
	}
	var last [1]byte
	if _, err := f.ReadAt(last[:], st.Size()-1); err != nil {
		return false
	}
	return last[0] != '\n'
}
