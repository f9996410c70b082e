package store

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/zmlAEQ/drand-verify/internal/beacon"
	"github.com/zmlAEQ/drand-verify/internal/beacon/beacontest"
	"github.com/zmlAEQ/drand-verify/internal/scheme"
)

func TestBeaconLog_AppendGetReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "beacons.log")
	l, err := OpenBeaconLog(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := l.Last(); ok {
		t.Fatalf("empty log has a last beacon")
	}
	c := beacontest.New(scheme.PedersenBLSChained, "log")
	for _, b := range []beacon.Beacon{c.Beacon(3), c.Beacon(1), c.Beacon(2), c.Beacon(2)} {
		if err := l.Append(b); err != nil {
			t.Fatalf("append %d: %v", b.Round, err)
		}
	}
	if l.Len() != 3 {
		t.Fatalf("duplicate round was appended: len=%d", l.Len())
	}
	last, ok := l.Last()
	if !ok || last.Round != 3 {
		t.Fatalf("last: %+v %v", last, ok)
	}

	again, err := OpenBeaconLog(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	b2, ok := again.Get(2)
	if !ok || !bytes.Equal(b2.Signature, c.Beacon(2).Signature) || !bytes.Equal(b2.PreviousSignature, c.Beacon(1).Signature) {
		t.Fatalf("round 2 not restored: %+v", b2)
	}
	// restored beacons still verify
	v, err := beacon.NewVerifier(c.Info)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	b1, _ := again.Get(1)
	if err := v.Verify(b2, &b1); err != nil {
		t.Fatalf("restored beacon: %v", err)
	}
}

func TestBeaconLog_SkipsTornLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "beacons.log")
	l, err := OpenBeaconLog(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	c := beacontest.New(scheme.UnchainedOnG1, "torn")
	if err := l.Append(c.Beacon(5)); err != nil {
		t.Fatalf("append: %v", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	_, _ = f.WriteString(`{"round":6,"signa`)
	_ = f.Close()

	bs, err := l.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(bs) != 1 || bs[0].Round != 5 {
		t.Fatalf("want only round 5, got %+v", bs)
	}
	if err := l.Append(c.Beacon(7)); err != nil {
		t.Fatalf("append after torn line: %v", err)
	}
	if bs, _ := l.Load(); len(bs) != 2 || bs[1].Round != 7 {
		t.Fatalf("append after torn line was lost: %+v", bs)
	}
}

func TestBeaconLog_LoadMissing(t *testing.T) {
	l, err := OpenBeaconLog(filepath.Join(t.TempDir(), "none", "beacons.log"))
	if err != nil {
		t.Fatalf("missing file must open empty: %v", err)
	}
	if _, err := l.Load(); err == nil {
		t.Fatalf("load of missing file must error")
	}
}

func TestBeaconLog_ReplaceRound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "beacons.log")
	l, err := OpenBeaconLog(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	c := beacontest.New(scheme.PedersenBLSUnchained, "replace")
	bad := c.Beacon(4)
	bad.Signature = append([]byte(nil), bad.Signature...)
	bad.Signature[10] ^= 0xff
	if err := l.Append(bad); err != nil {
		t.Fatalf("append bad: %v", err)
	}
	good := c.Beacon(4)
	if err := l.Append(good); err != nil {
		t.Fatalf("append good: %v", err)
	}
	if got, _ := l.Get(4); !bytes.Equal(got.Signature, good.Signature) {
		t.Fatalf("in-memory entry not replaced")
	}
	again, err := OpenBeaconLog(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got, _ := again.Get(4); !bytes.Equal(got.Signature, good.Signature) || again.Len() != 1 {
		t.Fatalf("last line must win on reload: len=%d", again.Len())
	}
}
