package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/zmlAEQ/drand-verify/internal/beacon"
	"github.com/zmlAEQ/drand-verify/internal/beacon/beacontest"
	"github.com/zmlAEQ/drand-verify/internal/client"
	"github.com/zmlAEQ/drand-verify/internal/scheme"
)

func node(t *testing.T, c *beacontest.Chain, head uint64, tamper func(*beacon.Beacon)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/info" {
			b, _ := client.EncodeChainInfo(c.Info)
			_, _ = w.Write(b)
			return
		}
		which := strings.TrimPrefix(r.URL.Path, "/public/")
		n, err := strconv.ParseUint(which, 10, 64)
		if err != nil || n == 0 || n > head {
			http.NotFound(w, r)
			return
		}
		b := c.Beacon(n)
		if tamper != nil {
			tamper(&b)
		}
		out, _ := client.EncodeBeacon(b)
		_, _ = w.Write(out)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func lines(t *testing.T, buf *bytes.Buffer) []output {
	t.Helper()
	var out []output
	dec := json.NewDecoder(buf)
	for dec.More() {
		var o output
		if err := dec.Decode(&o); err != nil {
			t.Fatalf("decode output: %v", err)
		}
		out = append(out, o)
	}
	return out
}

func TestRun_SingleRound(t *testing.T) {
	c := beacontest.New(scheme.PedersenBLSChained, "cli")
	srv := node(t, c, 10, nil)
	var buf bytes.Buffer
	code := run(context.Background(), []string{"-url", srv.URL, "-round", "4", "-chain-hash", hex.EncodeToString(c.Info.Hash)}, &buf)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, buf.String())
	}
	got := lines(t, &buf)
	if len(got) != 1 || !got[0].Valid || got[0].Round != 4 || got[0].Randomness != hex.EncodeToString(c.Beacon(4).Randomness) {
		t.Fatalf("output: %+v", got)
	}
}

func TestRun_RejectsForgedBeacon(t *testing.T) {
	c := beacontest.New(scheme.UnchainedOnG1RFC9380, "cli-forged")
	other := beacontest.New(scheme.UnchainedOnG1RFC9380, "cli-other")
	srv := node(t, c, 10, func(b *beacon.Beacon) { *b = other.Beacon(b.Round) })
	var buf bytes.Buffer
	if code := run(context.Background(), []string{"-url", srv.URL, "-round", "3", "-retries", "0"}, &buf); code != 1 {
		t.Fatalf("exit %d", code)
	}
	got := lines(t, &buf)
	if len(got) != 1 || got[0].Valid || got[0].Kind != beacon.SignatureInvalid.String() || got[0].Round != 3 {
		t.Fatalf("output: %+v", got)
	}
}

func TestRun_RangeWithStateDir(t *testing.T) {
	c := beacontest.New(scheme.PedersenBLSChained, "cli-range")
	srv := node(t, c, 20, nil)
	dir := t.TempDir()
	var buf bytes.Buffer
	args := []string{"-url", srv.URL, "-from", "3", "-to", "6", "-state-dir", dir}
	if code := run(context.Background(), args, &buf); code != 0 {
		t.Fatalf("exit %d: %s", code, buf.String())
	}
	got := lines(t, &buf)
	if len(got) != 4 {
		t.Fatalf("want 4 lines, got %+v", got)
	}
	for i, o := range got {
		if !o.Valid || o.Round != uint64(3+i) {
			t.Fatalf("line %d: %+v", i, o)
		}
	}
	for _, f := range []string{"chain.dat", "beacons.log"} {
		if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
			t.Fatalf("%s not written: %v", f, err)
		}
	}

	// a second run against an endpoint serving another chain keeps the pinned key
	impostor := beacontest.New(scheme.PedersenBLSChained, "cli-impostor")
	srv2 := node(t, impostor, 20, nil)
	buf.Reset()
	if code := run(context.Background(), []string{"-url", srv2.URL, "-round", "9", "-state-dir", dir}, &buf); code != 1 {
		t.Fatalf("impostor accepted: %s", buf.String())
	}
}

func TestRun_ChainHashMismatch(t *testing.T) {
	c := beacontest.New(scheme.PedersenBLSUnchained, "cli-hash")
	srv := node(t, c, 5, nil)
	var buf bytes.Buffer
	code := run(context.Background(), []string{"-url", srv.URL, "-chain-hash", strings.Repeat("00", 32)}, &buf)
	if code != 1 {
		t.Fatalf("exit %d", code)
	}
}

func TestRun_BadConfig(t *testing.T) {
	var buf bytes.Buffer
	if code := run(context.Background(), []string{"-url", "not a url"}, &buf); code != 2 {
		t.Fatalf("bad url: exit %d", code)
	}
	if code := run(context.Background(), []string{"-config", filepath.Join(t.TempDir(), "missing.json")}, &buf); code != 2 {
		t.Fatalf("missing config: exit %d", code)
	}
	if code := run(context.Background(), []string{"-no-such-flag"}, &buf); code != 2 {
		t.Fatalf("unknown flag: exit %d", code)
	}
}

func TestRun_ConfigFileAndFlagOverride(t *testing.T) {
	c := beacontest.New(scheme.UnchainedOnG1, "cli-config")
	srv := node(t, c, 5, nil)
	path := filepath.Join(t.TempDir(), "verify.json")
	if err := os.WriteFile(path, []byte(`{"url":"http://127.0.0.1:1","retries":0}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("DRAND_VERIFY_URL", "")
	var buf bytes.Buffer
	if code := run(context.Background(), []string{"-config", path, "-url", srv.URL, "-round", "2"}, &buf); code != 0 {
		t.Fatalf("exit %d: %s", code, buf.String())
	}
}

func TestRun_ServeUntilCancelled(t *testing.T) {
	c := beacontest.New(scheme.PedersenBLSChained, "cli-serve")
	srv := node(t, c, 10, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	var buf bytes.Buffer
	go func() { done <- run(ctx, []string{"-url", srv.URL, "-serve", addr, "-monitoring", "127.0.0.1:0"}, &buf) }()

	var resp *http.Response
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err = http.Get("http://" + addr + "/public/5")
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("relay never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	b, err := client.DecodeBeacon(body)
	if resp.StatusCode != http.StatusOK || err != nil || b.Round != 5 {
		t.Fatalf("relay: %d %s", resp.StatusCode, body)
	}
	cancel()
	if code := <-done; code != 0 {
		t.Fatalf("exit %d", code)
	}
}
