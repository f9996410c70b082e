package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zmlAEQ/drand-verify/internal/beacon"
	"github.com/zmlAEQ/drand-verify/internal/beacon/beacontest"
	"github.com/zmlAEQ/drand-verify/internal/client"
	"github.com/zmlAEQ/drand-verify/internal/scheme"
	"github.com/zmlAEQ/drand-verify/pkg/bus"
)

// verifyingSource verifies beacons from a local chain, optionally tampered.
type verifyingSource struct {
	chain  *beacontest.Chain
	v      *beacon.Verifier
	head   uint64
	tamper func(*beacon.Beacon)
}

func newSource(t *testing.T, id scheme.ID) *verifyingSource {
	t.Helper()
	c := beacontest.New(id, t.Name())
	v, err := beacon.NewVerifier(c.Info)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	return &verifyingSource{chain: c, v: v, head: 10}
}

func (s *verifyingSource) Info() beacon.ChainInfo { return s.chain.Info }

func (s *verifyingSource) Get(_ context.Context, round uint64) (beacon.Beacon, error) {
	if round == 0 {
		return beacon.Beacon{}, client.ErrInvalidRound
	}
	if round > s.head {
		return beacon.Beacon{}, fmt.Errorf("%w: %d", client.ErrNotFound, round)
	}
	b := s.chain.Beacon(round)
	if s.tamper != nil {
		s.tamper(&b)
	}
	var prev *beacon.Beacon
	if round > 1 {
		p := s.chain.Beacon(round - 1)
		prev = &p
	}
	if err := s.v.Verify(b, prev); err != nil {
		return beacon.Beacon{}, err
	}
	return b, nil
}

func (s *verifyingSource) Latest(ctx context.Context) (beacon.Beacon, error) {
	return s.Get(ctx, s.head)
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, []byte) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	b, _ := io.ReadAll(rr.Body)
	return rr, b
}

func TestRelay_ServesVerifiedBeacons(t *testing.T) {
	src := newSource(t, scheme.PedersenBLSChained)
	events := bus.New(8)
	sub := events.Subscribe()
	h := New("127.0.0.1:0", src, events).Handler()

	rr, body := get(t, h, "/public/4")
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, body)
	}
	b, err := client.DecodeBeacon(body)
	if err != nil || b.Round != 4 {
		t.Fatalf("decode: %+v %v", b, err)
	}
	if ev := <-sub; ev.Kind != bus.KindBeacon || ev.Round != 4 {
		t.Fatalf("event: %+v", ev)
	}

	rr, body = get(t, h, "/public/latest")
	if b, err := client.DecodeBeacon(body); rr.Code != http.StatusOK || err != nil || b.Round != 10 {
		t.Fatalf("latest: %d %+v %v", rr.Code, b, err)
	}

	rr, body = get(t, h, "/info")
	info, err := client.DecodeChainInfo(body)
	if rr.Code != http.StatusOK || err != nil || info.Scheme != scheme.PedersenBLSChained {
		t.Fatalf("info: %d %v", rr.Code, err)
	}
}

func TestRelay_Errors(t *testing.T) {
	src := newSource(t, scheme.UnchainedOnG1RFC9380)
	events := bus.New(8)
	sub := events.Subscribe()
	h := New("127.0.0.1:0", src, events).Handler()

	cases := map[string]int{
		"/public/abc": http.StatusBadRequest,
		"/public/0":   http.StatusBadRequest,
		"/public/11":  http.StatusNotFound,
	}
	for path, want := range cases {
		if rr, body := get(t, h, path); rr.Code != want {
			t.Fatalf("%s: status %d want %d: %s", path, rr.Code, want, body)
		}
	}

	src.tamper = func(b *beacon.Beacon) { b.Randomness = make([]byte, 32) }
	if rr, _ := get(t, h, "/public/3"); rr.Code != http.StatusBadGateway {
		t.Fatalf("tampered: status %d", rr.Code)
	}
	ev := <-sub
	if ev.Kind != bus.KindRejected || ev.Round != 3 || !errors.Is(ev.Err, beacon.ErrRandomnessMismatch) {
		t.Fatalf("event: %+v", ev)
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/public/3", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("post: %d", rr.Code)
	}
}

func TestStatus(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{client.ErrStaleBeacon, http.StatusServiceUnavailable},
		{&beacon.VerificationError{Kind: beacon.SignatureInvalid}, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{client.ErrNotResponding, http.StatusBadGateway},
	}
	for _, tc := range cases {
		if code, _ := status(tc.err); code != tc.code {
			t.Fatalf("%v: %d want %d", tc.err, code, tc.code)
		}
	}
}

func TestRelay_StartStop(t *testing.T) {
	s := New("127.0.0.1:0", newSource(t, scheme.PedersenBLSUnchained), nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	resp, err := http.Get("http://" + s.Addr() + "/public/2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
