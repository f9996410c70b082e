// Package relay re-serves the drand HTTP API locally, answering only with
// beacons that verified against the pinned chain.
package relay

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zmlAEQ/drand-verify/internal/beacon"
	"github.com/zmlAEQ/drand-verify/internal/client"
	"github.com/zmlAEQ/drand-verify/pkg/bus"
	"github.com/zmlAEQ/drand-verify/pkg/lifecycle"
	"github.com/zmlAEQ/drand-verify/pkg/logger"
	"github.com/zmlAEQ/drand-verify/pkg/metrics"
)

// Source is the part of client.Client the relay needs.
type Source interface {
	Info() beacon.ChainInfo
	Get(ctx context.Context, round uint64) (beacon.Beacon, error)
	Latest(ctx context.Context) (beacon.Beacon, error)
}

type Service struct {
	addr   string
	src    Source
	events *bus.Bus
	srv    *http.Server
	ln     net.Listener
}

// New serves src on addr and publishes every verification outcome on events
// (may be nil).
func New(addr string, src Source, events *bus.Bus) *Service {
	return &Service{addr: addr, src: src, events: events}
}

func (s *Service) Name() string { return "relay" }

func (s *Service) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/info", s.handleInfo)
	mux.HandleFunc("/public/", s.handlePublic)
	return mux
}

func (s *Service) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	b, err := client.EncodeChainInfo(s.src.Info())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
}

func (s *Service) handlePublic(w http.ResponseWriter, r *http.Request) {
	begin := time.Now()
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	which := strings.TrimPrefix(r.URL.Path, "/public/")
	var (
		b   beacon.Beacon
		err error
	)
	if which == "latest" {
		b, err = s.src.Latest(r.Context())
	} else {
		round, perr := strconv.ParseUint(which, 10, 64)
		if perr != nil {
			s.reply(w, "bad_request", http.StatusBadRequest, perr.Error(), begin)
			return
		}
		b, err = s.src.Get(r.Context(), round)
	}
	if err != nil {
		var ve *beacon.VerificationError
		if errors.As(err, &ve) {
			s.publish(r.Context(), bus.Event{Kind: bus.KindRejected, Round: ve.Round, Err: err})
		}
		code, result := status(err)
		s.reply(w, result, code, err.Error(), begin)
		return
	}
	s.publish(r.Context(), bus.Event{Kind: bus.KindBeacon, Round: b.Round, Body: b})
	out, err := client.EncodeBeacon(b)
	if err != nil {
		s.reply(w, "encode_error", http.StatusInternalServerError, err.Error(), begin)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(out)
	s.observe("ok", begin)
}

// status maps a fetch or verification error to an HTTP status.
func status(err error) (int, string) {
	switch {
	case errors.Is(err, client.ErrInvalidRound):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, client.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, client.ErrStaleBeacon):
		return http.StatusServiceUnavailable, "stale"
	case beacon.KindOf(err) != 0:
		return http.StatusBadGateway, "rejected"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusBadGateway, "upstream_error"
	}
}

func (s *Service) reply(w http.ResponseWriter, result string, code int, msg string, begin time.Time) {
	http.Error(w, msg, code)
	s.observe(result, begin)
	if code >= http.StatusInternalServerError {
		logger.WarnJ("relay", map[string]any{"result": result, "code": code, "err": msg})
	}
}

func (s *Service) observe(result string, begin time.Time) {
	metrics.Inc("relay_requests_total", map[string]string{"result": result})
	metrics.ObserveSummary("relay_request_ms", nil, float64(time.Since(begin).Milliseconds()))
}

func (s *Service) publish(ctx context.Context, ev bus.Event) {
	if s.events != nil {
		s.events.Publish(ctx, ev)
	}
}

func (s *Service) Start(ctx context.Context) error {
	begin := time.Now()
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		logger.ErrorJ("service_op", map[string]any{"service": "relay", "op": "start", "result": "error", "err": err.Error()})
		return err
	}
	s.ln = ln
	s.srv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorJ("relay", map[string]any{"result": "serve_error", "err": err.Error()})
		}
	}()
	logger.InfoJ("service_op", map[string]any{"service": "relay", "op": "start", "result": "ok", "addr": ln.Addr().String(), "latency_ms": time.Since(begin).Milliseconds()})
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	sctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	err := s.srv.Shutdown(sctx)
	result := "ok"
	if err != nil {
		result = "error"
	}
	logger.InfoJ("service_op", map[string]any{"service": "relay", "op": "stop", "result": result})
	return err
}

var _ lifecycle.Service = (*Service)(nil)
