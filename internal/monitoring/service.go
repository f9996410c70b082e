// Package monitoring serves Prometheus metrics and a health endpoint that
// reports the newest verified round seen on the event bus.
package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/zmlAEQ/drand-verify/pkg/bus"
	"github.com/zmlAEQ/drand-verify/pkg/lifecycle"
	"github.com/zmlAEQ/drand-verify/pkg/logger"
	"github.com/zmlAEQ/drand-verify/pkg/metrics"
)

type Service struct {
	addr   string
	events *bus.Bus
	srv    *http.Server
	ln     net.Listener
	done   chan struct{}

	latest   atomic.Uint64
	rejected atomic.Uint64
}

// New serves on addr and tracks verification outcomes published on events
// (may be nil).
func New(addr string, events *bus.Bus) *Service { return &Service{addr: addr, events: events} }

// Latest is the highest verified round observed, 0 before the first.
func (s *Service) Latest() uint64 { return s.latest.Load() }

func (s *Service) track(sub <-chan bus.Event, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			s.observe(ev)
		}
	}
}

func (s *Service) observe(ev bus.Event) {
	switch ev.Kind {
	case bus.KindBeacon:
		for {
			cur := s.latest.Load()
			if ev.Round <= cur || s.latest.CompareAndSwap(cur, ev.Round) {
				break
			}
		}
		metrics.SetGauge("beacon_latest_round", nil, float64(s.latest.Load()))
	case bus.KindRejected:
		s.rejected.Add(1)
	}
}

func (s *Service) Name() string { return "monitoring" }

// Addr is the bound address once started.
func (s *Service) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":       "ok",
		"latest_round": s.latest.Load(),
		"rejected":     s.rejected.Load(),
	})
}

func (s *Service) Start(ctx context.Context) error {
	begin := time.Now()
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		logger.ErrorJ("service_op", map[string]any{"service": "monitoring", "op": "start", "result": "error", "err": err.Error()})
		return err
	}
	s.ln = ln
	s.done = make(chan struct{})
	if s.events != nil {
		go s.track(s.events.Subscribe(), s.done)
	}
	s.srv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorJ("monitoring", map[string]any{"result": "serve_error", "err": err.Error()})
		}
	}()
	dur := time.Since(begin).Milliseconds()
	logger.InfoJ("service_op", map[string]any{"service": "monitoring", "op": "start", "result": "ok", "addr": ln.Addr().String(), "latency_ms": dur})
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	close(s.done)
	sctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	err := s.srv.Shutdown(sctx)
	logger.InfoJ("service_op", map[string]any{"service": "monitoring", "op": "stop", "result": resultOf(err)})
	return err
}

func resultOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

var _ lifecycle.Service = (*Service)(nil)
