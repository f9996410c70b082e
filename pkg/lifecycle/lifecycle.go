// Package lifecycle starts and stops long-running services in order.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/zmlAEQ/drand-verify/pkg/logger"
	"github.com/zmlAEQ/drand-verify/pkg/metrics"
)

// Service is anything with a start/stop lifetime.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Manager starts services in registration order and stops them in reverse.
type Manager struct {
	mu       sync.Mutex
	services []Service
	started  []Service
}

func New() *Manager { return &Manager{} }

func (m *Manager) Add(s Service) {
	if s == nil {
		return
	}
	m.mu.Lock()
	m.services = append(m.services, s)
	m.mu.Unlock()
}

// StartAll starts every service. On the first failure the already started
// services are stopped again and the start error is returned.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.services {
		begin := time.Now()
		if err := s.Start(ctx); err != nil {
			logger.ErrorJ("service_op", map[string]any{"service": s.Name(), "op": "start", "result": "error", "err": err.Error()})
			return multierr.Append(err, m.stopLocked(ctx))
		}
		m.started = append(m.started, s)
		metrics.ObserveSummary("service_op_ms", map[string]string{"service": s.Name(), "op": "start"}, float64(time.Since(begin).Milliseconds()))
	}
	return nil
}

// StopAll stops started services in reverse order and joins their errors.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked(ctx)
}

func (m *Manager) stopLocked(ctx context.Context) error {
	var errs error
	for i := len(m.started) - 1; i >= 0; i-- {
		s := m.started[i]
		begin := time.Now()
		if err := s.Stop(ctx); err != nil {
			logger.ErrorJ("service_op", map[string]any{"service": s.Name(), "op": "stop", "result": "error", "err": err.Error()})
			errs = multierr.Append(errs, err)
			continue
		}
		metrics.ObserveSummary("service_op_ms", map[string]string{"service": s.Name(), "op": "stop"}, float64(time.Since(begin).Milliseconds()))
	}
	m.started = nil
	return errs
}
