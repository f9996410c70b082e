// Package metrics keeps a process-wide prometheus registry behind a small
// name+labels API. Vectors are created on first use; the label names of a
// metric are fixed by its first observation.
package metrics

import (
	"bytes"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"

	"github.com/zmlAEQ/drand-verify/pkg/logger"
)

type entry struct {
	labels []string
	vec    any // *prometheus.CounterVec | *GaugeVec | *SummaryVec
}

var (
	mu      sync.Mutex
	reg     = prometheus.NewRegistry()
	entries = map[string]*entry{}
)

// Inc adds one to the counter name{labels}.
func Inc(name string, labels map[string]string) {
	if v, ok := lookup(name, labels, newCounter).(*prometheus.CounterVec); ok {
		v.With(labels).Inc()
	}
}

// AddGauge adds delta (may be negative) to the gauge name{labels}.
func AddGauge(name string, labels map[string]string, delta float64) {
	if v, ok := lookup(name, labels, newGauge).(*prometheus.GaugeVec); ok {
		v.With(labels).Add(delta)
	}
}

// SetGauge sets the gauge name{labels} to val.
func SetGauge(name string, labels map[string]string, val float64) {
	if v, ok := lookup(name, labels, newGauge).(*prometheus.GaugeVec); ok {
		v.With(labels).Set(val)
	}
}

// ObserveSummary records val in the summary name{labels}.
func ObserveSummary(name string, labels map[string]string, val float64) {
	if v, ok := lookup(name, labels, newSummary).(*prometheus.SummaryVec); ok {
		v.With(labels).Observe(val)
	}
}

// Handler serves the registry in the prometheus exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		mu.Lock()
		r := reg
		mu.Unlock()
		promhttp.HandlerFor(r, promhttp.HandlerOpts{}).ServeHTTP(w, req)
	})
}

// DumpProm renders every metric family as exposition text.
func DumpProm() string {
	mu.Lock()
	r := reg
	mu.Unlock()
	mfs, err := r.Gather()
	if err != nil {
		logger.ErrorJ("metrics", map[string]any{"op": "gather", "result": "error", "err": err.Error()})
	}
	var buf bytes.Buffer
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			logger.ErrorJ("metrics", map[string]any{"op": "encode", "result": "error", "err": err.Error()})
		}
	}
	return buf.String()
}

// Reset drops every metric. Intended for tests.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	reg = prometheus.NewRegistry()
	entries = map[string]*entry{}
}

func lookup(name string, labels map[string]string, mk func(string, []string) prometheus.Collector) any {
	keys := labelKeys(labels)
	mu.Lock()
	defer mu.Unlock()
	e, ok := entries[name]
	if !ok {
		c := mk(name, keys)
		if err := reg.Register(c); err != nil {
			logger.ErrorJ("metrics", map[string]any{"op": "register", "name": name, "result": "error", "err": err.Error()})
			return nil
		}
		e = &entry{labels: keys, vec: c}
		entries[name] = e
	}
	if strings.Join(e.labels, ",") != strings.Join(keys, ",") {
		logger.ErrorJ("metrics", map[string]any{"op": "observe", "name": name, "result": "label_mismatch"})
		return nil
	}
	return e.vec
}

func labelKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func newCounter(name string, keys []string) prometheus.Collector {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: name}, keys)
}

func newGauge(name string, keys []string) prometheus.Collector {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: name}, keys)
}

func newSummary(name string, keys []string) prometheus.Collector {
	return prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Name:       name,
		Help:       name,
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	}, keys)
}
