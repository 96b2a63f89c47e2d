// Package estimate turns queue positions into wait-time estimates from a
// rolling average of observed service durations.
package estimate

import (
	"sync"
	"time"

	"govqueue/internal/platform/config"
	"govqueue/pkg/domain"
)

// DurationSource supplies the advertised fallback duration for a service
// when too few completions have been observed. The office catalog
// implements it.
type DurationSource interface {
	ServiceDuration(officeID domain.OfficeID, serviceName string) time.Duration
}

// Estimator maintains a rolling average of service durations per
// (office, service) and derives wait estimates from queue positions.
// Estimate is read-only and side-effect free; RecordCompletion is fed by the
// queue manager when a ticket completes.
type Estimator struct {
	cfg    config.EstimatorConfig
	source DurationSource

	mu      sync.RWMutex
	samples map[sampleKey]*window
}

type sampleKey struct {
	officeID    domain.OfficeID
	serviceName string
}

// window is a fixed-size ring of the most recent service durations.
type window struct {
	durations []time.Duration
	next      int
	full      bool
}

// New constructs an estimator.
func New(cfg config.EstimatorConfig, source DurationSource) *Estimator {
	if cfg.Window <= 0 {
		cfg.Window = 20
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 1
	}
	return &Estimator{
		cfg:     cfg,
		source:  source,
		samples: make(map[sampleKey]*window),
	}
}

// RecordCompletion feeds one observed service duration into the rolling
// window. Non-positive durations are ignored; they indicate clock skew, not
// service time.
func (e *Estimator) RecordCompletion(officeID domain.OfficeID, serviceName string, duration time.Duration) {
	if duration <= 0 {
		return
	}
	key := sampleKey{officeID: officeID, serviceName: serviceName}

	e.mu.Lock()
	defer e.mu.Unlock()
	w := e.samples[key]
	if w == nil {
		w = &window{durations: make([]time.Duration, e.cfg.Window)}
		e.samples[key] = w
	}
	w.durations[w.next] = duration
	w.next = (w.next + 1) % len(w.durations)
	if w.next == 0 {
		w.full = true
	}
}

// Estimate returns the expected wait for a ticket at the given 1-based
// position: position times the rolling average, clamped to the configured
// floor and ceiling. With fewer than MinSamples completions it falls back
// to the catalog's advertised duration, then to the configured constant.
func (e *Estimator) Estimate(position int, officeID domain.OfficeID, serviceName string) time.Duration {
	if position <= 0 {
		return 0
	}

	average, ok := e.average(officeID, serviceName)
	if !ok {
		average = e.fallback(officeID, serviceName)
	}

	estimate := time.Duration(position) * average
	if e.cfg.Floor > 0 && estimate < e.cfg.Floor {
		estimate = e.cfg.Floor
	}
	if e.cfg.Ceiling > 0 && estimate > e.cfg.Ceiling {
		estimate = e.cfg.Ceiling
	}
	return estimate
}

// SampleCount returns how many completions are currently in the window,
// for the reporting surface.
func (e *Estimator) SampleCount(officeID domain.OfficeID, serviceName string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	w := e.samples[sampleKey{officeID: officeID, serviceName: serviceName}]
	if w == nil {
		return 0
	}
	return w.count()
}

func (e *Estimator) average(officeID domain.OfficeID, serviceName string) (time.Duration, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	w := e.samples[sampleKey{officeID: officeID, serviceName: serviceName}]
	if w == nil || w.count() < e.cfg.MinSamples {
		return 0, false
	}
	var total time.Duration
	for _, d := range w.durations[:w.count()] {
		total += d
	}
	return total / time.Duration(w.count()), true
}

func (e *Estimator) fallback(officeID domain.OfficeID, serviceName string) time.Duration {
	if e.source != nil {
		if d := e.source.ServiceDuration(officeID, serviceName); d > 0 {
			return d
		}
	}
	return e.cfg.Fallback
}

func (w *window) count() int {
	if w.full {
		return len(w.durations)
	}
	return w.next
}
