package observability

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"google.golang.org/protobuf/types/known/structpb"
)

// Monitor aggregates per-route request metrics. It is safe for
// concurrent use by every connection goroutine.
type Monitor struct {
	enabled atomic.Bool
	routes  *xsync.MapOf[string, *RouteMetrics]
	global  struct {
		requests atomic.Uint64
		errors   atomic.Uint64
		duration atomic.Uint64
	}

	hotspots   []Hotspot
	hotspotsMu sync.RWMutex

	// thresholds for Detect
	SlowAverage    time.Duration
	ErrorRateLimit float64
}

// RouteMetrics stores counters for one route label
type RouteMetrics struct {
	Label          string
	Count          atomic.Uint64
	Errors         atomic.Uint64
	TotalDuration  atomic.Uint64
	MinDuration    atomic.Uint64
	MaxDuration    atomic.Uint64
	latencyBuckets [len(bucketBounds) + 1]atomic.Uint64
}

// Hotspot is a route whose latency or error rate crossed a threshold
type Hotspot struct {
	Kind       string // "latency" or "errors"
	Label      string
	Impact     float64
	DetectedAt time.Time
	Details    string
}

// RouteSnapshot is a point-in-time copy of RouteMetrics
type RouteSnapshot struct {
	Label   string
	Count   uint64
	Errors  uint64
	Average time.Duration
	Min     time.Duration
	Max     time.Duration
	Buckets []uint64
}

var bucketBounds = [...]time.Duration{
	time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	5 * time.Second,
	10 * time.Second,
}

// NewMonitor creates an enabled monitor
func NewMonitor() *Monitor {
	m := &Monitor{
		routes:         xsync.NewMapOf[string, *RouteMetrics](xsync.WithPresize(64)),
		SlowAverage:    100 * time.Millisecond,
		ErrorRateLimit: 0.05,
	}
	m.enabled.Store(true)
	return m
}

func (m *Monitor) Enable()  { m.enabled.Store(true) }
func (m *Monitor) Disable() { m.enabled.Store(false) }

// RecordRequest records one served request. Statuses >= 500 count as errors.
func (m *Monitor) RecordRequest(label string, d time.Duration, status int) {
	if !m.enabled.Load() {
		return
	}

	rm, _ := m.routes.LoadOrCompute(label, func() *RouteMetrics {
		return &RouteMetrics{Label: label}
	})

	ns := uint64(max(d, 0))
	rm.Count.Add(1)
	if status >= 500 {
		rm.Errors.Add(1)
		m.global.errors.Add(1)
	}
	rm.TotalDuration.Add(ns)
	updateMinMax(rm, ns)
	rm.latencyBuckets[bucketIndex(d)].Add(1)

	m.global.requests.Add(1)
	m.global.duration.Add(ns)
}

func updateMinMax(rm *RouteMetrics, d uint64) {
	for {
		cur := rm.MinDuration.Load()
		if (cur != 0 && d >= cur) || rm.MinDuration.CompareAndSwap(cur, d) {
			break
		}
	}
	for {
		cur := rm.MaxDuration.Load()
		if d <= cur || rm.MaxDuration.CompareAndSwap(cur, d) {
			break
		}
	}
}

func bucketIndex(d time.Duration) int {
	for i, bound := range bucketBounds {
		if d < bound {
			return i
		}
	}
	return len(bucketBounds)
}

// Totals returns global request and error counts and the mean latency
func (m *Monitor) Totals() (requests, errors uint64, avg time.Duration) {
	requests = m.global.requests.Load()
	errors = m.global.errors.Load()
	if requests > 0 {
		avg = time.Duration(m.global.duration.Load() / requests)
	}
	return
}

// Snapshot copies all route metrics, sorted by label
func (m *Monitor) Snapshot() []RouteSnapshot {
	out := make([]RouteSnapshot, 0, m.routes.Size())
	m.routes.Range(func(label string, rm *RouteMetrics) bool {
		s := RouteSnapshot{
			Label:   label,
			Count:   rm.Count.Load(),
			Errors:  rm.Errors.Load(),
			Min:     time.Duration(rm.MinDuration.Load()),
			Max:     time.Duration(rm.MaxDuration.Load()),
			Buckets: make([]uint64, len(rm.latencyBuckets)),
		}
		if s.Count > 0 {
			s.Average = time.Duration(rm.TotalDuration.Load() / s.Count)
		}
		for i := range rm.latencyBuckets {
			s.Buckets[i] = rm.latencyBuckets[i].Load()
		}
		out = append(out, s)
		return true
	})
	slices.SortFunc(out, func(a, b RouteSnapshot) int {
		if a.Label < b.Label {
			return -1
		}
		if a.Label > b.Label {
			return 1
		}
		return 0
	})
	return out
}

// Detect scans routes for slow averages and high error rates
func (m *Monitor) Detect() []Hotspot {
	var hotspots []Hotspot
	now := time.Now()

	for _, s := range m.Snapshot() {
		if s.Count == 0 {
			continue
		}
		if s.Average > m.SlowAverage {
			hotspots = append(hotspots, Hotspot{
				Kind:       "latency",
				Label:      s.Label,
				Impact:     float64(s.Average) / float64(m.SlowAverage),
				DetectedAt: now,
				Details:    fmt.Sprintf("high latency (%v avg)", s.Average),
			})
		}
		rate := float64(s.Errors) / float64(s.Count)
		if s.Errors > 0 && rate > m.ErrorRateLimit {
			hotspots = append(hotspots, Hotspot{
				Kind:       "errors",
				Label:      s.Label,
				Impact:     rate * 100,
				DetectedAt: now,
				Details:    fmt.Sprintf("%.1f%% error rate", rate*100),
			})
		}
	}
	return hotspots
}

// Run refreshes Hotspots every interval until ctx is done
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.enabled.Load() {
				continue
			}
			hs := m.Detect()
			m.hotspotsMu.Lock()
			m.hotspots = hs
			m.hotspotsMu.Unlock()
		}
	}
}

// Hotspots returns the result of the last periodic Detect
func (m *Monitor) Hotspots() []Hotspot {
	m.hotspotsMu.RLock()
	defer m.hotspotsMu.RUnlock()
	return slices.Clone(m.hotspots)
}

// Struct exports the monitor state as a protobuf Struct
func (m *Monitor) Struct() (*structpb.Struct, error) {
	requests, errors, avg := m.Totals()

	routes := make([]any, 0)
	for _, s := range m.Snapshot() {
		buckets := make([]any, len(s.Buckets))
		for i, b := range s.Buckets {
			buckets[i] = b
		}
		routes = append(routes, map[string]any{
			"route":     s.Label,
			"count":     s.Count,
			"errors":    s.Errors,
			"avg_us":    s.Average.Microseconds(),
			"min_us":    s.Min.Microseconds(),
			"max_us":    s.Max.Microseconds(),
			"latencies": buckets,
		})
	}

	return structpb.NewStruct(map[string]any{
		"requests": requests,
		"errors":   errors,
		"avg_us":   avg.Microseconds(),
		"routes":   routes,
	})
}
