// Package monitoring exposes allocator activity as prometheus metrics so
// an embedded userland's heap can be watched from outside the console.
package monitoring

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/osprey-os/userland/internal/heap"
)

// HeapSource provides point-in-time allocator statistics.
type HeapSource interface {
	Stats() heap.Stats
}

// SourceHolder is a HeapSource that can be bound after construction: the
// session heap only exists once the shell program is running.
type SourceHolder struct {
	v atomic.Pointer[HeapSource]
}

// Set binds the live source.
func (s *SourceHolder) Set(src HeapSource) {
	s.v.Store(&src)
}

// Stats returns the bound source's stats, or zeros before binding.
func (s *SourceHolder) Stats() heap.Stats {
	if p := s.v.Load(); p != nil {
		return (*p).Stats()
	}
	return heap.Stats{}
}

// HeapCollector is a prometheus.Collector over a HeapSource.
type HeapCollector struct {
	src HeapSource

	allocations *prometheus.Desc
	releases    *prometheus.Desc
	grows       *prometheus.Desc
	liveBytes   *prometheus.Desc
	freeBytes   *prometheus.Desc
	freeBlocks  *prometheus.Desc
	breakAddr   *prometheus.Desc
}

// NewHeapCollector creates a collector reading src on every scrape.
func NewHeapCollector(src HeapSource) *HeapCollector {
	return &HeapCollector{
		src: src,
		allocations: prometheus.NewDesc("userland_heap_allocations_total",
			"Payloads handed out by the allocator", nil, nil),
		releases: prometheus.NewDesc("userland_heap_releases_total",
			"Payloads returned to the free list", nil, nil),
		grows: prometheus.NewDesc("userland_heap_grows_total",
			"Break growths performed for allocations", nil, nil),
		liveBytes: prometheus.NewDesc("userland_heap_live_bytes",
			"Bytes in live payloads", nil, nil),
		freeBytes: prometheus.NewDesc("userland_heap_free_bytes",
			"Bytes parked on the free list, headers included", nil, nil),
		freeBlocks: prometheus.NewDesc("userland_heap_free_blocks",
			"Blocks on the free list", nil, nil),
		breakAddr: prometheus.NewDesc("userland_heap_break_address",
			"Current program break", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *HeapCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.allocations
	ch <- c.releases
	ch <- c.grows
	ch <- c.liveBytes
	ch <- c.freeBytes
	ch <- c.freeBlocks
	ch <- c.breakAddr
}

// Collect implements prometheus.Collector.
func (c *HeapCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()
	ch <- prometheus.MustNewConstMetric(c.allocations, prometheus.CounterValue, float64(s.Allocations))
	ch <- prometheus.MustNewConstMetric(c.releases, prometheus.CounterValue, float64(s.Releases))
	ch <- prometheus.MustNewConstMetric(c.grows, prometheus.CounterValue, float64(s.Grows))
	ch <- prometheus.MustNewConstMetric(c.liveBytes, prometheus.GaugeValue, float64(s.LiveBytes))
	ch <- prometheus.MustNewConstMetric(c.freeBytes, prometheus.GaugeValue, float64(s.FreeBytes))
	ch <- prometheus.MustNewConstMetric(c.freeBlocks, prometheus.GaugeValue, float64(s.FreeBlocks))
	ch <- prometheus.MustNewConstMetric(c.breakAddr, prometheus.GaugeValue, float64(s.Break))
}

// Handler builds a /metrics handler over the given sources.
func Handler(collectors ...prometheus.Collector) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}

// Serve exposes /metrics on addr until the server fails.
func Serve(addr string, collectors ...prometheus.Collector) error {
	handler, err := Handler(collectors...)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	return http.ListenAndServe(addr, mux)
}
