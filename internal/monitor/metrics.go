package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks bridge and pipeline activity.
type Metrics struct {
	// Latency histograms
	DispatchLatency  *LatencyHistogram
	BroadcastLatency *LatencyHistogram
	PipelineLatency  *LatencyHistogram
	APILatency       *LatencyHistogram

	// Counters
	framesIn      uint64
	framesOut     uint64
	framesDropped uint64
	signalsSent   uint64
	signalsQueued uint64
	tradeResults  uint64
	errorsCount   uint64
	apiRequests   uint64
	apiErrors     uint64

	// Gauges
	connectedAgents int64
	queueDepth      int64
}

// LatencyHistogram tracks latency samples with a sliding window and lazily
// recomputed stats.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewMetrics creates a metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		DispatchLatency:  NewLatencyHistogram(1000),
		BroadcastLatency: NewLatencyHistogram(1000),
		PipelineLatency:  NewLatencyHistogram(1000),
		APILatency:       NewLatencyHistogram(1000),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99. Recomputes only when samples
// changed since the last call.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	min, max := sorted[0], sorted[n-1]
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   min,
		Max:   max,
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// IncFramesIn counts a decoded inbound frame.
func (m *Metrics) IncFramesIn() {
	atomic.AddUint64(&m.framesIn, 1)
}

// IncFramesOut counts a successfully written outbound frame.
func (m *Metrics) IncFramesOut() {
	atomic.AddUint64(&m.framesOut, 1)
}

// IncFramesDropped counts an inbound frame discarded as malformed.
func (m *Metrics) IncFramesDropped() {
	atomic.AddUint64(&m.framesDropped, 1)
}

// IncSignalsSent counts a signal delivered to at least one agent.
func (m *Metrics) IncSignalsSent() {
	atomic.AddUint64(&m.signalsSent, 1)
}

// IncSignalsQueued counts a signal parked on the outbound queue.
func (m *Metrics) IncSignalsQueued() {
	atomic.AddUint64(&m.signalsQueued, 1)
}

// IncTradeResults counts an inbound trade result.
func (m *Metrics) IncTradeResults() {
	atomic.AddUint64(&m.tradeResults, 1)
}

// IncErrors increments the error counter.
func (m *Metrics) IncErrors() {
	atomic.AddUint64(&m.errorsCount, 1)
}

// IncAPIRequests counts a handled admin API request.
func (m *Metrics) IncAPIRequests() {
	atomic.AddUint64(&m.apiRequests, 1)
}

// IncAPIErrors counts an admin API request that ended in a 4xx or 5xx.
func (m *Metrics) IncAPIErrors() {
	atomic.AddUint64(&m.apiErrors, 1)
}

// SetConnectedAgents updates the connected-agent gauge.
func (m *Metrics) SetConnectedAgents(n int) {
	atomic.StoreInt64(&m.connectedAgents, int64(n))
}

// SetQueueDepth updates the outbound queue gauge.
func (m *Metrics) SetQueueDepth(n int) {
	atomic.StoreInt64(&m.queueDepth, int64(n))
}

// MetricsSnapshot is a point-in-time view for the admin surface.
type MetricsSnapshot struct {
	DispatchLatency  LatencyStats `json:"dispatch_latency"`
	BroadcastLatency LatencyStats `json:"broadcast_latency"`
	PipelineLatency  LatencyStats `json:"pipeline_latency"`
	APILatency       LatencyStats `json:"api_latency"`
	FramesIn         uint64       `json:"frames_in"`
	FramesOut        uint64       `json:"frames_out"`
	FramesDropped    uint64       `json:"frames_dropped"`
	SignalsSent      uint64       `json:"signals_sent"`
	SignalsQueued    uint64       `json:"signals_queued"`
	TradeResults     uint64       `json:"trade_results"`
	ErrorsCount      uint64       `json:"errors_count"`
	APIRequests      uint64       `json:"api_requests"`
	APIErrors        uint64       `json:"api_errors"`
	ConnectedAgents  int64        `json:"connected_agents"`
	QueueDepth       int64        `json:"queue_depth"`
	GoroutineCount   int          `json:"goroutine_count"`
	HeapAlloc        uint64       `json:"heap_alloc_bytes"`
	HeapSys          uint64       `json:"heap_sys_bytes"`
	Timestamp        time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		DispatchLatency:  m.DispatchLatency.Stats(),
		BroadcastLatency: m.BroadcastLatency.Stats(),
		PipelineLatency:  m.PipelineLatency.Stats(),
		APILatency:       m.APILatency.Stats(),
		FramesIn:         atomic.LoadUint64(&m.framesIn),
		FramesOut:        atomic.LoadUint64(&m.framesOut),
		FramesDropped:    atomic.LoadUint64(&m.framesDropped),
		SignalsSent:      atomic.LoadUint64(&m.signalsSent),
		SignalsQueued:    atomic.LoadUint64(&m.signalsQueued),
		TradeResults:     atomic.LoadUint64(&m.tradeResults),
		ErrorsCount:      atomic.LoadUint64(&m.errorsCount),
		APIRequests:      atomic.LoadUint64(&m.apiRequests),
		APIErrors:        atomic.LoadUint64(&m.apiErrors),
		ConnectedAgents:  atomic.LoadInt64(&m.connectedAgents),
		QueueDepth:       atomic.LoadInt64(&m.queueDepth),
		GoroutineCount:   runtime.NumGoroutine(),
		HeapAlloc:        memStats.HeapAlloc,
		HeapSys:          memStats.HeapSys,
		Timestamp:        time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
