package nsaas

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds,
// covering from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks per-channel send/receive/control-plane statistics.
type Metrics struct {
	SendOps    atomic.Uint64
	RecvOps    atomic.Uint64
	ControlOps atomic.Uint64

	SendBytes atomic.Uint64
	RecvBytes atomic.Uint64

	SendErrors    atomic.Uint64
	RecvErrors    atomic.Uint64
	ControlErrors atomic.Uint64

	// PoolExhausted counts sends that failed with a ResourceExhausted
	// error: the buffer pool had too few free buffers, or app-tx was
	// full.
	PoolExhausted atomic.Uint64

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordSend records a Send/SendMsg call (SendMmsg does not report to
// the observer).
func (m *Metrics) RecordSend(bytes uint64, latencyNs uint64, success bool) {
	m.SendOps.Add(1)
	if success {
		m.SendBytes.Add(bytes)
	} else {
		m.SendErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordRecv records a recvmsg call.
func (m *Metrics) RecordRecv(bytes uint64, latencyNs uint64, success bool) {
	m.RecvOps.Add(1)
	if success {
		m.RecvBytes.Add(bytes)
	} else {
		m.RecvErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordControl records a control-ring request (connect, listen).
func (m *Metrics) RecordControl(latencyNs uint64, success bool) {
	m.ControlOps.Add(1)
	if !success {
		m.ControlErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordPoolExhausted records a send that failed with ResourceExhausted.
func (m *Metrics) RecordPoolExhausted() {
	m.PoolExhausted.Add(1)
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the channel as detached.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time, non-atomic copy of Metrics.
type MetricsSnapshot struct {
	SendOps    uint64
	RecvOps    uint64
	ControlOps uint64

	SendBytes uint64
	RecvBytes uint64

	SendErrors    uint64
	RecvErrors    uint64
	ControlErrors uint64
	PoolExhausted uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	SendThroughputBps float64
	RecvThroughputBps float64
	TotalOps          uint64
	TotalBytes        uint64
	ErrorRate         float64
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		SendOps:       m.SendOps.Load(),
		RecvOps:       m.RecvOps.Load(),
		ControlOps:    m.ControlOps.Load(),
		SendBytes:     m.SendBytes.Load(),
		RecvBytes:     m.RecvBytes.Load(),
		SendErrors:    m.SendErrors.Load(),
		RecvErrors:    m.RecvErrors.Load(),
		ControlErrors: m.ControlErrors.Load(),
		PoolExhausted: m.PoolExhausted.Load(),
	}

	snap.TotalOps = snap.SendOps + snap.RecvOps + snap.ControlOps
	snap.TotalBytes = snap.SendBytes + snap.RecvBytes

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.SendThroughputBps = float64(snap.SendBytes) / uptimeSeconds
		snap.RecvThroughputBps = float64(snap.RecvBytes) / uptimeSeconds
	}

	totalErrors := snap.SendErrors + snap.RecvErrors + snap.ControlErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes all counters; useful between test cases.
func (m *Metrics) Reset() {
	m.SendOps.Store(0)
	m.RecvOps.Store(0)
	m.ControlOps.Store(0)
	m.SendBytes.Store(0)
	m.RecvBytes.Store(0)
	m.SendErrors.Store(0)
	m.RecvErrors.Store(0)
	m.ControlErrors.Store(0)
	m.PoolExhausted.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection; implemented by
// *MetricsObserver below and by internal/interfaces.Observer-compatible
// types in tests.
type Observer interface {
	ObserveSend(bytes uint64, latencyNs uint64, success bool)
	ObserveRecv(bytes uint64, latencyNs uint64, success bool)
	ObserveControl(op string, latencyNs uint64, success bool)
	ObservePoolExhausted()
}

// NoOpObserver discards every observation.
type NoOpObserver struct{}

func (NoOpObserver) ObserveSend(uint64, uint64, bool)     {}
func (NoOpObserver) ObserveRecv(uint64, uint64, bool)     {}
func (NoOpObserver) ObserveControl(string, uint64, bool)  {}
func (NoOpObserver) ObservePoolExhausted()                {}

// MetricsObserver implements Observer by recording into a *Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveSend(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordSend(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveRecv(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordRecv(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveControl(_ string, latencyNs uint64, success bool) {
	o.metrics.RecordControl(latencyNs, success)
}

func (o *MetricsObserver) ObservePoolExhausted() {
	o.metrics.RecordPoolExhausted()
}

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
