// ABOUTME: Koodous API call metrics for observability
// ABOUTME: Counters, latency percentiles and per-operation statistics

package observability

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// maxLatencySamples bounds the latency window kept for percentiles.
const maxLatencySamples = 10000

// MetricsSnapshot is a point-in-time view of the counters.
type MetricsSnapshot struct {
	CallsTotal      int64 `json:"calls_total"`
	CallsSucceeded  int64 `json:"calls_succeeded"`
	ClientErrors    int64 `json:"client_errors"`
	ServerErrors    int64 `json:"server_errors"`
	TransportErrors int64 `json:"transport_errors"`
	RateLimited     int64 `json:"rate_limited"`

	Timestamp time.Time `json:"timestamp"`
}

// String returns a human-readable representation.
func (s *MetricsSnapshot) String() string {
	return fmt.Sprintf(
		"calls=%d (ok=%d 4xx=%d 5xx=%d transport=%d throttled=%d)",
		s.CallsTotal, s.CallsSucceeded, s.ClientErrors,
		s.ServerErrors, s.TransportErrors, s.RateLimited,
	)
}

// LatencyPercentiles contains latency distribution.
type LatencyPercentiles struct {
	P50 time.Duration `json:"p50"`
	P90 time.Duration `json:"p90"`
	P99 time.Duration `json:"p99"`
	Max time.Duration `json:"max"`
}

// OperationStat summarizes the calls of one API operation.
type OperationStat struct {
	Calls          int64         `json:"calls"`
	Failures       int64         `json:"failures"`
	LastStatusCode int           `json:"last_status_code"`
	AverageLatency time.Duration `json:"average_latency"`
}

type operationStats struct {
	calls      int64
	failures   int64
	lastStatus int
	total      time.Duration
}

// APIMetrics collects one observation per Koodous HTTP round trip.
// It satisfies koodous.Recorder.
type APIMetrics struct {
	callsTotal      atomic.Int64
	callsSucceeded  atomic.Int64
	clientErrors    atomic.Int64
	serverErrors    atomic.Int64
	transportErrors atomic.Int64
	rateLimited     atomic.Int64

	mu         sync.Mutex
	latencies  []time.Duration
	operations map[string]*operationStats
}

// NewAPIMetrics creates an empty metrics collector.
func NewAPIMetrics() *APIMetrics {
	return &APIMetrics{
		latencies:  make([]time.Duration, 0, 256),
		operations: make(map[string]*operationStats),
	}
}

// RecordCall records one round trip. statusCode is 0 when the request never
// produced a response.
func (m *APIMetrics) RecordCall(operation string, statusCode int, duration time.Duration, err error) {
	m.callsTotal.Add(1)

	failed := false
	switch {
	case statusCode == 0:
		m.transportErrors.Add(1)
		failed = true
	case statusCode == 429:
		m.rateLimited.Add(1)
		m.clientErrors.Add(1)
		failed = true
	case statusCode >= 500:
		m.serverErrors.Add(1)
		failed = true
	case statusCode >= 400:
		m.clientErrors.Add(1)
		failed = true
	case err != nil:
		failed = true
	default:
		m.callsSucceeded.Add(1)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.latencies = append(m.latencies, duration)
	if len(m.latencies) > maxLatencySamples {
		m.latencies = m.latencies[len(m.latencies)-maxLatencySamples/2:]
	}

	stats, ok := m.operations[operation]
	if !ok {
		stats = &operationStats{}
		m.operations[operation] = stats
	}
	stats.calls++
	if failed {
		stats.failures++
	}
	stats.lastStatus = statusCode
	stats.total += duration
}

// Snapshot returns a point-in-time snapshot of the counters.
func (m *APIMetrics) Snapshot() *MetricsSnapshot {
	return &MetricsSnapshot{
		CallsTotal:      m.callsTotal.Load(),
		CallsSucceeded:  m.callsSucceeded.Load(),
		ClientErrors:    m.clientErrors.Load(),
		ServerErrors:    m.serverErrors.Load(),
		TransportErrors: m.transportErrors.Load(),
		RateLimited:     m.rateLimited.Load(),
		Timestamp:       time.Now(),
	}
}

// LatencyPercentiles returns latency distribution percentiles.
func (m *APIMetrics) LatencyPercentiles() LatencyPercentiles {
	m.mu.Lock()
	sorted := slices.Clone(m.latencies)
	m.mu.Unlock()

	if len(sorted) == 0 {
		return LatencyPercentiles{}
	}
	slices.Sort(sorted)

	return LatencyPercentiles{
		P50: percentile(sorted, 50),
		P90: percentile(sorted, 90),
		P99: percentile(sorted, 99),
		Max: sorted[len(sorted)-1],
	}
}

// percentile returns the pth percentile of a sorted slice.
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := (p * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Operations returns per-operation statistics.
func (m *APIMetrics) Operations() map[string]OperationStat {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make(map[string]OperationStat, len(m.operations))
	for name, stats := range m.operations {
		stat := OperationStat{
			Calls:          stats.calls,
			Failures:       stats.failures,
			LastStatusCode: stats.lastStatus,
		}
		if stats.calls > 0 {
			stat.AverageLatency = stats.total / time.Duration(stats.calls)
		}
		result[name] = stat
	}
	return result
}

// String returns a one-line summary.
func (m *APIMetrics) String() string {
	p := m.LatencyPercentiles()

	var sb strings.Builder
	sb.WriteString(m.Snapshot().String())
	fmt.Fprintf(&sb, " p50=%v p99=%v", p.P50, p.P99)
	return sb.String()
}
