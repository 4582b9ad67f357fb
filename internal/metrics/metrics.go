// Package metrics provides lightweight, lock-free counters and gauges
// for tracking the runtime statistics of NNTP sessions and the pool
// that owns them.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for one pool of sessions.
// A nil Collector is safe to use: all methods become no-ops.
type Collector struct {
	sessionsActive atomic.Int64
	sessionsTotal  atomic.Int64
	bytesIn        atomic.Int64
	bytesOut       atomic.Int64
	compressed     atomic.Int64
	decompressed   atomic.Int64
	commands       atomic.Int64
	errorsTotal    atomic.Int64
	healthChecks   atomic.Int64
	healthFailures atomic.Int64
	evictions      atomic.Int64
	leases         atomic.Int64
	leaseWaitNanos atomic.Int64
	retries        atomic.Int64
	segmentsOK     atomic.Int64
	segmentsFailed atomic.Int64
	cacheHits      atomic.Int64

	mu              sync.RWMutex
	startTime       time.Time
	lastHealthCheck time.Time
	lastError       time.Time
	lastErrorMsg    string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Session metrics ──────────────────────────────────────────────────

// SessionOpened increments both the active and total counters.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(1)
	c.sessionsTotal.Add(1)
}

// SessionClosed decrements the active session counter.
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(-1)
}

// ActiveSessions returns the current number of open sessions.
func (c *Collector) ActiveSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsActive.Load()
}

// TotalSessions returns the lifetime session count.
func (c *Collector) TotalSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsTotal.Load()
}

// Command counts one command round trip.
func (c *Collector) Command() {
	if c == nil {
		return
	}
	c.commands.Add(1)
}

// ── I/O metrics ──────────────────────────────────────────────────────

// BytesReceived records n bytes read from the network.
func (c *Collector) BytesReceived(n int64) {
	if c == nil {
		return
	}
	c.bytesIn.Add(n)
}

// BytesSent records n bytes written to the network.
func (c *Collector) BytesSent(n int64) {
	if c == nil {
		return
	}
	c.bytesOut.Add(n)
}

// Compression records bytes before and after decompression.
func (c *Collector) Compression(compressed, decompressed int64) {
	if c == nil {
		return
	}
	c.compressed.Add(compressed)
	c.decompressed.Add(decompressed)
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// ── Pool metrics ─────────────────────────────────────────────────────

// LeaseAcquired records a successful lease and how long it waited.
func (c *Collector) LeaseAcquired(wait time.Duration) {
	if c == nil {
		return
	}
	c.leases.Add(1)
	c.leaseWaitNanos.Add(int64(wait))
}

// Leases returns the number of leases handed out.
func (c *Collector) Leases() int64 {
	if c == nil {
		return 0
	}
	return c.leases.Load()
}

// Eviction records an idle session discarded by the pool.
func (c *Collector) Eviction() {
	if c == nil {
		return
	}
	c.evictions.Add(1)
}

// Evictions returns the eviction count.
func (c *Collector) Evictions() int64 {
	if c == nil {
		return 0
	}
	return c.evictions.Load()
}

// Retry records one retried attempt.
func (c *Collector) Retry() {
	if c == nil {
		return
	}
	c.retries.Add(1)
}

// Retries returns the retry count.
func (c *Collector) Retries() int64 {
	if c == nil {
		return 0
	}
	return c.retries.Load()
}

// ── Fetch metrics ────────────────────────────────────────────────────

// Segment records the outcome of one segment download.
func (c *Collector) Segment(ok bool) {
	if c == nil {
		return
	}
	if ok {
		c.segmentsOK.Add(1)
	} else {
		c.segmentsFailed.Add(1)
	}
}

// CacheHit records a segment served from memory.
func (c *Collector) CacheHit() {
	if c == nil {
		return
	}
	c.cacheHits.Add(1)
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Health ───────────────────────────────────────────────────────────

// RecordHealthCheck counts a liveness check and updates its timestamp.
func (c *Collector) RecordHealthCheck(ok bool) {
	if c == nil {
		return
	}
	c.healthChecks.Add(1)
	if !ok {
		c.healthFailures.Add(1)
	}
	c.mu.Lock()
	c.lastHealthCheck = time.Now()
	c.mu.Unlock()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime            string  `json:"uptime"`
	SessionsActive    int64   `json:"sessions_active"`
	SessionsTotal     int64   `json:"sessions_total"`
	Commands          int64   `json:"commands"`
	BytesIn           int64   `json:"bytes_in"`
	BytesOut          int64   `json:"bytes_out"`
	CompressedBytes   int64   `json:"compressed_bytes"`
	DecompressedBytes int64   `json:"decompressed_bytes"`
	Leases            int64   `json:"leases"`
	LeaseWaitSeconds  float64 `json:"lease_wait_seconds"`
	Evictions         int64   `json:"evictions"`
	Retries           int64   `json:"retries"`
	HealthChecks      int64   `json:"health_checks"`
	HealthFailures    int64   `json:"health_failures"`
	SegmentsOK        int64   `json:"segments_ok"`
	SegmentsFailed    int64   `json:"segments_failed"`
	CacheHits         int64   `json:"cache_hits"`
	ErrorsTotal       int64   `json:"errors_total"`
	LastHealthCheck   string  `json:"last_health_check,omitempty"`
	LastError         string  `json:"last_error,omitempty"`
	LastErrorMessage  string  `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:            time.Since(c.startTime).Truncate(time.Second).String(),
		SessionsActive:    c.sessionsActive.Load(),
		SessionsTotal:     c.sessionsTotal.Load(),
		Commands:          c.commands.Load(),
		BytesIn:           c.bytesIn.Load(),
		BytesOut:          c.bytesOut.Load(),
		CompressedBytes:   c.compressed.Load(),
		DecompressedBytes: c.decompressed.Load(),
		Leases:            c.leases.Load(),
		LeaseWaitSeconds:  time.Duration(c.leaseWaitNanos.Load()).Seconds(),
		Evictions:         c.evictions.Load(),
		Retries:           c.retries.Load(),
		HealthChecks:      c.healthChecks.Load(),
		HealthFailures:    c.healthFailures.Load(),
		SegmentsOK:        c.segmentsOK.Load(),
		SegmentsFailed:    c.segmentsFailed.Load(),
		CacheHits:         c.cacheHits.Load(),
		ErrorsTotal:       c.errorsTotal.Load(),
	}
	if !c.lastHealthCheck.IsZero() {
		s.LastHealthCheck = c.lastHealthCheck.Format(time.RFC3339)
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
