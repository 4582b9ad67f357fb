package metrics

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCollector_Sessions(t *testing.T) {
	c := New()

	c.SessionOpened()
	c.SessionOpened()
	if c.ActiveSessions() != 2 {
		t.Errorf("active = %d, want 2", c.ActiveSessions())
	}
	if c.TotalSessions() != 2 {
		t.Errorf("total = %d, want 2", c.TotalSessions())
	}

	c.SessionClosed()
	if c.ActiveSessions() != 1 {
		t.Errorf("active = %d, want 1", c.ActiveSessions())
	}
	if c.TotalSessions() != 2 {
		t.Errorf("total should remain 2, got %d", c.TotalSessions())
	}
}

func TestCollector_Bytes(t *testing.T) {
	c := New()

	c.BytesReceived(1024)
	c.BytesSent(512)
	c.BytesReceived(100)
	c.Compression(300, 1200)

	if c.TotalBytesIn() != 1124 {
		t.Errorf("bytes in = %d, want 1124", c.TotalBytesIn())
	}
	if c.TotalBytesOut() != 512 {
		t.Errorf("bytes out = %d, want 512", c.TotalBytesOut())
	}
	snap := c.Snapshot()
	if snap.CompressedBytes != 300 || snap.DecompressedBytes != 1200 {
		t.Errorf("compression = %d/%d", snap.CompressedBytes, snap.DecompressedBytes)
	}
}

func TestCollector_Pool(t *testing.T) {
	c := New()

	c.LeaseAcquired(0)
	c.LeaseAcquired(1500 * time.Millisecond)
	c.Eviction()
	c.Retry()
	c.Retry()

	if c.Leases() != 2 {
		t.Errorf("leases = %d, want 2", c.Leases())
	}
	if c.Evictions() != 1 {
		t.Errorf("evictions = %d, want 1", c.Evictions())
	}
	if c.Retries() != 2 {
		t.Errorf("retries = %d, want 2", c.Retries())
	}
	if got := c.Snapshot().LeaseWaitSeconds; got != 1.5 {
		t.Errorf("lease wait = %v, want 1.5", got)
	}
}

func TestCollector_Errors(t *testing.T) {
	c := New()

	c.RecordError("first error")
	c.RecordError("second error")

	if c.ErrorCount() != 2 {
		t.Errorf("errors = %d, want 2", c.ErrorCount())
	}
	if c.Snapshot().LastErrorMessage != "second error" {
		t.Errorf("last error = %q", c.Snapshot().LastErrorMessage)
	}
}

func TestCollector_HealthCheck(t *testing.T) {
	c := New()
	c.RecordHealthCheck(true)
	c.RecordHealthCheck(false)

	snap := c.Snapshot()
	if snap.LastHealthCheck == "" {
		t.Error("expected non-empty health check timestamp")
	}
	if snap.HealthChecks != 2 || snap.HealthFailures != 1 {
		t.Errorf("checks = %d, failures = %d", snap.HealthChecks, snap.HealthFailures)
	}
}

func TestCollector_JSON(t *testing.T) {
	c := New()
	c.SessionOpened()
	c.BytesSent(42)
	c.Segment(true)
	c.Segment(false)
	c.CacheHit()

	raw := c.JSON()
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		t.Fatalf("JSON parse error: %v", err)
	}
	if snap.SessionsActive != 1 {
		t.Errorf("JSON active = %d", snap.SessionsActive)
	}
	if snap.BytesOut != 42 {
		t.Errorf("JSON bytes out = %d", snap.BytesOut)
	}
	if snap.SegmentsOK != 1 || snap.SegmentsFailed != 1 || snap.CacheHits != 1 {
		t.Errorf("fetch counters = %+v", snap)
	}
}

func TestNilCollector_NoOps(t *testing.T) {
	var c *Collector

	// None of these should panic.
	c.SessionOpened()
	c.SessionClosed()
	c.Command()
	c.BytesReceived(100)
	c.BytesSent(100)
	c.Compression(1, 2)
	c.LeaseAcquired(time.Second)
	c.Eviction()
	c.Retry()
	c.Segment(true)
	c.CacheHit()
	c.RecordError("test")
	c.RecordHealthCheck(true)

	if c.ActiveSessions() != 0 || c.TotalBytesIn() != 0 || c.ErrorCount() != 0 {
		t.Error("nil collector should return 0")
	}
	if c.Snapshot().SessionsActive != 0 {
		t.Error("nil snapshot should be zero")
	}
	if c.JSON() == "" {
		t.Error("nil JSON should return valid JSON")
	}
}

// ── Prometheus ───────────────────────────────────────────────────────

func TestExporter_Collect(t *testing.T) {
	c := New()
	c.SessionOpened()
	c.Command()
	c.Command()
	c.BytesReceived(2048)

	e := NewExporter(c, "", func() (int, int, int) { return 3, 2, 10 })

	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(e); err != nil {
		t.Fatalf("register: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				values[mf.GetName()] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[mf.GetName()] = m.GetGauge().GetValue()
			}
		}
	}

	want := map[string]float64{
		"gonntp_commands_total":       2,
		"gonntp_received_bytes_total": 2048,
		"gonntp_sessions_active":      1,
		"gonntp_pool_idle":            3,
		"gonntp_pool_leased":          2,
		"gonntp_pool_max":             10,
	}
	for name, v := range want {
		if values[name] != v {
			t.Errorf("%s = %v, want %v", name, values[name], v)
		}
	}
}

func TestExporter_WithoutPool(t *testing.T) {
	e := NewExporter(New(), "test", nil)
	ch := make(chan prometheus.Metric, 64)
	e.Collect(ch)
	close(ch)
	// 16 counters plus the active-sessions gauge.
	if n := len(ch); n != 17 {
		t.Errorf("collected %d metrics, want 17", n)
	}
}
