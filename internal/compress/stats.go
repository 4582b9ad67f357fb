package compress

import "sync/atomic"

// Stats counts bytes on the wire against bytes after decompression.
// Both counters only grow.  Safe for concurrent use.
type Stats struct {
	compressed   atomic.Int64
	decompressed atomic.Int64
}

// Record adds one observation.
func (s *Stats) Record(compressed, decompressed int64) {
	if s == nil {
		return
	}
	if compressed > 0 {
		s.compressed.Add(compressed)
	}
	if decompressed > 0 {
		s.decompressed.Add(decompressed)
	}
}

// Compressed returns the total bytes received in compressed form.
func (s *Stats) Compressed() int64 {
	if s == nil {
		return 0
	}
	return s.compressed.Load()
}

// Decompressed returns the total bytes after decompression.
func (s *Stats) Decompressed() int64 {
	if s == nil {
		return 0
	}
	return s.decompressed.Load()
}

// Ratio is compressed / decompressed, or 0 before any data.
func (s *Stats) Ratio() float64 {
	d := s.Decompressed()
	if d == 0 {
		return 0
	}
	return float64(s.Compressed()) / float64(d)
}

// Savings is the share of bandwidth saved, in percent.
func (s *Stats) Savings() float64 {
	if s.Decompressed() == 0 {
		return 0
	}
	return (1 - s.Ratio()) * 100
}
