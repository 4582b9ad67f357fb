package par2

import (
	"crypto/md5"
	"hash/crc32"

	ncerr "gonntp/internal/errors"
)

// Status is the outcome of verifying one file.
type Status int

const (
	Complete Status = iota
	Damaged
	Missing
)

func (s Status) String() string {
	switch s {
	case Complete:
		return "complete"
	case Damaged:
		return "damaged"
	case Missing:
		return "missing"
	default:
		return "unknown"
	}
}

// Verification reports how a file on disk matches its description.
type Verification struct {
	FileID  ID
	Name    string
	Status  Status
	Length  uint64 // expected
	Actual  int    // bytes present
	HashOK  bool
	Bad     []int // slice indices whose checksum failed
	Checked bool  // slice checksums were available
}

// Verify checks data against the description of file id.  Empty data
// is reported as Missing.
func (f *File) Verify(id ID, data []byte) (*Verification, error) {
	d, ok := f.Files[id]
	if !ok {
		return nil, ncerr.Invalid(format, "no description for file %s", id)
	}
	v := &Verification{FileID: id, Name: d.Name, Length: d.Length, Actual: len(data)}
	if len(data) == 0 && d.Length > 0 {
		v.Status = Missing
		return v, nil
	}

	v.HashOK = uint64(len(data)) == d.Length && md5.Sum(data) == d.Hash
	if c, ok := f.Checksums[id]; ok {
		size, err := f.SliceSize()
		if err != nil {
			return nil, err
		}
		v.Checked = true
		v.Bad = badSlices(data, c.Slices, size)
	}

	switch {
	case v.HashOK && len(v.Bad) == 0:
		v.Status = Complete
	default:
		v.Status = Damaged
	}
	return v, nil
}

// VerifyAll verifies every described file; files absent from data are
// Missing.  Results follow the main packet order.
func (f *File) VerifyAll(data map[ID][]byte) ([]*Verification, error) {
	ids := make([]ID, 0, len(f.Files))
	if f.Main != nil {
		ids = append(ids, f.Main.FileIDs...)
	} else {
		for id := range f.Files {
			ids = append(ids, id)
		}
	}
	out := make([]*Verification, 0, len(ids))
	for _, id := range ids {
		v, err := f.Verify(id, data[id])
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// CanRepair reports whether enough recovery slices are loaded to
// rebuild the bad and missing slices of the given results.
func (f *File) CanRepair(results []*Verification) bool {
	need := 0
	for _, v := range results {
		switch v.Status {
		case Missing:
			n, err := f.SliceCount(v.Length)
			if err != nil {
				return false
			}
			need += int(n)
		case Damaged:
			if len(v.Bad) > 0 {
				need += len(v.Bad)
			} else if n, err := f.SliceCount(v.Length); err == nil {
				// no slice checksums, assume the worst
				need += int(n)
			}
		}
	}
	return len(f.Recovery) >= need
}

// badSlices returns the indices of slices whose CRC32 does not match.
// Slices past the end of data count as bad.  A short final slice is
// checked as if zero-padded to the slice size.
func badSlices(data []byte, sums []SliceChecksum, size uint64) []int {
	var bad []int
	for i, want := range sums {
		start := uint64(i) * size
		if start >= uint64(len(data)) {
			bad = append(bad, i)
			continue
		}
		end := min(start+size, uint64(len(data)))
		crc := crc32.ChecksumIEEE(data[start:end])
		crc = padCRC(crc, size-(end-start))
		if crc != want.CRC32 {
			bad = append(bad, i)
		}
	}
	return bad
}

var zeros [32 << 10]byte

func padCRC(crc uint32, n uint64) uint32 {
	for n > 0 {
		k := min(n, uint64(len(zeros)))
		crc = crc32.Update(crc, crc32.IEEETable, zeros[:k])
		n -= k
	}
	return crc
}
