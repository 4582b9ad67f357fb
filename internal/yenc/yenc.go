// Package yenc decodes yEnc-encoded article bodies.
//
// A body is a "=ybegin" header line, an optional "=ypart" line for
// multi-part posts, the encoded data lines and a "=yend" trailer.  Each
// data byte is the original plus 42 modulo 256; "=" escapes a critical
// character, which is then offset by a further 64.
package yenc

import (
	"bytes"
	"hash/crc32"
	"strconv"
	"strings"

	ncerr "gonntp/internal/errors"
)

const format = "yenc"

// Status is the outcome of a CRC check.
type Status int

const (
	// Unknown means the trailer carried no checksum.
	Unknown Status = iota
	Valid
	Corrupt
)

func (s Status) String() string {
	switch s {
	case Valid:
		return "valid"
	case Corrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

// Header is the "=ybegin" line.
type Header struct {
	Line  int
	Size  int64
	Name  string
	Part  int // 0 for single-part posts
	Total int
}

// Range is the "=ypart" line: 1-based inclusive byte offsets into the
// original file.
type Range struct {
	Begin int64
	End   int64
}

// Trailer is the "=yend" line.
type Trailer struct {
	Size      int64
	Part      int
	CRC32     uint32
	HasCRC32  bool
	PartCRC32 uint32
	HasPCRC32 bool
}

// Decoded is one decoded body.
type Decoded struct {
	Header  Header
	Part    *Range
	Trailer Trailer
	Data    []byte
	CRC     uint32 // computed over Data
}

// IsMultipart reports whether the post is one part of a larger file.
func (d *Decoded) IsMultipart() bool { return d.Header.Part > 0 && d.Part != nil }

// Offset is the 0-based position of Data within the original file.
func (d *Decoded) Offset() int64 {
	if d.Part == nil || d.Part.Begin < 1 {
		return 0
	}
	return d.Part.Begin - 1
}

// Verify checks the decoded data against the trailer.  pcrc32 is
// preferred over crc32; a size mismatch is always Corrupt.
func (d *Decoded) Verify() Status {
	if d.Trailer.Size != int64(len(d.Data)) {
		return Corrupt
	}
	switch {
	case d.Trailer.HasPCRC32:
		if d.CRC == d.Trailer.PartCRC32 {
			return Valid
		}
		return Corrupt
	case d.Trailer.HasCRC32:
		if d.CRC == d.Trailer.CRC32 {
			return Valid
		}
		return Corrupt
	}
	return Unknown
}

// Err returns a ValidationError when Verify reports Corrupt.  Unknown
// is not an error.
func (d *Decoded) Err() error {
	if d.Verify() != Corrupt {
		return nil
	}
	if d.Trailer.Size != int64(len(d.Data)) {
		return ncerr.Invalid(format, "%s: decoded %d bytes, trailer says %d", d.Header.Name, len(d.Data), d.Trailer.Size)
	}
	want := d.Trailer.CRC32
	if d.Trailer.HasPCRC32 {
		want = d.Trailer.PartCRC32
	}
	return ncerr.Invalid(format, "%s: crc32 %08x, trailer says %08x", d.Header.Name, d.CRC, want)
}

// ── Decoding ─────────────────────────────────────────────────────────

// Decode decodes a raw body.  Lines before "=ybegin" are skipped.
func Decode(raw []byte) (*Decoded, error) {
	lines := bytes.Split(raw, []byte{'\n'})
	ss := make([]string, len(lines))
	for i, l := range lines {
		ss[i] = string(l)
	}
	return DecodeLines(ss)
}

// DecodeLines decodes a body already split into lines, such as the
// unstuffed lines of a BODY reply.
func DecodeLines(lines []string) (*Decoded, error) {
	begin := -1
	for i, l := range lines {
		if strings.HasPrefix(l, "=ybegin ") {
			begin = i
			break
		}
	}
	if begin < 0 {
		return nil, ncerr.Invalid(format, "no =ybegin line")
	}
	hdr, err := parseBegin(strings.TrimRight(lines[begin], "\r"))
	if err != nil {
		return nil, err
	}

	d := &Decoded{Header: hdr}
	start := begin + 1
	if start < len(lines) && strings.HasPrefix(lines[start], "=ypart ") {
		r, err := parsePart(strings.TrimRight(lines[start], "\r"))
		if err != nil {
			return nil, err
		}
		d.Part = &r
		start++
	}

	end := -1
	for i := len(lines) - 1; i >= start; i-- {
		if strings.HasPrefix(lines[i], "=yend") {
			end = i
			break
		}
	}
	if end < 0 {
		return nil, ncerr.Invalid(format, "%s: no =yend line", hdr.Name)
	}
	if d.Trailer, err = parseEnd(strings.TrimRight(lines[end], "\r")); err != nil {
		return nil, err
	}

	capHint := d.Trailer.Size
	if capHint <= 0 || capHint > 1<<26 {
		capHint = 0
	}
	d.Data = make([]byte, 0, capHint)
	for i := start; i < end; i++ {
		if d.Data, err = decodeLine(d.Data, lines[i]); err != nil {
			return nil, ncerr.Invalid(format, "%s: line %d: %v", hdr.Name, i+1, err)
		}
	}
	d.CRC = crc32.ChecksumIEEE(d.Data)
	return d, nil
}

type escapeError struct{}

func (escapeError) Error() string { return "escape character at end of line" }

func decodeLine(dst []byte, line string) ([]byte, error) {
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch c {
		case '\r', '\n':
			continue
		case '=':
			i++
			if i >= len(line) || line[i] == '\r' {
				return dst, escapeError{}
			}
			dst = append(dst, line[i]-64-42)
		default:
			dst = append(dst, c-42)
		}
	}
	return dst, nil
}

// ── Header lines ─────────────────────────────────────────────────────

// params splits "k=v k=v" pairs.  When name is true the value of
// "name=" runs to the end of the line, spaces included.
func params(s string, name bool) map[string]string {
	out := make(map[string]string)
	if name {
		if i := strings.Index(s, "name="); i >= 0 {
			out["name"] = strings.TrimSpace(s[i+5:])
			s = s[:i]
		}
	}
	for _, f := range strings.Fields(s) {
		if k, v, ok := strings.Cut(f, "="); ok {
			out[k] = v
		}
	}
	return out
}

func parseBegin(line string) (Header, error) {
	p := params(strings.TrimPrefix(line, "=ybegin "), true)
	var h Header
	var err error
	if h.Line, err = atoi(p, "line", true); err != nil {
		return h, err
	}
	size, err := atoi64(p, "size", true)
	if err != nil {
		return h, err
	}
	h.Size = size
	h.Name = p["name"]
	if h.Name == "" {
		return h, ncerr.Invalid(format, "=ybegin without name")
	}
	if h.Part, err = atoi(p, "part", false); err != nil {
		return h, err
	}
	if h.Total, err = atoi(p, "total", false); err != nil {
		return h, err
	}
	return h, nil
}

func parsePart(line string) (Range, error) {
	p := params(strings.TrimPrefix(line, "=ypart "), false)
	var r Range
	var err error
	if r.Begin, err = atoi64(p, "begin", true); err != nil {
		return r, err
	}
	if r.End, err = atoi64(p, "end", true); err != nil {
		return r, err
	}
	if r.Begin < 1 || r.End < r.Begin {
		return r, ncerr.Invalid(format, "=ypart range %d-%d", r.Begin, r.End)
	}
	return r, nil
}

func parseEnd(line string) (Trailer, error) {
	p := params(strings.TrimPrefix(line, "=yend"), false)
	var t Trailer
	var err error
	if t.Size, err = atoi64(p, "size", true); err != nil {
		return t, err
	}
	if t.Part, err = atoi(p, "part", false); err != nil {
		return t, err
	}
	if v, ok := p["crc32"]; ok {
		if t.CRC32, err = hex32(v); err != nil {
			return t, err
		}
		t.HasCRC32 = true
	}
	if v, ok := p["pcrc32"]; ok {
		if t.PartCRC32, err = hex32(v); err != nil {
			return t, err
		}
		t.HasPCRC32 = true
	}
	return t, nil
}

func atoi64(p map[string]string, key string, required bool) (int64, error) {
	v, ok := p[key]
	if !ok {
		if required {
			return 0, ncerr.Invalid(format, "missing %s=", key)
		}
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, ncerr.Invalid(format, "bad %s=%q", key, v)
	}
	return n, nil
}

func atoi(p map[string]string, key string, required bool) (int, error) {
	n, err := atoi64(p, key, required)
	return int(n), err
}

func hex32(v string) (uint32, error) {
	n, err := strconv.ParseUint(v, 16, 32)
	if err != nil {
		return 0, ncerr.Invalid(format, "bad checksum %q", v)
	}
	return uint32(n), nil
}
