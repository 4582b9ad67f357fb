package yenc

import (
	"bytes"
	"fmt"
	"hash/crc32"
)

// DefaultLineLength is the customary encoded line width.
const DefaultLineLength = 128

// PartInfo places an encoded chunk within a multi-part file.
type PartInfo struct {
	Number   int
	Total    int
	Begin    int64 // 0-based offset of the chunk in the file
	FileSize int64
}

// Encode yEnc-encodes data with CRLF line endings.  A nil part
// produces a single-part body.
func Encode(data []byte, name string, lineLen int, part *PartInfo) []byte {
	if lineLen <= 0 {
		lineLen = DefaultLineLength
	}
	var b bytes.Buffer
	b.Grow(len(data) + len(data)/32 + 256)

	if part == nil {
		fmt.Fprintf(&b, "=ybegin line=%d size=%d name=%s\r\n", lineLen, len(data), name)
	} else {
		fmt.Fprintf(&b, "=ybegin part=%d total=%d line=%d size=%d name=%s\r\n",
			part.Number, part.Total, lineLen, part.FileSize, name)
		fmt.Fprintf(&b, "=ypart begin=%d end=%d\r\n", part.Begin+1, part.Begin+int64(len(data)))
	}

	col := 0
	for i, c := range data {
		e := c + 42
		last := i == len(data)-1 || col+1 >= lineLen
		if critical(e, col == 0, last) {
			b.WriteByte('=')
			e += 64
			col++
		}
		b.WriteByte(e)
		col++
		if col >= lineLen && i != len(data)-1 {
			b.WriteString("\r\n")
			col = 0
		}
	}
	if len(data) > 0 {
		b.WriteString("\r\n")
	}

	sum := crc32.ChecksumIEEE(data)
	if part == nil {
		fmt.Fprintf(&b, "=yend size=%d crc32=%08x\r\n", len(data), sum)
	} else {
		fmt.Fprintf(&b, "=yend size=%d part=%d pcrc32=%08x\r\n", len(data), part.Number, sum)
	}
	return b.Bytes()
}

// critical reports whether an encoded byte must be escaped.  Tabs and
// spaces are only critical at line edges, a dot only at line start.
func critical(e byte, first, last bool) bool {
	switch e {
	case 0, '\n', '\r', '=':
		return true
	case '\t', ' ':
		return first || last
	case '.':
		return first
	}
	return false
}
