package util

import (
	"bytes"
	"sync"
)

// DefaultBufSize is the starting capacity of pooled buffers (512 KiB),
// sized for a typical binary article segment.
const DefaultBufSize = 512 * 1024

// maxPooledSize keeps one oversized response from pinning memory in
// the pool forever.
const maxPooledSize = 8 * 1024 * 1024

// BufPool provides reusable byte buffers for response decoding,
// reducing GC pressure on hot paths like compressed block inflation.
var BufPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, DefaultBufSize))
	},
}

// GetBuf retrieves an empty buffer from the pool.  Callers must return
// it with [PutBuf] when finished and must not retain its bytes.
func GetBuf() *bytes.Buffer {
	buf := BufPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuf returns a buffer to the pool for reuse.
func PutBuf(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > maxPooledSize {
		return
	}
	BufPool.Put(buf)
}
