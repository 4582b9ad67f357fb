package compress

import (
	"bufio"
	"io"

	"github.com/klauspost/compress/flate"

	ncerr "gonntp/internal/errors"
	"gonntp/internal/transport"
)

// EnableFullSession stacks DEFLATE on conn.  From now on every byte
// read is inflated and every command is compressed and sync-flushed.
// The returned limiter must be reset before each reply (the wire codec
// does this when registered with SetLimiter).
func EnableFullSession(conn *transport.Conn, stats *Stats, limit int64) (*BlockLimiter, error) {
	if limit <= 0 {
		limit = DefaultBlockLimit
	}
	lowerR, lowerW := conn.Lower()

	fw, err := flate.NewWriter(lowerW, flate.DefaultCompression)
	if err != nil {
		return nil, &ncerr.CompressionError{Kind: ncerr.Negotiation, Err: err}
	}

	cr := &countingReader{r: asByteReader(lowerR)}
	lim := &BlockLimiter{
		src:   cr,
		fr:    flate.NewReader(cr),
		limit: limit,
		stats: stats,
	}
	conn.Push(lim, fw, fw.Flush)
	return lim, nil
}

// BlockLimiter inflates the session stream and bounds the bytes
// produced per reply.
type BlockLimiter struct {
	src   *countingReader
	fr    io.Reader
	limit int64
	n     int64
	stats *Stats
}

// Reset starts a new reply.
func (l *BlockLimiter) Reset() { l.n = 0 }

func (l *BlockLimiter) Read(p []byte) (int, error) {
	before := l.src.n
	n, err := l.fr.Read(p)
	l.stats.Record(l.src.n-before, int64(n))
	if l.n+int64(n) > l.limit {
		// Hand up only what fits so no complete line past the cap is
		// ever returned.
		n = int(l.limit - l.n)
		l.n = l.limit
		return n, &ncerr.CompressionError{Kind: ncerr.BlockTooLarge, Limit: l.limit}
	}
	l.n += int64(n)
	if err != nil && err != io.EOF {
		// An error from below is a transport problem; anything else
		// came from the inflater and means corrupt data.
		if l.src.err != nil {
			return n, l.src.err
		}
		return n, &ncerr.CompressionError{Kind: ncerr.Decompress, Err: err}
	}
	return n, err
}

// countingReader counts compressed bytes and remembers the last error
// of the layer below.
type countingReader struct {
	r   byteReader
	n   int64
	err error
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if err != nil {
		c.err = err
	}
	return n, err
}

func (c *countingReader) ReadByte() (byte, error) {
	b, err := c.r.ReadByte()
	if err != nil {
		c.err = err
		return b, err
	}
	c.n++
	return b, nil
}

type byteReader interface {
	io.Reader
	io.ByteReader
}

func asByteReader(r io.Reader) byteReader {
	if br, ok := r.(byteReader); ok {
		return br
	}
	return bufio.NewReader(r)
}
