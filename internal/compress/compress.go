// Package compress implements the two NNTP compression schemes: RFC
// 8054 full-session DEFLATE, stacked on the connection once the server
// answers 206, and the headers-only XFEATURE GZIP scheme where
// individual multi-line replies arrive as zlib blocks.
package compress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"

	ncerr "gonntp/internal/errors"
	"gonntp/internal/wire"
	"gonntp/util"
)

// DefaultBlockLimit caps the decompressed size of one reply (64 MiB).
const DefaultBlockLimit = 64 * 1024 * 1024

// GzipMarker in a status line announces a headers-only compressed body.
const GzipMarker = "[COMPRESS=GZIP]"

// Mode is the compression scheme of a session.  It is chosen once
// during negotiation and never changes afterwards.
type Mode int

const (
	None Mode = iota
	FullSession
	HeadersOnly
)

func (m Mode) String() string {
	switch m {
	case None:
		return "none"
	case FullSession:
		return "deflate"
	case HeadersOnly:
		return "gzip-headers"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ── Headers-only blocks ──────────────────────────────────────────────

// DecodeBlock inflates one zlib block.  At most limit+1 bytes are ever
// buffered; a larger output fails with BlockTooLarge.
func DecodeBlock(raw []byte, limit int64) ([]byte, error) {
	buf := util.GetBuf()
	defer util.PutBuf(buf)

	if err := inflate(buf, raw, limit); err != nil {
		return nil, err
	}
	return bytes.Clone(buf.Bytes()), nil
}

// DecodeLines inflates a block and splits it into unstuffed body lines
// up to the terminator.
func DecodeLines(raw []byte, limit int64) ([]string, int, error) {
	buf := util.GetBuf()
	defer util.PutBuf(buf)

	if err := inflate(buf, raw, limit); err != nil {
		return nil, 0, err
	}
	return wire.SplitBody(buf.Bytes()), buf.Len(), nil
}

func inflate(dst *bytes.Buffer, raw []byte, limit int64) error {
	if limit <= 0 {
		limit = DefaultBlockLimit
	}
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return &ncerr.CompressionError{Kind: ncerr.Decompress, Err: err}
	}
	defer zr.Close()

	if _, err := io.Copy(dst, io.LimitReader(zr, limit+1)); err != nil {
		return &ncerr.CompressionError{Kind: ncerr.Decompress, Err: err}
	}
	if int64(dst.Len()) > limit {
		return &ncerr.CompressionError{Kind: ncerr.BlockTooLarge, Limit: limit}
	}
	return nil
}

// ── One-shot helpers ─────────────────────────────────────────────────

// Compress encodes p the way a server would for the given mode: raw
// DEFLATE for FullSession, zlib for HeadersOnly, unchanged for None.
func Compress(mode Mode, p []byte) ([]byte, error) {
	var out bytes.Buffer
	switch mode {
	case None:
		return bytes.Clone(p), nil
	case FullSession:
		fw, err := flate.NewWriter(&out, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(p); err != nil {
			return nil, err
		}
		if err := fw.Close(); err != nil {
			return nil, err
		}
	case HeadersOnly:
		zw := zlib.NewWriter(&out)
		if _, err := zw.Write(p); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
	default:
		return nil, &ncerr.CompressionError{Kind: ncerr.Negotiation, Err: fmt.Errorf("unknown %s", mode)}
	}
	return out.Bytes(), nil
}

// Decompress reverses [Compress] under the same size cap as live
// traffic.
func Decompress(mode Mode, p []byte, limit int64) ([]byte, error) {
	switch mode {
	case None:
		return bytes.Clone(p), nil
	case HeadersOnly:
		return DecodeBlock(p, limit)
	case FullSession:
		if limit <= 0 {
			limit = DefaultBlockLimit
		}
		fr := flate.NewReader(bytes.NewReader(p))
		defer fr.Close()
		out, err := io.ReadAll(io.LimitReader(fr, limit+1))
		if err != nil {
			return nil, &ncerr.CompressionError{Kind: ncerr.Decompress, Err: err}
		}
		if int64(len(out)) > limit {
			return nil, &ncerr.CompressionError{Kind: ncerr.BlockTooLarge, Limit: limit}
		}
		return out, nil
	default:
		return nil, &ncerr.CompressionError{Kind: ncerr.Negotiation, Err: fmt.Errorf("unknown %s", mode)}
	}
}
