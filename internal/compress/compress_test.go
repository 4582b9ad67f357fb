package compress

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ncerr "gonntp/internal/errors"
	"gonntp/internal/transport"
	"gonntp/internal/wire"
)

func TestMode_String(t *testing.T) {
	assert.Equal(t, "none", None.String())
	assert.Equal(t, "deflate", FullSession.String())
	assert.Equal(t, "gzip-headers", HeadersOnly.String())
	assert.Equal(t, "mode(9)", Mode(9).String())
}

func TestRoundTrip(t *testing.T) {
	payloads := map[string][]byte{
		"empty":    {},
		"headers":  []byte("Subject: test\r\nFrom: a@example.com\r\n"),
		"repeated": []byte(strings.Repeat("This is a test article body. ", 350)),
		"binary":   {0, 1, 2, 0xff, 0xfe, '\r', '\n', '.', 0},
	}
	for _, mode := range []Mode{None, FullSession, HeadersOnly} {
		for name, p := range payloads {
			t.Run(mode.String()+"/"+name, func(t *testing.T) {
				enc, err := Compress(mode, p)
				require.NoError(t, err)
				dec, err := Decompress(mode, enc, 0)
				require.NoError(t, err)
				assert.Equal(t, len(p), len(dec))
				assert.Equal(t, string(p), string(dec))
			})
		}
	}
}

func TestDecodeBlock_TooLarge(t *testing.T) {
	enc, err := Compress(HeadersOnly, make([]byte, 10_000))
	require.NoError(t, err)
	assert.Less(t, len(enc), 1000, "zeros compress well")

	_, err = DecodeBlock(enc, 4096)
	assert.ErrorIs(t, err, ncerr.ErrBlockTooLarge)

	var ce *ncerr.CompressionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, int64(4096), ce.Limit)

	_, err = Decompress(FullSession, mustCompress(t, FullSession, make([]byte, 10_000)), 4096)
	assert.ErrorIs(t, err, ncerr.ErrBlockTooLarge)
}

func TestDecodeBlock_Corrupt(t *testing.T) {
	_, err := DecodeBlock([]byte("definitely not zlib"), 0)
	assert.ErrorIs(t, err, ncerr.ErrDecompress)
	assert.False(t, ncerr.IsRetryable(err))

	enc := mustCompress(t, HeadersOnly, []byte(strings.Repeat("abc", 100)))
	_, err = DecodeBlock(enc[:len(enc)/2], 0)
	assert.ErrorIs(t, err, ncerr.ErrDecompress)
}

func TestDecodeLines(t *testing.T) {
	enc := mustCompress(t, HeadersOnly, []byte("1\tsubj\r\n..2\tdot\r\n.\r\n"))
	lines, n, err := DecodeLines(enc, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"1\tsubj", ".2\tdot"}, lines)
	assert.Equal(t, 20, n)
}

func TestStats(t *testing.T) {
	var s Stats
	assert.Zero(t, s.Ratio())
	assert.Zero(t, s.Savings())

	s.Record(25, 100)
	s.Record(-5, 0)
	assert.Equal(t, int64(25), s.Compressed())
	assert.Equal(t, int64(100), s.Decompressed())
	assert.InDelta(t, 0.25, s.Ratio(), 1e-9)
	assert.InDelta(t, 75.0, s.Savings(), 1e-9)

	var nilStats *Stats
	nilStats.Record(1, 1)
	assert.Zero(t, nilStats.Compressed())
}

// TestFullSession runs a status line and a command through a DEFLATE
// layer in both directions.
func TestFullSession(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	got := make(chan string, 1)
	go func() {
		fw, _ := flate.NewWriter(server, flate.BestSpeed)
		fw.Write([]byte("211 5 100 104 alt.test\r\n")) //nolint:errcheck
		fw.Flush()                                    //nolint:errcheck
		line, _ := bufio.NewReader(flate.NewReader(server)).ReadString('\n')
		got <- line
	}()

	conn := transport.NewConn(client, "pipe", 0)
	var stats Stats
	lim, err := EnableFullSession(conn, &stats, 0)
	require.NoError(t, err)
	codec := wire.NewCodec(conn, wire.Timeouts{}, 0)
	codec.SetLimiter(lim)

	resp, err := codec.ReadStatusLine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 211, resp.Code)
	assert.Equal(t, "5 100 104 alt.test", resp.Message)

	require.NoError(t, codec.WriteCommandf(context.Background(), "GROUP %s", "alt.test"))
	assert.Equal(t, "GROUP alt.test\r\n", <-got)

	assert.Positive(t, stats.Compressed())
	assert.Equal(t, int64(24), stats.Decompressed())
}

func TestFullSession_BlockTooLarge(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		fw, _ := flate.NewWriter(server, flate.BestSpeed)
		fw.Write([]byte("200 " + strings.Repeat("x", 8192) + "\r\n")) //nolint:errcheck
		fw.Flush()                                                 //nolint:errcheck
	}()

	conn := transport.NewConn(client, "pipe", 0)
	lim, err := EnableFullSession(conn, nil, 1024)
	require.NoError(t, err)
	codec := wire.NewCodec(conn, wire.Timeouts{}, 0)
	codec.SetLimiter(lim)

	_, err = codec.ReadStatusLine(context.Background())
	assert.ErrorIs(t, err, ncerr.ErrBlockTooLarge)
	assert.True(t, ncerr.IsSessionFatal(err))
}

func TestFullSession_Corrupt(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		server.Write([]byte{0xff, 0xff, 0xff, 0xff}) //nolint:errcheck
	}()

	conn := transport.NewConn(client, "pipe", 0)
	lim, err := EnableFullSession(conn, nil, 0)
	require.NoError(t, err)
	codec := wire.NewCodec(conn, wire.Timeouts{}, 0)
	codec.SetLimiter(lim)

	_, err = codec.ReadStatusLine(context.Background())
	assert.ErrorIs(t, err, ncerr.ErrDecompress)
}

func mustCompress(t *testing.T, mode Mode, p []byte) []byte {
	t.Helper()
	enc, err := Compress(mode, p)
	require.NoError(t, err)
	return enc
}
