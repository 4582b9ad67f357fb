package session

import (
	"context"

	"gonntp/internal/compress"
	"gonntp/internal/wire"
)

// TryEnableCompression negotiates compression: COMPRESS DEFLATE first,
// then XFEATURE COMPRESS GZIP.  It reports false with a nil error when
// the server supports neither; only a transport failure is an error.
func (s *Session) TryEnableCompression(ctx context.Context) (bool, error) {
	s.lock()
	defer s.unlock()

	if err := s.ready(Connected); err != nil {
		return false, err
	}
	if s.mode != compress.None {
		return true, nil
	}

	// A server that lists COMPRESS without DEFLATE will refuse it; one
	// that lists nothing is tried anyway.
	skipDeflate := s.caps.Has("COMPRESS") && !s.caps.HasArg("COMPRESS", "DEFLATE")
	if !skipDeflate {
		resp, err := s.do(ctx, wire.CmdCompress)
		if err != nil {
			return false, err
		}
		if resp.Code == wire.CodeCompressOK {
			lim, err := compress.EnableFullSession(s.conn, &s.stats, s.blockLimit())
			if err != nil {
				return false, s.fail(err)
			}
			s.codec.SetLimiter(lim)
			s.mode = compress.FullSession
			s.logger.Verbose("compression: %s", s.mode)
			return true, nil
		}
		s.logger.Debug("COMPRESS DEFLATE refused (%d)", resp.Code)
	}

	resp, err := s.do(ctx, wire.CmdXFeatureGzip)
	if err != nil {
		return false, err
	}
	if resp.Code >= 200 && resp.Code < 300 {
		s.mode = compress.HeadersOnly
		s.logger.Verbose("compression: %s", s.mode)
		return true, nil
	}
	s.logger.Debug("XFEATURE COMPRESS GZIP refused (%d), continuing uncompressed", resp.Code)
	return false, nil
}
