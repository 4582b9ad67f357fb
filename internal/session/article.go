package session

import (
	"context"
	"strconv"
	"strings"

	"gonntp/internal/compress"
	"gonntp/internal/wire"
)

// Article fetches headers and body.  id is a message-id ("<a@b>"), an
// article number in the current group, or empty for the current
// article.
func (s *Session) Article(ctx context.Context, id string) (*wire.Response, error) {
	return s.fetch(ctx, "ARTICLE", wire.CmdArticle, wire.CodeArticle, id)
}

// Head fetches only the headers.
func (s *Session) Head(ctx context.Context, id string) (*wire.Response, error) {
	return s.fetch(ctx, "HEAD", wire.CmdHead, wire.CodeHead, id)
}

// Body fetches only the body as unstuffed lines.
func (s *Session) Body(ctx context.Context, id string) (*wire.Response, error) {
	return s.fetch(ctx, "BODY", wire.CmdBody, wire.CodeBody, id)
}

// BodyBinary fetches the body with line terminators removed and the
// lines concatenated, for payloads that are not line oriented.
func (s *Session) BodyBinary(ctx context.Context, id string) ([]byte, error) {
	s.lock()
	defer s.unlock()

	resp, err := s.send(ctx, "BODY", wire.CmdBody, id)
	if err != nil {
		return nil, err
	}
	if resp.Code != wire.CodeBody {
		return nil, s.unexpected(resp)
	}
	if s.mode == compress.HeadersOnly && strings.Contains(resp.Message, compress.GzipMarker) {
		if err := s.readBody(ctx, resp); err != nil {
			return nil, err
		}
		var n int
		for _, l := range resp.Lines {
			n += len(l)
		}
		out := make([]byte, 0, n)
		for _, l := range resp.Lines {
			out = append(out, l...)
		}
		return out, nil
	}
	data, err := s.codec.ReadMultilineBinary(ctx)
	if err != nil {
		return nil, s.fail(err)
	}
	return data, nil
}

func (s *Session) fetch(ctx context.Context, verb string, bare []byte, want int, id string) (*wire.Response, error) {
	s.lock()
	defer s.unlock()

	resp, err := s.send(ctx, verb, bare, id)
	if err != nil {
		return nil, err
	}
	if resp.Code != want {
		return nil, s.unexpected(resp)
	}
	if err := s.readBody(ctx, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *Session) send(ctx context.Context, verb string, bare []byte, id string) (*wire.Response, error) {
	if err := s.ready(Authenticated); err != nil {
		return nil, err
	}
	if id == "" {
		return s.do(ctx, bare)
	}
	return s.dof(ctx, "%s %s", verb, id)
}

// ── Overview ─────────────────────────────────────────────────────────

// OverviewEntry is one line of XOVER output.
type OverviewEntry struct {
	Number     int64
	Subject    string
	Author     string
	Date       string
	MessageID  string
	References string
	Bytes      int64
	Lines      int64
}

// ParseOverview parses a tab-separated overview line.  The first eight
// fields are mandatory; extra fields are ignored.
func ParseOverview(line string) (OverviewEntry, bool) {
	f := strings.Split(line, "\t")
	if len(f) < 8 {
		return OverviewEntry{}, false
	}
	num, err := strconv.ParseInt(f[0], 10, 64)
	if err != nil {
		return OverviewEntry{}, false
	}
	size, _ := strconv.ParseInt(strings.TrimSpace(f[6]), 10, 64)
	lines, _ := strconv.ParseInt(strings.TrimSpace(f[7]), 10, 64)
	return OverviewEntry{
		Number:     num,
		Subject:    f[1],
		Author:     f[2],
		Date:       f[3],
		MessageID:  f[4],
		References: f[5],
		Bytes:      size,
		Lines:      lines,
	}, true
}

// XOver fetches overview data for rng ("100-200", "100-", a single
// number, or empty for the current article) in the current group.
// Malformed lines are skipped.
func (s *Session) XOver(ctx context.Context, rng string) ([]OverviewEntry, error) {
	s.lock()
	defer s.unlock()

	if err := s.ready(Authenticated); err != nil {
		return nil, err
	}
	var resp *wire.Response
	var err error
	if rng == "" {
		resp, err = s.do(ctx, wire.CmdXOver)
	} else {
		resp, err = s.dof(ctx, "XOVER %s", rng)
	}
	if err != nil {
		return nil, err
	}
	if resp.Code != wire.CodeOverview {
		return nil, s.unexpected(resp)
	}
	if err := s.readBody(ctx, resp); err != nil {
		return nil, err
	}

	entries := make([]OverviewEntry, 0, len(resp.Lines))
	skipped := 0
	for _, line := range resp.Lines {
		e, ok := ParseOverview(line)
		if !ok {
			skipped++
			continue
		}
		entries = append(entries, e)
	}
	if skipped > 0 {
		s.logger.Warn("xover %s: skipped %d malformed lines", rng, skipped)
	}
	return entries, nil
}
