package session

import (
	"context"
	"strconv"
	"strings"
	"time"

	ncerr "gonntp/internal/errors"
	"gonntp/internal/wire"
)

const dateLayout = "20060102150405"

// Date returns the server's clock (DATE, reply 111).
func (s *Session) Date(ctx context.Context) (time.Time, error) {
	s.lock()
	defer s.unlock()

	if err := s.ready(Connected); err != nil {
		return time.Time{}, err
	}
	resp, err := s.do(ctx, wire.CmdDate)
	if err != nil {
		return time.Time{}, err
	}
	if resp.Code != wire.CodeDate {
		return time.Time{}, s.unexpected(resp)
	}
	f := strings.Fields(resp.Message)
	if len(f) == 0 {
		return time.Time{}, resp.Err(ncerr.UnexpectedResponse)
	}
	t, err := time.ParseInLocation(dateLayout, f[0], time.UTC)
	if err != nil {
		return time.Time{}, resp.Err(ncerr.UnexpectedResponse)
	}
	return t, nil
}

// Ping checks that the server still answers.  Any well-formed status
// line counts, including 500 from servers without DATE.
func (s *Session) Ping(ctx context.Context) error {
	s.lock()
	defer s.unlock()

	if err := s.ready(Connected); err != nil {
		return err
	}
	resp, err := s.do(ctx, wire.CmdDate)
	if err != nil {
		return err
	}
	if resp.Code == wire.CodeUnavailable {
		return resp.Err(ncerr.ServiceUnavailable)
	}
	return nil
}

// List issues LIST with an optional keyword ("ACTIVE", "NEWSGROUPS",
// "OVERVIEW.FMT", ...) and returns the raw lines.
func (s *Session) List(ctx context.Context, keyword string) ([]string, error) {
	s.lock()
	defer s.unlock()

	if err := s.ready(Authenticated); err != nil {
		return nil, err
	}
	var resp *wire.Response
	var err error
	if keyword == "" {
		resp, err = s.do(ctx, wire.CmdList)
	} else {
		resp, err = s.dof(ctx, "LIST %s", keyword)
	}
	if err != nil {
		return nil, err
	}
	if resp.Code != wire.CodeListFollows {
		return nil, s.unexpected(resp)
	}
	if err := s.readBody(ctx, resp); err != nil {
		return nil, err
	}
	return resp.Lines, nil
}

// ActiveGroup is one line of LIST ACTIVE.
type ActiveGroup struct {
	Name   string
	High   int64
	Low    int64
	Status string
}

// ParseActive parses "name high low status" lines, skipping malformed
// ones.
func ParseActive(lines []string) []ActiveGroup {
	out := make([]ActiveGroup, 0, len(lines))
	for _, line := range lines {
		f := strings.Fields(line)
		if len(f) < 4 {
			continue
		}
		hi, err1 := strconv.ParseInt(f[1], 10, 64)
		lo, err2 := strconv.ParseInt(f[2], 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, ActiveGroup{Name: f[0], High: hi, Low: lo, Status: f[3]})
	}
	return out
}

// ModeReader switches a mode-switching server to reader mode and
// reports whether posting is allowed.
func (s *Session) ModeReader(ctx context.Context) (bool, error) {
	s.lock()
	defer s.unlock()

	if err := s.ready(Connected); err != nil {
		return false, err
	}
	resp, err := s.do(ctx, wire.CmdModeReader)
	if err != nil {
		return false, err
	}
	switch resp.Code {
	case wire.CodeReadyPosting:
		return true, nil
	case wire.CodeReadyNoPost:
		return false, nil
	}
	return false, s.unexpected(resp)
}
