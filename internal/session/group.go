package session

import (
	"context"
	"strconv"
	"strings"

	ncerr "gonntp/internal/errors"
	"gonntp/internal/wire"
)

// GroupInfo is the reply to GROUP: "211 count first last name".
type GroupInfo struct {
	Count int64
	First int64
	Last  int64
	Name  string
}

// ArticleInfo is the reply to STAT, NEXT and LAST: "223 n <id>".
type ArticleInfo struct {
	Number    int64
	MessageID string
}

// ParseGroupInfo parses the message of a 211 reply.
func ParseGroupInfo(msg string) (*GroupInfo, error) {
	f := strings.Fields(msg)
	if len(f) < 3 {
		return nil, ncerr.Protocol(ncerr.UnexpectedResponse, wire.CodeGroupSelected, msg)
	}
	var nums [3]int64
	for i := range nums {
		n, err := strconv.ParseInt(f[i], 10, 64)
		if err != nil {
			return nil, ncerr.Protocol(ncerr.UnexpectedResponse, wire.CodeGroupSelected, msg)
		}
		nums[i] = n
	}
	g := &GroupInfo{Count: nums[0], First: nums[1], Last: nums[2]}
	if len(f) > 3 {
		g.Name = f[3]
	}
	return g, nil
}

func parseArticleInfo(resp *wire.Response) (*ArticleInfo, error) {
	f := strings.Fields(resp.Message)
	if len(f) < 2 {
		return nil, resp.Err(ncerr.UnexpectedResponse)
	}
	n, err := strconv.ParseInt(f[0], 10, 64)
	if err != nil {
		return nil, resp.Err(ncerr.UnexpectedResponse)
	}
	return &ArticleInfo{Number: n, MessageID: f[1]}, nil
}

// SelectGroup issues GROUP and makes name the current group.
func (s *Session) SelectGroup(ctx context.Context, name string) (*GroupInfo, error) {
	s.lock()
	defer s.unlock()

	if err := s.ready(Authenticated); err != nil {
		return nil, err
	}
	resp, err := s.dof(ctx, "GROUP %s", name)
	if err != nil {
		return nil, err
	}
	if resp.Code != wire.CodeGroupSelected {
		return nil, s.unexpected(resp)
	}
	info, err := ParseGroupInfo(resp.Message)
	if err != nil {
		return nil, err
	}
	if info.Name == "" {
		info.Name = name
	}
	s.group = info
	s.state = GroupSelected
	s.logger.Verbose("group %s: %d articles (%d-%d)", info.Name, info.Count, info.First, info.Last)
	return info, nil
}

// ListGroup issues LISTGROUP and returns the article numbers.  An
// empty name lists the current group; rng may be empty or "first-last".
func (s *Session) ListGroup(ctx context.Context, name, rng string) ([]int64, error) {
	s.lock()
	defer s.unlock()

	if err := s.ready(Authenticated); err != nil {
		return nil, err
	}
	var resp *wire.Response
	var err error
	switch {
	case name == "":
		resp, err = s.do(ctx, wire.CmdListGroup)
	case rng == "":
		resp, err = s.dof(ctx, "LISTGROUP %s", name)
	default:
		resp, err = s.dof(ctx, "LISTGROUP %s %s", name, rng)
	}
	if err != nil {
		return nil, err
	}
	if resp.Code != wire.CodeGroupSelected {
		return nil, s.unexpected(resp)
	}
	if err := s.readBody(ctx, resp); err != nil {
		return nil, err
	}
	if info, err := ParseGroupInfo(resp.Message); err == nil {
		if info.Name == "" {
			info.Name = name
		}
		s.group = info
		s.state = GroupSelected
	}

	nums := make([]int64, 0, len(resp.Lines))
	for _, line := range resp.Lines {
		if n, err := strconv.ParseInt(strings.TrimSpace(line), 10, 64); err == nil {
			nums = append(nums, n)
		}
	}
	return nums, nil
}

// Stat checks that an article exists without transferring it.  id is
// a message-id, an article number, or empty for the current article.
func (s *Session) Stat(ctx context.Context, id string) (*ArticleInfo, error) {
	s.lock()
	defer s.unlock()

	if err := s.ready(Authenticated); err != nil {
		return nil, err
	}
	var resp *wire.Response
	var err error
	if id == "" {
		resp, err = s.do(ctx, wire.CmdStat)
	} else {
		resp, err = s.dof(ctx, "STAT %s", id)
	}
	return s.articleInfo(resp, err)
}

// Next advances the current article pointer.
func (s *Session) Next(ctx context.Context) (*ArticleInfo, error) {
	return s.move(ctx, wire.CmdNext)
}

// Last moves the current article pointer back.
func (s *Session) Last(ctx context.Context) (*ArticleInfo, error) {
	return s.move(ctx, wire.CmdLast)
}

func (s *Session) move(ctx context.Context, cmd []byte) (*ArticleInfo, error) {
	s.lock()
	defer s.unlock()

	if err := s.ready(Authenticated); err != nil {
		return nil, err
	}
	resp, err := s.do(ctx, cmd)
	return s.articleInfo(resp, err)
}

func (s *Session) articleInfo(resp *wire.Response, err error) (*ArticleInfo, error) {
	if err != nil {
		return nil, err
	}
	if resp.Code != wire.CodeStat {
		return nil, s.unexpected(resp)
	}
	return parseArticleInfo(resp)
}
