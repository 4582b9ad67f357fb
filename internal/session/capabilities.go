package session

import (
	"context"
	"sort"
	"strings"

	"gonntp/internal/wire"
)

// Capabilities is the parsed reply to CAPABILITIES.  Keywords are
// stored upper-cased and looked up case-insensitively.
type Capabilities struct {
	entries map[string][]string
}

// ParseCapabilities builds Capabilities from body lines such as
// "COMPRESS DEFLATE GZIP".  Blank lines are ignored.
func ParseCapabilities(lines []string) *Capabilities {
	c := &Capabilities{entries: make(map[string][]string, len(lines))}
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		c.entries[strings.ToUpper(fields[0])] = fields[1:]
	}
	return c
}

// Has reports whether keyword was advertised.
func (c *Capabilities) Has(keyword string) bool {
	if c == nil {
		return false
	}
	_, ok := c.entries[strings.ToUpper(keyword)]
	return ok
}

// Args returns the arguments advertised with keyword.
func (c *Capabilities) Args(keyword string) []string {
	if c == nil {
		return nil
	}
	return c.entries[strings.ToUpper(keyword)]
}

// HasArg reports whether keyword was advertised with arg.
func (c *Capabilities) HasArg(keyword, arg string) bool {
	for _, a := range c.Args(keyword) {
		if strings.EqualFold(a, arg) {
			return true
		}
	}
	return false
}

// List returns every keyword, sorted.
func (c *Capabilities) List() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.entries))
	for k := range c.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Capabilities fetches and caches the server's capability list.  It is
// allowed before authentication.
func (s *Session) Capabilities(ctx context.Context) (*Capabilities, error) {
	s.lock()
	defer s.unlock()

	if err := s.ready(Connected); err != nil {
		return nil, err
	}
	if s.caps != nil {
		return s.caps, nil
	}
	resp, err := s.do(ctx, wire.CmdCapabilities)
	if err != nil {
		return nil, err
	}
	if resp.Code != wire.CodeCapabilities {
		return nil, s.unexpected(resp)
	}
	if err := s.readBody(ctx, resp); err != nil {
		return nil, err
	}
	s.caps = ParseCapabilities(resp.Lines)
	return s.caps, nil
}
