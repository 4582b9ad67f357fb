package core

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"gonntp/config"
	"gonntp/internal/session"
)

// ── info ─────────────────────────────────────────────────────────────

// InfoMode connects, authenticates and reports what the server
// offers: greeting, TLS parameters, capabilities, compression and
// clock skew.
type InfoMode struct {
	base
	Server config.ServerConfig
}

// Run reports on one leased session.
func (m *InfoMode) Run(ctx context.Context) error {
	defer m.shutdown()
	w := m.stdout()

	return m.pool.Do(ctx, func(s *session.Session) error {
		g := s.Greeting()
		fmt.Fprintf(w, "server       %s\n", m.Server)
		fmt.Fprintf(w, "greeting     %s\n", g.String())
		fmt.Fprintf(w, "posting      %v\n", s.PostingAllowed())
		if st, ok := s.TLS(); ok {
			fmt.Fprintf(w, "tls          %s %s\n", tls.VersionName(st.Version), tls.CipherSuiteName(st.CipherSuite))
		}

		caps, err := s.Capabilities(ctx)
		switch {
		case err != nil && s.IsBroken():
			return err
		case err != nil:
			fmt.Fprintf(w, "capabilities unavailable (%v)\n", err)
		default:
			for _, k := range caps.List() {
				fmt.Fprintf(w, "capability   %s\n", strings.TrimSpace(k+" "+strings.Join(caps.Args(k), " ")))
			}
		}
		fmt.Fprintf(w, "compression  %s\n", s.Compression())

		if t, err := s.Date(ctx); err == nil {
			fmt.Fprintf(w, "server time  %s (skew %v)\n", t.Format(time.RFC3339), time.Since(t).Round(time.Second))
		} else if s.IsBroken() {
			return err
		}
		return nil
	})
}

// ── group ────────────────────────────────────────────────────────────

// GroupMode selects a newsgroup and prints its summary.
type GroupMode struct {
	base
	Group string
}

// Run selects the group on one leased session.
func (m *GroupMode) Run(ctx context.Context) error {
	defer m.shutdown()
	return m.pool.Do(ctx, func(s *session.Session) error {
		g, err := s.SelectGroup(ctx, m.Group)
		if err != nil {
			return err
		}
		fmt.Fprintf(m.stdout(), "%s %d articles (%d-%d)\n", g.Name, g.Count, g.First, g.Last)
		return nil
	})
}

// ── article / head / body ────────────────────────────────────────────

// ArticleMode prints an article, its headers or its body.  ID is a
// message-id or "group:number".
type ArticleMode struct {
	base
	ID   string
	Part string // "article", "head" or "body"
}

// Run fetches the article on one leased session.
func (m *ArticleMode) Run(ctx context.Context) error {
	defer m.shutdown()
	return m.pool.Do(ctx, func(s *session.Session) error {
		id := m.ID
		if group, num, ok := strings.Cut(id, ":"); ok && !strings.Contains(id, "@") {
			if _, err := s.SelectGroup(ctx, group); err != nil {
				return err
			}
			id = num
		}

		fetch := s.Article
		switch m.Part {
		case "head":
			fetch = s.Head
		case "body":
			fetch = s.Body
		}
		resp, err := fetch(ctx, id)
		if err != nil {
			return err
		}
		w := m.stdout()
		for _, l := range resp.Lines {
			fmt.Fprintln(w, l)
		}
		m.logger.Verbose("%s: %d lines", resp, len(resp.Lines))
		return nil
	})
}

// ── xover ────────────────────────────────────────────────────────────

// DefaultOverviewCount is how many recent articles xover lists when no
// range is given.
const DefaultOverviewCount = 10

// XOverMode lists overview data for a range of a group.
type XOverMode struct {
	base
	Group string
	Range string // empty: the newest DefaultOverviewCount articles
}

// Run selects the group and prints one tab-separated line per article.
func (m *XOverMode) Run(ctx context.Context) error {
	defer m.shutdown()
	return m.pool.Do(ctx, func(s *session.Session) error {
		g, err := s.SelectGroup(ctx, m.Group)
		if err != nil {
			return err
		}
		rng := m.Range
		if rng == "" {
			if g.Count == 0 {
				m.logger.Info("%s is empty", g.Name)
				return nil
			}
			rng = fmt.Sprintf("%d-%d", max(g.First, g.Last-DefaultOverviewCount+1), g.Last)
		}
		entries, err := s.XOver(ctx, rng)
		if err != nil {
			return err
		}
		w := m.stdout()
		for _, e := range entries {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\n", e.Number, e.MessageID, e.Author, e.Subject, e.Bytes)
		}
		m.logger.Verbose("%d overview entries", len(entries))
		return nil
	})
}
