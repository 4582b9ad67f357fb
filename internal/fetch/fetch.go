// Package fetch downloads the files of an NZB manifest.
//
// Segments are dispatched in manifest order and fetched concurrently
// over pooled sessions, one command in flight per session.  Decoded
// segments are written straight into a hidden temporary file at their
// yEnc offset, so memory use is bounded by the number of segments in
// flight rather than the file size.
package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"gonntp/config"
	ncerr "gonntp/internal/errors"
	"gonntp/internal/metrics"
	"gonntp/internal/nzb"
	"gonntp/internal/session"
	"gonntp/internal/yenc"
	"gonntp/util"
)

// Doer runs fn on a leased session.  *pool.Pool implements it.
type Doer interface {
	Do(ctx context.Context, fn func(*session.Session) error) error
}

// Options tunes a Fetcher.
type Options struct {
	Concurrency int     // segments in flight
	CacheSize   int     // decoded segments kept in memory, 0 disables
	RateLimit   float64 // bytes per second, 0 means unlimited
	Verify      bool    // treat CRC mismatches as failures and check PAR2 sets
	Logger      *util.Logger
	Metrics     *metrics.Collector
}

// OptionsFromConfig maps the fetch section of the config.
func OptionsFromConfig(c config.FetchConfig) Options {
	return Options{
		Concurrency: c.Concurrency,
		CacheSize:   c.CacheSize,
		RateLimit:   c.RateLimit,
		Verify:      c.Verify,
	}
}

// Fetcher downloads segments and assembles files.
type Fetcher struct {
	pool    Doer
	opts    Options
	logger  *util.Logger
	metrics *metrics.Collector
	cache   *lru.Cache[string, *yenc.Decoded]
	limiter *rate.Limiter
}

// New creates a Fetcher on top of a session pool.
func New(p Doer, opts Options) (*Fetcher, error) {
	if opts.Concurrency < 1 {
		opts.Concurrency = config.DefaultFetchConcurrency
	}
	f := &Fetcher{
		pool:    p,
		opts:    opts,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	if f.logger == nil {
		f.logger = util.Nop()
	}
	if opts.CacheSize > 0 {
		c, err := lru.New[string, *yenc.Decoded](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("segment cache: %w", err)
		}
		f.cache = c
	}
	if opts.RateLimit > 0 {
		burst := max(1, int(opts.RateLimit))
		f.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return f, nil
}

// ── Segments ─────────────────────────────────────────────────────────

// Segment fetches and decodes one article by message-id (with or
// without angle brackets).  With verification on, a CRC mismatch
// returns the decoded data together with a ValidationError.
func (f *Fetcher) Segment(ctx context.Context, messageID string) (*yenc.Decoded, error) {
	id := strings.TrimSuffix(strings.TrimPrefix(messageID, "<"), ">")
	if f.cache != nil {
		if d, ok := f.cache.Get(id); ok {
			f.metrics.CacheHit()
			return d, nil
		}
	}

	var lines []string
	err := f.pool.Do(ctx, func(s *session.Session) error {
		resp, err := s.Body(ctx, "<"+id+">")
		if err != nil {
			return err
		}
		lines = resp.Lines
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := f.throttle(ctx, lines); err != nil {
		return nil, err
	}

	d, err := yenc.DecodeLines(lines)
	if err != nil {
		return nil, err
	}
	if f.opts.Verify {
		if err := d.Err(); err != nil {
			return d, err
		}
	}
	if f.cache != nil {
		f.cache.Add(id, d)
	}
	return d, nil
}

// throttle charges the received bytes against the rate limit.
func (f *Fetcher) throttle(ctx context.Context, lines []string) error {
	if f.limiter == nil {
		return nil
	}
	n := 0
	for _, l := range lines {
		n += len(l) + 2
	}
	for burst := f.limiter.Burst(); n > 0; {
		k := min(n, burst)
		if err := f.limiter.WaitN(ctx, k); err != nil {
			return err
		}
		n -= k
	}
	return nil
}

// ── Files ────────────────────────────────────────────────────────────

// FileResult describes one assembled file.
type FileResult struct {
	Name     string
	Path     string
	Bytes    int64 // decoded bytes written
	Segments int
	Missing  []int // segment numbers that could not be fetched
	Corrupt  []int // segment numbers that failed their CRC
	Err      error
}

// OK reports whether every segment arrived intact.
func (r *FileResult) OK() bool {
	return r.Err == nil && len(r.Missing) == 0 && len(r.Corrupt) == 0
}

// assembly collects decoded segments of one file.
type assembly struct {
	mu      sync.Mutex
	out     *util.AtomicFile
	name    string
	size    int64 // from the yEnc header, -1 until known
	written int64
	missing []int
	corrupt []int
}

func (a *assembly) put(num int, d *yenc.Decoded, decodeErr error) error {
	off := d.Offset()
	end := off + int64(len(d.Data))

	a.mu.Lock()
	if a.name == "" {
		a.name = d.Header.Name
	}
	if a.size < 0 && d.Header.Size > 0 {
		a.size = d.Header.Size
	}
	if a.size >= 0 && end > a.size {
		a.corrupt = append(a.corrupt, num)
		a.mu.Unlock()
		return ncerr.Invalid("yenc", "segment %d: bytes %d-%d past end of %d-byte file", num, off, end, a.size)
	}
	if decodeErr != nil {
		a.corrupt = append(a.corrupt, num)
	}
	a.written += int64(len(d.Data))
	a.mu.Unlock()

	// WriteAt is safe for concurrent use on distinct ranges.
	_, err := a.out.WriteAt(d.Data, off)
	return err
}

func (a *assembly) lost(num int) {
	a.mu.Lock()
	a.missing = append(a.missing, num)
	a.mu.Unlock()
}

// File downloads one manifest entry into dir.  Segments that cannot be
// fetched or decoded are recorded in the result, not returned as an
// error; the returned error is reserved for cancellation and local I/O
// failures.
func (f *Fetcher) File(ctx context.Context, file *nzb.File, dir string) (*FileResult, error) {
	res := &FileResult{Segments: len(file.Segments)}
	if missing := file.MissingSegments(); len(missing) > 0 {
		f.logger.Warn("%s: manifest lacks segments %v", file.Name(), missing)
		res.Missing = append(res.Missing, missing...)
	}

	out, err := util.CreateAtomic(dir)
	if err != nil {
		return nil, err
	}
	a := &assembly{out: out, size: -1}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Concurrency)
	for _, seg := range file.Segments {
		g.Go(func() error {
			d, err := f.Segment(gctx, seg.MessageID)
			if err != nil && d == nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				f.metrics.Segment(false)
				f.logger.Verbose("segment %d <%s>: %v", seg.Number, seg.MessageID, err)
				a.lost(seg.Number)
				return nil
			}
			if err != nil {
				f.logger.Warn("segment %d <%s>: %v", seg.Number, seg.MessageID, err)
			}
			if perr := a.put(seg.Number, d, err); perr != nil {
				var ve *ncerr.ValidationError
				if !ncerr.As(perr, &ve) {
					return perr
				}
				f.logger.Warn("%v", perr)
			}
			f.metrics.Segment(err == nil)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		out.Abort()
		return nil, err
	}

	res.Missing = append(res.Missing, a.missing...)
	res.Corrupt = a.corrupt
	res.Bytes = a.written
	res.Name = safeName(a.name, file.Name())

	if a.written == 0 && len(file.Segments) > 0 {
		out.Abort()
		res.Err = fmt.Errorf("%s: no segment could be fetched", res.Name)
		return res, nil
	}
	if a.size >= 0 {
		if err := out.Truncate(a.size); err != nil {
			out.Abort()
			return nil, err
		}
	}
	res.Path = filepath.Join(dir, res.Name)
	if err := out.Commit(res.Path, 0o644); err != nil {
		return nil, err
	}
	return res, nil
}

// safeName strips directories from a name taken off the wire.
func safeName(fromHeader, fromSubject string) string {
	for _, n := range []string{fromHeader, fromSubject} {
		n = filepath.Base(filepath.Clean("/" + strings.ReplaceAll(n, `\`, "/")))
		if n != "/" && n != "." && n != "" {
			return n
		}
	}
	return fmt.Sprintf("unnamed-%d", time.Now().UnixNano())
}

// ── Manifests ────────────────────────────────────────────────────────

// Report summarises a manifest download.
type Report struct {
	Files   []*FileResult
	Bytes   int64
	Elapsed time.Duration
	Repair  *RepairCheck // nil when no PAR2 set was downloaded
}

// Failed counts files that are not intact.
func (r *Report) Failed() int {
	n := 0
	for _, f := range r.Files {
		if !f.OK() {
			n++
		}
	}
	return n
}

// Manifest downloads every file of m into dir, one file at a time in
// manifest order.  When verification is on and the manifest carries a
// PAR2 set, the downloaded files are checked against it.
func (f *Fetcher) Manifest(ctx context.Context, m *nzb.Manifest, dir string) (*Report, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	start := time.Now()
	rep := &Report{}
	total := m.TotalBytes()

	for i, file := range m.Files {
		f.logger.Verbose("[%d/%d] %s (%d segments)", i+1, len(m.Files), file.Name(), len(file.Segments))
		res, err := f.File(ctx, file, dir)
		if err != nil {
			return rep, err
		}
		rep.Files = append(rep.Files, res)
		rep.Bytes += res.Bytes
		switch {
		case res.Err != nil:
			f.logger.Error("%v", res.Err)
		case !res.OK():
			f.logger.Warn("%s: %d missing, %d corrupt segments", res.Name, len(res.Missing), len(res.Corrupt))
		default:
			f.logger.Verbose("%s: %d bytes", res.Name, res.Bytes)
		}
	}
	rep.Elapsed = time.Since(start)
	f.logger.Info("fetched %d file(s), %d of %d bytes in %v", len(rep.Files), rep.Bytes, total, rep.Elapsed.Round(time.Millisecond))

	if f.opts.Verify {
		rc, err := CheckRepair(rep.Files)
		if err != nil {
			f.logger.Warn("par2: %v", err)
		}
		rep.Repair = rc
		if rc != nil {
			f.logger.Info("par2: %d damaged, %d missing, %d recovery slices, repairable: %v",
				rc.Damaged, rc.Missing, rc.Recovery, rc.Repairable)
		}
	}
	return rep, nil
}
