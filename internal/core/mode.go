// Package core is the orchestration layer.  It composes the dialer,
// the session pool and the fetcher into complete operational modes and
// provides a builder that selects the right mode from a command line.
//
// Architecture layers (bottom → top):
//
//	transport  →  wire  →  session  →  pool  →  core  →  cmd (CLI)
//
// The builder in this package is the single dispatch point for the
// subcommands of cmd.Execute().
package core

import (
	"context"
	"io"
	"os"

	"gonntp/internal/pool"
	"gonntp/internal/transport"
	"gonntp/util"
)

// Mode is one complete operation (info, group, article, xover or
// fetch).  Each mode owns its pool and dialer and releases both when
// Run returns.
type Mode interface {
	Run(ctx context.Context) error
}

// Pooled is implemented by modes that run on a session pool.  The CLI
// uses it to export pool gauges.
type Pooled interface {
	Pool() *pool.Pool
}

// base carries what every mode shares.
type base struct {
	pool   *pool.Pool
	dialer transport.Dialer
	logger *util.Logger
	out    io.Writer
}

// Pool returns the mode's session pool.
func (b *base) Pool() *pool.Pool { return b.pool }

func (b *base) stdout() io.Writer {
	if b.out != nil {
		return b.out
	}
	return os.Stdout
}

// shutdown quits idle sessions and closes the dialer.
func (b *base) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := b.pool.Close(ctx); err != nil {
		b.logger.Debug("pool close: %v", err)
	}
	if err := b.dialer.Close(); err != nil && !util.IsHarmless(err) {
		b.logger.Debug("dialer close: %v", err)
	}
}
