package pool

import (
	"context"
	"sync"
	"time"

	"gonntp/internal/session"
)

// Lease is exclusive use of one session until Release or Discard.
// Both are idempotent, so the usual pattern is
//
//	lease, err := p.Get(ctx)
//	if err != nil { ... }
//	defer lease.Release()
type Lease struct {
	pool     *Pool
	sess     *session.Session
	ctx      context.Context
	acquired time.Time
	once     sync.Once
}

// Session returns the leased session.
func (l *Lease) Session() *session.Session { return l.sess }

// Held returns how long the lease has been out.
func (l *Lease) Held() time.Duration { return time.Since(l.acquired) }

// Release returns the session to the pool.  A broken session, or one
// whose lease context was cancelled, is closed instead.
func (l *Lease) Release() {
	l.once.Do(func() {
		keep := l.ctx.Err() == nil
		if !keep {
			l.sess.MarkBroken()
		}
		l.pool.release(l.sess, keep)
	})
}

// Discard closes the session and frees its slot.
func (l *Lease) Discard() {
	l.once.Do(func() {
		l.sess.MarkBroken()
		l.pool.release(l.sess, false)
	})
}
