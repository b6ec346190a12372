// Package governor admits or defers query execution under the
// configured concurrency and pacing limits. It guards only the
// expensive query/send paths; cheap reads bypass it entirely.
package governor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/agentify/agentifyd/pkg/models"
)

// Limits are the admission knobs, normally derived from config.
type Limits struct {
	MaxInflight   int
	MaxPerMinute  int
	MinSessionGap time.Duration
	MinGlobalGap  time.Duration
	MaxWait       time.Duration
}

// Governor owns all admission counters. Session handlers never touch the
// counters directly; they go through Admit/release.
type Governor struct {
	log *zap.SugaredLogger
	lim Limits
	sem *semaphore.Weighted

	mu         sync.Mutex
	inflight   int
	admitted   []time.Time
	lastByKey  map[string]time.Time
	lastGlobal time.Time

	// injectable for tests
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

const window = time.Minute

// New creates a governor. MaxInflight and MaxPerMinute must be >= 1.
func New(lim Limits, log *zap.SugaredLogger) *Governor {
	if lim.MaxInflight < 1 {
		lim.MaxInflight = 1
	}
	if lim.MaxPerMinute < 1 {
		lim.MaxPerMinute = 1
	}
	return &Governor{
		log:       log,
		lim:       lim,
		sem:       semaphore.NewWeighted(int64(lim.MaxInflight)),
		lastByKey: make(map[string]time.Time),
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// Admit applies the three checks in fixed order (inflight, qpm, gap) so
// the rejection reason is deterministic under simultaneous violations.
// On success it returns a release func that must be called on every exit
// path. A pacing gap within MaxWait is absorbed by sleeping; a larger
// one is rejected with the required wait in the error payload.
func (g *Governor) Admit(ctx context.Context, sessionKey string) (release func(), err error) {
	if !g.sem.TryAcquire(1) {
		return nil, models.ErrMaxInflight
	}

	g.mu.Lock()
	now := g.now()
	g.prune(now)
	if len(g.admitted) >= g.lim.MaxPerMinute {
		retry := g.admitted[0].Add(window).Sub(now)
		g.mu.Unlock()
		g.sem.Release(1)
		return nil, models.ErrQPM.With("retryAfterMs", durToMs(retry))
	}

	next := g.lastByKey[sessionKey].Add(g.lim.MinSessionGap)
	if global := g.lastGlobal.Add(g.lim.MinGlobalGap); global.After(next) {
		next = global
	}
	wait := next.Sub(now)
	if wait > g.lim.MaxWait {
		g.mu.Unlock()
		g.sem.Release(1)
		return nil, models.ErrTabGap.With("retryAfterMs", durToMs(wait))
	}

	// Reserve the admission slot at its scheduled time before sleeping,
	// so concurrent admissions pace off each other correctly.
	scheduled := now
	if wait > 0 {
		scheduled = next
	}
	g.admitted = append(g.admitted, scheduled)
	g.lastByKey[sessionKey] = scheduled
	g.lastGlobal = scheduled
	g.inflight++
	g.mu.Unlock()

	if wait > 0 {
		g.log.Debugw("pacing query admission", "sessionKey", sessionKey, "waitMs", durToMs(wait))
		if err := g.sleep(ctx, wait); err != nil {
			g.release()
			return nil, err
		}
	}

	var once sync.Once
	return func() {
		once.Do(g.release)
	}, nil
}

func (g *Governor) release() {
	g.mu.Lock()
	g.inflight--
	g.mu.Unlock()
	g.sem.Release(1)
}

// Inflight reports the current in-flight count (for status surfaces).
func (g *Governor) Inflight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inflight
}

func (g *Governor) prune(now time.Time) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(g.admitted) && !g.admitted[i].After(cutoff) {
		i++
	}
	if i > 0 {
		g.admitted = append(g.admitted[:0], g.admitted[i:]...)
	}
}

func durToMs(d time.Duration) int64 {
	if d < 0 {
		return 0
	}
	return d.Milliseconds()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
