// Package scheduler runs the recurring maintenance loops: auto-closing
// sessions whose lecture window has passed, and purging old closed sessions.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"attendance/internal/metrics"
	"attendance/internal/session"
)

// Config controls the auto-close loop.
type Config struct {
	Interval   time.Duration  // tick cadence
	Grace      time.Duration  // buffer after slot end time
	ActiveFrom int            // first active hour, inclusive
	ActiveTo   int            // last active hour, exclusive
	Location   *time.Location // zone for lecture dates and active hours
}

// Summary is the per-run outcome of one tick.
type Summary struct {
	Scanned int
	Closed  int
	Skipped int
	Errored int
}

type outcome int

const (
	outcomeClosed outcome = iota
	outcomeSkipped
)

// AutoCloser scans all OPEN sessions for today and drives the eligible ones
// through the close engine. It keeps no state of its own; running two
// instances concurrently is safe because close is idempotent per session.
type AutoCloser struct {
	sessions   session.SessionStore
	reconciler *session.Reconciler
	cfg        Config

	now func() time.Time // test hook
}

// NewAutoCloser creates the loop. Zero-value config fields get defaults.
func NewAutoCloser(sessions session.SessionStore, rec *session.Reconciler, cfg Config) *AutoCloser {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Grace < 0 {
		cfg.Grace = 0
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.ActiveTo <= cfg.ActiveFrom {
		cfg.ActiveFrom, cfg.ActiveTo = 0, 24
	}
	return &AutoCloser{
		sessions:   sessions,
		reconciler: rec,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Run ticks until ctx is cancelled. Ticks execute on the loop goroutine, so a
// slow tick delays the next one instead of overlapping it.
func (a *AutoCloser) Run(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	log.Printf("auto-close scheduler started (interval=%s grace=%s active=%02d:00-%02d:00 %s)",
		a.cfg.Interval, a.cfg.Grace, a.cfg.ActiveFrom, a.cfg.ActiveTo, a.cfg.Location)
	for {
		select {
		case <-ctx.Done():
			log.Println("auto-close scheduler stopped")
			return
		case <-ticker.C:
			sum := a.Tick(ctx)
			if sum.Scanned > 0 {
				log.Printf("auto-close tick: scanned=%d closed=%d skipped=%d errored=%d",
					sum.Scanned, sum.Closed, sum.Skipped, sum.Errored)
			}
		}
	}
}

// Tick runs one pass. A failure on one session is logged and counted but never
// aborts the rest of the run; the failed session stays OPEN for the next tick.
func (a *AutoCloser) Tick(ctx context.Context) Summary {
	started := a.now()
	defer func() {
		metrics.TickDuration.Observe(a.now().Sub(started).Seconds())
	}()

	now := a.now().In(a.cfg.Location)
	if h := now.Hour(); h < a.cfg.ActiveFrom || h >= a.cfg.ActiveTo {
		return Summary{}
	}

	open, err := a.sessions.OpenOn(ctx, now)
	if err != nil {
		log.Printf("auto-close: list open sessions failed: %v", err)
		return Summary{Errored: 1}
	}

	var sum Summary
	sum.Scanned = len(open)
	for _, s := range open {
		if ctx.Err() != nil {
			return sum
		}
		switch res, err := a.closeOne(ctx, s, now); {
		case err != nil:
			sum.Errored++
			metrics.AutoCloseErrors.Inc()
			log.Printf("auto-close: session %s (slot %s, %s #%d): %v",
				s.ID, s.SlotID, s.LectureDate.Format("2006-01-02"), s.LectureNo, err)
		case res == outcomeClosed:
			sum.Closed++
		default:
			sum.Skipped++
		}
	}
	return sum
}

func (a *AutoCloser) closeOne(ctx context.Context, s session.Session, now time.Time) (outcome, error) {
	eligibleAt, err := s.EligibleCloseAt(a.cfg.Location, a.cfg.Grace)
	if err != nil {
		return outcomeSkipped, err
	}
	if now.Before(eligibleAt) {
		// Not yet past end time + grace; re-evaluated on the next tick.
		return outcomeSkipped, nil
	}
	sum, err := a.reconciler.CloseScheduled(ctx, s)
	if err != nil {
		return outcomeSkipped, fmt.Errorf("close: %w", err)
	}
	if sum.AlreadyClosed {
		return outcomeSkipped, nil
	}
	metrics.SessionsClosed.WithLabelValues(string(session.TriggerScheduler)).Inc()
	return outcomeClosed, nil
}
