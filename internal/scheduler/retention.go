package scheduler

import (
	"context"
	"log"
	"time"

	"attendance/internal/metrics"
	"attendance/internal/session"
)

// Retention deletes CLOSED sessions older than a configured horizon. It is
// best-effort maintenance: failures are logged and the sweep retries on the
// next interval.
type Retention struct {
	sessions session.SessionStore
	age      time.Duration
	interval time.Duration

	now func() time.Time // test hook
}

// NewRetention creates the purger. age <= 0 disables it.
func NewRetention(sessions session.SessionStore, age, interval time.Duration) *Retention {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Retention{sessions: sessions, age: age, interval: interval, now: time.Now}
}

// Run sweeps until ctx is cancelled.
func (r *Retention) Run(ctx context.Context) {
	if r.age <= 0 {
		log.Println("retention disabled")
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	log.Printf("retention started (age=%s interval=%s)", r.age, r.interval)
	for {
		select {
		case <-ctx.Done():
			log.Println("retention stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep deletes one batch of expired sessions.
func (r *Retention) Sweep(ctx context.Context) {
	cutoff := r.now().Add(-r.age)
	n, err := r.sessions.PurgeClosedBefore(ctx, cutoff)
	if err != nil {
		log.Printf("retention sweep failed: %v", err)
		return
	}
	if n > 0 {
		metrics.SessionsPurged.Add(float64(n))
		log.Printf("retention: purged %d closed sessions older than %s", n, cutoff.Format("2006-01-02"))
	}
}
