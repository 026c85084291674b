package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"attendance/internal/config"
	"attendance/internal/roster"
	"attendance/internal/scheduler"
	"attendance/internal/session"
	"attendance/internal/store"
)

// The scheduler process runs the auto-close loop and the retention purger.
// It keeps no state of its own; everything lives in the session stores, so it
// is safe to restart at any point.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	repo := session.NewRepository(db.Client)
	rosterClient := roster.New(cfg.RosterServiceURL, redisClient.Client, cfg.RosterCacheTTL)
	reconciler := session.NewReconciler(repo, repo, rosterClient)

	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		log.Fatalf("bad TIME_ZONE %q: %v", cfg.TimeZone, err)
	}
	from, to, err := config.ParseActiveHours(cfg.ActiveHours)
	if err != nil {
		log.Fatalf("bad ACTIVE_HOURS: %v", err)
	}

	closer := scheduler.NewAutoCloser(repo, reconciler, scheduler.Config{
		Interval:   cfg.TickInterval,
		Grace:      cfg.GracePeriod,
		ActiveFrom: from,
		ActiveTo:   to,
		Location:   loc,
	})
	retention := scheduler.NewRetention(repo, cfg.RetentionAge, cfg.RetentionInterval)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		closer.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		retention.Run(ctx)
	}()
	wg.Wait()

	log.Println("scheduler exited")
}
