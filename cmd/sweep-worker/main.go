package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/booking-engine/internal/booking"
	"github.com/hackgods/booking-engine/internal/config"
	"github.com/hackgods/booking-engine/internal/db"
	"github.com/hackgods/booking-engine/internal/metrics"
	"github.com/hackgods/booking-engine/internal/notify"
)

// The sweep worker marks active waitlist entries as expired once their
// expires_at passes, and drops expired idempotency replay records.
func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("sweep-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running sweep worker in env=%s interval=%s", cfg.Env, cfg.WorkerInterval)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

	repo := booking.NewPgRepository(pgPool)
	// The sweeps never reserve, so the in-process locker suffices here.
	locker := booking.NewMutexLocker(cfg.LockWaitTimeout)
	svc := booking.NewService(repo, locker, notify.NewLogDispatcher(), booking.SystemClock{}, metrics.NewBookingMetrics(nil), cfg)

	// Run once at startup
	runOnce(rootCtx, svc)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Println("shutdown signal received, stopping sweep worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc)
		}
	}
}

func runOnce(ctx context.Context, svc *booking.Service) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()

	expired, err := svc.ExpireWaitlistEntries(runCtx)
	if err != nil {
		log.Printf("waitlist sweep error: %v", err)
		return
	}

	purged, err := svc.PurgeIdempotencyRecords(runCtx)
	if err != nil {
		log.Printf("idempotency purge error: %v", err)
		return
	}

	log.Printf("sweep complete in %s waitlist_expired=%d idempotency_purged=%d", time.Since(start), expired, purged)
}
