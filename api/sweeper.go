/*
sweeper.go - Background expiration sweep

PURPOSE:
  Balances are corrected lazily on read, so a member nobody looks at
  could carry phantom points past their expiry until their next request.
  The sweeper walks all members on an interval and materializes any
  lapsed lots, keeping the ledger the source of truth even for idle
  accounts.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Sweeps once immediately on start
  - Materialization is idempotent, so overlapping with a concurrent
    read-path materialization is harmless
  - One member failing does not abort the sweep

USAGE:
  sweeper := NewSweeper(agg, users, interval, log)
  sweeper.Start()
  // ... on shutdown
  sweeper.Stop()

SEE ALSO:
  - ledger/balance.go: MaterializeExpirations
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pacecrew/hpoints-engine/ledger"
)

// Sweeper periodically materializes lapsed point lots for all members.
type Sweeper struct {
	Aggregator *ledger.Aggregator
	Users      ledger.UserStore
	Interval   time.Duration
	Log        *slog.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSweeper creates a sweeper. A non-positive interval defaults to an hour.
func NewSweeper(agg *ledger.Aggregator, users ledger.UserStore, interval time.Duration, log *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		Aggregator: agg,
		Users:      users,
		Interval:   interval,
		Log:        log,
		stop:       make(chan struct{}),
	}
}

// Start begins the background sweep loop.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		return
	}
	s.ticker = time.NewTicker(s.Interval)
	s.wg.Add(1)
	go s.run()

	s.Log.Info("expiration sweeper started", "interval", s.Interval)
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.Log.Info("expiration sweeper stopped")
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	s.Sweep(context.Background())

	for {
		select {
		case <-s.ticker.C:
			s.Sweep(context.Background())
		case <-s.stop:
			return
		}
	}
}

// Sweep materializes lapsed lots for every member. Returns the number of
// expiration entries written.
func (s *Sweeper) Sweep(ctx context.Context) int {
	now := time.Now()

	users, err := s.Users.ListUsers(ctx)
	if err != nil {
		s.Log.Error("sweep aborted, cannot list users", "error", err)
		return 0
	}

	total := 0
	for _, u := range users {
		n, err := s.Aggregator.MaterializeExpirations(ctx, u.ID, now)
		if err != nil {
			s.Log.Error("sweep failed for user", "user_id", u.ID, "error", err)
			continue
		}
		total += n
	}

	expirationSweeps.Inc()
	if total > 0 {
		expiredEntries.Add(float64(total))
		s.Log.Info("expiration sweep complete", "users", len(users), "expired_entries", total)
	}
	return total
}
