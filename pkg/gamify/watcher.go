package gamify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/masa-finance/gamify-sdk-go/pkg/logger"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultWatchInterval is the time between leaderboard polls.
	DefaultWatchInterval = 5 * time.Minute

	maxConcurrentPolls = 4
)

// SnapshotHandler receives every leaderboard fetched during a poll cycle.
type SnapshotHandler func(leaderboardID string, cycle int, lb *Leaderboard)

// Watcher polls a set of leaderboards on an interval and hands each snapshot
// to the registered handlers. Failed fetches are logged and skipped; the
// watcher keeps running.
//
// Example usage:
//
//	watcher := gamify.NewWatcher(client, time.Minute)
//	watcher.Watch("weekly", gamify.LeaderboardQuery{Limit: 50})
//	if last, err := db.MaxCycle(database); err == nil {
//	    watcher.SetCycle(last)
//	}
//	watcher.OnSnapshot(db.SnapshotHandler(database))
//	watcher.Start()
//	defer watcher.Stop()
type Watcher struct {
	client   *Client
	interval time.Duration

	mu       sync.RWMutex
	watches  map[string]LeaderboardQuery
	handlers []SnapshotHandler
	cycle    int

	lifecycle sync.Mutex
	stop      chan struct{}
	done      chan struct{}
}

// NewWatcher creates a watcher polling every interval.
func NewWatcher(client *Client, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	return &Watcher{
		client:   client,
		interval: interval,
		watches:  make(map[string]LeaderboardQuery),
	}
}

// Watch adds or replaces a leaderboard to poll.
func (w *Watcher) Watch(leaderboardID string, q LeaderboardQuery) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watches[leaderboardID] = q
	logger.Debugf("Watching leaderboard %s", leaderboardID)
}

// Unwatch stops polling a leaderboard.
func (w *Watcher) Unwatch(leaderboardID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.watches, leaderboardID)
	logger.Debugf("Stopped watching leaderboard %s", leaderboardID)
}

// OnSnapshot registers a handler. Handlers run sequentially on the polling goroutine.
func (w *Watcher) OnSnapshot(handler SnapshotHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, handler)
}

// Cycle returns the number of completed poll cycles.
func (w *Watcher) Cycle() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cycle
}

// SetCycle sets the completed cycle count, so the next poll is cycle n+1.
// Use it to continue numbering from a previous run, e.g. with db.MaxCycle.
func (w *Watcher) SetCycle(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cycle = n
}

// PollNow fetches every watched leaderboard once, concurrently, then calls the
// handlers in leaderboard ID order. It returns the joined fetch errors.
func (w *Watcher) PollNow(ctx context.Context) error {
	w.mu.RLock()
	watches := make(map[string]LeaderboardQuery, len(w.watches))
	for id, q := range w.watches {
		watches[id] = q
	}
	w.mu.RUnlock()

	var (
		resultsMu sync.Mutex
		results   = make(map[string]*Leaderboard, len(watches))
		errs      []error
	)

	var g errgroup.Group
	g.SetLimit(maxConcurrentPolls)
	for id, q := range watches {
		id, q := id, q
		g.Go(func() error {
			res, err := w.client.Leaderboards.Get(ctx, id, q)
			resultsMu.Lock()
			defer resultsMu.Unlock()
			if err != nil {
				logger.Errorf("Leaderboard %s poll failed: %v", id, err)
				errs = append(errs, fmt.Errorf("leaderboard %s: %w", id, err))
				return nil
			}
			lb := res.Data
			results[id] = &lb
			return nil
		})
	}
	_ = g.Wait()

	w.mu.Lock()
	w.cycle++
	cycle := w.cycle
	handlers := append([]SnapshotHandler(nil), w.handlers...)
	w.mu.Unlock()

	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		for _, handler := range handlers {
			handler(id, cycle, results[id])
		}
	}

	logger.Debugf("Leaderboard poll cycle %d completed: %d fetched, %d failed", cycle, len(results), len(errs))
	return errors.Join(errs...)
}

// Start begins polling in the background. It is a no-op when already running.
func (w *Watcher) Start() {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()
	if w.stop != nil {
		return
	}
	w.stop = make(chan struct{})
	w.done = make(chan struct{})

	go w.run(w.stop, w.done)
	logger.Infof("Leaderboard watcher started with interval: %v", w.interval)
}

func (w *Watcher) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = w.PollNow(ctx)
		case <-stop:
			return
		}
	}
}

// Stop halts polling and waits for an in-progress cycle to finish.
func (w *Watcher) Stop() {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()
	if w.stop == nil {
		return
	}
	close(w.stop)
	<-w.done
	w.stop, w.done = nil, nil
	logger.Infof("Leaderboard watcher stopped")
}
