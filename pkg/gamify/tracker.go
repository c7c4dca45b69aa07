package gamify

import (
	"container/heap"
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/masa-finance/gamify-sdk-go/pkg/logger"
)

const (
	DefaultTrackerWorkers  = 5
	DefaultPriority        = 100
	DefaultTrackerAttempts = 3
)

// TrackOutcome is delivered once per enqueued event.
type TrackOutcome struct {
	Event  Event
	Result *Result[TrackResult]
	Err    error
}

// trackItem represents an event waiting in the priority queue
type trackItem struct {
	event    Event
	priority int
	seq      uint64
	index    int
	done     chan TrackOutcome
}

// trackQueue implements heap.Interface. Lower priority values go first, ties in
// enqueue order.
type trackQueue []*trackItem

func (pq trackQueue) Len() int { return len(pq) }
func (pq trackQueue) Less(i, j int) bool {
	if pq[i].priority != pq[j].priority {
		return pq[i].priority < pq[j].priority
	}
	return pq[i].seq < pq[j].seq
}
func (pq trackQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *trackQueue) Push(x interface{}) {
	item := x.(*trackItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}

func (pq *trackQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[0 : n-1]
	return item
}

// Tracker sends events in the background through a pool of workers, highest
// priority (lowest value) first. Every queued event is given an idempotency
// key so worker retries are deduplicated by the server.
type Tracker struct {
	client      *Client
	workers     int
	maxAttempts int

	mu    sync.Mutex
	queue trackQueue
	seq   uint64

	// run is the active dispatcher and workers; nil while stopped
	run *trackerRun

	notify chan struct{}
	jobs   chan *trackItem
}

type trackerRun struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTracker creates a tracker with the given number of workers.
func NewTracker(client *Client, workers int) *Tracker {
	if workers <= 0 {
		workers = DefaultTrackerWorkers
	}
	t := &Tracker{
		client:      client,
		workers:     workers,
		maxAttempts: DefaultTrackerAttempts,
		notify:      make(chan struct{}, 1),
		jobs:        make(chan *trackItem),
	}
	heap.Init(&t.queue)
	return t
}

// SetMaxAttempts bounds how many times a worker sends a rate-limited event.
func (t *Tracker) SetMaxAttempts(n int) {
	if n < 1 {
		n = 1
	}
	t.mu.Lock()
	t.maxAttempts = n
	t.mu.Unlock()
}

// Enqueue adds an event and returns a channel that receives its outcome.
func (t *Tracker) Enqueue(e Event, priority int) <-chan TrackOutcome {
	if e.IdempotencyKey == "" {
		e.IdempotencyKey = uuid.NewString()
	}
	done := make(chan TrackOutcome, 1)
	t.push(e, priority, done)
	return done
}

func (t *Tracker) push(e Event, priority int, done chan TrackOutcome) {
	t.mu.Lock()
	t.seq++
	heap.Push(&t.queue, &trackItem{event: e, priority: priority, seq: t.seq, done: done})
	t.mu.Unlock()

	logger.Debugf("Queued %s event for %s with priority %d", e.EventType, e.UserID, priority)
	t.wake()
}

func (t *Tracker) wake() {
	select {
	case t.notify <- struct{}{}:
	default:
	}
}

// Pending returns the number of events not yet handed to a worker.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queue.Len()
}

// Start launches the workers and the dispatcher. It is a no-op when running.
// A stopped tracker can be started again and picks up the pending events.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.run != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := &trackerRun{cancel: cancel}
	t.run = run

	for i := 0; i < t.workers; i++ {
		run.wg.Add(1)
		go t.work(ctx, &run.wg, i)
	}
	run.wg.Add(1)
	go t.dispatch(ctx, &run.wg)
	t.wake()
	logger.Infof("Event tracker started with %d workers", t.workers)
}

// Stop halts the tracker. Queued events stay pending and can be saved with
// SaveState or sent by a later Start; events in flight are cancelled and
// report the cancellation.
func (t *Tracker) Stop() {
	t.mu.Lock()
	run := t.run
	t.run = nil
	t.mu.Unlock()
	if run == nil {
		return
	}

	logger.Infof("Stopping event tracker...")
	run.cancel()
	run.wg.Wait()
	logger.Infof("Event tracker stopped, %d events pending", t.Pending())
}

// dispatch moves items from the priority queue to idle workers.
func (t *Tracker) dispatch(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		t.mu.Lock()
		var item *trackItem
		if t.queue.Len() > 0 {
			item = heap.Pop(&t.queue).(*trackItem)
		}
		t.mu.Unlock()

		if item == nil {
			select {
			case <-t.notify:
				continue
			case <-ctx.Done():
				return
			}
		}

		select {
		case t.jobs <- item:
		case <-ctx.Done():
			t.mu.Lock()
			heap.Push(&t.queue, item)
			t.mu.Unlock()
			return
		}
	}
}

func (t *Tracker) work(ctx context.Context, wg *sync.WaitGroup, id int) {
	defer wg.Done()
	for {
		select {
		case item := <-t.jobs:
			item.done <- t.send(ctx, id, item.event)
		case <-ctx.Done():
			return
		}
	}
}

// send tracks a single event, retrying rate-limit failures
func (t *Tracker) send(ctx context.Context, worker int, e Event) TrackOutcome {
	t.mu.Lock()
	maxAttempts := t.maxAttempts
	t.mu.Unlock()

	for attempt := 1; ; attempt++ {
		res, err := t.client.Events.Track(ctx, e)
		if err == nil {
			logger.Debugf("Worker %d: event %s tracked for %s", worker, e.EventType, e.UserID)
			return TrackOutcome{Event: e, Result: res}
		}

		if !IsRetryable(err) || attempt >= maxAttempts {
			logger.Errorf("Worker %d: event %s for %s failed after %d attempts: %v", worker, e.EventType, e.UserID, attempt, err)
			return TrackOutcome{Event: e, Err: err}
		}

		delay := GetRetryDelay(err)
		logger.Warnf("Worker %d: attempt %d for event %s failed: %v, retrying in %v", worker, attempt, e.EventType, err, delay)
		if sleepErr := sleepContext(ctx, delay); sleepErr != nil {
			return TrackOutcome{Event: e, Err: err}
		}
	}
}
