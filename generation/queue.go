package generation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pixelforge/pixelforge/config"
	"github.com/pixelforge/pixelforge/imagegen"
	"github.com/pixelforge/pixelforge/internal/metrics"
	"github.com/pixelforge/pixelforge/types"
)

var (
	// ErrQueueClosed is returned by Enqueue after Stop.
	ErrQueueClosed = errors.New("submission queue closed")
	// ErrQueueFull is returned when the backlog cannot accept more items.
	ErrQueueFull = errors.New("submission queue full")
)

const (
	backlogSize = 256

	// maxTrackedItems caps the item map. Settled items past the cap are
	// evicted oldest first; pending items are never evicted.
	maxTrackedItems = 512
)

// Generator runs one generation request. Satisfied by *Orchestrator.
type Generator interface {
	HandleGenerate(ctx context.Context, req *imagegen.Request) (*Outcome, error)
}

// StatusChecker polls one task handle. Satisfied by *Poller.
type StatusChecker interface {
	CheckStatus(ctx context.Context, taskID string) (*imagegen.Result, error)
}

// Item is one tracked submission. State moves pending -> completed|failed and
// terminal states are final; there is no retry from the queue.
type Item struct {
	ID         string          `json:"id"`
	UserID     uint            `json:"user_id"`
	Prompt     string          `json:"prompt"`
	Engine     imagegen.Engine `json:"engine"`
	State      imagegen.State  `json:"state"`
	TaskID     string          `json:"task_id,omitempty"`
	Image      string          `json:"image,omitempty"`
	FailReason string          `json:"fail_reason,omitempty"`
	RecordID   uint            `json:"record_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`

	settledAt time.Time
}

// Event is published to subscribers whenever an item changes.
type Event struct {
	ItemID           string          `json:"item_id"`
	State            imagegen.State  `json:"state"`
	Engine           imagegen.Engine `json:"engine"`
	TaskID           string          `json:"task_id,omitempty"`
	Image            string          `json:"image,omitempty"`
	FailReason       string          `json:"fail_reason,omitempty"`
	CreditsRemaining int             `json:"credits_remaining,omitempty"`
}

type queuedItem struct {
	item    *Item
	request *imagegen.Request
	hasUser bool
}

// SubmissionQueue serializes a burst of generation requests into a bounded
// number of concurrent in-flight calls. A fixed worker pair pulls items off
// one FIFO channel, which is what enforces the in-flight cap under any
// completion interleaving. Batch submissions expand into independent items
// with no priority over anything else. A periodic ticker re-polls every item
// still awaiting asynchronous completion.
type SubmissionQueue struct {
	gen          Generator
	checker      StatusChecker
	concurrency  int
	pollInterval time.Duration
	retention    time.Duration
	logger       *zap.Logger

	backlog chan *queuedItem

	mu      sync.Mutex
	items   map[string]*Item
	subs    map[int]chan Event
	nextSub int

	inFlight atomic.Int32
	closed   atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewSubmissionQueue wires the queue. Start must be called before Enqueue.
func NewSubmissionQueue(gen Generator, checker StatusChecker, cfg config.QueueConfig, logger *zap.Logger) *SubmissionQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	return &SubmissionQueue{
		gen:          gen,
		checker:      checker,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		retention:    retention,
		logger:       logger,
		backlog:      make(chan *queuedItem, backlogSize),
		items:        make(map[string]*Item),
		subs:         make(map[int]chan Event),
	}
}

// Start launches the workers and the poll loop.
func (q *SubmissionQueue) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel

	for i := 0; i < q.concurrency; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	q.wg.Add(1)
	go q.pollLoop(ctx)
}

// Stop drains nothing: queued items are abandoned, in-flight calls finish.
// The backlog channel is never closed so an Enqueue racing Stop buffers
// harmlessly instead of panicking; workers exit through context cancellation.
func (q *SubmissionQueue) Stop() {
	if !q.closed.CompareAndSwap(false, true) {
		return
	}
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()

	q.mu.Lock()
	for id, ch := range q.subs {
		close(ch)
		delete(q.subs, id)
	}
	q.mu.Unlock()
}

// Enqueue expands the request into batch-count independent items, each with
// its own synthetic id, and queues them all. Returns the item ids in
// submission order.
func (q *SubmissionQueue) Enqueue(ctx context.Context, req *imagegen.Request) ([]string, error) {
	if q.closed.Load() {
		return nil, ErrQueueClosed
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	count := req.Batch
	if count <= 0 {
		count = 1
	}
	userID, hasUser := types.UserID(ctx)

	engine := req.Engine
	if engine == "" {
		engine = imagegen.DefaultEngine
	}

	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		if q.closed.Load() {
			return ids, ErrQueueClosed
		}
		r := *req
		r.Batch = 1

		item := &Item{
			ID:        uuid.NewString(),
			UserID:    userID,
			Prompt:    r.Text(),
			Engine:    engine,
			State:     imagegen.StatePending,
			CreatedAt: time.Now(),
		}
		q.mu.Lock()
		q.items[item.ID] = item
		q.mu.Unlock()

		// The request travels on the queued item, not the map, so workers
		// see the batch-normalized copy.
		qi := &queuedItem{item: item, request: &r, hasUser: hasUser}
		select {
		case q.backlog <- qi:
		default:
			q.mu.Lock()
			delete(q.items, item.ID)
			q.mu.Unlock()
			return ids, ErrQueueFull
		}
		ids = append(ids, item.ID)
	}

	q.pruneSettled(time.Now())
	q.updateGauges()
	return ids, nil
}

// pruneSettled drops terminal items older than the retention window, then
// evicts the oldest settled items while the map exceeds the tracking cap.
func (q *SubmissionQueue) pruneSettled(now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var settled []*Item
	for id, item := range q.items {
		if !item.State.Terminal() {
			continue
		}
		if now.Sub(item.settledAt) >= q.retention {
			delete(q.items, id)
			continue
		}
		settled = append(settled, item)
	}

	if len(q.items) <= maxTrackedItems {
		return
	}
	sort.Slice(settled, func(i, j int) bool {
		return settled[i].settledAt.Before(settled[j].settledAt)
	})
	for _, item := range settled {
		if len(q.items) <= maxTrackedItems {
			break
		}
		delete(q.items, item.ID)
	}
}

// worker pulls items in FIFO order. One item per worker at a time is the
// concurrency cap.
func (q *SubmissionQueue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case qi := <-q.backlog:
			q.inFlight.Add(1)
			q.updateGauges()
			q.dispatch(ctx, qi)
			q.inFlight.Add(-1)
			q.updateGauges()
		}
	}
}

// dispatch runs one item through the orchestrator and settles its state.
func (q *SubmissionQueue) dispatch(ctx context.Context, qi *queuedItem) {
	runCtx := ctx
	if qi.hasUser {
		runCtx = types.WithUserID(ctx, qi.item.UserID)
	}

	outcome, err := q.gen.HandleGenerate(runCtx, qi.request)

	q.mu.Lock()
	item := q.items[qi.item.ID]
	if item == nil {
		q.mu.Unlock()
		return
	}
	var ev Event
	switch {
	case err != nil:
		item.State = imagegen.StateFailed
		item.FailReason = err.Error()
		item.settledAt = time.Now()
		ev = Event{ItemID: item.ID, State: item.State, Engine: item.Engine, FailReason: item.FailReason}
	case outcome.TaskID != "":
		// Async engine accepted the task; the item stays pending until the
		// poll loop observes a terminal state.
		item.TaskID = outcome.TaskID
		item.RecordID = outcome.RecordID
		ev = Event{
			ItemID: item.ID, State: item.State, Engine: item.Engine,
			TaskID: item.TaskID, CreditsRemaining: outcome.CreditsRemaining,
		}
	default:
		item.State = outcome.Result.State
		item.Image = outcome.Result.Image
		item.FailReason = outcome.Result.FailReason
		item.RecordID = outcome.RecordID
		if item.State.Terminal() {
			item.settledAt = time.Now()
		}
		ev = Event{
			ItemID: item.ID, State: item.State, Engine: item.Engine,
			Image: item.Image, FailReason: item.FailReason,
			CreditsRemaining: outcome.CreditsRemaining,
		}
	}
	q.mu.Unlock()

	q.publish(ev)
}

// pollLoop re-polls every pending async item on a fixed cadence. Items are
// checked concurrently per cycle; one item's failure never blocks the others.
func (q *SubmissionQueue) pollLoop(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.PollPending(ctx)
			q.pruneSettled(time.Now())
		}
	}
}

// PollPending runs one poll cycle over all items awaiting async completion.
// Exposed so a status route can force a sweep.
func (q *SubmissionQueue) PollPending(ctx context.Context) {
	q.mu.Lock()
	var waiting []*Item
	for _, item := range q.items {
		if item.State == imagegen.StatePending && item.TaskID != "" {
			waiting = append(waiting, item)
		}
	}
	q.mu.Unlock()

	if len(waiting) == 0 {
		metrics.ObservePollCycle(0, 0)
		return
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for _, item := range waiting {
		g.Go(func() error {
			result, err := q.checker.CheckStatus(gctx, item.TaskID)
			if err != nil {
				// Transient poll failure; the item stays pending for the
				// next cycle.
				q.logger.Warn("poll failed",
					zap.String("item_id", item.ID),
					zap.String("task_id", item.TaskID),
					zap.Error(err))
				return nil
			}
			if !result.State.Terminal() {
				return nil
			}

			q.mu.Lock()
			item.State = result.State
			item.Image = result.Image
			item.FailReason = result.FailReason
			item.settledAt = time.Now()
			ev := Event{
				ItemID: item.ID, State: item.State, Engine: item.Engine,
				TaskID: item.TaskID, Image: item.Image, FailReason: item.FailReason,
			}
			q.mu.Unlock()
			q.publish(ev)
			return nil
		})
	}
	_ = g.Wait()
	metrics.ObservePollCycle(time.Since(start), len(waiting))
}

// Subscribe returns a channel of item events and an unsubscribe function.
// Slow subscribers drop events rather than stalling the queue.
func (q *SubmissionQueue) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	q.mu.Lock()
	id := q.nextSub
	q.nextSub++
	q.subs[id] = ch
	q.mu.Unlock()

	return ch, func() {
		q.mu.Lock()
		if sub, ok := q.subs[id]; ok {
			delete(q.subs, id)
			close(sub)
		}
		q.mu.Unlock()
	}
}

func (q *SubmissionQueue) publish(ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, ch := range q.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Item returns a snapshot of one tracked item.
func (q *SubmissionQueue) Item(id string) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return Item{}, false
	}
	return *item, true
}

// Items returns a snapshot of every tracked item.
func (q *SubmissionQueue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, 0, len(q.items))
	for _, item := range q.items {
		out = append(out, *item)
	}
	return out
}

// InFlight reports how many items are currently dispatched.
func (q *SubmissionQueue) InFlight() int {
	return int(q.inFlight.Load())
}

func (q *SubmissionQueue) updateGauges() {
	metrics.SetQueueGauges(int(q.inFlight.Load()), len(q.backlog))
}
