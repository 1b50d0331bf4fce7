package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/nhle/mail-outbox/internal/model"
	"github.com/nhle/mail-outbox/internal/queue"
)

// Report summarizes one drain cycle.
type Report struct {
	// Dispatched counts handler invocations.
	Dispatched int

	// Removed counts tasks that left a queue during the cycle, including
	// coalesced siblings and de-duplicated sign-out markers.
	Removed int

	// Failed counts transient failures.
	Failed int

	// Paused is set when the budget ran out or ctx was cancelled before the
	// queues were exhausted.
	Paused bool

	// Offline and HumanCheck are set when the cycle did not dispatch at all.
	Offline    bool
	HumanCheck bool

	// Err holds the first persistence error. The queue it happened in was
	// not walked further.
	Err error
}

// Unbounded is a budget that never runs out.
func Unbounded() time.Duration { return time.Duration(1<<63 - 1) }

// Deadline returns a budget that runs out at t.
func Deadline(t time.Time) func() time.Duration {
	return func() time.Duration { return time.Until(t) }
}

// Drain runs a drain cycle and returns its report. remaining is polled before
// each task; nil means unbounded. Concurrent calls share the cycle already
// in flight and receive its report.
func (c *Coordinator) Drain(ctx context.Context, remaining func() time.Duration) Report {
	if remaining == nil {
		remaining = Unbounded
	}
	v, _, _ := c.flight.Do("drain", func() (any, error) {
		r := c.drain(ctx, remaining)
		c.metrics.drained(r)
		c.metrics.pending(c.Counts())
		return r, nil
	})
	return v.(Report)
}

// BackgroundFetch drains in the background within the given budget and
// calls onDone exactly once with the cycle's report.
func (c *Coordinator) BackgroundFetch(ctx context.Context, remaining func() time.Duration, onDone func(Report)) {
	go func() {
		r := c.Drain(ctx, remaining)
		if onDone != nil {
			onDone(r)
		}
	}()
}

// Queue drains in the background without a budget and calls onDone exactly
// once.
func (c *Coordinator) Queue(ctx context.Context, onDone func(Report)) {
	c.BackgroundFetch(ctx, nil, onDone)
}

func (c *Coordinator) drain(ctx context.Context, remaining func() time.Duration) Report {
	var report Report

	if c.humanCheck.Load() {
		report.HumanCheck = true
		c.logger.InfoContext(ctx, "drain skipped", slog.String("reason", "human check required"))
		return report
	}
	if c.reach != nil && !c.reach.Reachable(ctx) {
		report.Offline = true
		c.logger.InfoContext(ctx, "drain skipped", slog.String("reason", "offline"))
		return report
	}

	done := map[*queue.Queue]bool{}
	retries := map[string]int{}

	for !done[c.entity] || !done[c.global] {
		for _, q := range []*queue.Queue{c.entity, c.global} {
			if done[q] {
				continue
			}
			switch c.step(ctx, q, remaining, retries, &report) {
			case stepDone:
				done[q] = true
			case stepPaused:
				report.Paused = true
				c.logger.InfoContext(ctx, "drain paused",
					slog.Int("dispatched", report.Dispatched),
					slog.Int("removed", report.Removed))
				return report
			}
		}
	}

	c.logger.DebugContext(ctx, "drain finished",
		slog.Int("dispatched", report.Dispatched),
		slog.Int("removed", report.Removed),
		slog.Int("failed", report.Failed))
	return report
}

type stepResult int

const (
	stepAgain stepResult = iota
	stepDone
	stepPaused
)

// step dispatches the earliest runnable task of q and applies its result.
// remaining is polled once a runnable task has been found.
func (c *Coordinator) step(
	ctx context.Context,
	q *queue.Queue,
	remaining func() time.Duration,
	retries map[string]int,
	report *Report,
) stepResult {
	task, ok := c.nextRunnable(ctx, q)
	if !ok {
		return stepDone
	}
	if ctx.Err() != nil || remaining() <= 0 {
		return stepPaused
	}

	if task.IsSignOut() && c.other(q).Contains(task.ID) {
		// The same sign-out is still queued on the other side; let that
		// copy be the one dispatched.
		c.mu.Lock()
		n, err := c.removeIDs(ctx, q, map[string]struct{}{task.ID: {}})
		c.mu.Unlock()
		report.Removed += n
		return c.noteErr(ctx, report, err)
	}

	h, ok := c.handler(task.OwnerID)
	if !ok {
		return stepAgain
	}

	report.Dispatched++
	res := c.dispatch(ctx, h, task)
	c.logger.InfoContext(ctx, "task dispatched",
		append(taskAttrs(task),
			slog.String("queue", c.queueName(q)),
			slog.String("outcome", res.Outcome.String()),
			slog.Any("error", res.Err))...)

	if res.Outcome == OutcomeRetry {
		if retries[task.ID] < c.retryLimit {
			retries[task.ID]++
			return stepAgain
		}
		res.Outcome = OutcomeTransient
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !q.Contains(task.ID) {
		// Removed while the handler ran, e.g. by a sign-out or ClearAll.
		return stepAgain
	}

	if task.IsSignOut() {
		n, err := c.removeIDs(ctx, q, map[string]struct{}{task.ID: {}})
		report.Removed += n
		c.UnregisterHandler(task.OwnerID)
		return c.noteErr(ctx, report, err)
	}

	var ids map[string]struct{}
	switch res.Outcome {
	case OutcomeTransient:
		report.Failed++
		return stepDone
	case OutcomeSuccess:
		ids = map[string]struct{}{task.ID: {}}
	case OutcomeDropRelated:
		ids = c.related(ctx, q, task)
	case OutcomeBatchCheck:
		ids = c.batch(ctx, q, task)
	case OutcomeRemoveDoubleSent:
		ids = map[string]struct{}{task.ID: {}}
	default:
		report.Failed++
		return stepDone
	}

	n, err := c.removeIDs(ctx, q, ids)
	report.Removed += n
	if err != nil {
		return c.noteErr(ctx, report, err)
	}

	if res.Outcome == OutcomeRemoveDoubleSent && res.DoubleSent != nil {
		ds := res.DoubleSent
		n, err := c.removeWhere(ctx, c.entity, func(t model.Task) bool {
			return t.EntityID == ds.EntityID && t.OwnerID == task.OwnerID &&
				slices.Contains(ds.Kinds, t.Kind())
		})
		report.Removed += n
		return c.noteErr(ctx, report, err)
	}
	return stepAgain
}

// noteErr records a persistence error. The queue it happened in is not
// walked again in this cycle.
func (c *Coordinator) noteErr(ctx context.Context, report *Report, err error) stepResult {
	if err == nil {
		return stepAgain
	}
	c.logger.ErrorContext(ctx, "applying task outcome failed", slog.Any("error", err))
	if report.Err == nil {
		report.Err = err
	}
	return stepDone
}

// dispatch runs the handler, turning a panic into a transient failure.
func (c *Coordinator) dispatch(ctx context.Context, h Handler, task model.Task) (res Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = Transient(fmt.Errorf("handler panic: %v", r))
		}
		c.metrics.handled(task.Kind(), res.Outcome, time.Since(start))
	}()
	return h.Handle(ctx, task)
}

// nextRunnable returns the earliest task in q with no pending dependencies
// and a registered handler.
func (c *Coordinator) nextRunnable(ctx context.Context, q *queue.Queue) (model.Task, bool) {
	for _, t := range c.decodeAll(ctx, q) {
		if c.runnable(t) {
			return t, true
		}
	}
	return model.Task{}, false
}

// related collects task and every task in q of the same owner and entity in
// the same action family. Caller must hold c.mu.
func (c *Coordinator) related(ctx context.Context, q *queue.Queue, task model.Task) map[string]struct{} {
	ids := map[string]struct{}{task.ID: {}}
	if task.EntityID == "" {
		return ids
	}
	family := task.Kind().Family()
	for _, t := range c.decodeAll(ctx, q) {
		if t.OwnerID == task.OwnerID && t.EntityID == task.EntityID && t.Kind().Family() == family {
			ids[t.ID] = struct{}{}
		}
	}
	return ids
}

// batch collects task and the run of tasks of the same owner, entity and
// kind that follows it in q. The run ends at the first later task on that
// owner and entity with a different kind, so a later change of mind is
// still dispatched. Caller must hold c.mu.
func (c *Coordinator) batch(ctx context.Context, q *queue.Queue, task model.Task) map[string]struct{} {
	ids := map[string]struct{}{task.ID: {}}
	if task.EntityID == "" {
		return ids
	}

	after := false
	for _, t := range c.decodeAll(ctx, q) {
		if t.ID == task.ID {
			after = true
			continue
		}
		if !after || t.OwnerID != task.OwnerID || t.EntityID != task.EntityID {
			continue
		}
		if t.Kind() != task.Kind() {
			break
		}
		ids[t.ID] = struct{}{}
	}
	return ids
}
