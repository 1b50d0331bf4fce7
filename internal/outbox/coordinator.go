// Package outbox routes mail mutations into two durable queues and drains
// them against per-account handlers.
//
// Tasks that mutate one draft go to the entity queue; everything else goes to
// the global queue. Within a queue, a task depends on the previous task for
// the same owner and entity, so mutations of one draft run in the order they
// were requested.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/nhle/mail-outbox/internal/model"
	"github.com/nhle/mail-outbox/internal/queue"
)

var (
	// ErrNoHandler is returned by AddTask when the task's owner has no
	// registered handler.
	ErrNoHandler = errors.New("no handler registered for owner")

	// ErrInvalidTask is returned by AddTask for degenerate tasks.
	ErrInvalidTask = model.ErrInvalidTask
)

// Queue names as reported by Tasks.
const (
	EntityQueue = "entity"
	GlobalQueue = "global"
)

// MarkerPolicy decides which queues receive a sign-out marker.
type MarkerPolicy string

const (
	// MarkersWhereWork marks the queues that held the owner's work, or the
	// global queue when neither did.
	MarkersWhereWork MarkerPolicy = model.SignOutMarkersWhereWork

	// MarkersAlways marks both queues.
	MarkersAlways MarkerPolicy = model.SignOutMarkersAlways
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRetryLimit caps in-cycle re-dispatches after OutcomeRetry.
func WithRetryLimit(n int) Option {
	return func(c *Coordinator) {
		if n >= 0 {
			c.retryLimit = n
		}
	}
}

// WithMarkerPolicy selects where sign-out markers go.
func WithMarkerPolicy(p MarkerPolicy) Option {
	return func(c *Coordinator) {
		if p == MarkersWhereWork || p == MarkersAlways {
			c.markerPolicy = p
		}
	}
}

// WithReachability gates every drain on r.
func WithReachability(r Reachability) Option {
	return func(c *Coordinator) {
		c.reach = r
	}
}

// WithMetrics records enqueues, handler outcomes, drains and queue depth.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// Coordinator owns the entity and global queues and the handler registry.
type Coordinator struct {
	// mu serializes read-modify-write sequences over the queues: dependency
	// linking on enqueue, sign-in/out, and outcome application.
	mu     sync.Mutex
	entity *queue.Queue
	global *queue.Queue

	hmu      sync.RWMutex
	handlers map[string]Handler

	flight     singleflight.Group
	humanCheck atomic.Bool

	reach        Reachability
	retryLimit   int
	markerPolicy MarkerPolicy
	metrics      *Metrics
	logger       *slog.Logger
}

// New returns a coordinator over the given queues. The queues must not be
// mutated by anything else.
func New(entity, global *queue.Queue, opts ...Option) *Coordinator {
	c := &Coordinator{
		entity:       entity,
		global:       global,
		handlers:     make(map[string]Handler),
		retryLimit:   3,
		markerPolicy: MarkersWhereWork,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterHandler installs h for ownerID, replacing any previous handler.
func (c *Coordinator) RegisterHandler(ownerID string, h Handler) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.handlers[ownerID] = h
}

// UnregisterHandler removes the handler for ownerID. Queued tasks of that
// owner stay queued but are not dispatched.
func (c *Coordinator) UnregisterHandler(ownerID string) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	delete(c.handlers, ownerID)
}

func (c *Coordinator) handler(ownerID string) (Handler, bool) {
	c.hmu.RLock()
	defer c.hmu.RUnlock()
	h, ok := c.handlers[ownerID]
	return h, ok
}

// SetHumanCheckRequired pauses dispatch until cleared, e.g. while the server
// waits for the user to solve a challenge.
func (c *Coordinator) SetHumanCheckRequired(required bool) {
	c.humanCheck.Store(required)
}

// HumanCheckRequired reports whether dispatch is paused.
func (c *Coordinator) HumanCheckRequired() bool {
	return c.humanCheck.Load()
}

func (c *Coordinator) queueFor(kind model.ActionKind) *queue.Queue {
	if kind.EntityScoped() {
		return c.entity
	}
	return c.global
}

func (c *Coordinator) other(q *queue.Queue) *queue.Queue {
	if q == c.entity {
		return c.global
	}
	return c.entity
}

func (c *Coordinator) queueName(q *queue.Queue) string {
	if q == c.entity {
		return EntityQueue
	}
	return GlobalQueue
}

// AddTask validates task and enqueues it. It returns the task ID, which is
// empty for sign-in since sign-in only resets the owner's queued state.
// When autoExecute is set a drain cycle is started in the background.
func (c *Coordinator) AddTask(ctx context.Context, task model.Task, autoExecute bool) (string, error) {
	if _, ok := c.handler(task.OwnerID); !ok {
		c.logger.WarnContext(ctx, "task rejected", append(taskAttrs(task), slog.String("reason", "no handler"))...)
		return "", fmt.Errorf("adding %s task: %w: %q", task.Kind(), ErrNoHandler, task.OwnerID)
	}
	if err := task.Validate(); err != nil {
		c.logger.WarnContext(ctx, "task rejected", append(taskAttrs(task), slog.Any("error", err))...)
		return "", err
	}

	c.mu.Lock()
	var (
		id  string
		err error
	)
	switch task.Kind() {
	case model.KindSignIn:
		_, err = c.removeOwner(ctx, task.OwnerID)
	case model.KindSignOut:
		id, err = c.signOut(ctx, task)
	default:
		id, err = c.enqueue(ctx, task)
	}
	c.mu.Unlock()
	c.metrics.pending(c.Counts())

	if err != nil {
		return "", err
	}

	if autoExecute {
		c.Queue(context.WithoutCancel(ctx), nil)
	}
	return id, nil
}

// enqueue links task to the latest queued task on the same entity and
// appends it. Caller must hold c.mu.
func (c *Coordinator) enqueue(ctx context.Context, task model.Task) (string, error) {
	q := c.queueFor(task.Kind())

	task.DependencyIDs = nil
	if task.EntityID != "" {
		tasks := c.decodeAll(ctx, q)
		for i := len(tasks) - 1; i >= 0; i-- {
			prev := tasks[i]
			if prev.OwnerID == task.OwnerID && prev.EntityID == task.EntityID {
				task.DependencyIDs = []string{prev.ID}
				break
			}
		}
	}

	payload, err := model.EncodeTask(task)
	if err != nil {
		return "", fmt.Errorf("encoding task: %w", err)
	}
	id, err := q.Add(ctx, payload)
	if err != nil {
		return "", fmt.Errorf("enqueuing %s task: %w", task.Kind(), err)
	}

	task.ID = id
	c.metrics.enqueued(c.queueName(q), task.Kind())
	c.logger.DebugContext(ctx, "task enqueued",
		append(taskAttrs(task), slog.String("queue", c.queueName(q)))...)
	return id, nil
}

// signOut drops the owner's queued work and puts a marker at the head of the
// queues chosen by the marker policy. Every marker shares one ID. Caller
// must hold c.mu.
func (c *Coordinator) signOut(ctx context.Context, task model.Task) (string, error) {
	owned := ownedBy(task.OwnerID)

	removedEntity, err := c.removeWhere(ctx, c.entity, owned)
	if err != nil {
		return "", err
	}
	removedGlobal, err := c.removeWhere(ctx, c.global, owned)
	if err != nil {
		return "", err
	}

	var targets []*queue.Queue
	switch {
	case c.markerPolicy == MarkersAlways:
		targets = []*queue.Queue{c.entity, c.global}
	default:
		if removedEntity > 0 {
			targets = append(targets, c.entity)
		}
		if removedGlobal > 0 || len(targets) == 0 {
			targets = append(targets, c.global)
		}
	}

	marker := model.NewTask(task.OwnerID, task.EntityID, model.SignOut{})
	payload, err := model.EncodeTask(marker)
	if err != nil {
		return "", fmt.Errorf("encoding sign-out marker: %w", err)
	}

	id := uuid.NewString()
	for _, q := range targets {
		if _, err := q.Insert(ctx, id, payload, 0); err != nil {
			return "", fmt.Errorf("inserting sign-out marker: %w", err)
		}
	}

	c.logger.InfoContext(ctx, "sign-out queued",
		slog.String("owner_id", task.OwnerID),
		slog.String("task_id", id),
		slog.Int("removed", removedEntity+removedGlobal),
		slog.Int("markers", len(targets)))
	return id, nil
}

// removeOwner drops every task of ownerID from both queues. Caller must hold
// c.mu.
func (c *Coordinator) removeOwner(ctx context.Context, ownerID string) (int, error) {
	owned := ownedBy(ownerID)
	n, err := c.removeWhere(ctx, c.entity, owned)
	if err != nil {
		return n, err
	}
	m, err := c.removeWhere(ctx, c.global, owned)
	return n + m, err
}

// removeWhere removes every task in q matching match and strips the removed
// IDs from the dependencies of the tasks left behind. Caller must hold c.mu.
func (c *Coordinator) removeWhere(ctx context.Context, q *queue.Queue, match func(model.Task) bool) (int, error) {
	removed := make(map[string]struct{})
	for _, t := range c.decodeAll(ctx, q) {
		if match(t) {
			removed[t.ID] = struct{}{}
		}
	}
	return c.removeIDs(ctx, q, removed)
}

// removeIDs removes the given elements from q and releases their
// dependents. Caller must hold c.mu.
func (c *Coordinator) removeIDs(ctx context.Context, q *queue.Queue, ids map[string]struct{}) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	n, err := q.RemoveFunc(ctx, func(e queue.Element) bool {
		_, ok := ids[e.ID]
		return ok
	})
	if err != nil {
		return 0, fmt.Errorf("removing tasks from %s queue: %w", c.queueName(q), err)
	}

	for _, t := range c.decodeAll(ctx, q) {
		released := t
		for id := range ids {
			if released.DependsOn(id) {
				released = released.WithoutDependency(id)
			}
		}
		if len(released.DependencyIDs) == len(t.DependencyIDs) {
			continue
		}
		payload, err := model.EncodeTask(released)
		if err != nil {
			return n, fmt.Errorf("encoding task %s: %w", t.ID, err)
		}
		if _, err := q.Update(ctx, t.ID, payload); err != nil {
			return n, fmt.Errorf("releasing dependents of removed tasks: %w", err)
		}
	}
	return n, nil
}

// decodeAll returns q's tasks in order. Elements that fail to decode are
// logged and left out; they stay in the queue untouched.
func (c *Coordinator) decodeAll(ctx context.Context, q *queue.Queue) []model.Task {
	elems := q.Snapshot()
	tasks := make([]model.Task, 0, len(elems))
	for _, e := range elems {
		t, err := model.DecodeTask(e.ID, e.Payload)
		if err != nil {
			c.logger.ErrorContext(ctx, "undecodable queue element",
				slog.String("queue", c.queueName(q)),
				slog.String("task_id", e.ID),
				slog.Any("error", err))
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks
}

// RemoveAllTasks removes the entity-scoped tasks of entityID whose action
// satisfies match. The global queue is untouched.
func (c *Coordinator) RemoveAllTasks(ctx context.Context, entityID string, match func(model.Action) bool) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.removeWhere(ctx, c.entity, func(t model.Task) bool {
		return t.EntityID == entityID && match(t.Action)
	})
}

// DeleteAllQueuedMessage removes every task of ownerID from both queues.
func (c *Coordinator) DeleteAllQueuedMessage(ctx context.Context, ownerID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, err := c.removeOwner(ctx, ownerID)
	if err == nil {
		c.logger.InfoContext(ctx, "owner tasks removed",
			slog.String("owner_id", ownerID), slog.Int("removed", n))
	}
	return n, err
}

// ClearAll empties both queues.
func (c *Coordinator) ClearAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.entity.ClearAll(ctx); err != nil {
		return fmt.Errorf("clearing entity queue: %w", err)
	}
	if err := c.global.ClearAll(ctx); err != nil {
		return fmt.Errorf("clearing global queue: %w", err)
	}
	return nil
}

// IsAnyQueuedMessage reports whether either queue holds a task of ownerID.
func (c *Coordinator) IsAnyQueuedMessage(ctx context.Context, ownerID string) bool {
	owned := ownedBy(ownerID)
	return slices.ContainsFunc(c.decodeAll(ctx, c.entity), owned) ||
		slices.ContainsFunc(c.decodeAll(ctx, c.global), owned)
}

// QueuedMessageIDs returns the sorted entity IDs with at least one pending
// entity-scoped task.
func (c *Coordinator) QueuedMessageIDs(ctx context.Context) []string {
	return entityIDs(c.decodeAll(ctx, c.entity))
}

// QueuedGlobalEntityIDs returns the sorted entity IDs referenced by tasks in
// the global queue.
func (c *Coordinator) QueuedGlobalEntityIDs(ctx context.Context) []string {
	return entityIDs(c.decodeAll(ctx, c.global))
}

// QueuedTask is a task together with the queue holding it.
type QueuedTask struct {
	Queue    string
	Task     model.Task
	Runnable bool
}

// Tasks returns every queued task, entity queue first.
func (c *Coordinator) Tasks(ctx context.Context) []QueuedTask {
	var out []QueuedTask
	for _, q := range []*queue.Queue{c.entity, c.global} {
		for _, t := range c.decodeAll(ctx, q) {
			out = append(out, QueuedTask{
				Queue:    c.queueName(q),
				Task:     t,
				Runnable: c.runnable(t),
			})
		}
	}
	return out
}

// Counts returns the number of elements in the entity and global queues.
func (c *Coordinator) Counts() (entity, global int) {
	return c.entity.Count(), c.global.Count()
}

// Stalled returns tasks waiting on a dependency that is no longer queued.
// They never become runnable on their own.
func (c *Coordinator) Stalled(ctx context.Context) []model.Task {
	var out []model.Task
	for _, q := range []*queue.Queue{c.entity, c.global} {
		for _, t := range c.decodeAll(ctx, q) {
			if slices.ContainsFunc(t.DependencyIDs, func(dep string) bool { return !q.Contains(dep) }) {
				out = append(out, t)
			}
		}
	}
	return out
}

func (c *Coordinator) runnable(t model.Task) bool {
	if len(t.DependencyIDs) > 0 {
		return false
	}
	_, ok := c.handler(t.OwnerID)
	return ok
}

func ownedBy(ownerID string) func(model.Task) bool {
	return func(t model.Task) bool { return t.OwnerID == ownerID }
}

func entityIDs(tasks []model.Task) []string {
	var ids []string
	for _, t := range tasks {
		if t.EntityID != "" && !slices.Contains(ids, t.EntityID) {
			ids = append(ids, t.EntityID)
		}
	}
	slices.Sort(ids)
	return ids
}

func taskAttrs(t model.Task) []any {
	return []any{
		slog.String("task_id", t.ID),
		slog.String("owner_id", t.OwnerID),
		slog.String("entity_id", t.EntityID),
		slog.String("action", string(t.Kind())),
	}
}
