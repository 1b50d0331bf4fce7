package outbox

import (
	"context"

	"github.com/nhle/mail-outbox/internal/model"
)

// Outcome tells the coordinator what to do with a dispatched task.
type Outcome int

const (
	// OutcomeSuccess removes the task and releases its dependents.
	OutcomeSuccess Outcome = iota

	// OutcomeTransient keeps the task for a later cycle and stops its queue
	// for the current one. Sign-out tasks are removed anyway.
	OutcomeTransient

	// OutcomeDropRelated removes the task and every queued task of the same
	// owner and entity in the same action family.
	OutcomeDropRelated

	// OutcomeBatchCheck removes the task, the tasks that depend on it, and
	// later tasks of the same owner, entity and kind.
	OutcomeBatchCheck

	// OutcomeRetry re-dispatches the task within the same cycle until the
	// retry limit, after which it is treated as transient.
	OutcomeRetry

	// OutcomeRemoveDoubleSent removes the task and then the entity-scoped
	// tasks of Result.DoubleSent.
	OutcomeRemoveDoubleSent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient"
	case OutcomeDropRelated:
		return "drop-related"
	case OutcomeBatchCheck:
		return "batch-check"
	case OutcomeRetry:
		return "retry"
	case OutcomeRemoveDoubleSent:
		return "remove-double-sent"
	}
	return "unknown"
}

// DoubleSent names the tasks to discard after a message turned out to have
// been delivered already.
type DoubleSent struct {
	EntityID string
	Kinds    []model.ActionKind
}

// Result is what a handler reports for one task.
type Result struct {
	Outcome    Outcome
	Err        error
	DoubleSent *DoubleSent
}

func Success() Result { return Result{Outcome: OutcomeSuccess} }

func Transient(err error) Result { return Result{Outcome: OutcomeTransient, Err: err} }

func DropRelated(err error) Result { return Result{Outcome: OutcomeDropRelated, Err: err} }

func BatchCheck() Result { return Result{Outcome: OutcomeBatchCheck} }

func Retry(err error) Result { return Result{Outcome: OutcomeRetry, Err: err} }

// RemoveDoubleSent reports that entityID was already delivered and its
// queued tasks of the given kinds are obsolete.
func RemoveDoubleSent(entityID string, kinds ...model.ActionKind) Result {
	return Result{
		Outcome:    OutcomeRemoveDoubleSent,
		DoubleSent: &DoubleSent{EntityID: entityID, Kinds: kinds},
	}
}

// Handler performs tasks for one owner against the remote server. Handle
// may block; the coordinator waits for its result before touching the task
// again.
type Handler interface {
	Handle(ctx context.Context, task model.Task) Result
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, task model.Task) Result

func (f HandlerFunc) Handle(ctx context.Context, task model.Task) Result {
	return f(ctx, task)
}
