package model

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrInvalidTask is returned when a task's identifying fields are degenerate.
var ErrInvalidTask = errors.New("invalid task")

// Task is one requested mutation against the remote mail server.
type Task struct {
	// ID is the durable queue element ID. It is empty until the task is
	// enqueued and is never persisted inside the payload itself.
	ID string `json:"-"`

	// EntityID identifies the object being mutated (usually a draft's
	// message object ID). Empty for global actions.
	EntityID string `json:"entity_id"`

	// OwnerID is the account the task runs for.
	OwnerID string `json:"owner_id"`

	// Action describes the mutation and its parameters.
	Action Action `json:"-"`

	// DependencyIDs lists task IDs that must leave the queue before this
	// task may run.
	DependencyIDs []string `json:"dependency_ids"`

	// IsAggregate marks an entity that stands for a whole conversation
	// rather than a single message. Only handlers read it.
	IsAggregate bool `json:"is_aggregate"`
}

// NewTask builds a task for owner with the given action and entity.
func NewTask(ownerID, entityID string, action Action) Task {
	return Task{
		EntityID: entityID,
		OwnerID:  ownerID,
		Action:   action,
	}
}

// Kind returns the task's action kind, or "" when no action is set.
func (t Task) Kind() ActionKind {
	if t.Action == nil {
		return ""
	}
	return t.Action.Kind()
}

// Validate checks the fields every accepted task must carry.
func (t Task) Validate() error {
	if t.Action == nil {
		return fmt.Errorf("%w: missing action", ErrInvalidTask)
	}
	if !t.Kind().Known() {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidTask, t.Kind())
	}
	if strings.TrimSpace(t.OwnerID) == "" {
		return fmt.Errorf("%w: empty owner id", ErrInvalidTask)
	}
	if t.Kind().EntityScoped() && strings.TrimSpace(t.EntityID) == "" {
		return fmt.Errorf("%w: %s requires an entity id", ErrInvalidTask, t.Kind())
	}
	return nil
}

// DependsOn reports whether id is one of the task's unresolved dependencies.
func (t Task) DependsOn(id string) bool {
	return slices.Contains(t.DependencyIDs, id)
}

// WithoutDependency returns a copy of t with id dropped from DependencyIDs.
func (t Task) WithoutDependency(id string) Task {
	t.DependencyIDs = slices.DeleteFunc(slices.Clone(t.DependencyIDs), func(d string) bool {
		return d == id
	})
	return t
}

// IsSignOut reports whether the task is a sign-out or sign-out marker.
func (t Task) IsSignOut() bool {
	return t.Kind() == KindSignOut
}
