// Package queue implements an ordered, persisted list of opaque elements.
//
// Every mutation is written through a Backend before it becomes visible in
// memory, so the in-memory order always equals the last successfully saved
// snapshot.
package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"slices"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when an element ID is not in the queue.
	ErrNotFound = errors.New("element not found")

	// ErrDuplicateID is returned by Insert when the supplied ID is taken.
	ErrDuplicateID = errors.New("duplicate element id")
)

// Element is one queue slot.
type Element struct {
	ID      string
	Payload []byte
}

func (e Element) clone() Element {
	return Element{ID: e.ID, Payload: bytes.Clone(e.Payload)}
}

// Backend persists whole-queue snapshots.
type Backend interface {
	// Load returns the last saved snapshot in order.
	Load(ctx context.Context) ([]Element, error)

	// Save replaces the stored snapshot with elems.
	Save(ctx context.Context, elems []Element) error

	// Location names the storage file for backup exclusion. Empty when the
	// backend has no file.
	Location() string
}

// BackupExcluder keeps a storage file out of device and cloud backups.
type BackupExcluder interface {
	Exclude(location string) error
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithBackupExcluder sets the excluder invoked alongside every save.
func WithBackupExcluder(ex BackupExcluder) Option {
	return func(q *Queue) {
		q.excluder = ex
	}
}

// WithIDGenerator replaces the UUID generator used by Add.
func WithIDGenerator(fn func() string) Option {
	return func(q *Queue) {
		if fn != nil {
			q.newID = fn
		}
	}
}

// Queue is safe for concurrent use. All mutations are serialized.
type Queue struct {
	mu       sync.Mutex
	elements []Element

	backend  Backend
	excluder BackupExcluder
	logger   *slog.Logger
	newID    func() string
}

// Open loads the backend's snapshot and returns a ready queue.
func Open(ctx context.Context, backend Backend, opts ...Option) (*Queue, error) {
	q := &Queue{
		backend: backend,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(q)
	}

	elems, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading queue: %w", err)
	}
	q.elements = elems
	return q, nil
}

// persist saves next and, only on success, makes it the visible state.
// Caller must hold q.mu.
func (q *Queue) persist(ctx context.Context, next []Element) error {
	if err := q.backend.Save(ctx, next); err != nil {
		q.logger.ErrorContext(ctx, "queue save failed",
			slog.String("location", q.backend.Location()),
			slog.Any("error", err))
		return fmt.Errorf("saving queue: %w", err)
	}
	if loc := q.backend.Location(); q.excluder != nil && loc != "" {
		if err := q.excluder.Exclude(loc); err != nil {
			q.logger.WarnContext(ctx, "backup exclusion failed",
				slog.String("location", loc),
				slog.Any("error", err))
		}
	}
	q.elements = next
	return nil
}

func (q *Queue) indexOf(id string) int {
	return slices.IndexFunc(q.elements, func(e Element) bool { return e.ID == id })
}

// Add appends payload at the tail under a fresh ID.
func (q *Queue) Add(ctx context.Context, payload []byte) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := q.newID()
	for q.indexOf(id) >= 0 {
		id = q.newID()
	}

	next := append(slices.Clone(q.elements), Element{ID: id, Payload: bytes.Clone(payload)})
	if err := q.persist(ctx, next); err != nil {
		return "", err
	}
	return id, nil
}

// Insert places payload at index under the caller's ID, shifting the element
// already there. index is clamped to [0, Count()].
func (q *Queue) Insert(ctx context.Context, id string, payload []byte, index int) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.indexOf(id) >= 0 {
		return "", fmt.Errorf("inserting %s: %w", id, ErrDuplicateID)
	}
	index = max(0, min(index, len(q.elements)))

	next := slices.Insert(slices.Clone(q.elements), index, Element{ID: id, Payload: bytes.Clone(payload)})
	if err := q.persist(ctx, next); err != nil {
		return "", err
	}
	return id, nil
}

// Next returns the head element without removing it.
func (q *Queue) Next() (Element, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.elements) == 0 {
		return Element{}, false
	}
	return q.elements[0].clone(), true
}

// Remove deletes the element with the given ID and reports whether it existed.
func (q *Queue) Remove(ctx context.Context, id string) (bool, error) {
	n, err := q.RemoveFunc(ctx, func(e Element) bool { return e.ID == id })
	return n > 0, err
}

// RemoveFunc deletes every element for which match returns true and reports
// how many were removed. match must not call back into the queue.
func (q *Queue) RemoveFunc(ctx context.Context, match func(Element) bool) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	next := slices.DeleteFunc(slices.Clone(q.elements), match)
	removed := len(q.elements) - len(next)
	if removed == 0 {
		return 0, nil
	}
	if err := q.persist(ctx, next); err != nil {
		return 0, err
	}
	return removed, nil
}

// RemoveMatching deletes every element whose payload is a JSON object with
// key set to the string value. Only used to clean up records persisted by
// older releases.
func (q *Queue) RemoveMatching(ctx context.Context, key, value string) (int, error) {
	return q.RemoveFunc(ctx, func(e Element) bool {
		var rec map[string]any
		if err := json.Unmarshal(e.Payload, &rec); err != nil {
			return false
		}
		s, ok := rec[key].(string)
		return ok && s == value
	})
}

// RemoveRecord deletes every element whose payload equals record. JSON
// payloads compare by value so key order and whitespace do not matter.
func (q *Queue) RemoveRecord(ctx context.Context, record []byte) (int, error) {
	var want any
	wantJSON := json.Unmarshal(record, &want) == nil

	return q.RemoveFunc(ctx, func(e Element) bool {
		if bytes.Equal(e.Payload, record) {
			return true
		}
		if !wantJSON {
			return false
		}
		var got any
		if err := json.Unmarshal(e.Payload, &got); err != nil {
			return false
		}
		return reflect.DeepEqual(got, want)
	})
}

// Update replaces the payload of an existing element in place. It is a no-op
// reporting false when id is unknown.
func (q *Queue) Update(ctx context.Context, id string, payload []byte) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexOf(id)
	if i < 0 {
		return false, nil
	}

	next := slices.Clone(q.elements)
	next[i] = Element{ID: id, Payload: bytes.Clone(payload)}
	if err := q.persist(ctx, next); err != nil {
		return false, err
	}
	return true, nil
}

// Contains reports whether id is queued.
func (q *Queue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.indexOf(id) >= 0
}

// MoveToFirst relocates an element to the head. It reports false when id is
// unknown.
func (q *Queue) MoveToFirst(ctx context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexOf(id)
	if i < 0 {
		return false, nil
	}
	if i == 0 {
		return true, nil
	}

	elem := q.elements[i]
	next := make([]Element, 0, len(q.elements))
	next = append(next, elem)
	next = append(next, q.elements[:i]...)
	next = append(next, q.elements[i+1:]...)
	if err := q.persist(ctx, next); err != nil {
		return false, err
	}
	return true, nil
}

// Snapshot returns a copy of every element in order.
func (q *Queue) Snapshot() []Element {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Element, len(q.elements))
	for i, e := range q.elements {
		out[i] = e.clone()
	}
	return out
}

// Count returns the number of queued elements.
func (q *Queue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.elements)
}

// ClearAll removes every element.
func (q *Queue) ClearAll(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.elements) == 0 {
		return nil
	}
	return q.persist(ctx, []Element{})
}
