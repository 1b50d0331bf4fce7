package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/nhle/mail-outbox/internal/queue"
)

// queueBackend persists one named queue as rows of queue_elements.
type queueBackend struct {
	db       *sqlx.DB
	name     string
	location string
}

// QueueBackend returns the durable queue backend for the named queue.
func (s *SQLiteStore) QueueBackend(name string) queue.Backend {
	return &queueBackend{db: s.db, name: name, location: s.Path()}
}

func (b *queueBackend) Load(ctx context.Context) ([]queue.Element, error) {
	rows, err := b.db.QueryxContext(ctx,
		"SELECT id, payload FROM queue_elements WHERE queue = ? ORDER BY position",
		b.name,
	)
	if err != nil {
		return nil, fmt.Errorf("loading queue %s: %w", b.name, err)
	}
	defer rows.Close()

	elems := []queue.Element{}
	for rows.Next() {
		var e queue.Element
		if err := rows.Scan(&e.ID, &e.Payload); err != nil {
			return nil, fmt.Errorf("scanning queue element: %w", err)
		}
		elems = append(elems, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating queue %s: %w", b.name, err)
	}
	return elems, nil
}

// Save replaces the queue's rows in one transaction, so a failed save leaves
// the previous snapshot intact.
func (b *queueBackend) Save(ctx context.Context, elems []queue.Element) error {
	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM queue_elements WHERE queue = ?", b.name); err != nil {
		return fmt.Errorf("clearing queue %s: %w", b.name, err)
	}

	if len(elems) > 0 {
		stmt, err := tx.PreparexContext(ctx,
			"INSERT INTO queue_elements (queue, position, id, payload) VALUES (?, ?, ?, ?)")
		if err != nil {
			return fmt.Errorf("preparing insert statement: %w", err)
		}
		defer stmt.Close()

		for i, e := range elems {
			if _, err := stmt.ExecContext(ctx, b.name, i, e.ID, e.Payload); err != nil {
				return fmt.Errorf("inserting element %s: %w", e.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing queue %s: %w", b.name, err)
	}
	return nil
}

func (b *queueBackend) Location() string {
	return b.location
}
