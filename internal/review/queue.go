// Package review holds flagged analysis results until a human resolves
// them. Review items are the only entities in the system that mutate after
// creation, and only through the pending → approved/modified/rejected
// transition.
package review

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parlwatch/verity/internal/model"
)

const itemPrefix = "review:"

// ErrNotFound is returned when no review item has the requested id.
var ErrNotFound = errors.New("review item not found")

// Queue is a badger-backed review queue.
type Queue struct {
	db  *badger.DB
	log zerolog.Logger
	now func() time.Time
}

// NewQueue creates a review queue on an open badger instance.
func NewQueue(db *badger.DB, log zerolog.Logger) *Queue {
	return &Queue{
		db:  db,
		log: log.With().Str("component", "review").Logger(),
		now: time.Now,
	}
}

// Flag creates a pending review item for a disputed result.
func (q *Queue) Flag(result model.VerifiedAnalysis, reasons []model.FlagReason) (model.ReviewItem, error) {
	item := model.ReviewItem{
		ID:          uuid.NewString(),
		StatementID: result.StatementID,
		Attempt:     result.Attempt,
		Result:      result,
		Reasons:     reasons,
		Status:      model.ReviewPending,
		CreatedAt:   q.now().UTC(),
	}
	if err := q.put(item); err != nil {
		return item, err
	}
	q.log.Info().
		Str("review_id", item.ID).
		Str("statement_id", item.StatementID).
		Interface("reasons", reasons).
		Msg("analysis flagged for review")
	return item, nil
}

// ListFilters narrow a review queue listing.
type ListFilters struct {
	StatementID string
	Status      model.ReviewStatus // Default: pending only
}

// List returns review items matching the filters, oldest first.
func (q *Queue) List(f ListFilters) ([]model.ReviewItem, error) {
	status := f.Status
	if status == "" {
		status = model.ReviewPending
	}

	var items []model.ReviewItem
	prefix := []byte(itemPrefix)
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var item model.ReviewItem
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &item)
			})
			if err != nil {
				return err
			}
			if item.Status != status {
				continue
			}
			if f.StatementID != "" && item.StatementID != f.StatementID {
				continue
			}
			items = append(items, item)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list review items: %w", err)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

// Get returns one review item by id.
func (q *Queue) Get(id string) (model.ReviewItem, error) {
	var item model.ReviewItem
	err := q.db.View(func(txn *badger.Txn) error {
		got, err := txn.Get([]byte(itemPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return got.Value(func(val []byte) error {
			return json.Unmarshal(val, &item)
		})
	})
	return item, err
}

// Resolve applies a reviewer decision to a pending item. Illegal transitions
// (resolving twice, unknown decision, missing reviewer) are rejected by the
// item's own state machine.
func (q *Queue) Resolve(id string, decision model.ReviewStatus, reviewer, notes string) (model.ReviewItem, error) {
	item, err := q.Get(id)
	if err != nil {
		return item, err
	}
	if err := item.Resolve(decision, reviewer, notes, q.now().UTC()); err != nil {
		return item, err
	}
	if err := q.put(item); err != nil {
		return item, err
	}
	q.log.Info().
		Str("review_id", item.ID).
		Str("decision", string(decision)).
		Str("reviewer", reviewer).
		Msg("review item resolved")
	return item, nil
}

func (q *Queue) put(item model.ReviewItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal review item: %w", err)
	}
	err = q.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(itemPrefix+item.ID), data)
	})
	if err != nil {
		return fmt.Errorf("store review item: %w", err)
	}
	return nil
}
