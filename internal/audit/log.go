// Package audit keeps the append-only record of every analysis attempt.
// Entries are written exactly once per attempt, never rewritten, and remain
// queryable for accuracy audits and regression detection.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parlwatch/verity/internal/model"
)

const entryPrefix = "audit:"

// Log is a badger-backed append-only audit log.
type Log struct {
	db  *badger.DB
	log zerolog.Logger
	now func() time.Time
}

// NewLog creates an audit log on an open badger instance. The same instance
// may be shared with the review queue and the ledger; key prefixes keep the
// spaces apart.
func NewLog(db *badger.DB, log zerolog.Logger) *Log {
	return &Log{
		db:  db,
		log: log.With().Str("component", "audit").Logger(),
		now: time.Now,
	}
}

// key layout: audit:<statement_id>:<attempt>:<uuid>
// The uuid suffix makes every write unique, so nothing can be overwritten.
func entryKey(e model.AuditLogEntry) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", entryPrefix, e.StatementID, e.Attempt, e.ID))
}

// Record appends one entry. The entry id and timestamp are assigned here;
// callers never choose them.
func (l *Log) Record(entry model.AuditLogEntry) (model.AuditLogEntry, error) {
	entry.ID = uuid.NewString()
	entry.RecordedAt = l.now().UTC()

	data, err := json.Marshal(entry)
	if err != nil {
		return entry, fmt.Errorf("marshal audit entry: %w", err)
	}
	err = l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(entry), data)
	})
	if err != nil {
		return entry, fmt.Errorf("append audit entry: %w", err)
	}

	l.log.Info().
		Str("statement_id", entry.StatementID).
		Uint64("attempt", entry.Attempt).
		Str("disposition", string(entry.Disposition)).
		Bool("cache_hit", entry.CacheHit).
		Msg("audit entry recorded")
	return entry, nil
}

// Query returns entries matching the filter, oldest first. A statement id
// narrows the scan to that statement's key range; otherwise the whole log is
// scanned.
func (l *Log) Query(q model.AuditQuery) ([]model.AuditLogEntry, error) {
	prefix := []byte(entryPrefix)
	if q.StatementID != "" {
		prefix = []byte(entryPrefix + q.StatementID + ":")
	}

	var out []model.AuditLogEntry
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var entry model.AuditLogEntry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return err
			}
			if !matches(entry, q) {
				continue
			}
			out = append(out, entry)
			if q.Limit > 0 && len(out) >= q.Limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	return out, nil
}

// CountForStatement returns the number of entries recorded for a statement.
func (l *Log) CountForStatement(statementID string) (int, error) {
	entries, err := l.Query(model.AuditQuery{StatementID: statementID})
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

func matches(e model.AuditLogEntry, q model.AuditQuery) bool {
	if q.Disposition != "" && e.Disposition != q.Disposition {
		return false
	}
	if !q.From.IsZero() && e.RecordedAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && e.RecordedAt.After(q.To) {
		return false
	}
	if q.StatementID != "" && e.StatementID != q.StatementID {
		return false
	}
	return true
}
