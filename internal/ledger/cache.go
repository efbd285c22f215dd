package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/parlwatch/verity/internal/model"
)

const cachePrefix = "cache:"

// CacheStatus describes how a result was obtained.
type CacheStatus string

const (
	CacheMiss   CacheStatus = "miss"   // This caller issued the model call
	CacheHit    CacheStatus = "hit"    // Served from the stored cache
	CacheShared CacheStatus = "shared" // Waited on another caller's in-flight call
)

// ComputeFunc performs the full analyze-verify pipeline for a cache miss and
// reports the capability usage to charge against the budget.
type ComputeFunc func(ctx context.Context) (*model.VerifiedAnalysis, Usage, error)

// ResultCache is the verified-result cache: a go-cache memory layer over a
// badger disk layer, with hits promoted to memory. Keys are request
// fingerprints, so identical statement + context snapshots collapse to a
// single stored result.
type ResultCache struct {
	db      *badger.DB
	mem     *gocache.Cache
	pending *gocache.Cache // In-flight markers, expire on their own
	ledger  *CostLedger
	group   singleflight.Group
	log     zerolog.Logger

	enabled     bool
	ttl         time.Duration
	memTTL      time.Duration
	inflightTTL time.Duration
}

// NewResultCache creates the cache over an open badger instance and the
// cost ledger that charges for misses.
func NewResultCache(db *badger.DB, costs *CostLedger, cfg model.CacheConfig, log zerolog.Logger) *ResultCache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	memTTL := cfg.MemoryTTL
	if memTTL <= 0 {
		memTTL = time.Hour
	}
	inflightTTL := cfg.InflightTTL
	if inflightTTL <= 0 {
		inflightTTL = 2 * time.Minute
	}
	return &ResultCache{
		db:          db,
		mem:         gocache.New(memTTL, 10*time.Minute),
		pending:     gocache.New(inflightTTL, time.Minute),
		ledger:      costs,
		log:         log.With().Str("component", "cache").Logger(),
		enabled:     cfg.Enabled,
		ttl:         ttl,
		memTTL:      memTTL,
		inflightTTL: inflightTTL,
	}
}

// Get returns the stored result for a fingerprint, checking memory first
// and promoting disk hits.
func (c *ResultCache) Get(key string) (*model.VerifiedAnalysis, bool) {
	if !c.enabled {
		return nil, false
	}
	if v, ok := c.mem.Get(key); ok {
		va := v.(model.VerifiedAnalysis)
		return &va, true
	}

	var va model.VerifiedAnalysis
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(cachePrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &va)
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			c.log.Warn().Err(err).Msg("cache read failed")
		}
		return nil, false
	}
	c.mem.Set(key, va, c.memTTL)
	return &va, true
}

// GetOrCompute serves a hit, or guarantees at most one concurrent in-flight
// computation per key: concurrent callers for the same fingerprint wait on
// the first caller's result instead of issuing duplicate model calls.
//
// The computation runs detached from any single caller's context, bounded
// by the in-flight TTL, so one caller going away cannot starve the rest and
// a hung computation eventually expires.
func (c *ResultCache) GetOrCompute(ctx context.Context, key string, fn ComputeFunc) (*model.VerifiedAnalysis, CacheStatus, error) {
	if va, ok := c.Get(key); ok {
		return va, CacheHit, nil
	}
	if !c.enabled {
		va, usage, err := fn(ctx)
		if err != nil {
			return nil, CacheMiss, err
		}
		if err := c.ledger.Charge(usage, nil); err != nil {
			return nil, CacheMiss, err
		}
		return va, CacheMiss, nil
	}

	// singleflight only executes the first caller's function; computed
	// stays false for every caller that coalesced onto that flight.
	var computed bool
	ch := c.group.DoChan(key, func() (interface{}, error) {
		// A writer may have landed between the outer Get and this call
		// coalescing.
		if va, ok := c.Get(key); ok {
			return va, nil
		}
		computed = true
		c.pending.Set(key, time.Now(), c.inflightTTL)
		defer c.pending.Delete(key)

		cctx, cancel := context.WithTimeout(context.Background(), c.inflightTTL)
		defer cancel()

		va, usage, err := fn(cctx)
		if err != nil {
			return nil, err
		}
		if err := c.put(key, va, usage); err != nil {
			return nil, err
		}
		return va, nil
	})

	select {
	case <-ctx.Done():
		return nil, CacheMiss, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, CacheMiss, res.Err
		}
		status := CacheShared
		if computed {
			status = CacheMiss
		} else if !res.Shared {
			status = CacheHit
		}
		return res.Val.(*model.VerifiedAnalysis), status, nil
	}
}

// Pending reports whether a computation for the key is currently marked
// in flight.
func (c *ResultCache) Pending(key string) bool {
	_, ok := c.pending.Get(key)
	return ok
}

// put stores the result, charging reported usage in the same badger
// transaction as the cache write.
func (c *ResultCache) put(key string, va *model.VerifiedAnalysis, usage Usage) error {
	data, err := json.Marshal(va)
	if err != nil {
		return fmt.Errorf("marshal cached result: %w", err)
	}
	err = c.ledger.Charge(usage, func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(cachePrefix+key), data).WithTTL(c.ttl)
		return txn.SetEntry(e)
	})
	if err != nil {
		return err
	}
	c.mem.Set(key, *va, c.memTTL)
	return nil
}
