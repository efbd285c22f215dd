package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/parlwatch/verity/internal/analysis"
	"github.com/parlwatch/verity/internal/audit"
	"github.com/parlwatch/verity/internal/engine"
	"github.com/parlwatch/verity/internal/gate"
	"github.com/parlwatch/verity/internal/ledger"
	"github.com/parlwatch/verity/internal/model"
	"github.com/parlwatch/verity/internal/retrieve"
	"github.com/parlwatch/verity/internal/review"
	"github.com/parlwatch/verity/internal/semstore"
	"github.com/parlwatch/verity/internal/verify"
	"github.com/parlwatch/verity/internal/worker"
)

// app holds the assembled pipeline and the shared badger instance backing
// the cache, cost ledger, audit log, and review queue.
type app struct {
	cfg     *model.Config
	db      *badger.DB
	engine  *engine.Engine
	audits  *audit.Log
	reviews *review.Queue
	costs   *ledger.CostLedger
	log     zerolog.Logger
}

// newApp opens storage and wires every component from configuration.
func newApp(cfg *model.Config, log zerolog.Logger) (*app, error) {
	dataDir, err := expandHome(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	opts := badger.DefaultOptions(dataDir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open data store: %w", err)
	}

	store, err := semstore.NewWeaviateStore(cfg.SemStore, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	var embedder semstore.Embedder
	if cfg.Analysis.Provider == "stub" && cfg.Analysis.APIKey == "" {
		embedder = semstore.HashEmbedder{}
	} else {
		embedder, err = semstore.NewOpenAIEmbedder(cfg.Analysis.APIKey, cfg.Analysis.BaseURL, "")
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	provider, err := analysis.NewProvider(cfg.Analysis)
	if err != nil {
		db.Close()
		return nil, err
	}

	costs, err := ledger.NewCostLedger(db, cfg.Budget, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	retriever := retrieve.NewRetriever(store, embedder, cfg.Retrieval, log)
	verifier := verify.NewVerifier(cfg.Verify, log)
	g := gate.NewGate(cfg.Gate, log)
	audits := audit.NewLog(db, log)
	reviews := review.NewQueue(db, log)
	cache := ledger.NewResultCache(db, costs, cfg.Cache, log)

	eng := engine.New(retriever, provider, verifier, g, audits, reviews, cache, costs, db, cfg, log)
	eng.SetLimiter(worker.NewLimiter(cfg.Analysis.RatePerSec, cfg.Analysis.RateBurst))

	return &app{
		cfg:     cfg,
		db:      db,
		engine:  eng,
		audits:  audits,
		reviews: reviews,
		costs:   costs,
		log:     log,
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// openApp is the shared command prologue: config, logger, wiring.
func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newApp(cfg, newLogger())
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("find home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
