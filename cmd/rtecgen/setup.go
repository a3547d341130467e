package main

import (
	"fmt"

	"go.uber.org/zap"

	"rtecgen/internal/catalog"
	"rtecgen/internal/llm"
	"rtecgen/internal/logging"
	"rtecgen/internal/loop"
	"rtecgen/internal/memory"
	"rtecgen/internal/scorer"
)

// session bundles everything a command needs to execute runs
type session struct {
	catalog    *catalog.Catalog
	controller *loop.Controller
	store      *memory.Store
	persist    *memory.SQLiteStore // nil unless --db was given
	logger     *zap.Logger
}

// newSession loads the catalog and wires up the controller from the
// persistent flags.
func newSession() (*session, error) {
	logger, err := logging.New(flagVerbose)
	if err != nil {
		return nil, err
	}

	cat, err := catalog.Load(flagCatalog)
	if err != nil {
		return nil, err
	}

	generator, err := llm.NewGenerator(flagProvider, llm.Config{
		Model:              flagModel,
		MaxConcurrentCalls: 3,
	})
	if err != nil {
		return nil, err
	}

	oracle, err := newScorer(logger)
	if err != nil {
		return nil, err
	}

	store := memory.New()
	var persist *memory.SQLiteStore
	if flagDB != "" {
		persist, err = memory.OpenSQLite(flagDB)
		if err != nil {
			return nil, err
		}
		store, err = persist.LoadAll()
		if err != nil {
			persist.Close()
			return nil, err
		}
		logger.Info("loaded persistent memory", zap.String("db", flagDB), zap.Int("entries", store.Len()))
	}

	controller, err := loop.New(loop.Config{
		Generator:    generator,
		Scorer:       oracle,
		Pairwise:     oracle,
		Memory:       store,
		Graph:        cat.Graph(),
		Run:          cat.Run,
		SystemPrompt: cat.SystemPrompt,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build controller: %w", err)
	}

	return &session{
		catalog:    cat,
		controller: controller,
		store:      store,
		persist:    persist,
		logger:     logger,
	}, nil
}

// newScorer constructs the scoring backend from the persistent flags
func newScorer(logger *zap.Logger) (scorer.Oracle, error) {
	switch flagScorer {
	case "http":
		return scorer.NewHTTPClient(flagScorerURL, scorer.WithLogger(logger)), nil
	case "static":
		return scorer.NewStatic(flagStaticScore)
	default:
		return nil, fmt.Errorf("unknown scorer backend: %q", flagScorer)
	}
}

// close syncs accepted definitions back to the persistent store, if any
func (s *session) close() error {
	defer s.logger.Sync() //nolint:errcheck // stderr sync failures are benign
	if s.persist == nil {
		return nil
	}
	defer s.persist.Close()

	for _, id := range s.store.ListIDs() {
		entry, _ := s.store.Get(id)
		if err := s.persist.Put(entry.ID, entry.Description, entry.Rules, entry.Score, entry.Metadata); err != nil {
			return fmt.Errorf("failed to persist %q: %w", id, err)
		}
	}
	return nil
}
