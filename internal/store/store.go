package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/gridbase/gridbase/internal/model"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STORE - Crash-safe JSON persistence
// ═══════════════════════════════════════════════════════════════════════════════
//
// One JSON document holds everything: bots, wallet dictionary, trade log and
// circuit breaker. Every write goes through a single writer goroutine and
// lands via temp file + fsync + rename, so a crash at any instant leaves
// either the old document or the new one, never a torn file.
//
// ═══════════════════════════════════════════════════════════════════════════════

const schemaVersion = 1

// Document is the full persisted state.
type Document struct {
	SchemaVersion    int                          `json:"schemaVersion"`
	Bots             []model.BotInstance          `json:"bots"`
	WalletDictionary map[string]model.WalletEntry `json:"walletDictionary"`
	PrimaryWalletID  string                       `json:"primaryWalletId"`
	Trades           []model.TradeRecord          `json:"trades"`
	CircuitBreaker   model.CircuitBreakerState    `json:"circuitBreaker"`
}

func emptyDocument() Document {
	return Document{
		SchemaVersion:    schemaVersion,
		Bots:             []model.BotInstance{},
		WalletDictionary: map[string]model.WalletEntry{},
		Trades:           []model.TradeRecord{},
	}
}

type writeJob struct {
	data []byte
	done chan error
}

// Store owns the state file. Mutations go through Update which snapshots the
// document and hands the bytes to the writer queue.
type Store struct {
	path string

	mu  sync.RWMutex
	doc Document

	jobs     chan writeJob
	stopOnce sync.Once
	stopped  chan struct{}
}

// Open loads the state file, or starts fresh when it does not exist, and
// launches the writer goroutine.
func Open(path string) (*Store, error) {
	s := &Store{
		path:    path,
		doc:     emptyDocument(),
		jobs:    make(chan writeJob, 16),
		stopped: make(chan struct{}),
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Info().Str("path", path).Msg("💾 No state file, starting clean")
	case err != nil:
		return nil, fmt.Errorf("read state file: %w", err)
	default:
		var doc Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse state file %s: %w", path, err)
		}
		if doc.SchemaVersion != schemaVersion {
			return nil, fmt.Errorf("state file %s: unsupported schema version %d", path, doc.SchemaVersion)
		}
		if doc.WalletDictionary == nil {
			doc.WalletDictionary = map[string]model.WalletEntry{}
		}
		s.doc = doc
		log.Info().
			Str("path", path).
			Int("bots", len(doc.Bots)).
			Int("trades", len(doc.Trades)).
			Int("wallets", len(doc.WalletDictionary)).
			Msg("💾 State loaded")
	}

	go s.writer()
	return s, nil
}

// Snapshot returns a deep copy of the current document.
func (s *Store) Snapshot() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneDocument(s.doc)
}

// Update applies a mutation and durably writes the result before returning.
func (s *Store) Update(mutate func(doc *Document)) error {
	s.mu.Lock()
	mutate(&s.doc)
	s.doc.SchemaVersion = schemaVersion
	data, err := json.MarshalIndent(s.doc, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	job := writeJob{data: data, done: make(chan error, 1)}
	select {
	case s.jobs <- job:
	case <-s.stopped:
		return errors.New("store closed")
	}
	return <-job.done
}

// Close flushes pending writes and stops the writer.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stopped) })
}

func (s *Store) writer() {
	for {
		select {
		case job := <-s.jobs:
			job.done <- s.writeAtomic(job.data)
		case <-s.stopped:
			// Drain whatever was queued before the close.
			for {
				select {
				case job := <-s.jobs:
					job.done <- s.writeAtomic(job.data)
				default:
					return
				}
			}
		}
	}
}

// writeAtomic lands data at s.path via temp + fsync + rename, mode 0600.
func (s *Store) writeAtomic(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func(err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}

	if err := tmp.Chmod(0o600); err != nil {
		return cleanup(fmt.Errorf("chmod temp state file: %w", err))
	}
	if _, err := tmp.Write(data); err != nil {
		return cleanup(fmt.Errorf("write temp state file: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(fmt.Errorf("fsync temp state file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return cleanup(fmt.Errorf("close temp state file: %w", err))
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

func cloneDocument(doc Document) Document {
	out := doc
	out.Bots = make([]model.BotInstance, len(doc.Bots))
	for i, b := range doc.Bots {
		out.Bots[i] = b
		out.Bots[i].Positions = append([]model.Position(nil), b.Positions...)
	}
	out.Trades = append([]model.TradeRecord(nil), doc.Trades...)
	out.WalletDictionary = make(map[string]model.WalletEntry, len(doc.WalletDictionary))
	for k, v := range doc.WalletDictionary {
		out.WalletDictionary[k] = v
	}
	return out
}
