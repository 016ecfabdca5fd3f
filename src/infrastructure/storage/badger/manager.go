// Package badger provides BadgerDB storage implementations for the delta
// log, peer progress, and document snapshots (spec §4.5, §6).
package badger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// Manager manages multiple named BadgerDB instances. Each store (log,
// snapshot) gets its own isolated instance to prevent namespace collision
// and cache pollution.
type Manager struct {
	mu        sync.RWMutex
	baseDir   string
	instances map[string]*badger.DB
	opts      badger.Options
}

// NewManager creates a new BadgerDB manager. baseDir is the parent
// directory where all BadgerDB instances will be stored.
func NewManager(baseDir string) *Manager {
	badgerDir := filepath.Join(baseDir, "badger")

	opts := badger.DefaultOptions("").
		WithLogger(nil).
		WithValueLogFileSize(64 << 20).
		WithNumVersionsToKeep(1).
		WithCompactL0OnClose(true).
		WithDetectConflicts(false).
		WithNumCompactors(2).
		WithBlockCacheSize(32 << 20).
		WithIndexCacheSize(16 << 20)

	return &Manager{
		baseDir:   badgerDir,
		instances: make(map[string]*badger.DB),
		opts:      opts,
	}
}

// Open opens or returns an existing BadgerDB instance by name.
func (m *Manager) Open(name string) (*badger.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if db, exists := m.instances[name]; exists {
		return db, nil
	}

	dbPath := filepath.Join(m.baseDir, name)
	if err := os.MkdirAll(dbPath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dbPath, err)
	}

	opts := m.opts.WithDir(dbPath).WithValueDir(dbPath)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db %s: %w", name, err)
	}

	m.instances[name] = db
	return db, nil
}

// Get returns an existing BadgerDB instance without opening a new one.
func (m *Manager) Get(name string) *badger.DB {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.instances[name]
}

// Close closes a specific BadgerDB instance.
func (m *Manager) Close(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	db, exists := m.instances[name]
	if !exists {
		return nil
	}

	delete(m.instances, name)
	return db.Close()
}

// CloseAll closes all managed BadgerDB instances.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for name, db := range m.instances {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close %s: %w", name, err)
		}
	}
	m.instances = make(map[string]*badger.DB)
	return firstErr
}

// RunGC runs garbage collection on all instances. discardRatio is the
// ratio of old data to reclaim (0.0 to 1.0); 0.5 is a reasonable default.
func (m *Manager) RunGC(discardRatio float64) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, db := range m.instances {
		for {
			err := db.RunValueLogGC(discardRatio)
			if err == badger.ErrNoRewrite {
				break
			}
			if err != nil {
				return fmt.Errorf("GC failed for %s: %w", name, err)
			}
		}
	}
	return nil
}

// Stats returns database size statistics for a specific instance.
func (m *Manager) Stats(name string) (map[string]int64, error) {
	m.mu.RLock()
	db, exists := m.instances[name]
	m.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("instance %s not found", name)
	}

	lsm, vlog := db.Size()
	return map[string]int64{
		"lsm_size":   lsm,
		"vlog_size":  vlog,
		"total_size": lsm + vlog,
	}, nil
}

// Instances returns the names of all open instances.
func (m *Manager) Instances() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.instances))
	for name := range m.instances {
		names = append(names, name)
	}
	return names
}
