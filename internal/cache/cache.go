// Package cache holds short-lived read models keyed by period so repeated
// dashboard reads skip the ledger.
package cache

import (
	"log/slog"
	"sync"
	"time"

	"budgetwatch/internal/core"
)

// Cache defines a generic cache interface
type Cache[T any] interface {
	Get(key Key) (T, bool)
	Set(key Key, data T)
	Delete(key Key)
	InvalidatePeriod(period core.Period) int
	Len() int
}

// Entry is what the Manager needs from each registered cache.
type Entry interface {
	CleanExpired() int
	InvalidatePeriod(period core.Period) int
}

// Manager handles cache lifecycle, cleanup and invalidation
type Manager struct {
	mu          sync.Mutex
	caches      []Entry
	stopCleanup chan struct{}
	cleanupDone chan struct{}
	started     bool
}

func NewManager() *Manager {
	return &Manager{
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
}

// Register adds a cache to the manager
func (m *Manager) Register(cache Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caches = append(m.caches, cache)
}

// InvalidatePeriod drops every cached view of period.
func (m *Manager) InvalidatePeriod(period core.Period) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for _, c := range m.caches {
		removed += c.InvalidatePeriod(period)
	}
	return removed
}

// StartCleanup begins periodic cleanup of all registered caches
func (m *Manager) StartCleanup(interval time.Duration) {
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	go m.cleanup(interval)
}

func (m *Manager) cleanup(interval time.Duration) {
	defer close(m.cleanupDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			total := 0
			for _, c := range m.caches {
				total += c.CleanExpired()
			}
			m.mu.Unlock()
			if total > 0 {
				slog.Debug("Cache cleanup", "component", "cache", "removed", total)
			}
		case <-m.stopCleanup:
			return
		}
	}
}

// Stop gracefully stops the cleanup routine. It is safe to call when
// StartCleanup was never called.
func (m *Manager) Stop() {
	m.mu.Lock()
	started := m.started
	m.started = false
	m.mu.Unlock()
	if started {
		close(m.stopCleanup)
		<-m.cleanupDone
	}
}
