package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"budgetwatch/internal/core"
)

// MemoryStore is an in-memory Store. It is safe for concurrent use and
// loses its data when the process exits.
type MemoryStore struct {
	mu        sync.RWMutex
	envelopes []core.Envelope
	index     map[string]int
	txs       []core.Transaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{index: make(map[string]int)}
}

func (s *MemoryStore) InsertEnvelope(_ context.Context, env core.Envelope) error {
	if env.ID == "" {
		return fmt.Errorf("insert envelope: %w", core.ErrEmptyID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.index[env.ID]; exists {
		return fmt.Errorf("insert envelope: id %s already used", env.ID)
	}
	s.index[env.ID] = len(s.envelopes)
	s.envelopes = append(s.envelopes, env)
	return nil
}

func (s *MemoryStore) GetEnvelope(_ context.Context, id string) (core.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return core.Envelope{}, core.ErrEnvelopeNotFound
	}
	return s.envelopes[i], nil
}

func (s *MemoryStore) FindEnvelopes(_ context.Context, key core.EnvelopeKey) ([]core.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Envelope
	for _, env := range s.envelopes {
		if env.Key() == key {
			out = append(out, env)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListEnvelopes(_ context.Context, periods ...core.Period) ([]core.Envelope, error) {
	keep := periodFilter(periods)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Envelope, 0, len(s.envelopes))
	for _, env := range s.envelopes {
		if keep(env.Period) {
			out = append(out, env)
		}
	}
	return out, nil
}

func (s *MemoryStore) AppendTransaction(_ context.Context, tx core.Transaction, envelopeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if envelopeID != "" {
		i, ok := s.index[envelopeID]
		if !ok {
			return core.ErrEnvelopeNotFound
		}
		s.envelopes[i].Realized = s.envelopes[i].Realized.Add(tx.Magnitude())
	}
	s.txs = append(s.txs, tx)
	return nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, periods ...core.Period) ([]core.Transaction, error) {
	keep := periodFilter(periods)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Transaction, 0, len(s.txs))
	for _, tx := range s.txs {
		if keep(tx.Period) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (s *MemoryStore) TransactionsByKey(_ context.Context, key core.EnvelopeKey) ([]core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Transaction
	for _, tx := range s.txs {
		if tx.Key() == key {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (s *MemoryStore) SetRealized(_ context.Context, envelopeID string, realized decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[envelopeID]
	if !ok {
		return core.ErrEnvelopeNotFound
	}
	s.envelopes[i].Realized = realized
	return nil
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
