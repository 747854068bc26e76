// Package store holds the in-memory ledgers shared by the HTTP layer and the
// background monitor.
package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"tradegpt-backend/internal/models"
)

// TradeStore owns every trade record, partitioned by user then trade id.
// Each method is atomic; sequences of calls are not.
type TradeStore struct {
	mu     sync.RWMutex
	byUser map[string]map[string]models.Trade
	now    func() time.Time
}

func NewTradeStore() *TradeStore {
	return NewTradeStoreWithClock(time.Now)
}

func NewTradeStoreWithClock(now func() time.Time) *TradeStore {
	return &TradeStore{
		byUser: make(map[string]map[string]models.Trade),
		now:    now,
	}
}

// Insert stores a new record for the suggestion. Status defaults to draft.
func (s *TradeStore) Insert(userID string, suggestion models.TradeSuggestion, status models.TradeStatus) (models.Trade, error) {
	if status == "" {
		status = models.StatusDraft
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	trades, ok := s.byUser[userID]
	if !ok {
		trades = make(map[string]models.Trade)
		s.byUser[userID] = trades
	}
	if _, exists := trades[suggestion.ID]; exists {
		return models.Trade{}, fmt.Errorf("insert %s/%s: %w", userID, suggestion.ID, models.ErrDuplicateID)
	}

	now := s.now()
	entry := models.Trade{
		TradeSuggestion: suggestion,
		UserID:          userID,
		Status:          status,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	entry = entry.Clone()
	trades[suggestion.ID] = entry
	return entry.Clone(), nil
}

func (s *TradeStore) Get(userID, tradeID string) (models.Trade, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.byUser[userID][tradeID]
	if !ok {
		return models.Trade{}, false
	}
	return t.Clone(), true
}

// Update merges patch onto the stored record and bumps UpdatedAt. A missing
// record is reported with ok=false and nothing changes.
func (s *TradeStore) Update(userID, tradeID string, patch models.TradePatch) (models.Trade, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.updateLocked(userID, tradeID, nil, patch)
}

// UpdateIf applies patch only when cond holds for the current record, checked
// under the same lock as the write. ok is false when the record is missing or
// cond rejected it.
func (s *TradeStore) UpdateIf(userID, tradeID string, cond func(models.Trade) bool, patch models.TradePatch) (models.Trade, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.updateLocked(userID, tradeID, cond, patch)
}

func (s *TradeStore) updateLocked(userID, tradeID string, cond func(models.Trade) bool, patch models.TradePatch) (models.Trade, bool) {
	existing, ok := s.byUser[userID][tradeID]
	if !ok {
		return models.Trade{}, false
	}
	if cond != nil && !cond(existing.Clone()) {
		return models.Trade{}, false
	}

	merged := existing.Clone()
	patch.Apply(&merged)

	now := s.now()
	if !now.After(existing.UpdatedAt) {
		now = existing.UpdatedAt.Add(time.Nanosecond)
	}
	merged.UpdatedAt = now

	s.byUser[userID][tradeID] = merged
	return merged.Clone(), true
}

// List returns the user's trades, newest first.
func (s *TradeStore) List(userID string) []models.Trade {
	s.mu.RLock()
	out := make([]models.Trade, 0, len(s.byUser[userID]))
	for _, t := range s.byUser[userID] {
		out = append(out, t.Clone())
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// ListAll returns every trade across users, most recently updated first.
// Used by the stop-loss monitor for polling.
func (s *TradeStore) ListAll() []models.Trade {
	s.mu.RLock()
	var out []models.Trade
	for _, trades := range s.byUser {
		for _, t := range trades {
			out = append(out, t.Clone())
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// FindByID looks a trade up across all users.
func (s *TradeStore) FindByID(tradeID string) (models.Trade, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, trades := range s.byUser {
		if t, ok := trades[tradeID]; ok {
			return t.Clone(), true
		}
	}
	return models.Trade{}, false
}
